package routes

import (
	"pawn-storage/config"
	"pawn-storage/controllers"
	"pawn-storage/middleware"
	"pawn-storage/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAllocationRoutes(app *fiber.App, service *services.AllocationService) {
	controller := controllers.NewAllocationController(service)

	api := app.Group(config.MAIN_ROUTES+"/items", middleware.AuthMiddleware)
	api.Post("/bulk-move", controller.BulkMove)
	api.Post("/bulk-move/import", controller.BulkMoveFromExcel)
	api.Post("/:id/assign", controller.AssignItem)
	api.Post("/:id/move", controller.MoveItem)
	api.Post("/:id/release", controller.ReleaseItem)
	api.Get("/:id/history", controller.GetItemHistory)
}
