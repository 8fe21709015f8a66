package routes

import (
	"pawn-storage/config"
	"pawn-storage/controllers"
	"pawn-storage/middleware"
	"pawn-storage/services"

	"github.com/gofiber/fiber/v2"
)

func SetupLocationRoutes(app *fiber.App, service *services.LocationService) {
	controller := controllers.NewLocationController(service)

	vaults := app.Group(config.MAIN_ROUTES+"/vaults", middleware.AuthMiddleware)
	vaults.Get("/", controller.GetAllVaults)
	vaults.Post("/", controller.CreateVault)
	vaults.Get("/:id", controller.GetVaultByID)
	vaults.Put("/:id", controller.UpdateVault)
	vaults.Delete("/:id", controller.DeleteVault)
	vaults.Get("/:id/summary", controller.GetVaultSummary)
	vaults.Get("/:id/boxes", controller.GetVaultBoxes)
	vaults.Post("/:id/boxes", controller.CreateBox)

	boxes := app.Group(config.MAIN_ROUTES+"/boxes", middleware.AuthMiddleware)
	boxes.Post("/import", controller.ImportBoxes)
	boxes.Get("/:id", controller.GetBoxByID)
	boxes.Put("/:id", controller.UpdateBox)
	boxes.Delete("/:id", controller.DeleteBox)
	boxes.Get("/:id/summary", controller.GetBoxSummary)

	slots := app.Group(config.MAIN_ROUTES+"/slots", middleware.AuthMiddleware)
	slots.Get("/available", controller.GetAvailableSlots)
	slots.Get("/next", controller.GetNextAvailableSlot)
	slots.Get("/consistency", controller.VerifySlotConsistency)
}
