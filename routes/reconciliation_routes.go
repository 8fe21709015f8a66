package routes

import (
	"fmt"
	"pawn-storage/config"
	"pawn-storage/controllers"
	"pawn-storage/middleware"
	"pawn-storage/services"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func SetupReconciliationRoutes(app *fiber.App, service *services.ReconciliationService) {
	controller := controllers.NewReconciliationController(service)

	// Handheld scanners can flood a session when a trigger sticks.
	scanLimiter := limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(ctx *fiber.Ctx) string {
			return fmt.Sprintf("%d:%d:%s", middleware.BranchID(ctx), middleware.UserID(ctx), ctx.Params("id"))
		},
		LimitReached: func(ctx *fiber.Ctx) error {
			return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "Too many scans, slow down",
			})
		},
	})

	api := app.Group(config.MAIN_ROUTES+"/reconciliations", middleware.AuthMiddleware)
	api.Get("/", controller.GetAllSessions)
	api.Post("/", controller.StartSession)
	api.Get("/:id", controller.GetSessionByID)
	api.Post("/:id/scan", scanLimiter, controller.Scan)
	api.Post("/:id/complete", controller.Complete)
	api.Post("/:id/cancel", controller.Cancel)
	api.Get("/:id/scans", controller.GetScans)
	api.Get("/:id/report", controller.GetReport)
	api.Get("/:id/report/export", controller.ExportReport)
}
