package routes

import (
	"pawn-storage/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Services struct {
	Location       *services.LocationService
	Allocation     *services.AllocationService
	Reconciliation *services.ReconciliationService
}

func SetupRoutes(app *fiber.App, svc Services) {
	SetupLocationRoutes(app, svc.Location)
	SetupAllocationRoutes(app, svc.Allocation)
	SetupReconciliationRoutes(app, svc.Reconciliation)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
