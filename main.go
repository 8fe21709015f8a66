package main

import (
	"context"
	"fmt"
	"log"
	"pawn-storage/config"
	"pawn-storage/controllers/idgen"
	"pawn-storage/database"
	"pawn-storage/migration"
	"pawn-storage/routes"
	"pawn-storage/services"
	"pawn-storage/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	config.LoadConfig()
	config.ApplyLogLevel()
	logger := config.GetLogger()

	if err := database.EnsureDatabaseExists(config.DBName); err != nil {
		log.Fatalf("Failed to prepare database: %v", err)
	}

	db, err := database.Open()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := migration.Migrate(db); err != nil {
		log.Fatalf("Failed to auto migrate: %v", err)
	}

	idgen.SetNode(int64(config.SnowflakeNode))
	idgen.Init()

	if config.SeedDemo {
		if err := database.RunSeeders(db); err != nil {
			log.Fatalf("Failed to seed demo data: %v", err)
		}
	}

	if err := config.ConnectRedis(context.Background()); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer config.CloseRedis()

	reconciliation := services.NewReconciliationService(db)
	if lock := config.GetRedisLock(); lock != nil {
		reconciliation.Locker = services.NewRedisLocker(lock)
	}
	if config.SMTPEnabled() {
		reconciliation.Notifier = utils.NewMailer()
	}

	app := fiber.New(fiber.Config{BodyLimit: 12 * 1024 * 1024})
	app.Use(recover.New())
	config.SetupCORS(app)

	routes.SetupRoutes(app, routes.Services{
		Location:       services.NewLocationService(db),
		Allocation:     services.NewAllocationService(db),
		Reconciliation: reconciliation,
	})

	port := config.APP_PORT
	logger.WithField("port", port).Info("server starting")
	fmt.Println("🚀 Server running on port " + port)

	if err := app.Listen(":" + port); err != nil {
		log.Fatal(err)
	}
}
