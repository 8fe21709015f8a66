package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"pawn-storage/config"
	"pawn-storage/controllers/idgen"
	"pawn-storage/database"
	"pawn-storage/services"
	"pawn-storage/utils"
	"syscall"
	"time"
)

// The processor cancels reconciliation sessions whose window closed without anyone touching
// them again, and mails the list to the report recipients.
func main() {
	config.LoadConfig()
	config.ApplyLogLevel()
	logger := config.GetLogger()

	db, err := database.Open()
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}

	idgen.SetNode(int64(config.SnowflakeNode))
	idgen.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.ConnectRedis(ctx); err != nil {
		log.Fatalf("❌ Failed to connect to redis: %v", err)
	}
	defer config.CloseRedis()

	service := services.NewReconciliationService(db)
	if lock := config.GetRedisLock(); lock != nil {
		service.Locker = services.NewRedisLocker(lock)
	}

	var mailer *utils.Mailer
	if config.SMTPEnabled() {
		mailer = utils.NewMailer()
	}

	interval := config.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger.WithField("interval", interval.String()).Info("reconciliation sweeper running")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sweep(ctx, service, mailer)

		select {
		case <-ctx.Done():
			logger.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, service *services.ReconciliationService, mailer *utils.Mailer) {
	logger := config.GetLogger()

	swept, err := service.SweepExpired(ctx, time.Now())
	if err != nil {
		config.LogError(logger, "processor", "sweep", "sweep failed", nil, err)
		return
	}
	if len(swept) == 0 || mailer == nil {
		return
	}

	if err := mailer.SessionsExpired(swept); err != nil {
		config.LogError(logger, "processor", "sweep", "expiry notice not sent", len(swept), err)
		return
	}
	logger.WithField("recipients", config.ReportRecipients).Info("expiry notice sent")
}
