package migration

import (
	"pawn-storage/models"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Pledge{},
		&models.PledgeItem{},
		&models.Vault{},
		&models.Box{},
		&models.Slot{},
		&models.LocationHistory{},
		&models.ReconciliationSession{},
		&models.ReconciliationExpected{},
		&models.ReconciliationScan{},
	)
}
