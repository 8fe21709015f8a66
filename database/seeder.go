package database

import (
	"errors"
	"pawn-storage/models"
	seed "pawn-storage/seeder"

	"gorm.io/gorm"
)

const demoBranchID = 1

// RunSeeders loads a small demo branch: one vault with two boxes and a few pledges awaiting storage.
// Every step is skipped when its rows already exist.
func RunSeeders(db *gorm.DB) error {
	if err := SeedVaults(db); err != nil {
		return err
	}
	return seed.SeedPledges(db, demoBranchID)
}

func SeedVaults(db *gorm.DB) error {
	vault := models.Vault{BranchID: demoBranchID, Code: "V1", Name: "Main vault", IsActive: true}

	var existing models.Vault
	err := db.Where("branch_id = ? AND code = ?", vault.BranchID, vault.Code).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&vault).Error; err != nil {
			return err
		}

		for number, capacity := range map[int]int{1: 20, 2: 50} {
			box := models.Box{VaultID: vault.ID, BoxNumber: number, TotalSlots: capacity, IsActive: true}
			if err := tx.Create(&box).Error; err != nil {
				return err
			}
			slots := make([]models.Slot, capacity)
			for i := range slots {
				slots[i] = models.Slot{BoxID: box.ID, SlotNumber: i + 1}
			}
			if err := tx.CreateInBatches(&slots, 100).Error; err != nil {
				return err
			}
		}
		return tx.Model(&vault).Update("box_count", 2).Error
	})
}
