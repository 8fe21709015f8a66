package seed

import (
	"errors"
	"pawn-storage/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func SeedPledges(db *gorm.DB, branchID uint) error {
	pledges := []models.Pledge{
		{
			BranchID:     branchID,
			PledgeNumber: "PLG-0001",
			CustomerName: "Demo Customer A",
			Status:       models.PledgeStatusActive,
			Items: []models.PledgeItem{
				{Barcode: "ITM-0001", Description: "Gold ring 18k", Status: models.ItemStatusPending, WeightGrams: decimal.RequireFromString("4.250"), AppraisedValue: decimal.NewFromInt(3200000)},
				{Barcode: "ITM-0002", Description: "Gold necklace 22k", Status: models.ItemStatusPending, WeightGrams: decimal.RequireFromString("12.800"), AppraisedValue: decimal.NewFromInt(10500000)},
			},
		},
		{
			BranchID:     branchID,
			PledgeNumber: "PLG-0002",
			CustomerName: "Demo Customer B",
			Status:       models.PledgeStatusActive,
			Items: []models.PledgeItem{
				{Barcode: "ITM-0003", Description: "Wrist watch", Status: models.ItemStatusPending, AppraisedValue: decimal.NewFromInt(2750000)},
			},
		},
	}

	for _, p := range pledges {
		var existing models.Pledge
		err := db.Where("branch_id = ? AND pledge_number = ?", p.BranchID, p.PledgeNumber).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&p).Error; err != nil {
			return err
		}
	}
	return nil
}
