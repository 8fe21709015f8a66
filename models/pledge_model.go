package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PledgeStatusActive    = "active"
	PledgeStatusRedeemed  = "redeemed"
	PledgeStatusForfeited = "forfeited"
	PledgeStatusCancelled = "cancelled"
)

const (
	ItemStatusPending   = "pending"
	ItemStatusStored    = "stored"
	ItemStatusReleased  = "released"
	ItemStatusAuctioned = "auctioned"
)

// Pledge is owned by the pledge workflow; this service only reads its branch, number and status.
type Pledge struct {
	gorm.Model
	BranchID     uint         `json:"branch_id" gorm:"index;not null"`
	PledgeNumber string       `json:"pledge_number" gorm:"size:50;index;not null"`
	CustomerName string       `json:"customer_name" gorm:"size:150"`
	Status       string       `json:"status" gorm:"size:20;default:'active'"`
	Items        []PledgeItem `json:"items,omitempty" gorm:"foreignKey:PledgeID;references:ID"`
}

// PledgeItem is a physical pledged article. VaultID/BoxID/SlotID are only meaningful while Status is stored.
type PledgeItem struct {
	gorm.Model
	PledgeID           uint            `json:"pledge_id" gorm:"index;not null"`
	Pledge             *Pledge         `json:"pledge,omitempty" gorm:"foreignKey:PledgeID"`
	Barcode            string          `json:"barcode" gorm:"size:100;index;not null"`
	Description        string          `json:"description" gorm:"size:255"`
	Status             string          `json:"status" gorm:"size:20;default:'pending'"`
	WeightGrams        decimal.Decimal `json:"weight_grams" gorm:"type:decimal(18,3);default:0"`
	AppraisedValue     decimal.Decimal `json:"appraised_value" gorm:"type:decimal(18,2);default:0"`
	VaultID            *uint           `json:"vault_id" gorm:"index"`
	BoxID              *uint           `json:"box_id" gorm:"index"`
	SlotID             *uint           `json:"slot_id" gorm:"index"`
	LocationAssignedAt *time.Time      `json:"location_assigned_at"`
	LocationAssignedBy *int            `json:"location_assigned_by"`
}

// IsTerminal reports whether the item has left storage for good.
func (i *PledgeItem) IsTerminal() bool {
	return i.Status == ItemStatusReleased || i.Status == ItemStatusAuctioned
}
