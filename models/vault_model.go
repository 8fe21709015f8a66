package models

import (
	"time"

	"gorm.io/gorm"
)

// Vault is the top of the storage hierarchy of a branch.
type Vault struct {
	gorm.Model
	BranchID  uint   `json:"branch_id" gorm:"index;not null;uniqueIndex:idx_vault_branch_code"`
	Code      string `json:"code" gorm:"size:50;not null;uniqueIndex:idx_vault_branch_code"`
	Name      string `json:"name" gorm:"size:150"`
	IsActive  bool   `json:"is_active" gorm:"default:true"`
	BoxCount  int    `json:"box_count" gorm:"default:0"`
	CreatedBy int    `json:"created_by"`
	UpdatedBy int    `json:"updated_by"`
	DeletedBy int    `json:"deleted_by"`
	Boxes     []Box  `json:"boxes,omitempty" gorm:"foreignKey:VaultID;references:ID"`

	// DeletedKey is 0 while the vault is live and its own ID once deleted, so a deleted
	// vault's code can be reused under idx_vault_branch_code.
	DeletedKey uint `json:"-" gorm:"not null;default:0;uniqueIndex:idx_vault_branch_code"`
}

// Box owns a fixed set of slots numbered 1..TotalSlots.
type Box struct {
	ID            uint      `json:"ID" gorm:"primaryKey"`
	VaultID       uint      `json:"vault_id" gorm:"not null;uniqueIndex:idx_box_vault_number"`
	BoxNumber     int       `json:"box_number" gorm:"not null;uniqueIndex:idx_box_vault_number"`
	Label         string    `json:"label" gorm:"size:100"`
	TotalSlots    int       `json:"total_slots" gorm:"not null"`
	OccupiedSlots int       `json:"occupied_slots" gorm:"default:0"`
	IsActive      bool      `json:"is_active" gorm:"default:true"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CreatedBy     int       `json:"created_by"`
	UpdatedBy     int       `json:"updated_by"`
	Slots         []Slot    `json:"slots,omitempty" gorm:"foreignKey:BoxID;references:ID"`
}

// Slot holds at most one item. Occupied is true exactly when CurrentItemID is set.
type Slot struct {
	ID            uint       `json:"ID" gorm:"primaryKey"`
	BoxID         uint       `json:"box_id" gorm:"not null;uniqueIndex:idx_slot_box_number"`
	SlotNumber    int        `json:"slot_number" gorm:"not null;uniqueIndex:idx_slot_box_number"`
	Occupied      bool       `json:"occupied" gorm:"not null;default:false"`
	CurrentItemID *uint      `json:"current_item_id" gorm:"index"`
	OccupiedAt    *time.Time `json:"occupied_at"`
	Version       int        `json:"version" gorm:"not null;default:0"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
