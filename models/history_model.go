package models

import (
	"pawn-storage/controllers/idgen"
	"pawn-storage/types"
	"time"

	"gorm.io/gorm"
)

const (
	LocationActionAssigned = "assigned"
	LocationActionMoved    = "moved"
	LocationActionReleased = "released"
)

// LocationHistory is append-only: one row per location change, written in the same transaction.
type LocationHistory struct {
	ID          types.SnowflakeID `json:"ID" gorm:"primaryKey;autoIncrement:false"`
	ItemID      uint              `json:"item_id" gorm:"index;not null"`
	Action      string            `json:"action" gorm:"size:20;not null"`
	FromSlotID  *uint             `json:"from_slot_id"`
	ToSlotID    *uint             `json:"to_slot_id"`
	Reason      string            `json:"reason" gorm:"size:255"`
	PerformedBy int               `json:"performed_by"`
	PerformedAt time.Time         `json:"performed_at" gorm:"index"`
}

func (h *LocationHistory) BeforeCreate(tx *gorm.DB) (err error) {
	if h.ID == 0 {
		h.ID = types.SnowflakeID(idgen.GenerateID())
	}
	return
}
