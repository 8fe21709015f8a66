package models

import (
	"pawn-storage/controllers/idgen"
	"pawn-storage/types"
	"time"

	"gorm.io/gorm"
)

const (
	SessionTypeDaily   = "daily"
	SessionTypeWeekly  = "weekly"
	SessionTypeMonthly = "monthly"
	SessionTypeAdhoc   = "adhoc"
)

const (
	SessionStatusInProgress = "in_progress"
	SessionStatusCompleted  = "completed"
	SessionStatusCancelled  = "cancelled"
)

const (
	ScanMatched    = "matched"
	ScanMissing    = "missing"
	ScanUnexpected = "unexpected"
)

type ReconciliationSession struct {
	gorm.Model
	SessionNumber   string     `json:"session_number" gorm:"size:50;uniqueIndex"`
	BranchID        uint       `json:"branch_id" gorm:"index;not null"`
	Type            string     `json:"type" gorm:"size:20;not null"`
	Status          string     `json:"status" gorm:"size:20;index;default:'in_progress'"`
	ExpectedCount   int        `json:"expected_count"`
	ScannedCount    int        `json:"scanned_count"`
	MatchedCount    int        `json:"matched_count"`
	MissingCount    int        `json:"missing_count"`
	UnexpectedCount int        `json:"unexpected_count"`
	StartedAt       time.Time  `json:"started_at"`
	StartedBy       int        `json:"started_by"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	CompletedBy     *int       `json:"completed_by"`
	Notes           string     `json:"notes" gorm:"type:text"`
}

// Expired reports whether the session's window has passed at now.
func (s *ReconciliationSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ReconciliationExpected is the baseline frozen when the session starts.
type ReconciliationExpected struct {
	ID        uint   `json:"ID" gorm:"primaryKey"`
	SessionID uint   `json:"session_id" gorm:"index;not null"`
	ItemID    uint   `json:"item_id" gorm:"not null"`
	Barcode   string `json:"barcode" gorm:"size:100"`
}

type ReconciliationScan struct {
	ID             types.SnowflakeID `json:"ID" gorm:"primaryKey;autoIncrement:false"`
	SessionID      uint              `json:"session_id" gorm:"index;not null"`
	ItemID         *uint             `json:"item_id"`
	ScannedBarcode string            `json:"scanned_barcode" gorm:"size:100;index"`
	Classification string            `json:"classification" gorm:"size:20;not null"`
	ScannedAt      time.Time         `json:"scanned_at"`
	ScannedBy      int               `json:"scanned_by"`
	Notes          string            `json:"notes" gorm:"size:255"`
}

func (s *ReconciliationScan) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == 0 {
		s.ID = types.SnowflakeID(idgen.GenerateID())
	}
	return
}
