package services

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"pawn-storage/migration"
	"pawn-storage/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testBranch uint = 1

var ctx = context.Background()

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "storage.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migration.Migrate(db))
	return db
}

type fixture struct {
	db         *gorm.DB
	now        time.Time
	locations  *LocationService
	allocation *AllocationService
	recon      *ReconciliationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	db := newTestDB(t)
	f := &fixture{db: db, now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.locations = &LocationService{DB: db, Log: quiet, MaxSlotsPerBox: 500}
	f.allocation = &AllocationService{DB: db, Log: quiet, Now: clock}
	f.recon = &ReconciliationService{DB: db, Log: quiet, Locker: NewLocalLocker(), Window: 4 * time.Hour, Now: clock}
	return f
}

func (f *fixture) vault(t *testing.T, code string) *models.Vault {
	t.Helper()
	vault, err := f.locations.CreateVault(ctx, testBranch, VaultInput{Code: code, Name: "Vault " + code}, 7)
	require.NoError(t, err)
	return vault
}

func (f *fixture) box(t *testing.T, vault *models.Vault, number, slots int) *models.Box {
	t.Helper()
	box, err := f.locations.CreateBox(ctx, testBranch, vault.ID, BoxInput{BoxNumber: number, TotalSlots: slots}, 7)
	require.NoError(t, err)
	require.Len(t, box.Slots, slots)
	return box
}

// pledge creates a pledge in the test branch with one pending item per barcode.
func (f *fixture) pledge(t *testing.T, number, status string, barcodes ...string) []models.PledgeItem {
	t.Helper()
	pledge := models.Pledge{BranchID: testBranch, PledgeNumber: number, Status: status}
	for _, barcode := range barcodes {
		pledge.Items = append(pledge.Items, models.PledgeItem{
			Barcode:        barcode,
			Status:         models.ItemStatusPending,
			WeightGrams:    decimal.RequireFromString("2.5"),
			AppraisedValue: decimal.NewFromInt(1000),
		})
	}
	require.NoError(t, f.db.Create(&pledge).Error)
	return pledge.Items
}

func (f *fixture) assign(t *testing.T, item models.PledgeItem, box *models.Box, slotIndex int) *Placement {
	t.Helper()
	slot := box.Slots[slotIndex]
	placement, err := f.allocation.Assign(ctx, testBranch, AssignInput{
		ItemID:  item.ID,
		VaultID: box.VaultID,
		BoxID:   box.ID,
		SlotID:  slot.ID,
	}, 7)
	require.NoError(t, err)
	return placement
}

func (f *fixture) slot(t *testing.T, id uint) models.Slot {
	t.Helper()
	var slot models.Slot
	require.NoError(t, f.db.First(&slot, id).Error)
	return slot
}

func (f *fixture) item(t *testing.T, id uint) models.PledgeItem {
	t.Helper()
	var item models.PledgeItem
	require.NoError(t, f.db.First(&item, id).Error)
	return item
}

// requireConsistent fails the test when any slot and item disagree about each other.
func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()
	violations, err := f.locations.VerifySlotConsistency(ctx, testBranch)
	require.NoError(t, err)
	require.Empty(t, violations)
}
