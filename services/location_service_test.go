package services

import (
	"bytes"
	"errors"
	"testing"

	"pawn-storage/models"
	"pawn-storage/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

func TestCreateVault_DuplicateCode(t *testing.T) {
	f := newFixture(t)
	f.vault(t, "V1")

	_, err := f.locations.CreateVault(ctx, testBranch, VaultInput{Code: " v1 "}, 7)
	require.ErrorIs(t, err, ErrDuplicateCode)
	assert.Equal(t, KindValidation, KindOf(err))

	// codes are only unique per branch
	other, err := f.locations.CreateVault(ctx, testBranch+1, VaultInput{Code: "V1"}, 7)
	require.NoError(t, err)
	assert.Equal(t, "V1", other.Code)
}

func TestCreateVault_RequiresCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.locations.CreateVault(ctx, testBranch, VaultInput{Code: "   "}, 7)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateBox_CreatesSlotsAndCountsBoxes(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")

	box := f.box(t, vault, 1, 3)
	f.box(t, vault, 2, 5)

	var slots []models.Slot
	require.NoError(t, f.db.Where("box_id = ?", box.ID).Order("slot_number").Find(&slots).Error)
	require.Len(t, slots, 3)
	for i, slot := range slots {
		assert.Equal(t, i+1, slot.SlotNumber)
		assert.False(t, slot.Occupied)
		assert.Nil(t, slot.CurrentItemID)
	}

	got, err := f.locations.GetVault(ctx, testBranch, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.BoxCount)
	assert.Len(t, got.Boxes, 2)
}

func TestCreateBox_Rejections(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")
	f.box(t, vault, 1, 3)

	_, err := f.locations.CreateBox(ctx, testBranch, vault.ID, BoxInput{BoxNumber: 1, TotalSlots: 3}, 7)
	assert.ErrorIs(t, err, ErrDuplicateBoxNumber)

	_, err = f.locations.CreateBox(ctx, testBranch, vault.ID, BoxInput{BoxNumber: 2, TotalSlots: 0}, 7)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = f.locations.CreateBox(ctx, testBranch, vault.ID, BoxInput{BoxNumber: 2, TotalSlots: 501}, 7)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = f.locations.CreateBox(ctx, testBranch+1, vault.ID, BoxInput{BoxNumber: 2, TotalSlots: 3}, 7)
	assert.ErrorIs(t, err, ErrNotFound)

	var boxes int64
	require.NoError(t, f.db.Model(&models.Box{}).Count(&boxes).Error)
	assert.EqualValues(t, 1, boxes)
	var slots int64
	require.NoError(t, f.db.Model(&models.Slot{}).Count(&slots).Error)
	assert.EqualValues(t, 3, slots)
}

func TestDeleteBox_Guard(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")
	box := f.box(t, vault, 1, 3)
	items := f.pledge(t, "PLG-1", models.PledgeStatusActive, "A")
	f.assign(t, items[0], box, 0)

	err := f.locations.DeleteBox(ctx, testBranch, box.ID, 7)
	require.ErrorIs(t, err, ErrHasStoredItems)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = f.allocation.Release(ctx, testBranch, ReleaseInput{ItemID: items[0].ID, Status: models.ItemStatusReleased}, 7)
	require.NoError(t, err)

	require.NoError(t, f.locations.DeleteBox(ctx, testBranch, box.ID, 7))

	var slots int64
	require.NoError(t, f.db.Model(&models.Slot{}).Where("box_id = ?", box.ID).Count(&slots).Error)
	assert.Zero(t, slots)

	got, err := f.locations.GetVault(ctx, testBranch, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.BoxCount)
}

func TestDeleteVault_GuardAndSoftDelete(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")
	box := f.box(t, vault, 1, 2)
	items := f.pledge(t, "PLG-1", models.PledgeStatusActive, "A")
	f.assign(t, items[0], box, 1)

	require.ErrorIs(t, f.locations.DeleteVault(ctx, testBranch, vault.ID, 7), ErrHasStoredItems)

	_, err := f.allocation.Release(ctx, testBranch, ReleaseInput{ItemID: items[0].ID, Status: models.ItemStatusAuctioned}, 7)
	require.NoError(t, err)
	require.NoError(t, f.locations.DeleteVault(ctx, testBranch, vault.ID, 9))

	_, err = f.locations.GetVault(ctx, testBranch, vault.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var deleted models.Vault
	require.NoError(t, f.db.Unscoped().First(&deleted, vault.ID).Error)
	assert.True(t, deleted.DeletedAt.Valid)
	assert.Equal(t, 9, deleted.DeletedBy)
}

func TestVaultCode_UniqueIndexBacksTheCheck(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")

	// a create that slipped past the count check still hits the index
	err := f.db.Create(&models.Vault{BranchID: testBranch, Code: "V1", IsActive: true}).Error
	require.Error(t, err)
	assert.ErrorIs(t, duplicateCode(gorm.ErrDuplicatedKey, "V1"), ErrDuplicateCode)
	boom := errors.New("connection reset")
	assert.Equal(t, boom, duplicateCode(boom, "V1"))

	// deleted codes can be reused, and deleted twice
	require.NoError(t, f.locations.DeleteVault(ctx, testBranch, vault.ID, 7))
	again := f.vault(t, "V1")
	require.NoError(t, f.locations.DeleteVault(ctx, testBranch, again.ID, 7))
	f.vault(t, "V1")

	var count int64
	require.NoError(t, f.db.Unscoped().Model(&models.Vault{}).Where("code = ?", "V1").Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestUpdateVault_CodeChangeChecksDuplicates(t *testing.T) {
	f := newFixture(t)
	v1 := f.vault(t, "V1")
	f.vault(t, "V2")

	_, err := f.locations.UpdateVault(ctx, testBranch, v1.ID, VaultInput{Code: "V2"}, 7)
	require.ErrorIs(t, err, ErrDuplicateCode)

	inactive := false
	got, err := f.locations.UpdateVault(ctx, testBranch, v1.ID, VaultInput{Code: "V1", Name: "Back room", IsActive: &inactive}, 8)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "Back room", got.Name)
	assert.Equal(t, 8, got.UpdatedBy)
}

func TestNextAvailableSlot_FirstFitSkipsInactive(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")
	first := f.box(t, vault, 1, 2)
	second := f.box(t, vault, 2, 2)
	items := f.pledge(t, "PLG-1", models.PledgeStatusActive, "A")

	next, err := f.locations.NextAvailableSlot(ctx, testBranch)
	require.NoError(t, err)
	assert.Equal(t, first.Slots[0].ID, next.SlotID)
	assert.Equal(t, "V1", next.VaultCode)

	f.assign(t, items[0], first, 0)
	next, err = f.locations.NextAvailableSlot(ctx, testBranch)
	require.NoError(t, err)
	assert.Equal(t, first.Slots[1].ID, next.SlotID)

	inactive := false
	_, err = f.locations.UpdateBox(ctx, testBranch, first.ID, BoxUpdateInput{IsActive: &inactive}, 7)
	require.NoError(t, err)

	next, err = f.locations.NextAvailableSlot(ctx, testBranch)
	require.NoError(t, err)
	assert.Equal(t, second.Slots[0].ID, next.SlotID)

	free, err := f.locations.ListAvailableSlots(ctx, testBranch, repositories.SlotFilter{})
	require.NoError(t, err)
	assert.Len(t, free, 2)

	free, err = f.locations.ListAvailableSlots(ctx, testBranch, repositories.SlotFilter{BoxID: first.ID})
	require.NoError(t, err)
	assert.Empty(t, free)
}

func TestNextAvailableSlot_FullBranch(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")
	box := f.box(t, vault, 1, 1)
	items := f.pledge(t, "PLG-1", models.PledgeStatusActive, "A")
	f.assign(t, items[0], box, 0)

	_, err := f.locations.NextAvailableSlot(ctx, testBranch)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSummaries(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")
	box := f.box(t, vault, 1, 4)
	f.box(t, vault, 2, 6)
	items := f.pledge(t, "PLG-1", models.PledgeStatusActive, "A", "B")

	require.NoError(t, f.db.Model(&items[0]).Updates(map[string]interface{}{"weight_grams": "4.5", "appraised_value": 2500}).Error)
	require.NoError(t, f.db.Model(&items[1]).Updates(map[string]interface{}{"weight_grams": "12.25", "appraised_value": 7500}).Error)
	f.assign(t, items[0], box, 0)
	f.assign(t, items[1], box, 3)

	boxSummary, err := f.locations.BoxSummary(ctx, testBranch, box.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, boxSummary.TotalSlots)
	assert.Equal(t, 2, boxSummary.OccupiedSlots)
	assert.Equal(t, 2, boxSummary.FreeSlots)
	assert.Equal(t, 2, boxSummary.ItemCount)
	assert.True(t, boxSummary.TotalWeight.Equal(decimal.RequireFromString("16.75")), boxSummary.TotalWeight.String())
	assert.True(t, boxSummary.TotalValue.Equal(decimal.NewFromInt(10000)), boxSummary.TotalValue.String())

	vaultSummary, err := f.locations.VaultSummary(ctx, testBranch, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, vaultSummary.BoxCount)
	assert.Equal(t, 10, vaultSummary.TotalSlots)
	assert.Equal(t, 2, vaultSummary.OccupiedSlots)
	assert.Equal(t, 8, vaultSummary.FreeSlots)
	assert.True(t, vaultSummary.TotalValue.Equal(decimal.NewFromInt(10000)))

	var stored models.Box
	require.NoError(t, f.db.First(&stored, box.ID).Error)
	assert.Equal(t, 2, stored.OccupiedSlots)
}

func TestVerifySlotConsistency_DetectsDrift(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")
	box := f.box(t, vault, 1, 3)
	items := f.pledge(t, "PLG-1", models.PledgeStatusActive, "A")
	f.assign(t, items[0], box, 0)
	f.requireConsistent(t)

	// simulate a write that bypassed the allocation service
	require.NoError(t, f.db.Model(&models.Slot{}).Where("id = ?", box.Slots[1].ID).Update("occupied", true).Error)
	require.NoError(t, f.db.Model(&models.PledgeItem{}).Where("id = ?", items[0].ID).Update("slot_id", box.Slots[2].ID).Error)

	violations, err := f.locations.VerifySlotConsistency(ctx, testBranch)
	require.NoError(t, err)

	problems := map[string]bool{}
	for _, v := range violations {
		problems[v.Problem] = true
	}
	assert.True(t, problems["occupied without item"])
	assert.True(t, problems["item does not point back at slot"])
	assert.True(t, problems["slot does not hold item"])
}

func excelUpload(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportBoxesFromExcel(t *testing.T) {
	f := newFixture(t)
	vault := f.vault(t, "V1")
	f.vault(t, "V2")

	upload := excelUpload(t, [][]interface{}{
		{"vault_code", "box_number", "total_slots", "label"},
		{"v1", 1, 10, "rings"},
		{"V2", 1, 5, ""},
		{},
		{"V1", 2, 3, "watches"},
	})

	result, err := f.locations.ImportBoxesFromExcel(ctx, testBranch, upload, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalRows)
	require.Len(t, result.Created, 3)

	got, err := f.locations.GetVault(ctx, testBranch, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.BoxCount)

	var slots int64
	require.NoError(t, f.db.Model(&models.Slot{}).Count(&slots).Error)
	assert.EqualValues(t, 18, slots)
}

func TestImportBoxesFromExcel_RejectsWholeFile(t *testing.T) {
	f := newFixture(t)
	f.vault(t, "V1")

	upload := excelUpload(t, [][]interface{}{
		{"vault_code", "box_number", "total_slots"},
		{"V1", 1, 10},
		{"V9", 1, 5},
		{"V1", 2, 900},
		{"V1", 1, 4},
	})

	_, err := f.locations.ImportBoxesFromExcel(ctx, testBranch, upload, 7)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	var importErr *ImportError
	require.True(t, errors.As(err, &importErr))
	rows := map[int]bool{}
	for _, r := range importErr.Rows {
		rows[r.Row] = true
	}
	assert.True(t, rows[4], "capacity row")
	assert.True(t, rows[5], "repeated box row")

	var boxes int64
	require.NoError(t, f.db.Model(&models.Box{}).Count(&boxes).Error)
	assert.Zero(t, boxes)
}

func TestImportBoxesFromExcel_UnknownVault(t *testing.T) {
	f := newFixture(t)
	f.vault(t, "V1")

	upload := excelUpload(t, [][]interface{}{
		{"vault_code", "box_number", "total_slots"},
		{"V1", 1, 10},
		{"V9", 1, 5},
	})

	_, err := f.locations.ImportBoxesFromExcel(ctx, testBranch, upload, 7)
	var importErr *ImportError
	require.True(t, errors.As(err, &importErr))
	require.Len(t, importErr.Rows, 1)
	assert.Equal(t, 3, importErr.Rows[0].Row)

	var boxes int64
	require.NoError(t, f.db.Model(&models.Box{}).Count(&boxes).Error)
	assert.Zero(t, boxes)
}
