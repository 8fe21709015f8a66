package repositories

import (
	"pawn-storage/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type LocationRepository struct {
	db *gorm.DB
}

func NewLocationRepository(db *gorm.DB) *LocationRepository {
	return &LocationRepository{db}
}

type AvailableSlot struct {
	SlotID     uint   `json:"slot_id"`
	SlotNumber int    `json:"slot_number"`
	BoxID      uint   `json:"box_id"`
	BoxNumber  int    `json:"box_number"`
	VaultID    uint   `json:"vault_id"`
	VaultCode  string `json:"vault_code"`
}

type SlotFilter struct {
	VaultID uint `query:"vault_id"`
	BoxID   uint `query:"box_id"`
}

func (r *LocationRepository) availableSlots(branchID uint, filter SlotFilter) *gorm.DB {
	q := r.db.Table("slots AS s").
		Select("s.id AS slot_id, s.slot_number, b.id AS box_id, b.box_number, v.id AS vault_id, v.code AS vault_code").
		Joins("JOIN boxes b ON b.id = s.box_id").
		Joins("JOIN vaults v ON v.id = b.vault_id").
		Where("v.branch_id = ? AND v.deleted_at IS NULL", branchID).
		Where("v.is_active = ? AND b.is_active = ?", true, true).
		Where("s.occupied = ?", false)

	if filter.VaultID != 0 {
		q = q.Where("v.id = ?", filter.VaultID)
	}
	if filter.BoxID != 0 {
		q = q.Where("b.id = ?", filter.BoxID)
	}
	return q.Order("b.id ASC, s.slot_number ASC")
}

// GetAvailableSlots lists free slots under active vaults and boxes, first-fit order.
func (r *LocationRepository) GetAvailableSlots(branchID uint, filter SlotFilter) ([]AvailableSlot, error) {
	slots := []AvailableSlot{}
	if err := r.availableSlots(branchID, filter).Scan(&slots).Error; err != nil {
		return nil, err
	}
	return slots, nil
}

// GetNextAvailableSlot returns the lowest (box id, slot number) free slot, or nil when the branch is full.
func (r *LocationRepository) GetNextAvailableSlot(branchID uint) (*AvailableSlot, error) {
	var slots []AvailableSlot
	if err := r.availableSlots(branchID, SlotFilter{}).Limit(1).Scan(&slots).Error; err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	return &slots[0], nil
}

// CountOccupiedInBox counts occupied slots of a box.
func (r *LocationRepository) CountOccupiedInBox(boxID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Slot{}).Where("box_id = ? AND occupied = ?", boxID, true).Count(&count).Error
	return count, err
}

// CountOccupiedInVault counts occupied slots across every box of a vault.
func (r *LocationRepository) CountOccupiedInVault(vaultID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Slot{}).
		Joins("JOIN boxes ON boxes.id = slots.box_id").
		Where("boxes.vault_id = ? AND slots.occupied = ?", vaultID, true).
		Count(&count).Error
	return count, err
}

// RefreshBoxOccupancy recomputes boxes.occupied_slots from the slot rows.
func (r *LocationRepository) RefreshBoxOccupancy(boxID uint) error {
	count, err := r.CountOccupiedInBox(boxID)
	if err != nil {
		return err
	}
	return r.db.Model(&models.Box{}).Where("id = ?", boxID).Update("occupied_slots", count).Error
}

// RefreshVaultBoxCount recomputes vaults.box_count from the box rows.
func (r *LocationRepository) RefreshVaultBoxCount(vaultID uint) error {
	var count int64
	if err := r.db.Model(&models.Box{}).Where("vault_id = ?", vaultID).Count(&count).Error; err != nil {
		return err
	}
	return r.db.Model(&models.Vault{}).Where("id = ?", vaultID).Update("box_count", count).Error
}

type StoredValue struct {
	ItemCount   int             `json:"item_count"`
	TotalWeight decimal.Decimal `json:"total_weight"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

type BoxSummary struct {
	BoxID         uint   `json:"box_id"`
	BoxNumber     int    `json:"box_number"`
	VaultID       uint   `json:"vault_id"`
	IsActive      bool   `json:"is_active"`
	TotalSlots    int    `json:"total_slots"`
	OccupiedSlots int    `json:"occupied_slots"`
	FreeSlots     int    `json:"free_slots"`
	StoredValue
}

type VaultSummary struct {
	VaultID       uint   `json:"vault_id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	IsActive      bool   `json:"is_active"`
	BoxCount      int    `json:"box_count"`
	TotalSlots    int    `json:"total_slots"`
	OccupiedSlots int    `json:"occupied_slots"`
	FreeSlots     int    `json:"free_slots"`
	StoredValue
}

func (r *LocationRepository) storedValue(where string, args ...interface{}) (StoredValue, error) {
	sql := `SELECT COUNT(i.id) AS item_count,
	COALESCE(SUM(i.weight_grams), 0) AS total_weight,
	COALESCE(SUM(i.appraised_value), 0) AS total_value
	FROM slots s
	JOIN boxes b ON b.id = s.box_id
	JOIN pledge_items i ON i.id = s.current_item_id AND i.deleted_at IS NULL
	WHERE s.occupied = ? AND ` + where

	var value StoredValue
	params := append([]interface{}{true}, args...)
	if err := r.db.Raw(sql, params...).Scan(&value).Error; err != nil {
		return value, err
	}
	return value, nil
}

func (r *LocationRepository) GetBoxSummary(box models.Box) (*BoxSummary, error) {
	occupied, err := r.CountOccupiedInBox(box.ID)
	if err != nil {
		return nil, err
	}
	value, err := r.storedValue("b.id = ?", box.ID)
	if err != nil {
		return nil, err
	}

	return &BoxSummary{
		BoxID:         box.ID,
		BoxNumber:     box.BoxNumber,
		VaultID:       box.VaultID,
		IsActive:      box.IsActive,
		TotalSlots:    box.TotalSlots,
		OccupiedSlots: int(occupied),
		FreeSlots:     box.TotalSlots - int(occupied),
		StoredValue:   value,
	}, nil
}

type boxTotals struct {
	BoxCount   int
	TotalSlots int
}

func (r *LocationRepository) GetVaultSummary(vault models.Vault) (*VaultSummary, error) {
	var totals boxTotals
	if err := r.db.Model(&models.Box{}).
		Select("COUNT(id) AS box_count, COALESCE(SUM(total_slots), 0) AS total_slots").
		Where("vault_id = ?", vault.ID).
		Scan(&totals).Error; err != nil {
		return nil, err
	}

	occupied, err := r.CountOccupiedInVault(vault.ID)
	if err != nil {
		return nil, err
	}
	value, err := r.storedValue("b.vault_id = ?", vault.ID)
	if err != nil {
		return nil, err
	}

	return &VaultSummary{
		VaultID:       vault.ID,
		Code:          vault.Code,
		Name:          vault.Name,
		IsActive:      vault.IsActive,
		BoxCount:      totals.BoxCount,
		TotalSlots:    totals.TotalSlots,
		OccupiedSlots: int(occupied),
		FreeSlots:     totals.TotalSlots - int(occupied),
		StoredValue:   value,
	}, nil
}

// GetBranchSlots loads every slot of a branch, including inactive boxes and vaults.
func (r *LocationRepository) GetBranchSlots(branchID uint) ([]models.Slot, error) {
	var slots []models.Slot
	err := r.db.Model(&models.Slot{}).
		Joins("JOIN boxes ON boxes.id = slots.box_id").
		Joins("JOIN vaults ON vaults.id = boxes.vault_id").
		Where("vaults.branch_id = ? AND vaults.deleted_at IS NULL", branchID).
		Order("slots.id").
		Find(&slots).Error
	return slots, err
}

// GetLocatedItems loads the items of a branch that carry a slot pointer.
func (r *LocationRepository) GetLocatedItems(branchID uint) ([]models.PledgeItem, error) {
	var items []models.PledgeItem
	err := r.db.Model(&models.PledgeItem{}).
		Joins("JOIN pledges ON pledges.id = pledge_items.pledge_id").
		Where("pledges.branch_id = ? AND pledge_items.slot_id IS NOT NULL", branchID).
		Order("pledge_items.id").
		Find(&items).Error
	return items, err
}
