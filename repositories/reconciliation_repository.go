package repositories

import (
	"errors"
	"pawn-storage/models"

	"gorm.io/gorm"
)

type ReconciliationRepository struct {
	db *gorm.DB
}

func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db}
}

// ItemMatch is a pledge item joined with the fields of its pledge that decide a scan's classification.
type ItemMatch struct {
	ItemID       uint   `json:"item_id"`
	Barcode      string `json:"barcode"`
	ItemStatus   string `json:"item_status"`
	PledgeID     uint   `json:"pledge_id"`
	PledgeNumber string `json:"pledge_number"`
	PledgeStatus string `json:"pledge_status"`
}

// Storable reports whether the item should physically be on a shelf.
func (m *ItemMatch) Storable() bool {
	return m.ItemStatus == models.ItemStatusStored && m.PledgeStatus == models.PledgeStatusActive
}

func (r *ReconciliationRepository) branchItems(branchID uint) *gorm.DB {
	return r.db.Table("pledge_items AS i").
		Select("i.id AS item_id, i.barcode, i.status AS item_status, p.id AS pledge_id, p.pledge_number, p.status AS pledge_status").
		Joins("JOIN pledges p ON p.id = i.pledge_id AND p.deleted_at IS NULL").
		Where("i.deleted_at IS NULL AND p.branch_id = ?", branchID)
}

// GetExpectedItems lists items that are stored under an active pledge of the branch.
func (r *ReconciliationRepository) GetExpectedItems(branchID uint) ([]ItemMatch, error) {
	items := []ItemMatch{}
	err := r.branchItems(branchID).
		Where("i.status = ? AND p.status = ?", models.ItemStatusStored, models.PledgeStatusActive).
		Order("i.id ASC").
		Scan(&items).Error
	return items, err
}

// FindItemByBarcode resolves an item tag within the branch.
func (r *ReconciliationRepository) FindItemByBarcode(branchID uint, barcode string) (*ItemMatch, error) {
	var items []ItemMatch
	if err := r.branchItems(branchID).
		Where("i.barcode = ?", barcode).
		Order("i.id ASC").
		Limit(1).
		Scan(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// FindItemByPledgeNumber resolves a pledge receipt to one of its items. Items still awaiting a
// match in the session win over ones already matched, storable items over the rest.
func (r *ReconciliationRepository) FindItemByPledgeNumber(branchID uint, pledgeNumber string, sessionID uint) (*ItemMatch, error) {
	var items []ItemMatch
	if err := r.branchItems(branchID).
		Where("p.pledge_number = ?", pledgeNumber).
		Order("i.id ASC").
		Scan(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	matched, err := r.MatchedItemIDs(sessionID)
	if err != nil {
		return nil, err
	}

	var fallback *ItemMatch
	for i := range items {
		item := &items[i]
		if !item.Storable() {
			continue
		}
		if !matched[item.ItemID] {
			return item, nil
		}
		if fallback == nil {
			fallback = item
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return &items[0], nil
}

// MatchedItemIDs returns the set of items already matched in a session.
func (r *ReconciliationRepository) MatchedItemIDs(sessionID uint) (map[uint]bool, error) {
	var ids []uint
	if err := r.db.Model(&models.ReconciliationScan{}).
		Where("session_id = ? AND classification = ? AND item_id IS NOT NULL", sessionID, models.ScanMatched).
		Pluck("item_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[uint]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// BarcodeAlreadyScanned checks the non-missing scans of a session for the exact barcode text.
func (r *ReconciliationRepository) BarcodeAlreadyScanned(sessionID uint, barcode string) (bool, error) {
	var scan models.ReconciliationScan
	err := r.db.Where("session_id = ? AND scanned_barcode = ? AND classification <> ?", sessionID, barcode, models.ScanMissing).
		First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *ReconciliationRepository) GetExpected(sessionID uint) ([]models.ReconciliationExpected, error) {
	var expected []models.ReconciliationExpected
	err := r.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&expected).Error
	return expected, err
}

func (r *ReconciliationRepository) GetScans(sessionID uint, classification string) ([]models.ReconciliationScan, error) {
	scans := []models.ReconciliationScan{}
	q := r.db.Where("session_id = ?", sessionID)
	if classification != "" {
		q = q.Where("classification = ?", classification)
	}
	err := q.Order("scanned_at ASC, id ASC").Find(&scans).Error
	return scans, err
}
