package services

import (
	"context"
	"errors"
	"fmt"
	"pawn-storage/config"
	"pawn-storage/models"
	"pawn-storage/repositories"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LocationService owns the vault → box → slot hierarchy of each branch.
type LocationService struct {
	DB             *gorm.DB
	Log            *logrus.Logger
	MaxSlotsPerBox int
}

func NewLocationService(db *gorm.DB) *LocationService {
	return &LocationService{
		DB:             db,
		Log:            config.GetLogger(),
		MaxSlotsPerBox: config.MaxSlotsPerBox,
	}
}

type VaultInput struct {
	Code     string `json:"code" validate:"required,max=50"`
	Name     string `json:"name" validate:"max=150"`
	IsActive *bool  `json:"is_active"`
}

type BoxInput struct {
	BoxNumber  int    `json:"box_number" validate:"min=1"`
	TotalSlots int    `json:"total_slots"`
	Label      string `json:"label" validate:"max=100"`
}

type BoxUpdateInput struct {
	Label    *string `json:"label" validate:"omitempty,max=100"`
	IsActive *bool   `json:"is_active"`
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *LocationService) CreateVault(ctx context.Context, branchID uint, input VaultInput, actor int) (*models.Vault, error) {
	input.Code = normalizeCode(input.Code)
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	vault := models.Vault{
		BranchID:  branchID,
		Code:      input.Code,
		Name:      strings.TrimSpace(input.Name),
		IsActive:  true,
		CreatedBy: actor,
		UpdatedBy: actor,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUniqueVaultCode(tx, branchID, vault.Code, 0); err != nil {
			return err
		}
		return duplicateCode(tx.Create(&vault).Error, vault.Code)
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "vault_id": vault.ID, "code": vault.Code, "actor": actor}).Info("vault created")
	return &vault, nil
}

func ensureUniqueVaultCode(tx *gorm.DB, branchID uint, code string, exceptID uint) error {
	var count int64
	q := tx.Model(&models.Vault{}).Where("branch_id = ? AND code = ?", branchID, code)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, code)
	}
	return nil
}

// duplicateCode turns a violation of idx_vault_branch_code, hit when two creates race past
// ensureUniqueVaultCode, into ErrDuplicateCode.
func duplicateCode(err error, code string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, code)
	}
	return err
}

func findVault(tx *gorm.DB, branchID, vaultID uint) (*models.Vault, error) {
	var vault models.Vault
	if err := tx.Where("id = ? AND branch_id = ?", vaultID, branchID).First(&vault).Error; err != nil {
		return nil, notFound(err, "vault")
	}
	return &vault, nil
}

// findBox loads a box and its vault, scoped to the branch.
func findBox(tx *gorm.DB, branchID, boxID uint) (*models.Box, *models.Vault, error) {
	var box models.Box
	if err := tx.First(&box, boxID).Error; err != nil {
		return nil, nil, notFound(err, "box")
	}
	vault, err := findVault(tx, branchID, box.VaultID)
	if err != nil {
		return nil, nil, notFound(gorm.ErrRecordNotFound, "box")
	}
	return &box, vault, nil
}

func (s *LocationService) UpdateVault(ctx context.Context, branchID, vaultID uint, input VaultInput, actor int) (*models.Vault, error) {
	input.Code = normalizeCode(input.Code)
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var vault *models.Vault
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		vault, err = findVault(tx, branchID, vaultID)
		if err != nil {
			return err
		}
		if input.Code != vault.Code {
			if err := ensureUniqueVaultCode(tx, branchID, input.Code, vault.ID); err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"code":       input.Code,
			"name":       strings.TrimSpace(input.Name),
			"updated_by": actor,
		}
		if input.IsActive != nil {
			updates["is_active"] = *input.IsActive
		}
		if err := tx.Model(vault).Updates(updates).Error; err != nil {
			return duplicateCode(err, input.Code)
		}
		return tx.First(vault, vault.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "vault_id": vault.ID, "is_active": vault.IsActive, "actor": actor}).Info("vault updated")
	return vault, nil
}

// DeleteVault soft-deletes a vault that has no occupied slot beneath it.
func (s *LocationService) DeleteVault(ctx context.Context, branchID, vaultID uint, actor int) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vault, err := findVault(tx, branchID, vaultID)
		if err != nil {
			return err
		}

		occupied, err := repositories.NewLocationRepository(tx).CountOccupiedInVault(vault.ID)
		if err != nil {
			return err
		}
		if occupied > 0 {
			return fmt.Errorf("%w: vault %s holds %d item(s)", ErrHasStoredItems, vault.Code, occupied)
		}

		if err := tx.Model(vault).Updates(map[string]interface{}{
			"deleted_by":  actor,
			"deleted_key": vault.ID,
		}).Error; err != nil {
			return err
		}
		return tx.Delete(vault).Error
	})
	if err != nil {
		return err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "vault_id": vaultID, "actor": actor}).Info("vault deleted")
	return nil
}

func (s *LocationService) checkCapacity(totalSlots int) error {
	if totalSlots < 1 || totalSlots > s.MaxSlotsPerBox {
		return fmt.Errorf("%w: total_slots must be between 1 and %d, got %d", ErrInvalidCapacity, s.MaxSlotsPerBox, totalSlots)
	}
	return nil
}

// CreateBox creates the box and all of its slots in one transaction.
func (s *LocationService) CreateBox(ctx context.Context, branchID, vaultID uint, input BoxInput, actor int) (*models.Box, error) {
	if err := s.checkCapacity(input.TotalSlots); err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var box *models.Box
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vault, err := findVault(tx, branchID, vaultID)
		if err != nil {
			return err
		}
		box, err = createBoxTx(tx, vault, input, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "vault_id": vaultID, "box_id": box.ID, "total_slots": box.TotalSlots, "actor": actor}).Info("box created")
	return box, nil
}

func createBoxTx(tx *gorm.DB, vault *models.Vault, input BoxInput, actor int) (*models.Box, error) {
	var count int64
	if err := tx.Model(&models.Box{}).Where("vault_id = ? AND box_number = ?", vault.ID, input.BoxNumber).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: box %d in vault %s", ErrDuplicateBoxNumber, input.BoxNumber, vault.Code)
	}

	box := models.Box{
		VaultID:    vault.ID,
		BoxNumber:  input.BoxNumber,
		Label:      strings.TrimSpace(input.Label),
		TotalSlots: input.TotalSlots,
		IsActive:   true,
		CreatedBy:  actor,
		UpdatedBy:  actor,
	}
	if err := tx.Create(&box).Error; err != nil {
		return nil, err
	}

	slots := make([]models.Slot, input.TotalSlots)
	for i := range slots {
		slots[i] = models.Slot{BoxID: box.ID, SlotNumber: i + 1}
	}
	if err := tx.CreateInBatches(&slots, 100).Error; err != nil {
		return nil, err
	}
	box.Slots = slots

	if err := repositories.NewLocationRepository(tx).RefreshVaultBoxCount(vault.ID); err != nil {
		return nil, err
	}
	return &box, nil
}

func (s *LocationService) UpdateBox(ctx context.Context, branchID, boxID uint, input BoxUpdateInput, actor int) (*models.Box, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var box *models.Box
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		box, _, err = findBox(tx, branchID, boxID)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"updated_by": actor}
		if input.Label != nil {
			updates["label"] = strings.TrimSpace(*input.Label)
		}
		if input.IsActive != nil {
			updates["is_active"] = *input.IsActive
		}
		if err := tx.Model(box).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(box, box.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "box_id": box.ID, "is_active": box.IsActive, "actor": actor}).Info("box updated")
	return box, nil
}

// DeleteBox removes an empty box together with its slots.
func (s *LocationService) DeleteBox(ctx context.Context, branchID, boxID uint, actor int) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		box, vault, err := findBox(tx, branchID, boxID)
		if err != nil {
			return err
		}

		repo := repositories.NewLocationRepository(tx)
		occupied, err := repo.CountOccupiedInBox(box.ID)
		if err != nil {
			return err
		}
		if occupied > 0 {
			return fmt.Errorf("%w: box %d holds %d item(s)", ErrHasStoredItems, box.BoxNumber, occupied)
		}

		if err := tx.Where("box_id = ?", box.ID).Delete(&models.Slot{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(box).Error; err != nil {
			return err
		}
		return repo.RefreshVaultBoxCount(vault.ID)
	})
	if err != nil {
		return err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "box_id": boxID, "actor": actor}).Info("box deleted")
	return nil
}

func (s *LocationService) ListVaults(ctx context.Context, branchID uint) ([]models.Vault, error) {
	vaults := []models.Vault{}
	err := s.DB.WithContext(ctx).Where("branch_id = ?", branchID).Order("code ASC").Find(&vaults).Error
	return vaults, err
}

func (s *LocationService) GetVault(ctx context.Context, branchID, vaultID uint) (*models.Vault, error) {
	var vault models.Vault
	err := s.DB.WithContext(ctx).
		Preload("Boxes", func(db *gorm.DB) *gorm.DB { return db.Order("box_number ASC") }).
		Where("id = ? AND branch_id = ?", vaultID, branchID).
		First(&vault).Error
	if err != nil {
		return nil, notFound(err, "vault")
	}
	return &vault, nil
}

func (s *LocationService) ListBoxes(ctx context.Context, branchID, vaultID uint) ([]models.Box, error) {
	db := s.DB.WithContext(ctx)
	if _, err := findVault(db, branchID, vaultID); err != nil {
		return nil, err
	}
	boxes := []models.Box{}
	err := db.Where("vault_id = ?", vaultID).Order("box_number ASC").Find(&boxes).Error
	return boxes, err
}

func (s *LocationService) GetBox(ctx context.Context, branchID, boxID uint) (*models.Box, error) {
	db := s.DB.WithContext(ctx)
	box, _, err := findBox(db, branchID, boxID)
	if err != nil {
		return nil, err
	}
	if err := db.Where("box_id = ?", box.ID).Order("slot_number ASC").Find(&box.Slots).Error; err != nil {
		return nil, err
	}
	return box, nil
}

func (s *LocationService) BoxSummary(ctx context.Context, branchID, boxID uint) (*repositories.BoxSummary, error) {
	db := s.DB.WithContext(ctx)
	box, _, err := findBox(db, branchID, boxID)
	if err != nil {
		return nil, err
	}
	return repositories.NewLocationRepository(db).GetBoxSummary(*box)
}

func (s *LocationService) VaultSummary(ctx context.Context, branchID, vaultID uint) (*repositories.VaultSummary, error) {
	db := s.DB.WithContext(ctx)
	vault, err := findVault(db, branchID, vaultID)
	if err != nil {
		return nil, err
	}
	return repositories.NewLocationRepository(db).GetVaultSummary(*vault)
}

func (s *LocationService) ListAvailableSlots(ctx context.Context, branchID uint, filter repositories.SlotFilter) ([]repositories.AvailableSlot, error) {
	return repositories.NewLocationRepository(s.DB.WithContext(ctx)).GetAvailableSlots(branchID, filter)
}

// NextAvailableSlot is first-fit: lowest box id, then lowest slot number.
func (s *LocationService) NextAvailableSlot(ctx context.Context, branchID uint) (*repositories.AvailableSlot, error) {
	slot, err := repositories.NewLocationRepository(s.DB.WithContext(ctx)).GetNextAvailableSlot(branchID)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, fmt.Errorf("free slot: %w", ErrNotFound)
	}
	return slot, nil
}

type SlotViolation struct {
	SlotID  uint   `json:"slot_id,omitempty"`
	ItemID  uint   `json:"item_id,omitempty"`
	Problem string `json:"problem"`
}

// VerifySlotConsistency checks that every occupied slot and every located item point at each other.
func (s *LocationService) VerifySlotConsistency(ctx context.Context, branchID uint) ([]SlotViolation, error) {
	repo := repositories.NewLocationRepository(s.DB.WithContext(ctx))
	slots, err := repo.GetBranchSlots(branchID)
	if err != nil {
		return nil, err
	}
	items, err := repo.GetLocatedItems(branchID)
	if err != nil {
		return nil, err
	}

	itemSlot := make(map[uint]uint, len(items))
	for _, item := range items {
		itemSlot[item.ID] = *item.SlotID
	}

	violations := []SlotViolation{}
	slotItem := make(map[uint]uint, len(slots))
	for _, slot := range slots {
		switch {
		case slot.Occupied && slot.CurrentItemID == nil:
			violations = append(violations, SlotViolation{SlotID: slot.ID, Problem: "occupied without item"})
		case !slot.Occupied && slot.CurrentItemID != nil:
			violations = append(violations, SlotViolation{SlotID: slot.ID, ItemID: *slot.CurrentItemID, Problem: "item reference on free slot"})
		}
		if slot.CurrentItemID == nil {
			continue
		}
		slotItem[slot.ID] = *slot.CurrentItemID
		if pointer, ok := itemSlot[*slot.CurrentItemID]; !ok || pointer != slot.ID {
			violations = append(violations, SlotViolation{SlotID: slot.ID, ItemID: *slot.CurrentItemID, Problem: "item does not point back at slot"})
		}
	}

	for _, item := range items {
		if holder, ok := slotItem[*item.SlotID]; !ok || holder != item.ID {
			violations = append(violations, SlotViolation{SlotID: *item.SlotID, ItemID: item.ID, Problem: "slot does not hold item"})
		}
	}
	return violations, nil
}
