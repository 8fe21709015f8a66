package services

import (
	"context"
	"fmt"
	"pawn-storage/config"
	"pawn-storage/metrics"
	"pawn-storage/models"
	"pawn-storage/repositories"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllocationService places pledge items into slots. Every operation is one transaction.
type AllocationService struct {
	DB  *gorm.DB
	Log *logrus.Logger
	Now func() time.Time
}

func NewAllocationService(db *gorm.DB) *AllocationService {
	return &AllocationService{
		DB:  db,
		Log: config.GetLogger(),
		Now: time.Now,
	}
}

type AssignInput struct {
	ItemID  uint `json:"item_id" validate:"required"`
	VaultID uint `json:"vault_id" validate:"required"`
	BoxID   uint `json:"box_id" validate:"required"`
	SlotID  uint `json:"slot_id" validate:"required"`
}

type MoveInput struct {
	ItemID  uint   `json:"item_id" validate:"required"`
	VaultID uint   `json:"vault_id" validate:"required"`
	BoxID   uint   `json:"box_id" validate:"required"`
	SlotID  uint   `json:"slot_id" validate:"required"`
	Reason  string `json:"reason" validate:"max=255"`
}

type ReleaseInput struct {
	ItemID uint   `json:"item_id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=released auctioned"`
	Reason string `json:"reason" validate:"max=255"`
}

// Placement is the state of an item and its slot after an allocation.
type Placement struct {
	Item    models.PledgeItem       `json:"item"`
	Slot    *models.Slot            `json:"slot,omitempty"`
	History *models.LocationHistory `json:"history,omitempty"`
}

type BulkMoveFailure struct {
	Row    int       `json:"row,omitempty"`
	ItemID uint      `json:"item_id"`
	Reason string    `json:"reason"`
	Kind   ErrorKind `json:"kind"`
}

// BulkMoveResult is deliberately partial: entries in Succeeded are committed even when others failed.
type BulkMoveResult struct {
	Updated   int               `json:"updated"`
	Succeeded []uint            `json:"succeeded"`
	Failed    []BulkMoveFailure `json:"failed"`
}

func (s *AllocationService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// forUpdate adds SELECT ... FOR UPDATE on dialects that have it. The version check in
// claimSlot still guards the rest.
func forUpdate(tx *gorm.DB) *gorm.DB {
	switch tx.Dialector.Name() {
	case "sqlite", "sqlserver":
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func findItem(tx *gorm.DB, branchID, itemID uint) (*models.PledgeItem, error) {
	var item models.PledgeItem
	err := tx.Joins("JOIN pledges ON pledges.id = pledge_items.pledge_id AND pledges.branch_id = ?", branchID).
		Where("pledge_items.id = ?", itemID).
		First(&item).Error
	if err != nil {
		return nil, notFound(err, "item")
	}
	return &item, nil
}

// resolveTarget locks the slot row and checks that vault, box and slot chain up inside the branch.
func resolveTarget(tx *gorm.DB, branchID, vaultID, boxID, slotID uint) (*models.Slot, error) {
	var slot models.Slot
	if err := forUpdate(tx).Where("id = ?", slotID).First(&slot).Error; err != nil {
		return nil, notFound(err, "slot")
	}
	if slot.BoxID != boxID {
		return nil, fmt.Errorf("%w: slot %d is not in box %d", ErrLocationMismatch, slotID, boxID)
	}

	var box models.Box
	if err := tx.First(&box, boxID).Error; err != nil {
		return nil, notFound(err, "box")
	}
	if box.VaultID != vaultID {
		return nil, fmt.Errorf("%w: box %d is not in vault %d", ErrLocationMismatch, boxID, vaultID)
	}

	vault, err := findVault(tx, branchID, vaultID)
	if err != nil {
		return nil, err
	}
	if !vault.IsActive || !box.IsActive {
		return nil, fmt.Errorf("%w: vault %s box %d", ErrLocationInactive, vault.Code, box.BoxNumber)
	}
	return &slot, nil
}

// claimSlot marks the slot occupied by itemID. It only succeeds against the version read
// under lock, so a concurrent claim that committed first turns into ErrSlotOccupied.
func claimSlot(tx *gorm.DB, slot *models.Slot, itemID uint, now time.Time) error {
	res := tx.Model(&models.Slot{}).
		Where("id = ? AND version = ?", slot.ID, slot.Version).
		Updates(map[string]interface{}{
			"occupied":        true,
			"current_item_id": itemID,
			"occupied_at":     now,
			"version":         gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: slot %d", ErrSlotOccupied, slot.ID)
	}
	return nil
}

// freeSlot clears a slot, but only while it still references itemID.
func freeSlot(tx *gorm.DB, slotID, itemID uint) error {
	return tx.Model(&models.Slot{}).
		Where("id = ? AND current_item_id = ?", slotID, itemID).
		Updates(map[string]interface{}{
			"occupied":        false,
			"current_item_id": nil,
			"occupied_at":     nil,
			"version":         gorm.Expr("version + 1"),
		}).Error
}

func appendHistory(tx *gorm.DB, itemID uint, action string, from, to *uint, reason string, actor int, now time.Time) (*models.LocationHistory, error) {
	entry := models.LocationHistory{
		ItemID:      itemID,
		Action:      action,
		FromSlotID:  from,
		ToSlotID:    to,
		Reason:      strings.TrimSpace(reason),
		PerformedBy: actor,
		PerformedAt: now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func refreshBoxes(tx *gorm.DB, boxIDs ...*uint) error {
	repo := repositories.NewLocationRepository(tx)
	seen := map[uint]bool{}
	for _, id := range boxIDs {
		if id == nil || seen[*id] {
			continue
		}
		seen[*id] = true
		if err := repo.RefreshBoxOccupancy(*id); err != nil {
			return err
		}
	}
	return nil
}

func observe(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = string(KindOf(err))
	}
	metrics.AllocationTotal.WithLabelValues(operation, result).Inc()
	metrics.AllocationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *AllocationService) logFailure(funcName string, input interface{}, err error) {
	if KindOf(err) == KindInternal {
		config.LogError(s.Log, "AllocationService", funcName, "transaction failed", input, err)
		return
	}
	s.Log.WithFields(logrus.Fields{"func": funcName, "kind": KindOf(err), "data": input}).Warn(err.Error())
}

// Assign puts an item into a slot. Re-assigning an item to the slot it already occupies is a
// no-op that writes no history row (Placement.History is nil); an item sitting elsewhere has
// its previous slot freed in the same transaction.
func (s *AllocationService) Assign(ctx context.Context, branchID uint, input AssignInput, actor int) (*Placement, error) {
	start := time.Now()
	placement, err := s.assign(ctx, branchID, input, actor)
	observe("assign", start, err)
	if err != nil {
		s.logFailure("Assign", input, err)
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "item_id": input.ItemID, "slot_id": input.SlotID, "actor": actor}).Info("item assigned")
	return placement, nil
}

func (s *AllocationService) assign(ctx context.Context, branchID uint, input AssignInput, actor int) (*Placement, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	now := s.now()
	var placement Placement
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := findItem(forUpdate(tx), branchID, input.ItemID)
		if err != nil {
			return err
		}
		if item.IsTerminal() {
			return fmt.Errorf("%w: item %d is %s", ErrInvalidItemState, item.ID, item.Status)
		}

		slot, err := resolveTarget(tx, branchID, input.VaultID, input.BoxID, input.SlotID)
		if err != nil {
			return err
		}

		if slot.Occupied {
			if slot.CurrentItemID != nil && *slot.CurrentItemID == item.ID {
				placement.Item = *item
				placement.Slot = slot
				return nil
			}
			return fmt.Errorf("%w: slot %d", ErrSlotOccupied, slot.ID)
		}

		from := item.SlotID
		previousBox := item.BoxID
		if from != nil {
			if err := freeSlot(tx, *from, item.ID); err != nil {
				return err
			}
		}

		if err := claimSlot(tx, slot, item.ID, now); err != nil {
			return err
		}

		if err := tx.Model(item).Updates(map[string]interface{}{
			"vault_id":             input.VaultID,
			"box_id":               input.BoxID,
			"slot_id":              slot.ID,
			"status":               models.ItemStatusStored,
			"location_assigned_at": now,
			"location_assigned_by": actor,
		}).Error; err != nil {
			return err
		}

		if err := refreshBoxes(tx, previousBox, &input.BoxID); err != nil {
			return err
		}

		history, err := appendHistory(tx, item.ID, models.LocationActionAssigned, from, &slot.ID, "", actor, now)
		if err != nil {
			return err
		}
		placement.History = history
		return reloadPlacement(tx, &placement, item.ID, slot.ID)
	})
	if err != nil {
		return nil, err
	}
	return &placement, nil
}

func reloadPlacement(tx *gorm.DB, placement *Placement, itemID, slotID uint) error {
	if err := tx.First(&placement.Item, itemID).Error; err != nil {
		return err
	}
	if slotID == 0 {
		return nil
	}
	var slot models.Slot
	if err := tx.First(&slot, slotID).Error; err != nil {
		return err
	}
	placement.Slot = &slot
	return nil
}

// Move relocates a stored item. The old slot is cleared before the new one is claimed and the
// history row is written last, all inside one transaction. Moving an item onto the slot it
// already holds keeps the slot as is and still records a moved entry.
func (s *AllocationService) Move(ctx context.Context, branchID uint, input MoveInput, actor int) (*Placement, error) {
	start := time.Now()
	placement, err := s.move(ctx, branchID, input, actor)
	observe("move", start, err)
	if err != nil {
		s.logFailure("Move", input, err)
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "item_id": input.ItemID, "slot_id": input.SlotID, "actor": actor}).Info("item moved")
	return placement, nil
}

func (s *AllocationService) move(ctx context.Context, branchID uint, input MoveInput, actor int) (*Placement, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	now := s.now()
	var placement Placement
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := findItem(forUpdate(tx), branchID, input.ItemID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemStatusStored {
			return fmt.Errorf("%w: item %d is %s", ErrInvalidItemState, item.ID, item.Status)
		}

		slot, err := resolveTarget(tx, branchID, input.VaultID, input.BoxID, input.SlotID)
		if err != nil {
			return err
		}
		sameSlot := slot.Occupied && slot.CurrentItemID != nil && *slot.CurrentItemID == item.ID
		if slot.Occupied && !sameSlot {
			return fmt.Errorf("%w: slot %d", ErrSlotOccupied, slot.ID)
		}

		from := item.SlotID
		previousBox := item.BoxID
		if from != nil && !sameSlot {
			if err := freeSlot(tx, *from, item.ID); err != nil {
				return err
			}
		}

		if err := tx.Model(item).Updates(map[string]interface{}{
			"vault_id":             input.VaultID,
			"box_id":               input.BoxID,
			"slot_id":              slot.ID,
			"location_assigned_at": now,
			"location_assigned_by": actor,
		}).Error; err != nil {
			return err
		}

		if !sameSlot {
			if err := claimSlot(tx, slot, item.ID, now); err != nil {
				return err
			}
		}

		if err := refreshBoxes(tx, previousBox, &input.BoxID); err != nil {
			return err
		}

		history, err := appendHistory(tx, item.ID, models.LocationActionMoved, from, &slot.ID, input.Reason, actor, now)
		if err != nil {
			return err
		}
		placement.History = history
		return reloadPlacement(tx, &placement, item.ID, slot.ID)
	})
	if err != nil {
		return nil, err
	}
	return &placement, nil
}

// Release takes an item out of storage for good, freeing its slot.
func (s *AllocationService) Release(ctx context.Context, branchID uint, input ReleaseInput, actor int) (*Placement, error) {
	start := time.Now()
	placement, err := s.release(ctx, branchID, input, actor)
	observe("release", start, err)
	if err != nil {
		s.logFailure("Release", input, err)
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "item_id": input.ItemID, "status": input.Status, "actor": actor}).Info("item released")
	return placement, nil
}

func (s *AllocationService) release(ctx context.Context, branchID uint, input ReleaseInput, actor int) (*Placement, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	now := s.now()
	var placement Placement
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := findItem(forUpdate(tx), branchID, input.ItemID)
		if err != nil {
			return err
		}
		if item.IsTerminal() {
			return fmt.Errorf("%w: item %d is already %s", ErrInvalidItemState, item.ID, item.Status)
		}

		from := item.SlotID
		previousBox := item.BoxID
		if from != nil {
			if err := freeSlot(tx, *from, item.ID); err != nil {
				return err
			}
		}

		if err := tx.Model(item).Updates(map[string]interface{}{
			"status":   input.Status,
			"vault_id": nil,
			"box_id":   nil,
			"slot_id":  nil,
		}).Error; err != nil {
			return err
		}

		if err := refreshBoxes(tx, previousBox); err != nil {
			return err
		}

		history, err := appendHistory(tx, item.ID, models.LocationActionReleased, from, nil, input.Reason, actor, now)
		if err != nil {
			return err
		}
		placement.History = history
		return reloadPlacement(tx, &placement, item.ID, 0)
	})
	if err != nil {
		return nil, err
	}
	return &placement, nil
}

type bulkEntry struct {
	Row   int
	Input MoveInput
}

// BulkMove applies Move to every entry on its own. Failed entries are collected and do not
// roll back the ones that succeeded.
func (s *AllocationService) BulkMove(ctx context.Context, branchID uint, inputs []MoveInput, actor int) *BulkMoveResult {
	entries := make([]bulkEntry, len(inputs))
	for i, input := range inputs {
		entries[i] = bulkEntry{Input: input}
	}
	return s.bulkMove(ctx, branchID, entries, nil, actor)
}

func (s *AllocationService) bulkMove(ctx context.Context, branchID uint, entries []bulkEntry, failed []BulkMoveFailure, actor int) *BulkMoveResult {
	start := time.Now()
	result := &BulkMoveResult{Succeeded: []uint{}, Failed: append([]BulkMoveFailure{}, failed...)}

	for _, entry := range entries {
		if _, err := s.Move(ctx, branchID, entry.Input, actor); err != nil {
			result.Failed = append(result.Failed, BulkMoveFailure{
				Row:    entry.Row,
				ItemID: entry.Input.ItemID,
				Reason: err.Error(),
				Kind:   KindOf(err),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, entry.Input.ItemID)
	}
	result.Updated = len(result.Succeeded)

	outcome := "success"
	if len(result.Failed) > 0 {
		outcome = "partial"
	}
	metrics.AllocationTotal.WithLabelValues("bulk_move", outcome).Inc()
	metrics.AllocationDuration.WithLabelValues("bulk_move").Observe(time.Since(start).Seconds())

	s.Log.WithFields(logrus.Fields{
		"branch_id": branchID,
		"requested": len(entries) + len(failed),
		"updated":   result.Updated,
		"failed":    len(result.Failed),
		"actor":     actor,
	}).Info("bulk move finished")
	return result
}

// LocationHistory returns an item's location changes, newest first.
func (s *AllocationService) LocationHistory(ctx context.Context, branchID, itemID uint) ([]models.LocationHistory, error) {
	db := s.DB.WithContext(ctx)
	if _, err := findItem(db, branchID, itemID); err != nil {
		return nil, err
	}

	history := []models.LocationHistory{}
	err := db.Where("item_id = ?", itemID).
		Order("performed_at DESC, id DESC").
		Find(&history).Error
	return history, err
}
