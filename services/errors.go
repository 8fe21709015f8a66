package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	ErrDuplicateCode      = errors.New("vault code already exists in this branch")
	ErrDuplicateBoxNumber = errors.New("box number already exists in this vault")
	ErrInvalidCapacity    = errors.New("invalid slot capacity")
	ErrHasStoredItems     = errors.New("location has stored items")
	ErrLocationMismatch   = errors.New("vault, box and slot do not belong together")
	ErrLocationInactive   = errors.New("vault or box is inactive")

	ErrSlotOccupied     = errors.New("slot is occupied by another item")
	ErrInvalidItemState = errors.New("item is not in a state that allows this operation")

	ErrSessionAlreadyActive = errors.New("a reconciliation session is already in progress for this branch")
	ErrSessionNotActive     = errors.New("reconciliation session is not in progress")
	ErrSessionExpired       = fmt.Errorf("%w: window has expired", ErrSessionNotActive)
	ErrSessionNotCompleted  = errors.New("reconciliation session is not completed")
	ErrDuplicateScan        = errors.New("barcode already scanned in this session")
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindItemState  ErrorKind = "item_state"
	KindInternal   ErrorKind = "internal"
)

// KindOf classifies err. Validation, conflict and item-state errors all leave storage untouched,
// so callers may safely retry after fixing the input.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrDuplicateCode),
		errors.Is(err, ErrDuplicateBoxNumber),
		errors.Is(err, ErrInvalidCapacity),
		errors.Is(err, ErrLocationMismatch),
		errors.Is(err, ErrLocationInactive):
		return KindValidation
	case errors.Is(err, ErrSlotOccupied),
		errors.Is(err, ErrHasStoredItems),
		errors.Is(err, ErrSessionAlreadyActive),
		errors.Is(err, ErrSessionNotActive),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionNotCompleted),
		errors.Is(err, ErrDuplicateScan):
		return KindConflict
	case errors.Is(err, ErrInvalidItemState):
		return KindItemState
	default:
		return KindInternal
	}
}

// notFound maps gorm's not-found error onto ErrNotFound and passes anything else through.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
