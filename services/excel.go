package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"pawn-storage/config"
	"pawn-storage/models"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ImportError carries the per-row problems of a rejected upload. Nothing was written.
type ImportError struct {
	TotalRows int
	Rows      []RowError
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("validation failed with %d errors", len(e.Rows))
}

func (e *ImportError) Unwrap() error {
	return ErrInvalidInput
}

func getCell(row []string, idx int) string {
	if idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// readSheetRows returns the rows of the first sheet, header included.
func readSheetRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read excel file: %v", ErrInvalidInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel file contains no sheets", ErrInvalidInput)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: excel file must contain a header row and at least one data row", ErrInvalidInput)
	}
	return rows, nil
}

func parsePositiveInt(row []string, idx int, field string, rowNum int) (int, *RowError) {
	raw := getCell(row, idx)
	if raw == "" {
		return 0, &RowError{Row: rowNum, Field: field, Message: field + " cannot be empty"}
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &RowError{Row: rowNum, Field: field, Message: fmt.Sprintf("%s must be a positive whole number, got %q", field, raw)}
	}
	return n, nil
}

type boxImportRow struct {
	Row       int
	VaultCode string
	Input     BoxInput
}

type BoxImportResult struct {
	TotalRows int          `json:"total_rows"`
	Created   []models.Box `json:"created"`
}

func (s *LocationService) parseBoxRows(rows [][]string) ([]boxImportRow, []RowError) {
	var parsed []boxImportRow
	var rowErrors []RowError
	seen := map[string]int{}

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1
		if blankRow(row) {
			continue
		}

		code := normalizeCode(getCell(row, 0))
		if code == "" {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Field: "vault_code", Message: "vault_code cannot be empty"})
			continue
		}
		boxNumber, rowErr := parsePositiveInt(row, 1, "box_number", rowNum)
		if rowErr != nil {
			rowErrors = append(rowErrors, *rowErr)
			continue
		}
		totalSlots, rowErr := parsePositiveInt(row, 2, "total_slots", rowNum)
		if rowErr != nil {
			rowErrors = append(rowErrors, *rowErr)
			continue
		}
		if err := s.checkCapacity(totalSlots); err != nil {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Field: "total_slots", Message: err.Error()})
			continue
		}

		key := fmt.Sprintf("%s/%d", code, boxNumber)
		if first, ok := seen[key]; ok {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Field: "box_number", Message: fmt.Sprintf("box %d of vault %s repeats row %d", boxNumber, code, first)})
			continue
		}
		seen[key] = rowNum

		parsed = append(parsed, boxImportRow{
			Row:       rowNum,
			VaultCode: code,
			Input:     BoxInput{BoxNumber: boxNumber, TotalSlots: totalSlots, Label: getCell(row, 3)},
		})
	}
	return parsed, rowErrors
}

// ImportBoxesFromExcel creates boxes from an upload with columns vault code, box number,
// total slots and an optional label. Either every row is created or none is.
func (s *LocationService) ImportBoxesFromExcel(ctx context.Context, branchID uint, r io.Reader, actor int) (result *BoxImportResult, err error) {
	rows, err := readSheetRows(r)
	if err != nil {
		return nil, err
	}

	parsed, rowErrors := s.parseBoxRows(rows)
	if len(rowErrors) > 0 {
		return nil, &ImportError{TotalRows: len(rows) - 1, Rows: rowErrors}
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%w: no boxes found in excel file", ErrInvalidInput)
	}

	tx := s.DB.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			config.LogError(s.Log, "LocationService", "ImportBoxesFromExcel", "panic recovered", nil, fmt.Errorf("%v", r))
			err = fmt.Errorf("import aborted: %v", r)
		}
	}()

	vaults := map[string]*models.Vault{}
	created := make([]models.Box, 0, len(parsed))
	for _, row := range parsed {
		vault, ok := vaults[row.VaultCode]
		if !ok {
			var found models.Vault
			if err := tx.Where("branch_id = ? AND code = ?", branchID, row.VaultCode).First(&found).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					tx.Rollback()
					return nil, err
				}
				rowErrors = append(rowErrors, RowError{Row: row.Row, Field: "vault_code", Message: "vault " + row.VaultCode + " not found"})
				continue
			}
			vault = &found
			vaults[row.VaultCode] = vault
		}

		box, err := createBoxTx(tx, vault, row.Input, actor)
		if err != nil {
			if KindOf(err) != KindValidation {
				tx.Rollback()
				return nil, err
			}
			rowErrors = append(rowErrors, RowError{Row: row.Row, Field: "box_number", Message: err.Error()})
			continue
		}
		box.Slots = nil
		created = append(created, *box)
	}

	if len(rowErrors) > 0 {
		tx.Rollback()
		return nil, &ImportError{TotalRows: len(parsed), Rows: rowErrors}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "boxes": len(created), "actor": actor}).Info("boxes imported")
	return &BoxImportResult{TotalRows: len(parsed), Created: created}, nil
}

// BulkMoveFromExcel reads rows of item (id or barcode), vault code, box number, slot number and
// an optional reason, then moves them like BulkMove. Rows that cannot be resolved are reported
// as failures next to the moves that ran.
func (s *AllocationService) BulkMoveFromExcel(ctx context.Context, branchID uint, r io.Reader, actor int) (*BulkMoveResult, error) {
	rows, err := readSheetRows(r)
	if err != nil {
		return nil, err
	}

	db := s.DB.WithContext(ctx)
	var entries []bulkEntry
	var failed []BulkMoveFailure
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1
		if blankRow(row) {
			continue
		}

		input, itemID, err := resolveMoveRow(db, branchID, row)
		if err != nil {
			failed = append(failed, BulkMoveFailure{Row: rowNum, ItemID: itemID, Reason: err.Error(), Kind: KindOf(err)})
			continue
		}
		entries = append(entries, bulkEntry{Row: rowNum, Input: *input})
	}

	if len(entries) == 0 && len(failed) == 0 {
		return nil, fmt.Errorf("%w: no moves found in excel file", ErrInvalidInput)
	}
	return s.bulkMove(ctx, branchID, entries, failed, actor), nil
}

func resolveMoveRow(db *gorm.DB, branchID uint, row []string) (*MoveInput, uint, error) {
	ref := getCell(row, 0)
	if ref == "" {
		return nil, 0, fmt.Errorf("%w: item cannot be empty", ErrInvalidInput)
	}

	var itemID uint
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		itemID = uint(id)
	} else {
		var ids []uint
		if err := db.Model(&models.PledgeItem{}).
			Joins("JOIN pledges ON pledges.id = pledge_items.pledge_id").
			Where("pledges.branch_id = ? AND pledge_items.barcode = ?", branchID, ref).
			Pluck("pledge_items.id", &ids).Error; err != nil {
			return nil, 0, err
		}
		if len(ids) == 0 {
			return nil, 0, fmt.Errorf("item %s: %w", ref, ErrNotFound)
		}
		itemID = ids[0]
	}

	code := normalizeCode(getCell(row, 1))
	boxNumber, boxErr := strconv.Atoi(getCell(row, 2))
	slotNumber, slotErr := strconv.Atoi(getCell(row, 3))
	if code == "" || boxErr != nil || slotErr != nil {
		return nil, itemID, fmt.Errorf("%w: vault code, box number and slot number are required", ErrInvalidInput)
	}

	var vault models.Vault
	if err := db.Where("branch_id = ? AND code = ?", branchID, code).First(&vault).Error; err != nil {
		return nil, itemID, notFound(err, "vault "+code)
	}
	var box models.Box
	if err := db.Where("vault_id = ? AND box_number = ?", vault.ID, boxNumber).First(&box).Error; err != nil {
		return nil, itemID, notFound(err, fmt.Sprintf("box %d", boxNumber))
	}
	var slot models.Slot
	if err := db.Where("box_id = ? AND slot_number = ?", box.ID, slotNumber).First(&slot).Error; err != nil {
		return nil, itemID, notFound(err, fmt.Sprintf("slot %d", slotNumber))
	}

	return &MoveInput{
		ItemID:  itemID,
		VaultID: vault.ID,
		BoxID:   box.ID,
		SlotID:  slot.ID,
		Reason:  getCell(row, 4),
	}, itemID, nil
}

// ExportReportExcel renders a completed session's report: a summary sheet and one sheet per
// classification.
func (s *ReconciliationService) ExportReportExcel(ctx context.Context, branchID, sessionID uint) (*bytes.Buffer, string, error) {
	report, err := s.Report(ctx, branchID, sessionID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	summary := "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, "", err
	}

	session := report.Session
	lines := [][]interface{}{
		{"Session", session.SessionNumber},
		{"Type", session.Type},
		{"Started At", session.StartedAt.Format("2006-01-02 15:04:05")},
		{"Started By", session.StartedBy},
		{"Expected", session.ExpectedCount},
		{"Scanned", session.ScannedCount},
		{"Matched", session.MatchedCount},
		{"Missing", session.MissingCount},
		{"Unexpected", session.UnexpectedCount},
		{"Accuracy (%)", report.Accuracy.StringFixed(2)},
	}
	if session.CompletedAt != nil {
		lines = append(lines, []interface{}{"Completed At", session.CompletedAt.Format("2006-01-02 15:04:05")})
	}
	for i, line := range lines {
		f.SetCellValue(summary, fmt.Sprintf("A%d", i+1), line[0])
		f.SetCellValue(summary, fmt.Sprintf("B%d", i+1), line[1])
	}

	groups := []struct {
		sheet string
		scans []models.ReconciliationScan
	}{
		{"Matched", report.Matched},
		{"Missing", report.Missing},
		{"Unexpected", report.Unexpected},
	}
	for _, group := range groups {
		if _, err := f.NewSheet(group.sheet); err != nil {
			return nil, "", err
		}
		f.SetCellValue(group.sheet, "A1", "Scanned At")
		f.SetCellValue(group.sheet, "B1", "Barcode")
		f.SetCellValue(group.sheet, "C1", "Item ID")
		f.SetCellValue(group.sheet, "D1", "Scanned By")
		f.SetCellValue(group.sheet, "E1", "Notes")

		for i, scan := range group.scans {
			f.SetCellValue(group.sheet, fmt.Sprintf("A%d", i+2), scan.ScannedAt.Format("2006-01-02 15:04:05"))
			f.SetCellValue(group.sheet, fmt.Sprintf("B%d", i+2), scan.ScannedBarcode)
			if scan.ItemID != nil {
				f.SetCellValue(group.sheet, fmt.Sprintf("C%d", i+2), *scan.ItemID)
			}
			f.SetCellValue(group.sheet, fmt.Sprintf("D%d", i+2), scan.ScannedBy)
			f.SetCellValue(group.sheet, fmt.Sprintf("E%d", i+2), scan.Notes)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	return buf, fmt.Sprintf("reconciliation_%s.xlsx", session.SessionNumber), nil
}
