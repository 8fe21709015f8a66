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

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Notifier is told about sessions that finished. Delivery failures are logged, never returned.
type Notifier interface {
	SessionCompleted(report *ReconciliationReport) error
	SessionsExpired(sessions []models.ReconciliationSession) error
}

type ReconciliationService struct {
	DB       *gorm.DB
	Log      *logrus.Logger
	Locker   SessionLocker
	Notifier Notifier
	Window   time.Duration
	Now      func() time.Time
}

func NewReconciliationService(db *gorm.DB) *ReconciliationService {
	return &ReconciliationService{
		DB:     db,
		Log:    config.GetLogger(),
		Locker: NewLocalLocker(),
		Window: config.ReconciliationWindow,
		Now:    time.Now,
	}
}

type StartInput struct {
	Type  string `json:"type" validate:"required,oneof=daily weekly monthly adhoc"`
	Force bool   `json:"force"`
	Notes string `json:"notes" validate:"max=500"`
}

type ScanInput struct {
	Barcode string `json:"barcode" validate:"required,max=100"`
	Notes   string `json:"notes" validate:"max=255"`
}

type CompleteInput struct {
	Notes string `json:"notes" validate:"max=500"`
}

type SessionFilter struct {
	Status string `query:"status"`
	Type   string `query:"type"`
}

type ScanResult struct {
	Classification string                       `json:"classification"`
	Scan           models.ReconciliationScan    `json:"scan"`
	Item           *repositories.ItemMatch      `json:"item,omitempty"`
	Session        models.ReconciliationSession `json:"session"`
}

type ReconciliationReport struct {
	Session    models.ReconciliationSession `json:"session"`
	Accuracy   decimal.Decimal              `json:"accuracy"`
	Matched    []models.ReconciliationScan  `json:"matched"`
	Missing    []models.ReconciliationScan  `json:"missing"`
	Unexpected []models.ReconciliationScan  `json:"unexpected"`
}

var hundred = decimal.NewFromInt(100)

// Accuracy is matched/expected as a percentage with two decimals, 100 for an empty baseline
// and never above 100.
func Accuracy(matched, expected int) decimal.Decimal {
	if expected <= 0 {
		return hundred
	}
	rate := decimal.NewFromInt(int64(matched)).Mul(hundred).Div(decimal.NewFromInt(int64(expected))).Round(2)
	if rate.GreaterThan(hundred) {
		return hundred
	}
	return rate
}

func (s *ReconciliationService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *ReconciliationService) window() time.Duration {
	if s.Window <= 0 {
		return 4 * time.Hour
	}
	return s.Window
}

func (s *ReconciliationService) lock(ctx context.Context, key string) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	return s.Locker.Lock(ctx, key)
}

func sessionKey(sessionID uint) string {
	return fmt.Sprintf("reconciliation:session:%d", sessionID)
}

func branchKey(branchID uint) string {
	return fmt.Sprintf("reconciliation:branch:%d", branchID)
}

func appendNote(notes, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

func lockSession(tx *gorm.DB, branchID, sessionID uint) (*models.ReconciliationSession, error) {
	var session models.ReconciliationSession
	if err := forUpdate(tx).Where("id = ? AND branch_id = ?", sessionID, branchID).First(&session).Error; err != nil {
		return nil, notFound(err, "reconciliation session")
	}
	return &session, nil
}

func cancelSession(tx *gorm.DB, session *models.ReconciliationSession, note string) error {
	session.Status = models.SessionStatusCancelled
	session.Notes = appendNote(session.Notes, note)
	return tx.Model(session).Updates(map[string]interface{}{
		"status": session.Status,
		"notes":  session.Notes,
	}).Error
}

func expiryNote(session *models.ReconciliationSession) string {
	return fmt.Sprintf("auto-cancelled: window expired at %s", session.ExpiresAt.UTC().Format(time.RFC3339))
}

func nextSessionNumber(tx *gorm.DB, branchID uint, now time.Time) (string, error) {
	prefix := fmt.Sprintf("RC%d-%s-", branchID, now.Format("20060102"))
	var count int64
	if err := tx.Unscoped().Model(&models.ReconciliationSession{}).
		Where("session_number LIKE ?", prefix+"%").
		Count(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, count+1), nil
}

// Start opens a session for the branch and freezes its expected baseline. Expired sessions
// still marked in progress are cancelled first; a live one blocks the start unless Force is set.
func (s *ReconciliationService) Start(ctx context.Context, branchID uint, input StartInput, actor int) (*models.ReconciliationSession, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, branchKey(branchID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	var session models.ReconciliationSession
	var expired, superseded int
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open []models.ReconciliationSession
		if err := forUpdate(tx).Where("branch_id = ? AND status = ?", branchID, models.SessionStatusInProgress).
			Find(&open).Error; err != nil {
			return err
		}

		for i := range open {
			current := &open[i]
			switch {
			case current.Expired(now):
				if err := cancelSession(tx, current, expiryNote(current)); err != nil {
					return err
				}
				expired++
			case input.Force:
				if err := cancelSession(tx, current, fmt.Sprintf("cancelled by user %d: superseded by a forced start", actor)); err != nil {
					return err
				}
				superseded++
			default:
				return fmt.Errorf("%w: %s", ErrSessionAlreadyActive, current.SessionNumber)
			}
		}

		expected, err := repositories.NewReconciliationRepository(tx).GetExpectedItems(branchID)
		if err != nil {
			return err
		}

		number, err := nextSessionNumber(tx, branchID, now)
		if err != nil {
			return err
		}

		session = models.ReconciliationSession{
			SessionNumber: number,
			BranchID:      branchID,
			Type:          input.Type,
			Status:        models.SessionStatusInProgress,
			ExpectedCount: len(expected),
			StartedAt:     now,
			StartedBy:     actor,
			ExpiresAt:     now.Add(s.window()),
			Notes:         strings.TrimSpace(input.Notes),
		}
		if err := tx.Create(&session).Error; err != nil {
			return err
		}

		if len(expected) == 0 {
			return nil
		}
		baseline := make([]models.ReconciliationExpected, len(expected))
		for i, item := range expected {
			baseline[i] = models.ReconciliationExpected{SessionID: session.ID, ItemID: item.ItemID, Barcode: item.Barcode}
		}
		return tx.CreateInBatches(&baseline, 200).Error
	})
	if err != nil {
		if KindOf(err) == KindInternal {
			config.LogError(s.Log, "ReconciliationService", "Start", "transaction failed", input, err)
		}
		return nil, err
	}

	metrics.SessionsTotal.WithLabelValues("started").Add(1)
	metrics.SessionsTotal.WithLabelValues("expired").Add(float64(expired))
	metrics.SessionsTotal.WithLabelValues(models.SessionStatusCancelled).Add(float64(superseded))

	s.Log.WithFields(logrus.Fields{
		"branch_id":      branchID,
		"session_id":     session.ID,
		"session_number": session.SessionNumber,
		"expected":       session.ExpectedCount,
		"expired":        expired,
		"superseded":     superseded,
		"actor":          actor,
	}).Info("reconciliation started")
	return &session, nil
}

// Scan records one barcode read. The barcode is stored and checked for duplicates exactly as
// scanned; the trimmed text is resolved against item tags first, then pledge numbers, and is
// matched only when the item is stored under an active pledge.
func (s *ReconciliationService) Scan(ctx context.Context, branchID, sessionID uint, input ScanInput, actor int) (*ScanResult, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	lookup := strings.TrimSpace(input.Barcode)
	if lookup == "" {
		return nil, fmt.Errorf("%w: barcode is blank", ErrInvalidInput)
	}

	unlock, err := s.lock(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	var result ScanResult
	expired := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, branchID, sessionID)
		if err != nil {
			return err
		}
		if session.Status != models.SessionStatusInProgress {
			return fmt.Errorf("%w: %s is %s", ErrSessionNotActive, session.SessionNumber, session.Status)
		}
		if session.Expired(now) {
			expired = true
			return cancelSession(tx, session, expiryNote(session))
		}

		repo := repositories.NewReconciliationRepository(tx)
		seen, err := repo.BarcodeAlreadyScanned(session.ID, input.Barcode)
		if err != nil {
			return err
		}
		if seen {
			return fmt.Errorf("%w: %s", ErrDuplicateScan, input.Barcode)
		}

		match, err := repo.FindItemByBarcode(branchID, lookup)
		if err != nil {
			return err
		}
		if match == nil {
			match, err = repo.FindItemByPledgeNumber(branchID, lookup, session.ID)
			if err != nil {
				return err
			}
		}

		classification := models.ScanUnexpected
		notes := strings.TrimSpace(input.Notes)
		if match != nil && match.Storable() {
			matched, err := repo.MatchedItemIDs(session.ID)
			if err != nil {
				return err
			}
			if matched[match.ItemID] {
				notes = appendNote(notes, fmt.Sprintf("item %d already matched in this session", match.ItemID))
			} else {
				classification = models.ScanMatched
			}
		}

		scan := models.ReconciliationScan{
			SessionID:      session.ID,
			ScannedBarcode: input.Barcode,
			Classification: classification,
			ScannedAt:      now,
			ScannedBy:      actor,
			Notes:          notes,
		}
		if match != nil {
			scan.ItemID = &match.ItemID
		}
		if err := tx.Create(&scan).Error; err != nil {
			return err
		}

		counter := "unexpected_count"
		if classification == models.ScanMatched {
			counter = "matched_count"
		}
		if err := tx.Model(session).Updates(map[string]interface{}{
			"scanned_count": gorm.Expr("scanned_count + 1"),
			counter:         gorm.Expr(counter + " + 1"),
		}).Error; err != nil {
			return err
		}
		if err := tx.First(&result.Session, session.ID).Error; err != nil {
			return err
		}

		result.Classification = classification
		result.Scan = scan
		result.Item = match
		return nil
	})
	if err == nil && expired {
		err = ErrSessionExpired
		metrics.SessionsTotal.WithLabelValues("expired").Inc()
	}
	if err != nil {
		metrics.ScansTotal.WithLabelValues("rejected").Inc()
		if KindOf(err) == KindInternal {
			config.LogError(s.Log, "ReconciliationService", "Scan", "transaction failed", input, err)
		}
		return nil, err
	}

	metrics.ScansTotal.WithLabelValues(result.Classification).Inc()
	s.Log.WithFields(logrus.Fields{
		"branch_id":      branchID,
		"session_id":     sessionID,
		"barcode":        input.Barcode,
		"classification": result.Classification,
		"actor":          actor,
	}).Debug("barcode scanned")
	return &result, nil
}

// Complete closes the session. Every item of the frozen baseline without a matched scan gets
// a synthesised missing record.
func (s *ReconciliationService) Complete(ctx context.Context, branchID, sessionID uint, input CompleteInput, actor int) (*models.ReconciliationSession, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	var session *models.ReconciliationSession
	expired := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = lockSession(tx, branchID, sessionID)
		if err != nil {
			return err
		}
		if session.Status != models.SessionStatusInProgress {
			return fmt.Errorf("%w: %s is %s", ErrSessionNotActive, session.SessionNumber, session.Status)
		}
		if session.Expired(now) {
			expired = true
			return cancelSession(tx, session, expiryNote(session))
		}

		repo := repositories.NewReconciliationRepository(tx)
		expected, err := repo.GetExpected(session.ID)
		if err != nil {
			return err
		}
		matched, err := repo.MatchedItemIDs(session.ID)
		if err != nil {
			return err
		}

		missing := []models.ReconciliationScan{}
		for _, e := range expected {
			if matched[e.ItemID] {
				continue
			}
			itemID := e.ItemID
			missing = append(missing, models.ReconciliationScan{
				SessionID:      session.ID,
				ItemID:         &itemID,
				ScannedBarcode: e.Barcode,
				Classification: models.ScanMissing,
				ScannedAt:      now,
				ScannedBy:      actor,
				Notes:          "not scanned before completion",
			})
		}
		if len(missing) > 0 {
			if err := tx.CreateInBatches(&missing, 200).Error; err != nil {
				return err
			}
		}

		session.Status = models.SessionStatusCompleted
		session.MissingCount = len(missing)
		session.CompletedAt = &now
		session.CompletedBy = &actor
		session.Notes = appendNote(session.Notes, input.Notes)
		if err := tx.Model(session).Updates(map[string]interface{}{
			"status":        session.Status,
			"missing_count": session.MissingCount,
			"completed_at":  now,
			"completed_by":  actor,
			"notes":         session.Notes,
		}).Error; err != nil {
			return err
		}
		return tx.First(session, session.ID).Error
	})
	if err == nil && expired {
		err = ErrSessionExpired
		metrics.SessionsTotal.WithLabelValues("expired").Inc()
	}
	if err != nil {
		if KindOf(err) == KindInternal {
			config.LogError(s.Log, "ReconciliationService", "Complete", "transaction failed", input, err)
		}
		return nil, err
	}

	metrics.SessionsTotal.WithLabelValues(models.SessionStatusCompleted).Inc()
	metrics.MissingItems.Add(float64(session.MissingCount))
	s.Log.WithFields(logrus.Fields{
		"branch_id":  branchID,
		"session_id": session.ID,
		"expected":   session.ExpectedCount,
		"matched":    session.MatchedCount,
		"missing":    session.MissingCount,
		"unexpected": session.UnexpectedCount,
		"actor":      actor,
	}).Info("reconciliation completed")

	if s.Notifier != nil {
		go s.notifyCompleted(branchID, session.ID)
	}
	return session, nil
}

func (s *ReconciliationService) notifyCompleted(branchID, sessionID uint) {
	report, err := s.Report(context.Background(), branchID, sessionID)
	if err == nil {
		err = s.Notifier.SessionCompleted(report)
	}
	if err != nil {
		config.LogError(s.Log, "ReconciliationService", "notifyCompleted", "completion notice not sent", sessionID, err)
	}
}

// Cancel ends an in-progress session without computing a missing set.
func (s *ReconciliationService) Cancel(ctx context.Context, branchID, sessionID uint, reason string, actor int) (*models.ReconciliationSession, error) {
	unlock, err := s.lock(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var session *models.ReconciliationSession
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = lockSession(tx, branchID, sessionID)
		if err != nil {
			return err
		}
		if session.Status != models.SessionStatusInProgress {
			return fmt.Errorf("%w: %s is %s", ErrSessionNotActive, session.SessionNumber, session.Status)
		}

		note := fmt.Sprintf("cancelled by user %d", actor)
		if reason = strings.TrimSpace(reason); reason != "" {
			note += ": " + reason
		}
		return cancelSession(tx, session, note)
	})
	if err != nil {
		if KindOf(err) == KindInternal {
			config.LogError(s.Log, "ReconciliationService", "Cancel", "transaction failed", sessionID, err)
		}
		return nil, err
	}

	metrics.SessionsTotal.WithLabelValues(models.SessionStatusCancelled).Inc()
	s.Log.WithFields(logrus.Fields{"branch_id": branchID, "session_id": sessionID, "actor": actor}).Info("reconciliation cancelled")
	return session, nil
}

// Report groups the scans of a completed session by classification.
func (s *ReconciliationService) Report(ctx context.Context, branchID, sessionID uint) (*ReconciliationReport, error) {
	session, err := s.GetSession(ctx, branchID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionNotCompleted, session.SessionNumber, session.Status)
	}

	scans, err := repositories.NewReconciliationRepository(s.DB.WithContext(ctx)).GetScans(session.ID, "")
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		Session:    *session,
		Accuracy:   Accuracy(session.MatchedCount, session.ExpectedCount),
		Matched:    []models.ReconciliationScan{},
		Missing:    []models.ReconciliationScan{},
		Unexpected: []models.ReconciliationScan{},
	}
	for _, scan := range scans {
		switch scan.Classification {
		case models.ScanMatched:
			report.Matched = append(report.Matched, scan)
		case models.ScanMissing:
			report.Missing = append(report.Missing, scan)
		case models.ScanUnexpected:
			report.Unexpected = append(report.Unexpected, scan)
		}
	}
	return report, nil
}

// SweepExpired cancels every in-progress session, in any branch, whose window closed before now.
func (s *ReconciliationService) SweepExpired(ctx context.Context, now time.Time) ([]models.ReconciliationSession, error) {
	var open []models.ReconciliationSession
	if err := s.DB.WithContext(ctx).
		Where("status = ?", models.SessionStatusInProgress).
		Order("id ASC").
		Find(&open).Error; err != nil {
		return nil, err
	}

	swept := []models.ReconciliationSession{}
	for _, candidate := range open {
		if !candidate.Expired(now) {
			continue
		}

		session, err := s.expire(ctx, candidate, now)
		if err != nil {
			config.LogError(s.Log, "ReconciliationService", "SweepExpired", "session not cancelled", candidate.ID, err)
			continue
		}
		if session != nil {
			swept = append(swept, *session)
		}
	}

	if len(swept) > 0 {
		metrics.SessionsTotal.WithLabelValues("expired").Add(float64(len(swept)))
		s.Log.WithField("count", len(swept)).Info("expired reconciliation sessions cancelled")
	}
	return swept, nil
}

func (s *ReconciliationService) expire(ctx context.Context, candidate models.ReconciliationSession, now time.Time) (*models.ReconciliationSession, error) {
	unlock, err := s.lock(ctx, sessionKey(candidate.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var session *models.ReconciliationSession
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockSession(tx, candidate.BranchID, candidate.ID)
		if err != nil {
			return err
		}
		if current.Status != models.SessionStatusInProgress || !current.Expired(now) {
			return nil
		}
		if err := cancelSession(tx, current, expiryNote(current)); err != nil {
			return err
		}
		session = current
		return nil
	})
	return session, err
}

func (s *ReconciliationService) ListSessions(ctx context.Context, branchID uint, filter SessionFilter) ([]models.ReconciliationSession, error) {
	sessions := []models.ReconciliationSession{}
	q := s.DB.WithContext(ctx).Where("branch_id = ?", branchID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	err := q.Order("id DESC").Find(&sessions).Error
	return sessions, err
}

func (s *ReconciliationService) GetSession(ctx context.Context, branchID, sessionID uint) (*models.ReconciliationSession, error) {
	var session models.ReconciliationSession
	if err := s.DB.WithContext(ctx).Where("id = ? AND branch_id = ?", sessionID, branchID).First(&session).Error; err != nil {
		return nil, notFound(err, "reconciliation session")
	}
	return &session, nil
}

func (s *ReconciliationService) ListScans(ctx context.Context, branchID, sessionID uint, classification string) ([]models.ReconciliationScan, error) {
	switch classification {
	case "", models.ScanMatched, models.ScanMissing, models.ScanUnexpected:
	default:
		return nil, fmt.Errorf("%w: unknown classification %q", ErrInvalidInput, classification)
	}

	session, err := s.GetSession(ctx, branchID, sessionID)
	if err != nil {
		return nil, err
	}
	return repositories.NewReconciliationRepository(s.DB.WithContext(ctx)).GetScans(session.ID, classification)
}
