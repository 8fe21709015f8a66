package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pawn-storage/config"
	"pawn-storage/migration"
	"pawn-storage/models"
	"pawn-storage/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`

	Updated   int                        `json:"updated"`
	Succeeded []uint                     `json:"succeeded"`
	Failed    []services.BulkMoveFailure `json:"failed"`
}

type harness struct {
	t     *testing.T
	app   *fiber.App
	db    *gorm.DB
	token string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	config.GetLogger().SetOutput(io.Discard)

	dsn := filepath.Join(t.TempDir(), "api.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, migration.Migrate(db))

	app := fiber.New()
	SetupRoutes(app, Services{
		Location:       services.NewLocationService(db),
		Allocation:     services.NewAllocationService(db),
		Reconciliation: services.NewReconciliationService(db),
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   5,
		"branch_id": 1,
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(config.JWTSecret))
	require.NoError(t, err)

	return &harness{t: t, app: app, db: db, token: token}
}

func (h *harness) do(method, path string, body interface{}) (int, envelope) {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, config.MAIN_ROUTES+path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var out envelope
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRoutes_RequireAuth(t *testing.T) {
	h := newHarness(t)
	resp, err := h.app.Test(httptest.NewRequest("GET", config.MAIN_ROUTES+"/vaults", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRoutes_StorageFlow(t *testing.T) {
	h := newHarness(t)

	status, res := h.do("POST", "/vaults", map[string]interface{}{"code": "v1", "name": "Main"})
	require.Equal(t, fiber.StatusCreated, status)
	vault := decode[models.Vault](t, res.Data)
	assert.Equal(t, "V1", vault.Code)

	status, res = h.do("POST", "/vaults", map[string]interface{}{"code": "V1"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation", res.Kind)
	assert.False(t, res.Success)

	status, res = h.do("POST", fmt.Sprintf("/vaults/%d/boxes", vault.ID), map[string]interface{}{"box_number": 1, "total_slots": 2})
	require.Equal(t, fiber.StatusCreated, status)
	box := decode[models.Box](t, res.Data)
	require.Len(t, box.Slots, 2)

	status, _ = h.do("GET", "/vaults/999", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	pledge := models.Pledge{BranchID: 1, PledgeNumber: "PLG-1", Status: models.PledgeStatusActive, Items: []models.PledgeItem{
		{Barcode: "A", Status: models.ItemStatusPending, WeightGrams: decimal.NewFromInt(1), AppraisedValue: decimal.NewFromInt(1)},
		{Barcode: "B", Status: models.ItemStatusPending, WeightGrams: decimal.NewFromInt(1), AppraisedValue: decimal.NewFromInt(1)},
	}}
	require.NoError(t, h.db.Create(&pledge).Error)
	a, b := pledge.Items[0], pledge.Items[1]

	target := map[string]interface{}{"vault_id": vault.ID, "box_id": box.ID, "slot_id": box.Slots[0].ID}
	status, res = h.do("POST", fmt.Sprintf("/items/%d/assign", a.ID), target)
	require.Equal(t, fiber.StatusOK, status, res.Error)
	assert.True(t, res.Success)

	status, res = h.do("POST", fmt.Sprintf("/items/%d/assign", b.ID), target)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "conflict", res.Kind)

	status, res = h.do("POST", fmt.Sprintf("/items/%d/release", a.ID), map[string]interface{}{"status": "released"})
	require.Equal(t, fiber.StatusOK, status, res.Error)

	status, res = h.do("POST", fmt.Sprintf("/items/%d/move", a.ID), map[string]interface{}{
		"vault_id": vault.ID, "box_id": box.ID, "slot_id": box.Slots[1].ID,
	})
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "item_state", res.Kind)

	status, res = h.do("GET", fmt.Sprintf("/items/%d/history", a.ID), nil)
	require.Equal(t, fiber.StatusOK, status)
	history := decode[[]models.LocationHistory](t, res.Data)
	assert.Len(t, history, 2)

	status, res = h.do("GET", "/slots/consistency", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Slots are consistent", res.Message)
}

func TestRoutes_BulkMoveReportsPartialFailure(t *testing.T) {
	h := newHarness(t)

	_, res := h.do("POST", "/vaults", map[string]interface{}{"code": "V1"})
	vault := decode[models.Vault](t, res.Data)
	_, res = h.do("POST", fmt.Sprintf("/vaults/%d/boxes", vault.ID), map[string]interface{}{"box_number": 1, "total_slots": 3})
	box := decode[models.Box](t, res.Data)

	pledge := models.Pledge{BranchID: 1, PledgeNumber: "PLG-1", Status: models.PledgeStatusActive, Items: []models.PledgeItem{
		{Barcode: "A", Status: models.ItemStatusPending},
	}}
	require.NoError(t, h.db.Create(&pledge).Error)
	item := pledge.Items[0]

	status, _ := h.do("POST", fmt.Sprintf("/items/%d/assign", item.ID), map[string]interface{}{
		"vault_id": vault.ID, "box_id": box.ID, "slot_id": box.Slots[0].ID,
	})
	require.Equal(t, fiber.StatusOK, status)

	req := map[string]interface{}{"moves": []map[string]interface{}{
		{"item_id": item.ID, "vault_id": vault.ID, "box_id": box.ID, "slot_id": box.Slots[1].ID},
		{"item_id": 9999, "vault_id": vault.ID, "box_id": box.ID, "slot_id": box.Slots[2].ID},
	}}
	status, res = h.do("POST", "/items/bulk-move", req)
	assert.Equal(t, http.StatusMultiStatus, status)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []uint{item.ID}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, uint(9999), res.Failed[0].ItemID)
	assert.Equal(t, services.KindNotFound, res.Failed[0].Kind)
}

func TestRoutes_ReconciliationFlow(t *testing.T) {
	h := newHarness(t)

	status, res := h.do("POST", "/reconciliations", map[string]interface{}{"type": "daily"})
	require.Equal(t, fiber.StatusCreated, status, res.Error)
	session := decode[models.ReconciliationSession](t, res.Data)

	status, res = h.do("POST", "/reconciliations", map[string]interface{}{"type": "daily"})
	assert.Equal(t, fiber.StatusConflict, status)

	status, res = h.do("POST", fmt.Sprintf("/reconciliations/%d/scan", session.ID), map[string]interface{}{"barcode": "UNKNOWN"})
	require.Equal(t, fiber.StatusOK, status, res.Error)
	scan := decode[services.ScanResult](t, res.Data)
	assert.Equal(t, models.ScanUnexpected, scan.Classification)

	status, res = h.do("POST", fmt.Sprintf("/reconciliations/%d/scan", session.ID), map[string]interface{}{"barcode": "UNKNOWN"})
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = h.do("GET", fmt.Sprintf("/reconciliations/%d/report", session.ID), nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status, res = h.do("POST", fmt.Sprintf("/reconciliations/%d/complete", session.ID), nil)
	require.Equal(t, fiber.StatusOK, status, res.Error)

	status, res = h.do("GET", fmt.Sprintf("/reconciliations/%d/report", session.ID), nil)
	require.Equal(t, fiber.StatusOK, status)
	report := decode[services.ReconciliationReport](t, res.Data)
	assert.Equal(t, "100", report.Accuracy.String())
	assert.Len(t, report.Unexpected, 1)

	status, res = h.do("GET", fmt.Sprintf("/reconciliations/%d/scans?classification=bogus", session.ID), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}
