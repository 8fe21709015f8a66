package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"pawn-storage/config"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newApp() *fiber.App {
	app := fiber.New()
	app.Get("/whoami", AuthMiddleware, func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"user": UserID(ctx), "branch": BranchID(ctx)})
	})
	return app
}

func call(t *testing.T, app *fiber.App, authorization string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("GET", "/whoami", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	token := signed(t, jwt.SigningMethodHS256, []byte(config.JWTSecret), jwt.MapClaims{
		"user_id":   42,
		"branch_id": 3,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	status, body := call(t, newApp(), "Bearer "+token)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(42), body["user"])
	assert.Equal(t, float64(3), body["branch"])
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	secret := []byte(config.JWTSecret)
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong scheme", "Token abc"},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
			"user_id": 1, "branch_id": 1, "exp": future,
		})},
		{"expired", "Bearer " + signed(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
			"user_id": 1, "branch_id": 1, "exp": time.Now().Add(-time.Minute).Unix(),
		})},
		{"no expiry", "Bearer " + signed(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
			"user_id": 1, "branch_id": 1,
		})},
		{"no branch", "Bearer " + signed(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
			"user_id": 1, "exp": future,
		})},
		{"zero branch", "Bearer " + signed(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
			"user_id": 1, "branch_id": 0, "exp": future,
		})},
		{"no user", "Bearer " + signed(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
			"branch_id": 1, "exp": future,
		})},
		{"unsigned", "Bearer " + signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{
			"user_id": 1, "branch_id": 1, "exp": future,
		})},
	}

	app := newApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, tt.authorization)
			assert.Equal(t, fiber.StatusUnauthorized, status)
			assert.Equal(t, false, body["success"])
		})
	}
}
