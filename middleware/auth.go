package middleware

import (
	"pawn-storage/config"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware verifies the bearer token and stores the caller's user id and branch id in
// ctx.Locals. Tokens are issued by the branch-management system.
func AuthMiddleware(ctx *fiber.Ctx) error {
	authHeader := ctx.Get("Authorization")
	if authHeader == "" {
		return unauthorized(ctx, "Missing Authorization header")
	}

	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
		return unauthorized(ctx, "Invalid Authorization header format")
	}

	token, err := jwt.Parse(tokenParts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Unauthorized: Invalid signing method")
		}
		return []byte(config.JWTSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		config.GetLogger().WithField("error", err.Error()).Debug("rejected token")
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Unauthorized: Invalid token",
			"error":   err.Error(),
		})
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return unauthorized(ctx, "Unauthorized: Invalid token")
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return unauthorized(ctx, "Unauthorized: Invalid user ID")
	}

	branchID, ok := claims["branch_id"].(float64)
	if !ok || branchID < 1 {
		return unauthorized(ctx, "Unauthorized: Invalid branch ID")
	}

	ctx.Locals("userID", userID)
	ctx.Locals("branchID", uint(branchID))
	ctx.Locals("userData", claims)

	return ctx.Next()
}

func unauthorized(ctx *fiber.Ctx, message string) error {
	return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// UserID is the authenticated caller, 0 when the request did not pass AuthMiddleware.
func UserID(ctx *fiber.Ctx) int {
	if id, ok := ctx.Locals("userID").(float64); ok {
		return int(id)
	}
	return 0
}

func BranchID(ctx *fiber.Ctx) uint {
	if id, ok := ctx.Locals("branchID").(uint); ok {
		return id
	}
	return 0
}
