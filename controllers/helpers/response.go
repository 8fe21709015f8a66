package helpers

import (
	"errors"
	"fmt"
	"pawn-storage/config"
	"pawn-storage/services"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps a service error kind onto an HTTP status.
func StatusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindConflict:
		return fiber.StatusConflict
	case services.KindItemState:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// Fail writes the error envelope. Internal errors are logged and hidden from the caller.
func Fail(ctx *fiber.Ctx, message string, err error) error {
	kind := services.KindOf(err)
	body := fiber.Map{
		"success": false,
		"message": message,
		"kind":    kind,
	}

	var importErr *services.ImportError
	switch {
	case errors.As(err, &importErr):
		body["error"] = importErr.Error()
		body["total_rows"] = importErr.TotalRows
		body["validation_errors"] = importErr.Rows
	case kind == services.KindInternal:
		config.LogError(config.GetLogger(), "controllers", ctx.Route().Path, message, ctx.Method(), err)
		body["error"] = "internal server error"
	default:
		body["error"] = err.Error()
	}
	return ctx.Status(StatusFor(kind)).JSON(body)
}

func BadRequest(ctx *fiber.Ctx, message string) error {
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": message,
		"kind":    services.KindValidation,
	})
}

func OK(ctx *fiber.Ctx, message string, data interface{}) error {
	return ctx.JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func Created(ctx *fiber.Ctx, message string, data interface{}) error {
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// ParamID reads a positive numeric route parameter.
func ParamID(ctx *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(ctx.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(id), nil
}
