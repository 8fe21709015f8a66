package controllers

import (
	"pawn-storage/controllers/helpers"
	"pawn-storage/middleware"
	"pawn-storage/services"

	"github.com/gofiber/fiber/v2"
)

type AllocationController struct {
	Service *services.AllocationService
}

func NewAllocationController(service *services.AllocationService) *AllocationController {
	return &AllocationController{Service: service}
}

type BulkMoveRequest struct {
	Moves []services.MoveInput `json:"moves"`
}

func (ac *AllocationController) AssignItem(ctx *fiber.Ctx) error {
	itemID, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var input services.AssignInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}
	input.ItemID = itemID

	placement, err := ac.Service.Assign(ctx.UserContext(), middleware.BranchID(ctx), input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to assign item", err)
	}
	return helpers.OK(ctx, "Item assigned successfully", placement)
}

func (ac *AllocationController) MoveItem(ctx *fiber.Ctx) error {
	itemID, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var input services.MoveInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}
	input.ItemID = itemID

	placement, err := ac.Service.Move(ctx.UserContext(), middleware.BranchID(ctx), input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to move item", err)
	}
	return helpers.OK(ctx, "Item moved successfully", placement)
}

func (ac *AllocationController) ReleaseItem(ctx *fiber.Ctx) error {
	itemID, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var input services.ReleaseInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}
	input.ItemID = itemID

	placement, err := ac.Service.Release(ctx.UserContext(), middleware.BranchID(ctx), input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to release item", err)
	}
	return helpers.OK(ctx, "Item released successfully", placement)
}

func (ac *AllocationController) GetItemHistory(ctx *fiber.Ctx) error {
	itemID, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	history, err := ac.Service.LocationHistory(ctx.UserContext(), middleware.BranchID(ctx), itemID)
	if err != nil {
		return helpers.Fail(ctx, "Failed to get item history", err)
	}
	return helpers.OK(ctx, "", history)
}

// bulkResponse keeps partial success visible: the request succeeds, failed entries are listed.
func bulkResponse(ctx *fiber.Ctx, result *services.BulkMoveResult) error {
	status := fiber.StatusOK
	message := "All items moved successfully"
	if len(result.Failed) > 0 {
		status = fiber.StatusMultiStatus
		message = "Some items could not be moved"
	}
	if result.Updated == 0 && len(result.Failed) > 0 {
		message = "No items were moved"
	}
	return ctx.Status(status).JSON(fiber.Map{
		"success":   len(result.Failed) == 0,
		"message":   message,
		"updated":   result.Updated,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}

func (ac *AllocationController) BulkMove(ctx *fiber.Ctx) error {
	var req BulkMoveRequest
	if err := ctx.BodyParser(&req); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}
	if len(req.Moves) == 0 {
		return helpers.BadRequest(ctx, "At least one move is required")
	}

	result := ac.Service.BulkMove(ctx.UserContext(), middleware.BranchID(ctx), req.Moves, middleware.UserID(ctx))
	return bulkResponse(ctx, result)
}

func (ac *AllocationController) BulkMoveFromExcel(ctx *fiber.Ctx) error {
	file, err := openExcelUpload(ctx)
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}
	defer file.Close()

	result, err := ac.Service.BulkMoveFromExcel(ctx.UserContext(), middleware.BranchID(ctx), file, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to read bulk move file", err)
	}
	return bulkResponse(ctx, result)
}
