package controllers

import (
	"mime/multipart"
	"pawn-storage/controllers/helpers"
	"pawn-storage/middleware"
	"pawn-storage/repositories"
	"pawn-storage/services"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type LocationController struct {
	Service *services.LocationService
}

func NewLocationController(service *services.LocationService) *LocationController {
	return &LocationController{Service: service}
}

// VAULTS

func (lc *LocationController) CreateVault(ctx *fiber.Ctx) error {
	var input services.VaultInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}

	vault, err := lc.Service.CreateVault(ctx.UserContext(), middleware.BranchID(ctx), input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to create vault", err)
	}
	return helpers.Created(ctx, "Vault created successfully", vault)
}

func (lc *LocationController) GetAllVaults(ctx *fiber.Ctx) error {
	vaults, err := lc.Service.ListVaults(ctx.UserContext(), middleware.BranchID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to get vaults", err)
	}
	return helpers.OK(ctx, "", vaults)
}

func (lc *LocationController) GetVaultByID(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	vault, err := lc.Service.GetVault(ctx.UserContext(), middleware.BranchID(ctx), id)
	if err != nil {
		return helpers.Fail(ctx, "Vault not found", err)
	}
	return helpers.OK(ctx, "", vault)
}

func (lc *LocationController) UpdateVault(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var input services.VaultInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}

	vault, err := lc.Service.UpdateVault(ctx.UserContext(), middleware.BranchID(ctx), id, input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to update vault", err)
	}
	return helpers.OK(ctx, "Vault updated successfully", vault)
}

func (lc *LocationController) DeleteVault(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	if err := lc.Service.DeleteVault(ctx.UserContext(), middleware.BranchID(ctx), id, middleware.UserID(ctx)); err != nil {
		return helpers.Fail(ctx, "Failed to delete vault", err)
	}
	return helpers.OK(ctx, "Vault deleted successfully", nil)
}

func (lc *LocationController) GetVaultSummary(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	summary, err := lc.Service.VaultSummary(ctx.UserContext(), middleware.BranchID(ctx), id)
	if err != nil {
		return helpers.Fail(ctx, "Failed to get vault summary", err)
	}
	return helpers.OK(ctx, "", summary)
}

// BOXES

func (lc *LocationController) GetVaultBoxes(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	boxes, err := lc.Service.ListBoxes(ctx.UserContext(), middleware.BranchID(ctx), id)
	if err != nil {
		return helpers.Fail(ctx, "Failed to get boxes", err)
	}
	return helpers.OK(ctx, "", boxes)
}

func (lc *LocationController) CreateBox(ctx *fiber.Ctx) error {
	vaultID, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var input services.BoxInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}

	box, err := lc.Service.CreateBox(ctx.UserContext(), middleware.BranchID(ctx), vaultID, input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to create box", err)
	}
	return helpers.Created(ctx, "Box created successfully", box)
}

func (lc *LocationController) GetBoxByID(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	box, err := lc.Service.GetBox(ctx.UserContext(), middleware.BranchID(ctx), id)
	if err != nil {
		return helpers.Fail(ctx, "Box not found", err)
	}
	return helpers.OK(ctx, "", box)
}

func (lc *LocationController) UpdateBox(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var input services.BoxUpdateInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}

	box, err := lc.Service.UpdateBox(ctx.UserContext(), middleware.BranchID(ctx), id, input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to update box", err)
	}
	return helpers.OK(ctx, "Box updated successfully", box)
}

func (lc *LocationController) DeleteBox(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	if err := lc.Service.DeleteBox(ctx.UserContext(), middleware.BranchID(ctx), id, middleware.UserID(ctx)); err != nil {
		return helpers.Fail(ctx, "Failed to delete box", err)
	}
	return helpers.OK(ctx, "Box deleted successfully", nil)
}

func (lc *LocationController) GetBoxSummary(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	summary, err := lc.Service.BoxSummary(ctx.UserContext(), middleware.BranchID(ctx), id)
	if err != nil {
		return helpers.Fail(ctx, "Failed to get box summary", err)
	}
	return helpers.OK(ctx, "", summary)
}

func (lc *LocationController) ImportBoxes(ctx *fiber.Ctx) error {
	file, err := openExcelUpload(ctx)
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}
	defer file.Close()

	result, err := lc.Service.ImportBoxesFromExcel(ctx.UserContext(), middleware.BranchID(ctx), file, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to import boxes", err)
	}
	return helpers.Created(ctx, "Boxes imported successfully", result)
}

// SLOTS

func (lc *LocationController) GetAvailableSlots(ctx *fiber.Ctx) error {
	var filter repositories.SlotFilter
	if err := ctx.QueryParser(&filter); err != nil {
		return helpers.BadRequest(ctx, "Invalid query")
	}

	slots, err := lc.Service.ListAvailableSlots(ctx.UserContext(), middleware.BranchID(ctx), filter)
	if err != nil {
		return helpers.Fail(ctx, "Failed to get available slots", err)
	}
	return helpers.OK(ctx, "", slots)
}

func (lc *LocationController) GetNextAvailableSlot(ctx *fiber.Ctx) error {
	slot, err := lc.Service.NextAvailableSlot(ctx.UserContext(), middleware.BranchID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "No free slot available", err)
	}
	return helpers.OK(ctx, "", slot)
}

func (lc *LocationController) VerifySlotConsistency(ctx *fiber.Ctx) error {
	violations, err := lc.Service.VerifySlotConsistency(ctx.UserContext(), middleware.BranchID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to verify slots", err)
	}

	message := "Slots are consistent"
	if len(violations) > 0 {
		message = "Slot inconsistencies found"
	}
	return ctx.JSON(fiber.Map{
		"success":    true,
		"message":    message,
		"consistent": len(violations) == 0,
		"data":       violations,
	})
}

// openExcelUpload validates the "file" form field the way every upload endpoint expects it.
func openExcelUpload(ctx *fiber.Ctx) (multipart.File, error) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "File is required")
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".xlsx") {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid file format. Only .xlsx files are allowed")
	}
	if fileHeader.Size > 10*1024*1024 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "File size exceeds maximum limit of 10MB")
	}
	return fileHeader.Open()
}
