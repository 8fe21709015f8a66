package controllers

import (
	"fmt"
	"pawn-storage/controllers/helpers"
	"pawn-storage/middleware"
	"pawn-storage/services"

	"github.com/gofiber/fiber/v2"
)

type ReconciliationController struct {
	Service *services.ReconciliationService
}

func NewReconciliationController(service *services.ReconciliationService) *ReconciliationController {
	return &ReconciliationController{Service: service}
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

func (rc *ReconciliationController) StartSession(ctx *fiber.Ctx) error {
	var input services.StartInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}

	session, err := rc.Service.Start(ctx.UserContext(), middleware.BranchID(ctx), input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to start reconciliation", err)
	}
	return helpers.Created(ctx, "Reconciliation started", session)
}

func (rc *ReconciliationController) GetAllSessions(ctx *fiber.Ctx) error {
	var filter services.SessionFilter
	if err := ctx.QueryParser(&filter); err != nil {
		return helpers.BadRequest(ctx, "Invalid query")
	}

	sessions, err := rc.Service.ListSessions(ctx.UserContext(), middleware.BranchID(ctx), filter)
	if err != nil {
		return helpers.Fail(ctx, "Failed to get reconciliations", err)
	}
	return helpers.OK(ctx, "", sessions)
}

func (rc *ReconciliationController) GetSessionByID(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	session, err := rc.Service.GetSession(ctx.UserContext(), middleware.BranchID(ctx), id)
	if err != nil {
		return helpers.Fail(ctx, "Reconciliation not found", err)
	}
	return helpers.OK(ctx, "", session)
}

func (rc *ReconciliationController) Scan(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var input services.ScanInput
	if err := ctx.BodyParser(&input); err != nil {
		return helpers.BadRequest(ctx, "Invalid input")
	}

	result, err := rc.Service.Scan(ctx.UserContext(), middleware.BranchID(ctx), id, input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Scan rejected", err)
	}
	return helpers.OK(ctx, "Barcode "+result.Classification, result)
}

func (rc *ReconciliationController) Complete(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var input services.CompleteInput
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&input); err != nil {
			return helpers.BadRequest(ctx, "Invalid input")
		}
	}

	session, err := rc.Service.Complete(ctx.UserContext(), middleware.BranchID(ctx), id, input, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to complete reconciliation", err)
	}
	return helpers.OK(ctx, "Reconciliation completed", session)
}

func (rc *ReconciliationController) Cancel(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	var req CancelRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return helpers.BadRequest(ctx, "Invalid input")
		}
	}

	session, err := rc.Service.Cancel(ctx.UserContext(), middleware.BranchID(ctx), id, req.Reason, middleware.UserID(ctx))
	if err != nil {
		return helpers.Fail(ctx, "Failed to cancel reconciliation", err)
	}
	return helpers.OK(ctx, "Reconciliation cancelled", session)
}

func (rc *ReconciliationController) GetScans(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	scans, err := rc.Service.ListScans(ctx.UserContext(), middleware.BranchID(ctx), id, ctx.Query("classification"))
	if err != nil {
		return helpers.Fail(ctx, "Failed to get scans", err)
	}
	return helpers.OK(ctx, "", scans)
}

func (rc *ReconciliationController) GetReport(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	report, err := rc.Service.Report(ctx.UserContext(), middleware.BranchID(ctx), id)
	if err != nil {
		return helpers.Fail(ctx, "Failed to build report", err)
	}
	return helpers.OK(ctx, "", report)
}

func (rc *ReconciliationController) ExportReport(ctx *fiber.Ctx) error {
	id, err := helpers.ParamID(ctx, "id")
	if err != nil {
		return helpers.BadRequest(ctx, err.Error())
	}

	buf, filename, err := rc.Service.ExportReportExcel(ctx.UserContext(), middleware.BranchID(ctx), id)
	if err != nil {
		return helpers.Fail(ctx, "Failed to export report", err)
	}

	ctx.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	ctx.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	return ctx.Send(buf.Bytes())
}
