package vault

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"agenti/helpers"
	"agenti/middlewares"
	"agenti/services"
	"agenti/services/vault"
	"agenti/store"
)

type Handler struct {
	Ledger *vault.Ledger
}

func (h *Handler) GetVault(c *fiber.Ctx) error {
	branchID, err := c.ParamsInt("branchID")
	if err != nil || branchID <= 0 {
		return helpers.JSONError(c, "INVALID_BRANCH_ID")
	}

	view, err := h.Ledger.Vault(c.UserContext(), uint(branchID))
	if errors.Is(err, store.ErrNotFound) {
		return helpers.JSONErrorStatus(c, fiber.StatusNotFound, string(services.CodeBranchNotFound), nil)
	}
	if err != nil {
		return helpers.JSONFailure(c, err)
	}

	return helpers.JSONSuccess(c, "Vault retrieved successfully", view)
}

func (h *Handler) ListMovements(c *fiber.Ctx) error {
	branchID, err := c.ParamsInt("branchID")
	if err != nil || branchID <= 0 {
		return helpers.JSONError(c, "INVALID_BRANCH_ID")
	}

	limit := c.QueryInt("limit", vault.DefaultMovementLimit)
	includeExpired := c.QueryBool("include_expired", false)

	movements, err := h.Ledger.RecentMovements(c.UserContext(), uint(branchID), limit, includeExpired)
	if err != nil {
		return helpers.JSONFailure(c, err)
	}

	return helpers.JSONSuccess(c, "Vault movements retrieved successfully", movements)
}

type AdjustmentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	IsDeposit bool            `json:"is_deposit"`
	Notes     string          `json:"notes" validate:"required,max=500"`
}

func (h *Handler) RequestAdjustment(c *fiber.Ctx) error {
	branchID, err := c.ParamsInt("branchID")
	if err != nil || branchID <= 0 {
		return helpers.JSONError(c, "INVALID_BRANCH_ID")
	}

	var req AdjustmentRequest
	if err := helpers.ParseBody(c, &req); err != nil {
		return helpers.JSONError(c, err.Error())
	}

	res, err := h.Ledger.RequestManualAdjustment(c.UserContext(), uint(branchID), req.Amount, req.IsDeposit, req.Notes, middlewares.ActorID(c))
	return helpers.JSONResult(c, "Adjustment submitted for approval", res, err)
}

func (h *Handler) Approve(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return helpers.JSONError(c, "INVALID_MOVEMENT_ID")
	}

	res, err := h.Ledger.ApproveManualAdjustment(c.UserContext(), uint(id), middlewares.ActorID(c))
	return helpers.JSONResult(c, "Adjustment approved", res, err)
}

func (h *Handler) Reject(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return helpers.JSONError(c, "INVALID_MOVEMENT_ID")
	}

	res, err := h.Ledger.RejectManualAdjustment(c.UserContext(), uint(id), middlewares.ActorID(c))
	return helpers.JSONResult(c, "Adjustment rejected", res, err)
}
