package cashcount

import (
	"github.com/gofiber/fiber/v2"

	"agenti/helpers"
	"agenti/middlewares"
	"agenti/services/cashcount"
	"agenti/services/cashsession"
)

type Handler struct {
	Capture *cashcount.Capture
	Machine *cashsession.Machine
}

type SubmitRequest struct {
	Entries []cashcount.Entry `json:"entries" validate:"required,min=1,dive"`
}

func (h *Handler) Current(c *fiber.Ctx) error {
	agentID, _ := middlewares.AgentID(c)

	cur, err := h.Machine.Current(c.UserContext(), agentID)
	if err != nil {
		return helpers.JSONFailure(c, err)
	}
	return helpers.JSONSuccess(c, "Current session retrieved successfully", cur)
}

func (h *Handler) InitializeForm(c *fiber.Ctx) error {
	agentID, _ := middlewares.AgentID(c)

	form, err := h.Capture.InitializeForm(c.UserContext(), agentID, c.QueryBool("opening", true))
	if err != nil {
		return helpers.JSONFailure(c, err)
	}
	return helpers.JSONSuccess(c, "Cash count form initialized", form)
}

func (h *Handler) SaveDraft(c *fiber.Ctx) error {
	agentID, _ := middlewares.AgentID(c)

	var form cashcount.Form
	if err := helpers.ParseBody(c, &form); err != nil {
		return helpers.JSONError(c, err.Error())
	}

	res, err := h.Capture.SaveDraft(c.UserContext(), agentID, form)
	return helpers.JSONResult(c, "Cash count draft saved", res, err)
}

func (h *Handler) GetForm(c *fiber.Ctx) error {
	agentID, _ := middlewares.AgentID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return helpers.JSONError(c, "INVALID_COUNT_ID")
	}

	form, err := h.Capture.GetForm(c.UserContext(), agentID, uint(id))
	if err != nil {
		return helpers.JSONFailure(c, err)
	}
	return helpers.JSONSuccess(c, "Cash count retrieved successfully", form)
}

func (h *Handler) SubmitDraft(c *fiber.Ctx) error {
	agentID, _ := middlewares.AgentID(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return helpers.JSONError(c, "INVALID_COUNT_ID")
	}

	res, err := h.Machine.SubmitDraft(c.UserContext(), agentID, uint(id), middlewares.ActorID(c))
	return helpers.JSONResult(c, "Cash count submitted", res, err)
}

func (h *Handler) SubmitOpening(c *fiber.Ctx) error {
	agentID, _ := middlewares.AgentID(c)

	var req SubmitRequest
	if err := helpers.ParseBody(c, &req); err != nil {
		return helpers.JSONError(c, err.Error())
	}

	res, err := h.Machine.SubmitOpeningCount(c.UserContext(), agentID, req.Entries, middlewares.ActorID(c))
	return helpers.JSONResult(c, "Opening count submitted", res, err)
}

func (h *Handler) SubmitClosing(c *fiber.Ctx) error {
	agentID, _ := middlewares.AgentID(c)

	var req SubmitRequest
	if err := helpers.ParseBody(c, &req); err != nil {
		return helpers.JSONError(c, err.Error())
	}

	res, err := h.Machine.SubmitClosingCount(c.UserContext(), agentID, req.Entries, middlewares.ActorID(c))
	return helpers.JSONResult(c, "Closing count submitted", res, err)
}
