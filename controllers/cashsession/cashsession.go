package cashsession

import (
	"github.com/gofiber/fiber/v2"

	"agenti/helpers"
	"agenti/middlewares"
	"agenti/services/cashsession"
)

type Handler struct {
	Machine *cashsession.Machine
}

func (h *Handler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", cashsession.DefaultSessionLimit)

	sessions, err := h.Machine.Sessions(c.UserContext(), middlewares.ActorID(c), limit)
	if err != nil {
		return helpers.JSONFailure(c, err)
	}
	return helpers.JSONSuccess(c, "Cash sessions retrieved successfully", sessions)
}

func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return helpers.JSONError(c, "INVALID_SESSION_ID")
	}

	detail, err := h.Machine.Session(c.UserContext(), middlewares.ActorID(c), uint(id))
	if err != nil {
		return helpers.JSONFailure(c, err)
	}
	return helpers.JSONSuccess(c, "Cash session retrieved successfully", detail)
}
