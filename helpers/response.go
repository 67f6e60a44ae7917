package helpers

import (
	"github.com/gofiber/fiber/v2"

	"agenti/services"
)

func JSONSuccess(c *fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func JSONError(c *fiber.Ctx, message string) error {
	return JSONErrorStatus(c, fiber.StatusBadRequest, message, nil)
}

func JSONErrorStatus(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
		"data":    data,
	})
}

// StatusFor maps a business failure code onto an HTTP status.
func StatusFor(code services.Code) int {
	switch code.Kind() {
	case services.KindAuthorization:
		return fiber.StatusForbidden
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindStateConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusBadRequest
	}
}

// JSONResult answers with an operation result. Infrastructure errors become
// a 500 without leaking their text.
func JSONResult(c *fiber.Ctx, message string, res services.Result, err error) error {
	if err != nil {
		return JSONErrorStatus(c, fiber.StatusInternalServerError, "internal server error", nil)
	}
	if !res.Success {
		return JSONErrorStatus(c, StatusFor(res.ErrorCode), res.ErrorMessage, res)
	}
	return JSONSuccess(c, message, res)
}

// JSONFailure answers a read that failed, either on a business rule or on
// the infrastructure.
func JSONFailure(c *fiber.Ctx, err error) error {
	if f, ok := services.AsFailure(err); ok {
		return JSONErrorStatus(c, StatusFor(f.Code), f.Message, services.Fail(f.Code, f.Message))
	}
	return JSONErrorStatus(c, fiber.StatusInternalServerError, "internal server error", nil)
}
