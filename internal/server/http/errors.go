package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, common.ErrorValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, common.ErrorNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, common.ErrorConflict):
		return fiber.StatusConflict
	case errors.Is(err, common.ErrorUnauthorized):
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// errorHandler renders every handler error as {"error": "..."}. Messages of
// client errors are passed through; server errors are logged and hidden.
func errorHandler(log logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)

		msg := err.Error()
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			msg = fe.Message
		case code == fiber.StatusUnauthorized:
			msg = "unauthorized"
		case code >= fiber.StatusInternalServerError:
			log.Error(c.UserContext(), "request failed",
				"method", c.Method(),
				"path", c.Path(),
				"error", err,
			)
			msg = "internal server error"
		}

		return c.Status(code).JSON(errorResponse{Error: msg})
	}
}
