package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/motiondata/internal/middleware"
	"github.com/example/motiondata/internal/services"
	"github.com/example/motiondata/internal/store"
)

// Error messages that are part of the public contract.
const (
	msgOrderNotFound  = "Order not found"
	msgOrderExists    = "Order already exists"
	msgAPINotFound    = "API endpoint not found"
	msgNotFound       = "Not found"
	msgInternalServer = "Internal server error"
)

// ErrorHandler renders every error returned by a handler as {error}. Only
// *fiber.Error and domain errors keep their message; everything else is
// logged and reported as a generic 500.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, message := fiber.StatusInternalServerError, msgInternalServer

		var fe *fiber.Error
		var ve *services.ValidationError
		switch {
		case errors.As(err, &fe):
			status, message = fe.Code, fe.Message
		case errors.As(err, &ve):
			status, message = fiber.StatusBadRequest, ve.Error()
		case errors.Is(err, store.ErrNotFound):
			status, message = fiber.StatusNotFound, msgOrderNotFound
		case errors.Is(err, store.ErrDuplicateOrder):
			status, message = fiber.StatusConflict, msgOrderExists
		default:
			log.Error("request failed",
				zap.String("request_id", middleware.RequestID(c)),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		return c.Status(status).JSON(fiber.Map{"error": message})
	}
}

// APINotFound answers any /api path no route matched.
func APINotFound(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusNotFound, msgAPINotFound)
}

// NotFound answers every other unmatched path.
func NotFound(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusNotFound, msgNotFound)
}
