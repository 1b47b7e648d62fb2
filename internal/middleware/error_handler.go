package middleware

import (
	"errors"

	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// ErrorHandler is the global error handler. Service errors keep their status and details.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if _, ok := apperr.As(err); ok {
		return response.FromError(c, err)
	}
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		log.Error().Err(err).Str("trace_id", GetTraceID(c)).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
	}
	return response.Error(c, message, code, map[string]interface{}{})
}
