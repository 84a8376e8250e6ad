// Package handler exposes the booking engine over HTTP.  Handlers stay
// thin: bind, validate identifiers, delegate to the engine or the policy
// repository, translate the error kind into a status code.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/policy"
)

// respondError translates an engine error into the single HTTP status
// assigned to its kind.  Unknown errors are collapsed into 500 so
// internals never leak to clients.
func respondError(c echo.Context, err error) error {
	var vErr *engine.ValidationError
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":  "validation_failed",
			"field":  vErr.Field,
			"detail": vErr.Detail,
		})
	}
	var dErr *policy.DenyError
	if errors.As(err, &dErr) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":  "policy_denied",
			"reason": string(dErr.Reason),
			"detail": dErr.Detail,
		})
	}
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case errors.Is(err, engine.ErrSlotFull):
		return c.JSON(http.StatusConflict, echo.Map{"error": "slot_full"})
	case errors.Is(err, engine.ErrSlotBlocked):
		return c.JSON(http.StatusConflict, echo.Map{"error": "slot_blocked"})
	case errors.Is(err, engine.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_transition"})
	case errors.Is(err, engine.ErrAlreadyTerminal):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already_terminal"})
	case errors.Is(err, engine.ErrInsufficientBalance):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "insufficient_balance"})
	case errors.Is(err, engine.ErrInvalidQuantity):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_quantity"})
	case errors.Is(err, engine.ErrTimeout):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "timeout"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
	}
}
