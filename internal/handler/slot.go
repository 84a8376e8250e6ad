package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/model"
)

// SlotHandler serves slot availability browsing plus the administrative
// block/unblock routes.
type SlotHandler struct {
	Engine *engine.Engine
}

func NewSlotHandler(e *engine.Engine) *SlotHandler {
	if e == nil {
		panic("nil engine passed to NewSlotHandler")
	}
	return &SlotHandler{Engine: e}
}

// Available handles GET /v1/units/:id/slots?weekday=N.  It lists the
// bookable slot templates of one unit for one weekday (0=Sunday through
// 6=Saturday), in start-time order.
func (h *SlotHandler) Available(c echo.Context) error {
	unitID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || unitID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid unit id"})
	}
	wd, err := strconv.Atoi(c.QueryParam("weekday"))
	if err != nil || wd < 0 || wd > 6 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "weekday must be 0-6"})
	}

	slots, err := h.Engine.AvailableSlots(c.Request().Context(), unitID, time.Weekday(wd))
	if err != nil {
		return respondError(c, err)
	}
	items := make([]echo.Map, 0, len(slots))
	for i := range slots {
		items = append(items, slotView(&slots[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

type slotTargetRequest struct {
	Weekday     int    `json:"weekday"`
	StartMinute int    `json:"start_minute"`
	Reason      string `json:"reason"`
}

// Block handles POST /v1/units/:id/slots/block, taking a slot template
// out of circulation.  Existing bookings on the slot are untouched.
func (h *SlotHandler) Block(c echo.Context) error {
	key, body, ok := slotTarget(c)
	if !ok {
		return nil
	}
	if err := h.Engine.BlockSlot(c.Request().Context(), key, body.Reason); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Unblock handles POST /v1/units/:id/slots/unblock.
func (h *SlotHandler) Unblock(c echo.Context) error {
	key, _, ok := slotTarget(c)
	if !ok {
		return nil
	}
	if err := h.Engine.UnblockSlot(c.Request().Context(), key); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// slotTarget parses the slot key shared by Block and Unblock.  On
// malformed input it writes the 400 response itself and returns false.
func slotTarget(c echo.Context) (model.SlotKey, slotTargetRequest, bool) {
	var body slotTargetRequest
	unitID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || unitID <= 0 {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid unit id"})
		return model.SlotKey{}, body, false
	}
	if err := c.Bind(&body); err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		return model.SlotKey{}, body, false
	}
	if body.Weekday < 0 || body.Weekday > 6 {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "weekday must be 0-6"})
		return model.SlotKey{}, body, false
	}
	if body.StartMinute < 0 || body.StartMinute >= 24*60 {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "start_minute out of range"})
		return model.SlotKey{}, body, false
	}
	key := model.SlotKey{
		UnitID:      unitID,
		Weekday:     time.Weekday(body.Weekday),
		StartMinute: body.StartMinute,
	}
	return key, body, true
}

func slotView(s *model.Slot) echo.Map {
	return echo.Map{
		"unit_id":          s.UnitID,
		"weekday":          int(s.Weekday),
		"start_minute":     s.StartMinute,
		"max_capacity":     s.MaxCapacity,
		"current_bookings": s.CurrentBookings,
		"remaining":        s.MaxCapacity - s.CurrentBookings,
		"is_available":     s.IsAvailable,
	}
}
