package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/middleware"
	"github.com/joaovsf/fitbook/internal/model"
)

// BookingHandler serves the booking lifecycle routes.  All methods assume
// JWT authentication and role validation already ran; the actor injected
// by the middleware decides how requests are scoped (students may only
// book for themselves, teachers only block their own schedule).
type BookingHandler struct {
	Engine *engine.Engine
}

// NewBookingHandler constructs a BookingHandler.  The engine must be
// non-nil.
func NewBookingHandler(e *engine.Engine) *BookingHandler {
	if e == nil {
		panic("nil engine passed to NewBookingHandler")
	}
	return &BookingHandler{Engine: e}
}

type createBookingRequest struct {
	Source         string  `json:"source"`
	StudentID      *int64  `json:"student_id"`
	TeacherID      int64   `json:"teacher_id"`
	UnitID         int64   `json:"unit_id"`
	StartAt        string  `json:"start_at"`
	EndAt          string  `json:"end_at"`
	SeriesID       *string `json:"series_id"`
	StudentNotes   string  `json:"student_notes"`
	ProfessorNotes string  `json:"professor_notes"`
}

// Create handles POST /v1/bookings.  Students always book for
// themselves; teachers create schedule blocks under their own id; admins
// may submit either form verbatim.  Returns 201 with the stored booking.
func (h *BookingHandler) Create(c echo.Context) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	startAt, err := time.Parse(time.RFC3339, body.StartAt)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "start_at must be RFC3339"})
	}
	endAt, err := time.Parse(time.RFC3339, body.EndAt)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "end_at must be RFC3339"})
	}

	p := engine.CreateParams{
		Source:         model.Source(body.Source),
		StudentID:      body.StudentID,
		TeacherID:      body.TeacherID,
		UnitID:         body.UnitID,
		StartAt:        startAt,
		EndAt:          endAt,
		SeriesID:       body.SeriesID,
		StudentNotes:   body.StudentNotes,
		ProfessorNotes: body.ProfessorNotes,
	}
	switch actor.Role {
	case model.RoleStudent:
		p.Source = model.SourceStudent
		id := actor.ID
		p.StudentID = &id
	case model.RoleTeacher:
		p.Source = model.SourceTeacher
		p.StudentID = nil
		p.TeacherID = actor.ID
	}

	b, err := h.Engine.CreateBooking(c.Request().Context(), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, bookingView(b))
}

// ownedBooking resolves the :id path parameter and checks the actor may
// act on that booking: students are scoped to their own bookings,
// teachers to classes on their own calendar, admins to anything.  On
// refusal it writes the response itself and returns false.
func (h *BookingHandler) ownedBooking(c echo.Context) (string, model.Actor, bool) {
	id := c.Param("id")
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		return "", model.Actor{}, false
	}
	if actor.Role == model.RoleAdmin {
		return id, actor, true
	}
	b, err := h.Engine.GetBooking(c.Request().Context(), id)
	if err != nil {
		_ = respondError(c, err)
		return "", model.Actor{}, false
	}
	owned := false
	switch actor.Role {
	case model.RoleStudent:
		owned = b.StudentID != nil && *b.StudentID == actor.ID
	case model.RoleTeacher:
		owned = b.TeacherID == actor.ID
	}
	if !owned {
		_ = c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		return "", model.Actor{}, false
	}
	return id, actor, true
}

// Confirm handles POST /v1/bookings/:id/confirm, moving a RESERVED
// booking to PAID once payment cleared.
func (h *BookingHandler) Confirm(c echo.Context) error {
	id, _, ok := h.ownedBooking(c)
	if !ok {
		return nil
	}
	b, err := h.Engine.ConfirmBooking(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

// Cancel handles POST /v1/bookings/:id/cancel.  The actor determines
// which cancellation rules apply: student cancellations are checked
// against the notice threshold and monthly quota, teacher and admin
// cancellations always release without penalty.
func (h *BookingHandler) Cancel(c echo.Context) error {
	id, actor, ok := h.ownedBooking(c)
	if !ok {
		return nil
	}
	b, err := h.Engine.CancelBooking(c.Request().Context(), id, actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

// Complete handles POST /v1/bookings/:id/complete.  The class happened:
// locked credits are consumed and the teacher is credited hours.
func (h *BookingHandler) Complete(c echo.Context) error {
	id, _, ok := h.ownedBooking(c)
	if !ok {
		return nil
	}
	b, err := h.Engine.CompleteBooking(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

type rescheduleRequest struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

// Reschedule handles POST /v1/bookings/:id/reschedule, moving an active
// booking to a new time while keeping its identity and locked credits.
func (h *BookingHandler) Reschedule(c echo.Context) error {
	id, _, ok := h.ownedBooking(c)
	if !ok {
		return nil
	}
	var body rescheduleRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	startAt, err := time.Parse(time.RFC3339, body.StartAt)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "start_at must be RFC3339"})
	}
	endAt, err := time.Parse(time.RFC3339, body.EndAt)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "end_at must be RFC3339"})
	}
	b, err := h.Engine.RescheduleBooking(c.Request().Context(), id, startAt, endAt)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

// NoShow handles POST /v1/bookings/:id/no-show.  Normally the sweeper
// marks overdue bookings; this route lets operators settle one manually.
func (h *BookingHandler) NoShow(c echo.Context) error {
	b, err := h.Engine.MarkNoShow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.Engine.GetBooking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

// bookingView shapes a booking for responses.  The raw status is
// accompanied by the role-aware display label so clients need no
// knowledge of the teacher-block convention.
func bookingView(b *model.Booking) echo.Map {
	return echo.Map{
		"id":                b.ID,
		"source":            b.Source,
		"student_id":        b.StudentID,
		"teacher_id":        b.TeacherID,
		"unit_id":           b.UnitID,
		"start_at":          b.StartAt.UTC().Format(time.RFC3339),
		"end_at":            b.EndAt.UTC().Format(time.RFC3339),
		"status":            b.Status,
		"display_status":    model.DisplayStatus(b.Status, b.Source),
		"cancellable_until": b.CancellableUntil.UTC().Format(time.RFC3339),
		"series_id":         b.SeriesID,
		"credits_cost":      b.CreditsCost,
		"student_notes":     b.StudentNotes,
		"professor_notes":   b.ProfessorNotes,
		"created_at":        b.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":        b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
