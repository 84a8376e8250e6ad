package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/joaovsf/fitbook/internal/model"
	"github.com/joaovsf/fitbook/internal/repository"
)

// PolicyHandler serves policy administration: reading the active
// version, editing the single draft, publishing it and rolling back to
// an older version.  Published versions are immutable; every change is
// an append.
type PolicyHandler struct {
	Repo *repository.PolicyRepo
}

func NewPolicyHandler(repo *repository.PolicyRepo) *PolicyHandler {
	if repo == nil {
		panic("nil repository passed to NewPolicyHandler")
	}
	return &PolicyHandler{Repo: repo}
}

// Active handles GET /v1/policies/active.
func (h *PolicyHandler) Active(c echo.Context) error {
	p, err := h.Repo.ActivePolicy(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// History handles GET /v1/policies, returning all published versions
// newest first.
func (h *PolicyHandler) History(c echo.Context) error {
	items, err := h.Repo.History(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// SaveDraft handles PUT /v1/policies/draft.  The body carries the full
// rule set; saving replaces any previous draft wholesale.
func (h *PolicyHandler) SaveDraft(c echo.Context) error {
	var p model.Policy
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := validatePolicy(&p); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	if err := h.Repo.SaveDraft(c.Request().Context(), p); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Draft handles GET /v1/policies/draft.
func (h *PolicyHandler) Draft(c echo.Context) error {
	p, err := h.Repo.Draft(c.Request().Context())
	if err != nil {
		if errors.Is(err, repository.ErrNoDraft) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no_draft"})
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Publish handles POST /v1/policies/draft/publish, promoting the draft
// to the next version and making it the active policy.
func (h *PolicyHandler) Publish(c echo.Context) error {
	p, err := h.Repo.PublishDraft(c.Request().Context())
	if err != nil {
		if errors.Is(err, repository.ErrNoDraft) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "no_draft"})
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// Rollback handles POST /v1/policies/:version/rollback.  The named
// version's rules are re-published as a brand new version; history stays
// intact.
func (h *PolicyHandler) Rollback(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version"})
	}
	p, err := h.Repo.Rollback(c.Request().Context(), version)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// validatePolicy rejects rule sets that would make the engine
// inoperable.  It returns an empty string when the policy is acceptable.
func validatePolicy(p *model.Policy) string {
	switch {
	case p.CreditsPerClass <= 0:
		return "credits_per_class must be positive"
	case p.ClassDurationMinutes <= 0:
		return "class_duration_minutes must be positive"
	case p.CheckinToleranceMinutes < 0:
		return "checkin_tolerance_minutes must not be negative"
	case p.StudentMinBookingNoticeMinutes < 0:
		return "student_min_booking_notice_minutes must not be negative"
	case p.LateCancelPenaltyCredits < 0 || p.NoShowPenaltyCredits < 0:
		return "penalty credits must not be negative"
	case p.TeacherMaxDailyClasses <= 0:
		return "teacher_max_daily_classes must be positive"
	case p.MaxFutureBookingDays <= 0:
		return "max_future_booking_days must be positive"
	case p.MaxCancelPerMonth < 0:
		return "max_cancel_per_month must not be negative"
	}
	return ""
}
