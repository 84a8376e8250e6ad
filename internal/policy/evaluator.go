// Package policy implements the pure decision functions of the engine.
// Every function here takes a policy snapshot, the timestamps involved
// and "now", and returns either an allowance (with its ledger effect)
// or a typed denial.  Nothing in this package touches storage or the
// clock.
package policy

import (
	"fmt"
	"time"

	"github.com/joaovsf/fitbook/internal/model"
)

// DenyReason names the business rule that refused an action.
type DenyReason string

const (
	ReasonTooCloseToBookingWindow     DenyReason = "TooCloseToBookingWindow"
	ReasonOutsideFutureBookingWindow  DenyReason = "OutsideFutureBookingWindow"
	ReasonMonthlyCancelLimitExceeded  DenyReason = "MonthlyCancelLimitExceeded"
	ReasonSlotCapacityPolicyViolation DenyReason = "SlotCapacityPolicyViolation"
)

// DenyError is a business-rule refusal.  It is surfaced verbatim to the
// caller for user-facing messaging and is never retried automatically.
type DenyError struct {
	Reason DenyReason
	Detail string
}

func (e *DenyError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func deny(reason DenyReason, format string, args ...interface{}) error {
	return &DenyError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// CreateDecision is the outcome of an allowed booking creation.
type CreateDecision struct {
	// CreditsCost is the number of class credits to lock on the
	// student's account.  Zero for teacher-led blocks.
	CreditsCost int
}

// EvaluateCreate decides whether a booking may be created.  Student
// bookings are checked against the minimum notice and the future
// booking window.  Teacher-led bookings bypass those rules but are
// checked against the teacher's daily class cap and the required rest
// gap, using the teacher's existing active bookings for that day.
func EvaluateCreate(p model.Policy, source model.Source, startAt, endAt, now time.Time, teacherDay []model.Booking) (CreateDecision, error) {
	if source == model.SourceStudent {
		notice := time.Duration(p.StudentMinBookingNoticeMinutes) * time.Minute
		if startAt.Sub(now) < notice {
			return CreateDecision{}, deny(ReasonTooCloseToBookingWindow,
				"bookings require %d minutes notice", p.StudentMinBookingNoticeMinutes)
		}
		horizon := time.Duration(p.MaxFutureBookingDays) * 24 * time.Hour
		if p.MaxFutureBookingDays > 0 && startAt.Sub(now) > horizon {
			return CreateDecision{}, deny(ReasonOutsideFutureBookingWindow,
				"bookings may be made at most %d days ahead", p.MaxFutureBookingDays)
		}
	}

	// The daily cap and rest gap bound the teacher's own schedule;
	// students joining an existing slot share the class already on it.
	if source == model.SourceTeacher {
		if err := checkTeacherDay(p, startAt, endAt, teacherDay); err != nil {
			return CreateDecision{}, err
		}
	}

	cost := 0
	if source == model.SourceStudent {
		cost = p.CreditsPerClass
	}
	return CreateDecision{CreditsCost: cost}, nil
}

// checkTeacherDay enforces the teacher's daily class cap and the rest
// gap between classes against the active bookings already on the
// teacher's calendar for that day.
func checkTeacherDay(p model.Policy, startAt, endAt time.Time, teacherDay []model.Booking) error {
	active := 0
	rest := time.Duration(p.TeacherRestMinutesBetweenClasses) * time.Minute
	for i := range teacherDay {
		b := &teacherDay[i]
		if !b.Status.IsActive() {
			continue
		}
		active++
		// Overlap or insufficient rest on either side of the new class.
		if b.StartAt.Before(endAt.Add(rest)) && startAt.Before(b.EndAt.Add(rest)) {
			return deny(ReasonSlotCapacityPolicyViolation,
				"teacher needs %d minutes rest between classes", p.TeacherRestMinutesBetweenClasses)
		}
	}
	if p.TeacherMaxDailyClasses > 0 && active >= p.TeacherMaxDailyClasses {
		return deny(ReasonSlotCapacityPolicyViolation,
			"teacher already has %d classes that day", active)
	}
	return nil
}

// CancelDecision is the outcome of an allowed cancellation.
type CancelDecision struct {
	// Late reports whether the cancellation fell inside the late-cancel
	// window.
	Late bool
	// PenaltyCredits is forfeited from the locked amount; the remainder
	// of the lock is released back to the student.
	PenaltyCredits int
}

// EvaluateCancel decides whether a booking may be cancelled and what
// the ledger effect is.  Cancels before the late-cancel threshold are
// free; inside the window the policy's late-cancel penalty is
// forfeited.  Student actors are additionally bounded by the monthly
// cancellation cap.  Teacher and admin actors bypass the cap.
func EvaluateCancel(p model.Policy, b *model.Booking, actor model.Actor, now time.Time, cancelsThisMonth int) (CancelDecision, error) {
	if actor.Role == model.RoleStudent && p.MaxCancelPerMonth > 0 && cancelsThisMonth >= p.MaxCancelPerMonth {
		return CancelDecision{}, deny(ReasonMonthlyCancelLimitExceeded,
			"at most %d cancellations per month", p.MaxCancelPerMonth)
	}
	threshold := b.StartAt.Add(-time.Duration(p.LateCancelThresholdMinutes) * time.Minute)
	if now.Before(threshold) {
		return CancelDecision{}, nil
	}
	return CancelDecision{Late: true, PenaltyCredits: p.LateCancelPenaltyCredits}, nil
}

// EvaluateReschedule decides whether a booking may be moved to a new
// start.  The reschedule notice applies to both ends of the move: the
// current class must still be far enough away to touch, and the new
// start must be far enough away to book.
func EvaluateReschedule(p model.Policy, b *model.Booking, newStart, now time.Time) error {
	notice := time.Duration(p.StudentRescheduleMinNoticeMinutes) * time.Minute
	if b.StartAt.Sub(now) < notice || newStart.Sub(now) < notice {
		return deny(ReasonTooCloseToBookingWindow,
			"reschedules require %d minutes notice", p.StudentRescheduleMinNoticeMinutes)
	}
	horizon := time.Duration(p.MaxFutureBookingDays) * 24 * time.Hour
	if p.MaxFutureBookingDays > 0 && newStart.Sub(now) > horizon {
		return deny(ReasonOutsideFutureBookingWindow,
			"bookings may be made at most %d days ahead", p.MaxFutureBookingDays)
	}
	return nil
}

// CancellableUntil derives the free-cancellation deadline for a class
// starting at startAt.
func CancellableUntil(p model.Policy, startAt time.Time) time.Time {
	return startAt.Add(-time.Duration(p.LateCancelThresholdMinutes) * time.Minute)
}

// NoShowCutoff returns the instant after which an unattended active
// booking starting at startAt counts as a no-show.
func NoShowCutoff(p model.Policy, startAt time.Time) time.Time {
	return startAt.Add(time.Duration(p.CheckinToleranceMinutes) * time.Minute)
}
