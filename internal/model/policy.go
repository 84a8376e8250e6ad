package model

import "time"

// Policy is one published, immutable version of the business rules the
// engine enforces.  A new version is appended on every publish or
// rollback; history is never rewritten.  All durations are minutes.
type Policy struct {
	Version       int       `json:"version"`
	EffectiveFrom time.Time `json:"effective_from"`

	CreditsPerClass         int `json:"credits_per_class"`
	ClassDurationMinutes    int `json:"class_duration_minutes"`
	CheckinToleranceMinutes int `json:"checkin_tolerance_minutes"`

	StudentMinBookingNoticeMinutes    int `json:"student_min_booking_notice_minutes"`
	StudentRescheduleMinNoticeMinutes int `json:"student_reschedule_min_notice_minutes"`

	LateCancelThresholdMinutes int `json:"late_cancel_threshold_minutes"`
	LateCancelPenaltyCredits   int `json:"late_cancel_penalty_credits"`
	NoShowPenaltyCredits       int `json:"no_show_penalty_credits"`

	TeacherMinutesPerClass          int `json:"teacher_minutes_per_class"`
	TeacherRestMinutesBetweenClasses int `json:"teacher_rest_minutes_between_classes"`
	TeacherMaxDailyClasses          int `json:"teacher_max_daily_classes"`

	MaxFutureBookingDays int `json:"max_future_booking_days"`
	MaxCancelPerMonth    int `json:"max_cancel_per_month"`

	CreatedAt time.Time `json:"created_at"`
}
