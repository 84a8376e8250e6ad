// Package queue defines the domain events the engine publishes and the
// Publisher interface it fires them through.  Delivery is best effort:
// publish failures are logged by the caller and never fail the booking
// operation that produced the event.
package queue

// Topics the engine publishes on.  Each topic maps to one durable queue
// on the broker.
const (
	TopicBookingCreated     = "booking.created"
	TopicBookingConfirmed   = "booking.confirmed"
	TopicBookingCanceled    = "booking.canceled"
	TopicBookingCompleted   = "booking.completed"
	TopicBookingRescheduled = "booking.rescheduled"
	TopicBookingNoShow      = "booking.no_show"
)

// BookingEvent is the payload for every booking lifecycle topic.  It
// carries enough context for downstream consumers (notifications,
// analytics) to act without querying the engine back.
type BookingEvent struct {
	BookingID      string `json:"booking_id"`
	Source         string `json:"source"`
	StudentID      *int64 `json:"student_id,omitempty"`
	TeacherID      int64  `json:"teacher_id"`
	UnitID         int64  `json:"unit_id"`
	StartAt        string `json:"start_at"`
	EndAt          string `json:"end_at"`
	Status         string `json:"status"`
	CreditsCost    int    `json:"credits_cost"`
	PenaltyCredits int    `json:"penalty_credits,omitempty"`
	ActorRole      string `json:"actor_role,omitempty"`
	ActorID        int64  `json:"actor_id,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}
