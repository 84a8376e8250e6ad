package model

import "time"

// Source identifies who initiated a booking.  Teacher-led bookings
// ("blocks") carry no student and no credit cost; they exist to take a
// slot unit out of circulation for the teacher's own schedule.
type Source string

const (
	SourceStudent Source = "STUDENT"
	SourceTeacher Source = "TEACHER"
)

// Role is the authenticated actor's role as carried in the JWT issued
// by the surrounding web layer.  The engine never authenticates; it
// only authorizes transitions based on role-aware policy rules.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleAdmin   Role = "ADMIN"
)

// Actor is the identity performing an operation, supplied by the
// external identity layer.
type Actor struct {
	Role Role
	ID   int64
}

// Booking is a claim on one reservation unit of a slot for the
// half-open interval [StartAt, EndAt).  CreditsCost is fixed from the
// active policy at creation time and never changes afterwards; the
// corresponding credits stay locked on the student's ledger account
// until the booking completes or cancels.
type Booking struct {
	ID               string
	Source           Source
	StudentID        *int64
	TeacherID        int64
	UnitID           int64
	StartAt          time.Time
	EndAt            time.Time
	Status           Status
	CancellableUntil time.Time
	SeriesID         *string
	CreditsCost      int
	StudentNotes     string
	ProfessorNotes   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SlotKey returns the capacity-slot template key this booking occupies.
func (b *Booking) SlotKey() SlotKey {
	return SlotKeyAt(b.UnitID, b.StartAt)
}
