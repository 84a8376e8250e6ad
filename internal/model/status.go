package model

// Status is the canonical lifecycle state of a booking.  Exactly four
// values are ever stored; the surface-level aliases used by the web
// layer (PENDING, CONFIRMED, BLOCKED, AVAILABLE) are derived on the way
// out and normalized on the way in, never persisted.
type Status string

const (
	StatusReserved Status = "RESERVED"
	StatusPaid     Status = "PAID"
	StatusCanceled Status = "CANCELED"
	StatusDone     Status = "DONE"
)

// validTransitions defines the state machine for booking status changes.
var validTransitions = map[Status][]Status{
	StatusReserved: {StatusPaid, StatusCanceled},
	StatusPaid:     {StatusDone, StatusCanceled},
	StatusCanceled: {},
	StatusDone:     {},
}

// IsValid reports whether s is one of the canonical statuses.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo reports whether a transition from s to target is legal.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(validTransitions[s]) == 0
}

// IsActive reports whether a booking in this status holds a slot
// reservation unit.
func (s Status) IsActive() bool {
	return s == StatusReserved || s == StatusPaid
}

// DisplayStatus maps a canonical status to the alias shown by the web
// layer.  Teacher-led block bookings render as BLOCKED while they hold
// the slot and AVAILABLE once the block is lifted; student bookings
// follow the PENDING/CONFIRMED alias set.
func DisplayStatus(s Status, source Source) string {
	if source == SourceTeacher {
		switch {
		case s.IsActive():
			return "BLOCKED"
		case s == StatusCanceled:
			return "AVAILABLE"
		}
	}
	switch s {
	case StatusReserved:
		return "PENDING"
	case StatusPaid:
		return "CONFIRMED"
	default:
		return string(s)
	}
}

// NormalizeStatus collapses a surface alias onto the canonical enum.
// Canonical values pass through unchanged.  The second return value is
// false for strings that name neither an alias nor a canonical status.
func NormalizeStatus(raw string) (Status, bool) {
	switch raw {
	case "PENDING", "BLOCKED":
		return StatusReserved, true
	case "CONFIRMED":
		return StatusPaid, true
	case "CANCELLED", "AVAILABLE":
		return StatusCanceled, true
	}
	s := Status(raw)
	if s.IsValid() {
		return s, true
	}
	return "", false
}
