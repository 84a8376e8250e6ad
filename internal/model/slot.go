package model

import "time"

// SlotKey identifies a recurring capacity slot: a unit, a weekday and a
// start time expressed as minutes after midnight UTC.  Concrete booking
// instants resolve onto a key via SlotKeyAt.
type SlotKey struct {
	UnitID      int64
	Weekday     time.Weekday
	StartMinute int
}

// SlotKeyAt maps a concrete start instant to the slot template it
// belongs to.  The instant is normalized to UTC first so that the same
// wall-clock moment always lands on the same key.
func SlotKeyAt(unitID int64, startAt time.Time) SlotKey {
	u := startAt.UTC()
	return SlotKey{
		UnitID:      unitID,
		Weekday:     u.Weekday(),
		StartMinute: u.Hour()*60 + u.Minute(),
	}
}

// Slot is a finite-capacity reservation resource.  CurrentBookings is
// bounded by [0, MaxCapacity]; it is incremented exactly once per
// successful reserve and decremented exactly once per released booking
// that previously incremented it.
type Slot struct {
	ID              uint64
	UnitID          int64
	Weekday         time.Weekday
	StartMinute     int
	MaxCapacity     int
	CurrentBookings int
	IsAvailable     bool
	BlockedReason   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key returns the template key of the slot.
func (s *Slot) Key() SlotKey {
	return SlotKey{UnitID: s.UnitID, Weekday: s.Weekday, StartMinute: s.StartMinute}
}

// HasCapacity reports whether a further reservation unit can be granted.
func (s *Slot) HasCapacity() bool {
	return s.IsAvailable && s.CurrentBookings < s.MaxCapacity
}
