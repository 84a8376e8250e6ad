package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/model"
)

const slotColumns = `id, unit_id, weekday, start_minute, max_capacity,
       current_bookings, is_available, blocked_reason, created_at, updated_at`

// GetSlot loads a slot by template key and locks its row, serializing
// concurrent reserve/release traffic on the same slot.
func (t *Tx) GetSlot(ctx context.Context, key model.SlotKey) (*model.Slot, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots
          WHERE unit_id = ? AND weekday = ? AND start_minute = ? FOR UPDATE`,
		key.UnitID, int(key.Weekday), key.StartMinute)
	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("slot %+v: %w", key, engine.ErrNotFound)
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s, nil
}

// ReserveSlot atomically grants one reservation unit.  The row lock
// plus the guarded UPDATE guarantee that concurrent callers can never
// push current_bookings past max_capacity.
func (t *Tx) ReserveSlot(ctx context.Context, key model.SlotKey) error {
	s, err := t.GetSlot(ctx, key)
	if err != nil {
		return err
	}
	if !s.IsAvailable {
		return engine.ErrSlotBlocked
	}
	if s.CurrentBookings >= s.MaxCapacity {
		return engine.ErrSlotFull
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE slots SET current_bookings = current_bookings + 1
          WHERE id = ? AND is_available = 1 AND current_bookings < max_capacity`, s.ID)
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if n == 0 {
		return engine.ErrSlotFull
	}
	return nil
}

// ReleaseSlot returns one reservation unit, floored at zero so
// duplicate cancel retries stay harmless.
func (t *Tx) ReleaseSlot(ctx context.Context, key model.SlotKey) error {
	s, err := t.GetSlot(ctx, key)
	if err != nil {
		return err
	}
	if s.CurrentBookings == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE slots SET current_bookings = current_bookings - 1
          WHERE id = ? AND current_bookings > 0`, s.ID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// BlockSlot marks the slot unavailable without touching its count.
func (t *Tx) BlockSlot(ctx context.Context, key model.SlotKey, reason string) error {
	return t.setSlotAvailability(ctx, key, false, &reason)
}

// UnblockSlot makes the slot available again.
func (t *Tx) UnblockSlot(ctx context.Context, key model.SlotKey) error {
	return t.setSlotAvailability(ctx, key, true, nil)
}

func (t *Tx) setSlotAvailability(ctx context.Context, key model.SlotKey, available bool, reason *string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE slots SET is_available = ?, blocked_reason = ?
          WHERE unit_id = ? AND weekday = ? AND start_minute = ?`,
		available, reason, key.UnitID, int(key.Weekday), key.StartMinute)
	if err != nil {
		return fmt.Errorf("update slot availability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update slot availability: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("slot %+v: %w", key, engine.ErrNotFound)
	}
	return nil
}

// AvailableSlots lists the unit's bookable slots for a weekday,
// ordered by start time ascending.
func (t *Tx) AvailableSlots(ctx context.Context, unitID int64, weekday time.Weekday) ([]model.Slot, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots
          WHERE unit_id = ? AND weekday = ? AND is_available = 1
            AND current_bookings < max_capacity
          ORDER BY start_minute`,
		unitID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	defer rows.Close()
	var out []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanSlot(row rowScanner) (*model.Slot, error) {
	var s model.Slot
	var weekday int
	var blockedReason sql.NullString
	err := row.Scan(
		&s.ID, &s.UnitID, &weekday, &s.StartMinute, &s.MaxCapacity,
		&s.CurrentBookings, &s.IsAvailable, &blockedReason,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Weekday = time.Weekday(weekday)
	if blockedReason.Valid {
		r := blockedReason.String
		s.BlockedReason = &r
	}
	return &s, nil
}
