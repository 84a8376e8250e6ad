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

const bookingColumns = `id, source, student_id, teacher_id, unit_id, start_at, end_at,
       status, cancellable_until, series_id, credits_cost, student_notes,
       professor_notes, created_at, updated_at`

// GetBooking loads one booking and locks its row for the duration of
// the transaction, serializing concurrent transitions on the same
// booking.
func (t *Tx) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("booking %s: %w", id, engine.ErrNotFound)
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// InsertBooking persists a new booking row.
func (t *Tx) InsertBooking(ctx context.Context, b *model.Booking) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Source, b.StudentID, b.TeacherID, b.UnitID,
		b.StartAt.UTC(), b.EndAt.UTC(), b.Status, b.CancellableUntil.UTC(),
		b.SeriesID, b.CreditsCost, nullIfEmpty(b.StudentNotes), nullIfEmpty(b.ProfessorNotes),
		b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// UpdateBooking writes back the mutable columns.  credits_cost is
// deliberately absent: it is immutable once set.
func (t *Tx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE bookings
            SET status = ?, start_at = ?, end_at = ?, cancellable_until = ?,
                student_notes = ?, professor_notes = ?, updated_at = ?
          WHERE id = ?`,
		b.Status, b.StartAt.UTC(), b.EndAt.UTC(), b.CancellableUntil.UTC(),
		nullIfEmpty(b.StudentNotes), nullIfEmpty(b.ProfessorNotes), b.UpdatedAt.UTC(), b.ID,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, engine.ErrNotFound)
	}
	return nil
}

// TeacherBookingsOn returns the teacher's bookings starting on the
// same UTC day as day, ordered by start time.
func (t *Tx) TeacherBookingsOn(ctx context.Context, teacherID int64, day time.Time) ([]model.Booking, error) {
	y, m, d := day.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
          WHERE teacher_id = ? AND start_at >= ? AND start_at < ?
          ORDER BY start_at`,
		teacherID, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list teacher bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// CountStudentCancellations counts the student's CANCELED bookings in
// the UTC calendar month containing month, by cancellation time.
func (t *Tx) CountStudentCancellations(ctx context.Context, studentID int64, month time.Time) (int, error) {
	y, m, _ := month.UTC().Date()
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
          WHERE student_id = ? AND status = ? AND updated_at >= ? AND updated_at < ?`,
		studentID, model.StatusCanceled, monthStart, monthStart.AddDate(0, 1, 0),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cancellations: %w", err)
	}
	return n, nil
}

// ListOverdueActive returns RESERVED and PAID bookings that started at
// or before cutoff, oldest first.
func (t *Tx) ListOverdueActive(ctx context.Context, cutoff time.Time) ([]model.Booking, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
          WHERE status IN (?, ?) AND start_at <= ?
          ORDER BY start_at`,
		model.StatusReserved, model.StatusPaid, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list overdue bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// UpsertStudentTeacher creates or refreshes the relationship row used
// by the surrounding web layer's listings.
func (t *Tx) UpsertStudentTeacher(ctx context.Context, studentID, teacherID int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO student_teachers (student_id, teacher_id, last_class_at)
         VALUES (?, ?, ?)
         ON DUPLICATE KEY UPDATE last_class_at = VALUES(last_class_at)`,
		studentID, teacherID, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert student-teacher: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var studentID sql.NullInt64
	var seriesID, studentNotes, professorNotes sql.NullString
	err := row.Scan(
		&b.ID, &b.Source, &studentID, &b.TeacherID, &b.UnitID,
		&b.StartAt, &b.EndAt, &b.Status, &b.CancellableUntil,
		&seriesID, &b.CreditsCost, &studentNotes, &professorNotes,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if studentID.Valid {
		id := studentID.Int64
		b.StudentID = &id
	}
	if seriesID.Valid {
		s := seriesID.String
		b.SeriesID = &s
	}
	b.StudentNotes = studentNotes.String
	b.ProfessorNotes = professorNotes.String
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]model.Booking, error) {
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
