package engine

import (
	"context"
	"time"

	"github.com/joaovsf/fitbook/internal/model"
)

// Store provides closure-scoped transactions over the engine's durable
// state.  Every multi-step operation runs inside one WithTx call: if
// the function returns an error, none of the writes performed through
// the Tx survive.  Implementations must serialize concurrent WithTx
// calls touching the same slot or ledger account so that capacity and
// balance checks cannot race.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view of the store.  The booking, slot and
// ledger state behind it is owned exclusively by the engine; no other
// component mutates it.
type Tx interface {
	BookingTx
	SlotTx
	LedgerTx
}

// BookingTx covers the booking records and the queries the policy
// evaluator needs around them.
type BookingTx interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	UpdateBooking(ctx context.Context, b *model.Booking) error
	// TeacherBookingsOn returns the teacher's bookings whose start falls
	// on the same UTC day as day, in start order.
	TeacherBookingsOn(ctx context.Context, teacherID int64, day time.Time) ([]model.Booking, error)
	// CountStudentCancellations counts the student's cancellations in the
	// UTC calendar month containing month.
	CountStudentCancellations(ctx context.Context, studentID int64, month time.Time) (int, error)
	// ListOverdueActive returns RESERVED and PAID bookings with
	// StartAt <= cutoff, oldest first.
	ListOverdueActive(ctx context.Context, cutoff time.Time) ([]model.Booking, error)
	// UpsertStudentTeacher creates or refreshes the student-teacher
	// relationship record maintained for the surrounding web layer.
	UpsertStudentTeacher(ctx context.Context, studentID, teacherID int64, at time.Time) error
}

// SlotTx is the slot capacity manager contract.  Reserve must be an
// atomic check-and-increment: under concurrent callers at most
// MaxCapacity reservations ever succeed.  Release is idempotent with a
// floor of zero.
type SlotTx interface {
	GetSlot(ctx context.Context, key model.SlotKey) (*model.Slot, error)
	ReserveSlot(ctx context.Context, key model.SlotKey) error
	ReleaseSlot(ctx context.Context, key model.SlotKey) error
	BlockSlot(ctx context.Context, key model.SlotKey, reason string) error
	UnblockSlot(ctx context.Context, key model.SlotKey) error
	// AvailableSlots lists the unit's slots for a weekday that are
	// available and below capacity, ordered by start time ascending.
	AvailableSlots(ctx context.Context, unitID int64, weekday time.Weekday) ([]model.Slot, error)
}

// LedgerTx is the credit-ledger contract.  Credit appends a
// credit-kind transaction, Debit a debit-kind one; the balance check
// and the counter mutation are one atomic unit inside the enclosing
// transaction.
type LedgerTx interface {
	Credit(ctx context.Context, ref model.AccountRef, qty int, kind model.TxKind, reference string) error
	Debit(ctx context.Context, ref model.AccountRef, qty int, kind model.TxKind, reference string) error
	Balance(ctx context.Context, ref model.AccountRef) (model.Balance, error)
	Transactions(ctx context.Context, ref model.AccountRef) ([]model.LedgerTransaction, error)
}

// PolicySource supplies the currently effective policy version.  The
// engine always reads the latest published policy, never a draft.
type PolicySource interface {
	ActivePolicy(ctx context.Context) (model.Policy, error)
}
