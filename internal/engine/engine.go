package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joaovsf/fitbook/internal/model"
	"github.com/joaovsf/fitbook/internal/policy"
	"github.com/joaovsf/fitbook/internal/queue"
)

// DefaultOpTimeout bounds how long a single engine operation may hold
// store locks before failing with ErrTimeout.
const DefaultOpTimeout = 5 * time.Second

// Engine is the booking state machine.  All mutating operations run
// their store steps inside one transaction: either every step commits
// or none does, so a failed ledger debit can never leave a dangling
// slot reservation behind.
type Engine struct {
	store     Store
	policies  PolicySource
	publisher queue.Publisher
	log       *zap.Logger
	now       func() time.Time
	opTimeout time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the engine's clock.  Tests use this to pin "now".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOpTimeout overrides the per-operation deadline.
func WithOpTimeout(d time.Duration) Option {
	return func(e *Engine) { e.opTimeout = d }
}

// New wires an Engine.  store, policies and publisher must be non-nil;
// pass queue.NopPublisher{} when no broker is configured.
func New(store Store, policies PolicySource, publisher queue.Publisher, log *zap.Logger, opts ...Option) *Engine {
	if store == nil || policies == nil || publisher == nil {
		panic("nil dependency passed to engine.New")
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:     store,
		policies:  policies,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		opTimeout: DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateParams are the inputs to CreateBooking.  StudentID must be set
// for student-initiated bookings and absent for teacher-led blocks.
type CreateParams struct {
	Source         model.Source
	StudentID      *int64
	TeacherID      int64
	UnitID         int64
	StartAt        time.Time
	EndAt          time.Time
	SeriesID       *string
	StudentNotes   string
	ProfessorNotes string
}

func (p *CreateParams) validate() error {
	switch p.Source {
	case model.SourceStudent:
		if p.StudentID == nil || *p.StudentID <= 0 {
			return invalid("student_id", "required for student bookings")
		}
	case model.SourceTeacher:
		if p.StudentID != nil {
			return invalid("student_id", "must be absent for teacher blocks")
		}
	default:
		return invalid("source", "must be STUDENT or TEACHER")
	}
	if p.TeacherID <= 0 {
		return invalid("teacher_id", "required")
	}
	if p.UnitID <= 0 {
		return invalid("unit_id", "required")
	}
	if p.StartAt.IsZero() || p.EndAt.IsZero() || !p.EndAt.After(p.StartAt) {
		return invalid("time_range", "end must be after start")
	}
	return nil
}

// CreateBooking evaluates the active policy, reserves one slot unit,
// locks the class credits on the student's account and persists the
// booking as RESERVED, all in one transaction.  On success a
// booking.created event is published after commit.
func (e *Engine) CreateBooking(ctx context.Context, p CreateParams) (*model.Booking, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	pol, err := e.policies.ActivePolicy(ctx)
	if err != nil {
		return nil, e.mapErr(ctx, fmt.Errorf("load active policy: %w", err))
	}

	now := e.now()
	b := &model.Booking{
		ID:               uuid.NewString(),
		Source:           p.Source,
		StudentID:        p.StudentID,
		TeacherID:        p.TeacherID,
		UnitID:           p.UnitID,
		StartAt:          p.StartAt.UTC(),
		EndAt:            p.EndAt.UTC(),
		Status:           model.StatusReserved,
		CancellableUntil: policy.CancellableUntil(pol, p.StartAt.UTC()),
		SeriesID:         p.SeriesID,
		StudentNotes:     p.StudentNotes,
		ProfessorNotes:   p.ProfessorNotes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		// Teacher-led blocks are checked against the teacher's own
		// calendar for the day; student creates only face the notice
		// and future-window rules.
		var teacherDay []model.Booking
		if p.Source == model.SourceTeacher {
			day, err := tx.TeacherBookingsOn(ctx, p.TeacherID, b.StartAt)
			if err != nil {
				return fmt.Errorf("list teacher bookings: %w", err)
			}
			teacherDay = day
		}
		decision, err := policy.EvaluateCreate(pol, p.Source, b.StartAt, b.EndAt, now, teacherDay)
		if err != nil {
			return err
		}
		b.CreditsCost = decision.CreditsCost

		if err := tx.ReserveSlot(ctx, b.SlotKey()); err != nil {
			return err
		}
		if b.StudentID != nil && b.CreditsCost > 0 {
			ref := model.AccountRef{OwnerID: *b.StudentID, OwnerKind: model.OwnerStudent}
			if err := tx.Debit(ctx, ref, b.CreditsCost, model.TxLock, b.ID); err != nil {
				return err
			}
		}
		return tx.InsertBooking(ctx, b)
	})
	if err != nil {
		return nil, e.mapErr(ctx, err)
	}

	e.publish(queue.TopicBookingCreated, b, model.Actor{}, 0)
	return b, nil
}

// ConfirmBooking moves a RESERVED booking to PAID.  Payment itself is
// confirmed externally; there is no ledger effect here.
func (e *Engine) ConfirmBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := e.transition(ctx, id, model.StatusPaid, nil)
	if err != nil {
		return nil, err
	}
	e.publish(queue.TopicBookingConfirmed, b, model.Actor{}, 0)
	return b, nil
}

// CancelBooking cancels an active booking on behalf of actor.  A free
// cancel unlocks the full locked amount; a late cancel forfeits the
// policy's penalty from the lock and unlocks the remainder.  The slot
// unit is released either way.
func (e *Engine) CancelBooking(ctx context.Context, id string, actor model.Actor) (*model.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	pol, err := e.policies.ActivePolicy(ctx)
	if err != nil {
		return nil, e.mapErr(ctx, fmt.Errorf("load active policy: %w", err))
	}

	var booking *model.Booking
	penalty := 0
	err = e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrAlreadyTerminal
		}

		cancels := 0
		if actor.Role == model.RoleStudent && b.StudentID != nil {
			cancels, err = tx.CountStudentCancellations(ctx, *b.StudentID, e.now())
			if err != nil {
				return fmt.Errorf("count cancellations: %w", err)
			}
		}
		decision, err := policy.EvaluateCancel(pol, b, actor, e.now(), cancels)
		if err != nil {
			return err
		}

		if err := tx.ReleaseSlot(ctx, b.SlotKey()); err != nil {
			return err
		}
		if err := e.settleLock(ctx, tx, b, decision.PenaltyCredits, model.TxPenalty); err != nil {
			return err
		}
		penalty = decision.PenaltyCredits

		b.Status = model.StatusCanceled
		b.UpdatedAt = e.now()
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, e.mapErr(ctx, err)
	}

	e.publish(queue.TopicBookingCanceled, booking, actor, penalty)
	return booking, nil
}

// CompleteBooking moves a PAID booking to DONE, converts the locked
// credits into a CONSUME and credits the teacher's hour account with
// the policy's minutes per class.  The student-teacher relationship
// record is refreshed after commit, best effort.
func (e *Engine) CompleteBooking(ctx context.Context, id string) (*model.Booking, error) {
	pol, err := e.policies.ActivePolicy(ctx)
	if err != nil {
		return nil, e.mapErr(ctx, fmt.Errorf("load active policy: %w", err))
	}

	b, err := e.transition(ctx, id, model.StatusDone, func(ctx context.Context, tx Tx, b *model.Booking) error {
		if b.StudentID != nil && b.CreditsCost > 0 {
			ref := model.AccountRef{OwnerID: *b.StudentID, OwnerKind: model.OwnerStudent}
			if err := tx.Debit(ctx, ref, b.CreditsCost, model.TxConsume, b.ID); err != nil {
				return err
			}
		}
		if pol.TeacherMinutesPerClass > 0 {
			ref := model.AccountRef{OwnerID: b.TeacherID, OwnerKind: model.OwnerTeacher}
			if err := tx.Credit(ctx, ref, pol.TeacherMinutesPerClass, model.TxPurchase, b.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Eventually consistent by design: the relationship record feeds the
	// web layer's listings and does not affect any ledger invariant.
	if b.StudentID != nil {
		e.refreshRelationship(*b.StudentID, b.TeacherID)
	}
	e.publish(queue.TopicBookingCompleted, b, model.Actor{}, 0)
	return b, nil
}

// RescheduleBooking moves an active booking to a new time, evaluated
// as an atomic cancel-then-create: the old slot unit is released, the
// new one reserved and the locked credits carried over unchanged.
func (e *Engine) RescheduleBooking(ctx context.Context, id string, newStart, newEnd time.Time) (*model.Booking, error) {
	if newStart.IsZero() || newEnd.IsZero() || !newEnd.After(newStart) {
		return nil, invalid("time_range", "end must be after start")
	}
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	pol, err := e.policies.ActivePolicy(ctx)
	if err != nil {
		return nil, e.mapErr(ctx, fmt.Errorf("load active policy: %w", err))
	}

	var booking *model.Booking
	err = e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrAlreadyTerminal
		}
		if err := policy.EvaluateReschedule(pol, b, newStart.UTC(), e.now()); err != nil {
			return err
		}
		if err := tx.ReleaseSlot(ctx, b.SlotKey()); err != nil {
			return err
		}
		b.StartAt = newStart.UTC()
		b.EndAt = newEnd.UTC()
		b.CancellableUntil = policy.CancellableUntil(pol, b.StartAt)
		b.UpdatedAt = e.now()
		if err := tx.ReserveSlot(ctx, b.SlotKey()); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, e.mapErr(ctx, err)
	}

	e.publish(queue.TopicBookingRescheduled, booking, model.Actor{}, 0)
	return booking, nil
}

// MarkNoShow records that an active booking passed its check-in
// tolerance unattended: the no-show penalty is forfeited from the
// locked credits, the remainder unlocked, the slot released and the
// booking canceled.  Invoked by the periodic sweeper and by the
// external scheduler through the admin endpoint.
func (e *Engine) MarkNoShow(ctx context.Context, id string) (*model.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	pol, err := e.policies.ActivePolicy(ctx)
	if err != nil {
		return nil, e.mapErr(ctx, fmt.Errorf("load active policy: %w", err))
	}

	var booking *model.Booking
	err = e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrAlreadyTerminal
		}
		if e.now().Before(policy.NoShowCutoff(pol, b.StartAt)) {
			return invalid("booking", "check-in tolerance has not elapsed")
		}
		if err := tx.ReleaseSlot(ctx, b.SlotKey()); err != nil {
			return err
		}
		if err := e.settleLock(ctx, tx, b, pol.NoShowPenaltyCredits, model.TxPenalty); err != nil {
			return err
		}
		b.Status = model.StatusCanceled
		b.UpdatedAt = e.now()
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, e.mapErr(ctx, err)
	}

	e.publish(queue.TopicBookingNoShow, booking, model.Actor{}, pol.NoShowPenaltyCredits)
	return booking, nil
}

// GetBooking returns one booking by id.
func (e *Engine) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	var b *model.Booking
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		b, err = tx.GetBooking(ctx, id)
		return err
	})
	if err != nil {
		return nil, e.mapErr(ctx, err)
	}
	return b, nil
}

// Purchase grants class or hour credits to an account, creating the
// account on first use.
func (e *Engine) Purchase(ctx context.Context, ref model.AccountRef, qty int, reference string) (model.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	var bal model.Balance
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Credit(ctx, ref, qty, model.TxPurchase, reference); err != nil {
			return err
		}
		var err error
		bal, err = tx.Balance(ctx, ref)
		return err
	})
	if err != nil {
		return model.Balance{}, e.mapErr(ctx, err)
	}
	return bal, nil
}

// GetBalance returns the account's current counters, read from the
// latest committed state.
func (e *Engine) GetBalance(ctx context.Context, ref model.AccountRef) (model.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	var bal model.Balance
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		bal, err = tx.Balance(ctx, ref)
		return err
	})
	if err != nil {
		return model.Balance{}, e.mapErr(ctx, err)
	}
	return bal, nil
}

// Reconcile replays the account's full transaction log from zero and
// verifies the stored counters match.  A mismatch is an invariant
// violation reported as ErrInternal.  Integrity tooling only; not on
// the hot path.
func (e *Engine) Reconcile(ctx context.Context, ref model.AccountRef) error {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		stored, err := tx.Balance(ctx, ref)
		if err != nil {
			return err
		}
		txs, err := tx.Transactions(ctx, ref)
		if err != nil {
			return err
		}
		replayed, err := Replay(ref, txs)
		if err != nil {
			return err
		}
		if replayed.Snapshot() != stored {
			return fmt.Errorf("%w: account %s/%d replay %+v does not match stored %+v",
				ErrInternal, ref.OwnerKind, ref.OwnerID, replayed.Snapshot(), stored)
		}
		return nil
	})
	return e.mapErr(ctx, err)
}

// AvailableSlots lists the unit's bookable slots for a weekday.
func (e *Engine) AvailableSlots(ctx context.Context, unitID int64, weekday time.Weekday) ([]model.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	var slots []model.Slot
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		slots, err = tx.AvailableSlots(ctx, unitID, weekday)
		return err
	})
	if err != nil {
		return nil, e.mapErr(ctx, err)
	}
	return slots, nil
}

// BlockSlot takes a slot out of circulation without touching its
// current reservation count.
func (e *Engine) BlockSlot(ctx context.Context, key model.SlotKey, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	return e.mapErr(ctx, e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.BlockSlot(ctx, key, reason)
	}))
}

// UnblockSlot makes a blocked slot available again.
func (e *Engine) UnblockSlot(ctx context.Context, key model.SlotKey) error {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	return e.mapErr(ctx, e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UnblockSlot(ctx, key)
	}))
}

// transition runs a simple status change plus extra ledger work inside
// one transaction.  The target status must be legal from the booking's
// current status.
func (e *Engine) transition(ctx context.Context, id string, target model.Status, extra func(ctx context.Context, tx Tx, b *model.Booking) error) (*model.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	var booking *model.Booking
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrAlreadyTerminal
		}
		if !b.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, target)
		}
		if extra != nil {
			if err := extra(ctx, tx, b); err != nil {
				return err
			}
		}
		b.Status = target
		b.UpdatedAt = e.now()
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, e.mapErr(ctx, err)
	}
	return booking, nil
}

// settleLock resolves the credits locked for a booking on its way out
// of an active status: penalty credits (bounded by the locked amount)
// are forfeited with penaltyKind, the remainder is unlocked.
func (e *Engine) settleLock(ctx context.Context, tx Tx, b *model.Booking, penalty int, penaltyKind model.TxKind) error {
	if b.StudentID == nil || b.CreditsCost == 0 {
		return nil
	}
	ref := model.AccountRef{OwnerID: *b.StudentID, OwnerKind: model.OwnerStudent}
	if penalty > b.CreditsCost {
		penalty = b.CreditsCost
	}
	if penalty > 0 {
		if err := tx.Debit(ctx, ref, penalty, penaltyKind, b.ID); err != nil {
			return err
		}
	}
	if rest := b.CreditsCost - penalty; rest > 0 {
		if err := tx.Credit(ctx, ref, rest, model.TxUnlock, b.ID); err != nil {
			return err
		}
	}
	return nil
}

// refreshRelationship upserts the student-teacher link in its own
// short transaction.  Failures are logged and swallowed.
func (e *Engine) refreshRelationship(studentID, teacherID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opTimeout)
	defer cancel()
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpsertStudentTeacher(ctx, studentID, teacherID, e.now())
	})
	if err != nil {
		e.log.Warn("student-teacher relationship refresh failed",
			zap.Int64("student_id", studentID),
			zap.Int64("teacher_id", teacherID),
			zap.Error(err))
	}
}

// publish fires the event in the background after commit.  Publish
// failures are logged, never surfaced to the originating caller.
func (e *Engine) publish(topic string, b *model.Booking, actor model.Actor, penalty int) {
	ev := queue.BookingEvent{
		BookingID:      b.ID,
		Source:         string(b.Source),
		StudentID:      b.StudentID,
		TeacherID:      b.TeacherID,
		UnitID:         b.UnitID,
		StartAt:        b.StartAt.Format(time.RFC3339),
		EndAt:          b.EndAt.Format(time.RFC3339),
		Status:         string(b.Status),
		CreditsCost:    b.CreditsCost,
		PenaltyCredits: penalty,
		ActorRole:      string(actor.Role),
		ActorID:        actor.ID,
		OccurredAt:     e.now().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.publisher.Publish(ctx, topic, ev); err != nil {
			e.log.Warn("event publish failed", zap.String("topic", topic),
				zap.String("booking_id", b.ID), zap.Error(err))
		}
	}()
}

// mapErr folds store deadline failures into the engine's Timeout kind.
// Business errors pass through untouched.
func (e *Engine) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
