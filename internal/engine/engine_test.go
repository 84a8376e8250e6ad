package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/memstore"
	"github.com/joaovsf/fitbook/internal/model"
	"github.com/joaovsf/fitbook/internal/policy"
	"github.com/joaovsf/fitbook/internal/queue"
)

// monday is the pinned "now" for every test: 2026-03-02 12:00 UTC.
var monday = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// tuesdayClass is the default class start, 21 hours ahead of monday.
var tuesdayClass = time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testPolicy() model.Policy {
	return model.Policy{
		Version:                           1,
		CreditsPerClass:                   1,
		ClassDurationMinutes:              60,
		CheckinToleranceMinutes:           15,
		StudentMinBookingNoticeMinutes:    120,
		StudentRescheduleMinNoticeMinutes: 240,
		LateCancelThresholdMinutes:        360,
		LateCancelPenaltyCredits:          1,
		NoShowPenaltyCredits:              1,
		TeacherMinutesPerClass:            60,
		TeacherRestMinutesBetweenClasses:  10,
		TeacherMaxDailyClasses:            8,
		MaxFutureBookingDays:              30,
		MaxCancelPerMonth:                 4,
	}
}

type fixture struct {
	store    *memstore.Store
	policies *memstore.PolicySource
	clock    *fakeClock
	eng      *engine.Engine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		policies: memstore.NewPolicySource(testPolicy()),
		clock:    &fakeClock{t: monday},
	}
	f.eng = engine.New(f.store, f.policies, queue.NopPublisher{}, nil,
		engine.WithClock(f.clock.Now))
	return f
}

func (f *fixture) purchase(t *testing.T, ref model.AccountRef, qty int) {
	t.Helper()
	_, err := f.eng.Purchase(context.Background(), ref, qty, "pkg-test")
	require.NoError(t, err)
}

func (f *fixture) slotCount(t *testing.T, key model.SlotKey) int {
	t.Helper()
	var n int
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx engine.Tx) error {
		slot, err := tx.GetSlot(ctx, key)
		if err != nil {
			return err
		}
		n = slot.CurrentBookings
		return nil
	})
	require.NoError(t, err)
	return n
}

func studentParams(studentID int64, start time.Time) engine.CreateParams {
	id := studentID
	return engine.CreateParams{
		Source:    model.SourceStudent,
		StudentID: &id,
		TeacherID: 9,
		UnitID:    1,
		StartAt:   start,
		EndAt:     start.Add(time.Hour),
	}
}

var studentRef = model.AccountRef{OwnerID: 42, OwnerKind: model.OwnerStudent}
var teacherRef = model.AccountRef{OwnerID: 9, OwnerKind: model.OwnerTeacher}

func TestCreateBooking(t *testing.T) {
	f := setup(t)
	slot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
	require.Equal(t, model.StatusReserved, b.Status)
	require.Equal(t, 1, b.CreditsCost)
	require.Equal(t, tuesdayClass.Add(-6*time.Hour), b.CancellableUntil)

	bal, err := f.eng.GetBalance(context.Background(), studentRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 10, LockedQty: 1, Available: 9}, bal)
	require.Equal(t, 1, f.slotCount(t, slot.Key()))
}

func TestCreateBookingValidation(t *testing.T) {
	f := setup(t)

	p := studentParams(42, tuesdayClass)
	p.StudentID = nil
	_, err := f.eng.CreateBooking(context.Background(), p)
	var vErr *engine.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "student_id", vErr.Field)

	p = studentParams(42, tuesdayClass)
	p.EndAt = p.StartAt
	_, err = f.eng.CreateBooking(context.Background(), p)
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "time_range", vErr.Field)

	p = studentParams(42, tuesdayClass)
	p.Source = "GUEST"
	_, err = f.eng.CreateBooking(context.Background(), p)
	require.ErrorAs(t, err, &vErr)
}

func TestCreateBookingInsufficientCreditsRollsBackSlot(t *testing.T) {
	f := setup(t)
	slot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	// No purchase: the lock debit must fail.

	_, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.ErrorIs(t, err, engine.ErrInsufficientBalance)

	// The slot reservation taken earlier in the transaction did not
	// survive the failed debit.
	require.Zero(t, f.slotCount(t, slot.Key()))
	bal, err := f.eng.GetBalance(context.Background(), studentRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{}, bal)
}

func TestCreateBookingSlotFull(t *testing.T) {
	f := setup(t)
	f.store.AddSlot(1, time.Tuesday, 9*60, 1)
	f.purchase(t, studentRef, 10)
	other := model.AccountRef{OwnerID: 43, OwnerKind: model.OwnerStudent}
	f.purchase(t, other, 10)

	_, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)

	_, err = f.eng.CreateBooking(context.Background(), studentParams(43, tuesdayClass))
	require.ErrorIs(t, err, engine.ErrSlotFull)

	// The loser keeps every credit unlocked.
	bal, err := f.eng.GetBalance(context.Background(), other)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 10, Available: 10}, bal)
}

func TestCreateBookingGroupSlotFillsToCapacity(t *testing.T) {
	f := setup(t)
	slot := f.store.AddSlot(1, time.Tuesday, 9*60, 3)

	// Three students share the same teacher's group class; every unit of
	// the slot fills before anyone is turned away.
	for id := int64(42); id <= 44; id++ {
		f.purchase(t, model.AccountRef{OwnerID: id, OwnerKind: model.OwnerStudent}, 10)
		_, err := f.eng.CreateBooking(context.Background(), studentParams(id, tuesdayClass))
		require.NoError(t, err)
	}
	require.Equal(t, 3, f.slotCount(t, slot.Key()))

	// Only capacity turns the fourth student away, not a policy rule.
	f.purchase(t, model.AccountRef{OwnerID: 45, OwnerKind: model.OwnerStudent}, 10)
	_, err := f.eng.CreateBooking(context.Background(), studentParams(45, tuesdayClass))
	require.ErrorIs(t, err, engine.ErrSlotFull)
}

func TestCreateBookingPolicyDenied(t *testing.T) {
	f := setup(t)
	f.store.AddSlot(1, time.Monday, 13*60, 2)
	f.purchase(t, studentRef, 10)

	// One hour of notice is under the two-hour minimum.
	_, err := f.eng.CreateBooking(context.Background(), studentParams(42, monday.Add(time.Hour)))
	var dErr *policy.DenyError
	require.ErrorAs(t, err, &dErr)
	require.Equal(t, policy.ReasonTooCloseToBookingWindow, dErr.Reason)
}

func TestConfirmAndComplete(t *testing.T) {
	f := setup(t)
	slot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)

	b, err = f.eng.ConfirmBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPaid, b.Status)

	b, err = f.eng.CompleteBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, b.Status)

	// The locked credit became a consume; the teacher earned one class
	// worth of minutes.
	bal, err := f.eng.GetBalance(context.Background(), studentRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 10, TotalConsumed: 1, Available: 9}, bal)

	tbal, err := f.eng.GetBalance(context.Background(), teacherRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 60, Available: 60}, tbal)

	// Completion does not free the slot unit; the class happened.
	require.Equal(t, 1, f.slotCount(t, slot.Key()))

	require.NoError(t, f.eng.Reconcile(context.Background(), studentRef))
	require.NoError(t, f.eng.Reconcile(context.Background(), teacherRef))
}

func TestConfirmTwiceIsInvalid(t *testing.T) {
	f := setup(t)
	f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
	_, err = f.eng.ConfirmBooking(context.Background(), b.ID)
	require.NoError(t, err)

	_, err = f.eng.ConfirmBooking(context.Background(), b.ID)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestFreeCancel(t *testing.T) {
	f := setup(t)
	slot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)

	actor := model.Actor{Role: model.RoleStudent, ID: 42}
	b, err = f.eng.CancelBooking(context.Background(), b.ID, actor)
	require.NoError(t, err)
	require.Equal(t, model.StatusCanceled, b.Status)

	// Full lock released, slot unit returned.
	bal, err := f.eng.GetBalance(context.Background(), studentRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 10, Available: 10}, bal)
	require.Zero(t, f.slotCount(t, slot.Key()))

	require.NoError(t, f.eng.Reconcile(context.Background(), studentRef))
}

func TestLateCancelForfeitsPenalty(t *testing.T) {
	f := setup(t)
	// Monday 15:00, three hours ahead: clears the booking notice but is
	// already inside the six-hour late-cancel window.
	f.store.AddSlot(1, time.Monday, 15*60, 2)
	f.purchase(t, studentRef, 10)

	start := monday.Add(3 * time.Hour)
	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, start))
	require.NoError(t, err)

	actor := model.Actor{Role: model.RoleStudent, ID: 42}
	b, err = f.eng.CancelBooking(context.Background(), b.ID, actor)
	require.NoError(t, err)
	require.Equal(t, model.StatusCanceled, b.Status)

	bal, err := f.eng.GetBalance(context.Background(), studentRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 10, TotalConsumed: 1, Available: 9}, bal)

	require.NoError(t, f.eng.Reconcile(context.Background(), studentRef))
}

func TestCancelMonthlyCap(t *testing.T) {
	f := setup(t)
	p := testPolicy()
	p.MaxCancelPerMonth = 1
	f.policies.Set(p)

	f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)
	actor := model.Actor{Role: model.RoleStudent, ID: 42}

	b1, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
	_, err = f.eng.CancelBooking(context.Background(), b1.ID, actor)
	require.NoError(t, err)

	b2, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
	_, err = f.eng.CancelBooking(context.Background(), b2.ID, actor)
	var dErr *policy.DenyError
	require.ErrorAs(t, err, &dErr)
	require.Equal(t, policy.ReasonMonthlyCancelLimitExceeded, dErr.Reason)

	// Admins are not bound by the cap.
	_, err = f.eng.CancelBooking(context.Background(), b2.ID, model.Actor{Role: model.RoleAdmin, ID: 1})
	require.NoError(t, err)
}

func TestCancelTerminalBooking(t *testing.T) {
	f := setup(t)
	f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)
	actor := model.Actor{Role: model.RoleStudent, ID: 42}

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
	_, err = f.eng.CancelBooking(context.Background(), b.ID, actor)
	require.NoError(t, err)

	_, err = f.eng.CancelBooking(context.Background(), b.ID, actor)
	require.ErrorIs(t, err, engine.ErrAlreadyTerminal)
}

func TestTeacherBlock(t *testing.T) {
	f := setup(t)
	f.store.AddSlot(1, time.Tuesday, 9*60, 1)

	b, err := f.eng.CreateBooking(context.Background(), engine.CreateParams{
		Source:    model.SourceTeacher,
		TeacherID: 9,
		UnitID:    1,
		StartAt:   tuesdayClass,
		EndAt:     tuesdayClass.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Nil(t, b.StudentID)
	require.Zero(t, b.CreditsCost)
	require.Equal(t, "BLOCKED", model.DisplayStatus(b.Status, b.Source))

	// The block occupies the only unit.
	f.purchase(t, studentRef, 10)
	_, err = f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.ErrorIs(t, err, engine.ErrSlotFull)
}

func TestReschedule(t *testing.T) {
	f := setup(t)
	oldSlot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	newSlot := f.store.AddSlot(1, time.Wednesday, 10*60, 2)
	f.purchase(t, studentRef, 10)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)

	newStart := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	b, err = f.eng.RescheduleBooking(context.Background(), b.ID, newStart, newStart.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, newStart, b.StartAt)
	require.Equal(t, newStart.Add(-6*time.Hour), b.CancellableUntil)

	require.Zero(t, f.slotCount(t, oldSlot.Key()))
	require.Equal(t, 1, f.slotCount(t, newSlot.Key()))

	// The lock carried over untouched.
	bal, err := f.eng.GetBalance(context.Background(), studentRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 10, LockedQty: 1, Available: 9}, bal)
}

func TestRescheduleTooClose(t *testing.T) {
	f := setup(t)
	oldSlot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.store.AddSlot(1, time.Monday, 13*60, 2)
	f.purchase(t, studentRef, 10)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)

	// New start one hour out, under the four-hour reschedule notice.
	_, err = f.eng.RescheduleBooking(context.Background(), b.ID, monday.Add(time.Hour), monday.Add(2*time.Hour))
	var dErr *policy.DenyError
	require.ErrorAs(t, err, &dErr)
	require.Equal(t, policy.ReasonTooCloseToBookingWindow, dErr.Reason)

	// Denied reschedule leaves the original reservation in place.
	require.Equal(t, 1, f.slotCount(t, oldSlot.Key()))
}

func TestRescheduleIntoFullSlotKeepsOriginal(t *testing.T) {
	f := setup(t)
	oldSlot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	fullSlot := f.store.AddSlot(1, time.Wednesday, 10*60, 1)
	f.purchase(t, studentRef, 10)
	other := model.AccountRef{OwnerID: 43, OwnerKind: model.OwnerStudent}
	f.purchase(t, other, 10)

	wednesday := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	_, err := f.eng.CreateBooking(context.Background(), studentParams(43, wednesday))
	require.NoError(t, err)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)

	_, err = f.eng.RescheduleBooking(context.Background(), b.ID, wednesday, wednesday.Add(time.Hour))
	require.ErrorIs(t, err, engine.ErrSlotFull)

	// The failed move rolled back: old unit still held, full slot
	// unchanged.
	require.Equal(t, 1, f.slotCount(t, oldSlot.Key()))
	require.Equal(t, 1, f.slotCount(t, fullSlot.Key()))

	got, err := f.eng.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, tuesdayClass, got.StartAt)
}

func TestMarkNoShow(t *testing.T) {
	f := setup(t)
	slot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
	_, err = f.eng.ConfirmBooking(context.Background(), b.ID)
	require.NoError(t, err)

	// Before the tolerance elapses the mark is rejected.
	f.clock.Advance(21 * time.Hour) // exactly the class start
	_, err = f.eng.MarkNoShow(context.Background(), b.ID)
	var vErr *engine.ValidationError
	require.ErrorAs(t, err, &vErr)

	f.clock.Advance(16 * time.Minute)
	b, err = f.eng.MarkNoShow(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCanceled, b.Status)

	bal, err := f.eng.GetBalance(context.Background(), studentRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 10, TotalConsumed: 1, Available: 9}, bal)
	require.Zero(t, f.slotCount(t, slot.Key()))

	require.NoError(t, f.eng.Reconcile(context.Background(), studentRef))
}

func TestSweeper(t *testing.T) {
	f := setup(t)
	f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)

	b, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
	_, err = f.eng.ConfirmBooking(context.Background(), b.ID)
	require.NoError(t, err)

	sweeper := engine.NewSweeper(f.eng, time.Minute, nil)

	// Nothing is overdue yet.
	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock.Advance(22 * time.Hour)
	n, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.eng.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCanceled, got.Status)

	// A second sweep finds nothing left.
	n, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestExpiredDeadlineMapsToTimeout(t *testing.T) {
	f := setup(t)
	f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.eng.CreateBooking(ctx, studentParams(42, tuesdayClass))
	require.ErrorIs(t, err, engine.ErrTimeout)
	_, err = f.eng.GetBooking(ctx, "any-id")
	require.ErrorIs(t, err, engine.ErrTimeout)

	// The timed-out create left no reservation and no lock behind.
	bal, err := f.eng.GetBalance(context.Background(), studentRef)
	require.NoError(t, err)
	require.Equal(t, model.Balance{TotalPurchased: 10, Available: 10}, bal)
}

func TestGetBookingNotFound(t *testing.T) {
	f := setup(t)
	_, err := f.eng.GetBooking(context.Background(), "no-such-id")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestPurchaseRejectsNonPositiveQty(t *testing.T) {
	f := setup(t)
	_, err := f.eng.Purchase(context.Background(), studentRef, 0, "pkg-test")
	require.ErrorIs(t, err, engine.ErrInvalidQuantity)
	_, err = f.eng.Purchase(context.Background(), studentRef, -5, "pkg-test")
	require.ErrorIs(t, err, engine.ErrInvalidQuantity)
}

func TestBlockSlotStopsNewBookings(t *testing.T) {
	f := setup(t)
	slot := f.store.AddSlot(1, time.Tuesday, 9*60, 2)
	f.purchase(t, studentRef, 10)

	require.NoError(t, f.eng.BlockSlot(context.Background(), slot.Key(), "maintenance"))
	_, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.ErrorIs(t, err, engine.ErrSlotBlocked)

	require.NoError(t, f.eng.UnblockSlot(context.Background(), slot.Key()))
	_, err = f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
}

func TestAvailableSlotsHidesFullAndBlocked(t *testing.T) {
	f := setup(t)
	open := f.store.AddSlot(1, time.Tuesday, 8*60, 2)
	f.store.AddSlot(1, time.Tuesday, 9*60, 1) // becomes full below
	blocked := f.store.AddSlot(1, time.Tuesday, 10*60, 2)

	f.purchase(t, studentRef, 10)
	_, err := f.eng.CreateBooking(context.Background(), studentParams(42, tuesdayClass))
	require.NoError(t, err)
	require.NoError(t, f.eng.BlockSlot(context.Background(), blocked.Key(), "maintenance"))

	slots, err := f.eng.AvailableSlots(context.Background(), 1, time.Tuesday)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.Equal(t, open.Key(), slots[0].Key())
}
