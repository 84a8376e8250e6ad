// Package memstore is an in-memory implementation of the engine's
// store.  A single mutex serializes transactions and a pre-transaction
// snapshot is restored when the transaction function fails, giving the
// same all-or-nothing semantics as the SQL store.  It backs the test
// suite and single-process development runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/model"
)

type relationKey struct {
	StudentID int64
	TeacherID int64
}

// Store holds all engine state in maps.  Zero value is not usable; use
// New.
type Store struct {
	mu sync.Mutex

	bookings  map[string]model.Booking
	slots     map[model.SlotKey]model.Slot
	accounts  map[model.AccountRef]model.LedgerAccount
	ledgerLog []model.LedgerTransaction
	relations map[relationKey]time.Time

	nextSlotID uint64
	nextTxID   uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		bookings:  make(map[string]model.Booking),
		slots:     make(map[model.SlotKey]model.Slot),
		accounts:  make(map[model.AccountRef]model.LedgerAccount),
		relations: make(map[relationKey]time.Time),
	}
}

// AddSlot seeds a capacity slot and returns it.  Setup helper for
// tests and development wiring.
func (s *Store) AddSlot(unitID int64, weekday time.Weekday, startMinute, maxCapacity int) model.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSlotID++
	slot := model.Slot{
		ID:          s.nextSlotID,
		UnitID:      unitID,
		Weekday:     weekday,
		StartMinute: startMinute,
		MaxCapacity: maxCapacity,
		IsAvailable: true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.slots[slot.Key()] = slot
	return slot
}

// WithTx runs fn under the store mutex.  On error every write fn made
// is rolled back by restoring the snapshot taken at entry.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx engine.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type storeSnapshot struct {
	bookings   map[string]model.Booking
	slots      map[model.SlotKey]model.Slot
	accounts   map[model.AccountRef]model.LedgerAccount
	ledgerLen  int
	relations  map[relationKey]time.Time
	nextSlotID uint64
	nextTxID   uint64
}

func (s *Store) snapshot() storeSnapshot {
	snap := storeSnapshot{
		bookings:   make(map[string]model.Booking, len(s.bookings)),
		slots:      make(map[model.SlotKey]model.Slot, len(s.slots)),
		accounts:   make(map[model.AccountRef]model.LedgerAccount, len(s.accounts)),
		ledgerLen:  len(s.ledgerLog),
		relations:  make(map[relationKey]time.Time, len(s.relations)),
		nextSlotID: s.nextSlotID,
		nextTxID:   s.nextTxID,
	}
	for k, v := range s.bookings {
		snap.bookings[k] = v
	}
	for k, v := range s.slots {
		snap.slots[k] = v
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.relations {
		snap.relations[k] = v
	}
	return snap
}

func (s *Store) restore(snap storeSnapshot) {
	s.bookings = snap.bookings
	s.slots = snap.slots
	s.accounts = snap.accounts
	s.ledgerLog = s.ledgerLog[:snap.ledgerLen]
	s.relations = snap.relations
	s.nextSlotID = snap.nextSlotID
	s.nextTxID = snap.nextTxID
}

// memTx operates directly on the store; the mutex held by WithTx makes
// it safe.
type memTx struct {
	s *Store
}

func (t *memTx) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, engine.ErrNotFound)
	}
	cp := b
	return &cp, nil
}

func (t *memTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	if _, ok := t.s.bookings[b.ID]; ok {
		return fmt.Errorf("%w: duplicate booking id %s", engine.ErrInternal, b.ID)
	}
	t.s.bookings[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b *model.Booking) error {
	if _, ok := t.s.bookings[b.ID]; !ok {
		return fmt.Errorf("booking %s: %w", b.ID, engine.ErrNotFound)
	}
	t.s.bookings[b.ID] = *b
	return nil
}

func (t *memTx) TeacherBookingsOn(ctx context.Context, teacherID int64, day time.Time) ([]model.Booking, error) {
	y, m, d := day.UTC().Date()
	var out []model.Booking
	for _, b := range t.s.bookings {
		if b.TeacherID != teacherID {
			continue
		}
		by, bm, bd := b.StartAt.UTC().Date()
		if by == y && bm == m && bd == d {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (t *memTx) CountStudentCancellations(ctx context.Context, studentID int64, month time.Time) (int, error) {
	y, m, _ := month.UTC().Date()
	n := 0
	for _, b := range t.s.bookings {
		if b.Status != model.StatusCanceled || b.StudentID == nil || *b.StudentID != studentID {
			continue
		}
		by, bm, _ := b.UpdatedAt.UTC().Date()
		if by == y && bm == m {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ListOverdueActive(ctx context.Context, cutoff time.Time) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range t.s.bookings {
		if b.Status.IsActive() && !b.StartAt.After(cutoff) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (t *memTx) UpsertStudentTeacher(ctx context.Context, studentID, teacherID int64, at time.Time) error {
	t.s.relations[relationKey{StudentID: studentID, TeacherID: teacherID}] = at
	return nil
}

func (t *memTx) GetSlot(ctx context.Context, key model.SlotKey) (*model.Slot, error) {
	slot, ok := t.s.slots[key]
	if !ok {
		return nil, fmt.Errorf("slot %+v: %w", key, engine.ErrNotFound)
	}
	cp := slot
	return &cp, nil
}

func (t *memTx) ReserveSlot(ctx context.Context, key model.SlotKey) error {
	slot, ok := t.s.slots[key]
	if !ok {
		return fmt.Errorf("slot %+v: %w", key, engine.ErrNotFound)
	}
	if !slot.IsAvailable {
		return engine.ErrSlotBlocked
	}
	if slot.CurrentBookings >= slot.MaxCapacity {
		return engine.ErrSlotFull
	}
	slot.CurrentBookings++
	slot.UpdatedAt = time.Now().UTC()
	t.s.slots[key] = slot
	return nil
}

func (t *memTx) ReleaseSlot(ctx context.Context, key model.SlotKey) error {
	slot, ok := t.s.slots[key]
	if !ok {
		return fmt.Errorf("slot %+v: %w", key, engine.ErrNotFound)
	}
	if slot.CurrentBookings > 0 {
		slot.CurrentBookings--
	}
	slot.UpdatedAt = time.Now().UTC()
	t.s.slots[key] = slot
	return nil
}

func (t *memTx) BlockSlot(ctx context.Context, key model.SlotKey, reason string) error {
	slot, ok := t.s.slots[key]
	if !ok {
		return fmt.Errorf("slot %+v: %w", key, engine.ErrNotFound)
	}
	slot.IsAvailable = false
	slot.BlockedReason = &reason
	slot.UpdatedAt = time.Now().UTC()
	t.s.slots[key] = slot
	return nil
}

func (t *memTx) UnblockSlot(ctx context.Context, key model.SlotKey) error {
	slot, ok := t.s.slots[key]
	if !ok {
		return fmt.Errorf("slot %+v: %w", key, engine.ErrNotFound)
	}
	slot.IsAvailable = true
	slot.BlockedReason = nil
	slot.UpdatedAt = time.Now().UTC()
	t.s.slots[key] = slot
	return nil
}

func (t *memTx) AvailableSlots(ctx context.Context, unitID int64, weekday time.Weekday) ([]model.Slot, error) {
	var out []model.Slot
	for _, slot := range t.s.slots {
		if slot.UnitID == unitID && slot.Weekday == weekday && slot.HasCapacity() {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (t *memTx) Credit(ctx context.Context, ref model.AccountRef, qty int, kind model.TxKind, reference string) error {
	if !engine.IsCreditKind(kind) {
		return fmt.Errorf("%w: %s is not a credit kind", engine.ErrInternal, kind)
	}
	return t.apply(ref, qty, qty, kind, reference)
}

func (t *memTx) Debit(ctx context.Context, ref model.AccountRef, qty int, kind model.TxKind, reference string) error {
	if !engine.IsDebitKind(kind) {
		return fmt.Errorf("%w: %s is not a debit kind", engine.ErrInternal, kind)
	}
	return t.apply(ref, qty, -qty, kind, reference)
}

// apply mutates the account counters and appends the log entry as one
// unit.  signedQty is what lands in the audit log; qty is the positive
// magnitude the counters move by.
func (t *memTx) apply(ref model.AccountRef, qty, signedQty int, kind model.TxKind, reference string) error {
	if qty <= 0 {
		return engine.ErrInvalidQuantity
	}
	acc, ok := t.s.accounts[ref]
	if !ok {
		acc = model.LedgerAccount{OwnerID: ref.OwnerID, OwnerKind: ref.OwnerKind, CreatedAt: time.Now().UTC()}
	}
	if err := engine.ApplyTransaction(&acc, kind, qty); err != nil {
		return err
	}
	acc.UpdatedAt = time.Now().UTC()
	t.s.accounts[ref] = acc
	t.s.nextTxID++
	t.s.ledgerLog = append(t.s.ledgerLog, model.LedgerTransaction{
		ID:        t.s.nextTxID,
		OwnerID:   ref.OwnerID,
		OwnerKind: ref.OwnerKind,
		Kind:      kind,
		Qty:       signedQty,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (t *memTx) Balance(ctx context.Context, ref model.AccountRef) (model.Balance, error) {
	acc, ok := t.s.accounts[ref]
	if !ok {
		return model.Balance{}, nil
	}
	return acc.Snapshot(), nil
}

func (t *memTx) Transactions(ctx context.Context, ref model.AccountRef) ([]model.LedgerTransaction, error) {
	var out []model.LedgerTransaction
	for _, tr := range t.s.ledgerLog {
		if tr.OwnerID == ref.OwnerID && tr.OwnerKind == ref.OwnerKind {
			out = append(out, tr)
		}
	}
	return out, nil
}
