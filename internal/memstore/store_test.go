package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/model"
)

func TestReserveSlotCapacity(t *testing.T) {
	s := New()
	slot := s.AddSlot(1, time.Tuesday, 540, 2)
	ctx := context.Background()

	reserve := func() error {
		return s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
			return tx.ReserveSlot(ctx, slot.Key())
		})
	}

	require.NoError(t, reserve())
	require.NoError(t, reserve())
	require.ErrorIs(t, reserve(), engine.ErrSlotFull)
}

func TestReserveSlotConcurrent(t *testing.T) {
	s := New()
	slot := s.AddSlot(1, time.Tuesday, 540, 5)
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
				return tx.ReserveSlot(ctx, slot.Key())
			})
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, granted)
	err := s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		got, err := tx.GetSlot(ctx, slot.Key())
		require.NoError(t, err)
		require.Equal(t, 5, got.CurrentBookings)
		return nil
	})
	require.NoError(t, err)
}

func TestReleaseSlotFloorsAtZero(t *testing.T) {
	s := New()
	slot := s.AddSlot(1, time.Monday, 600, 3)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		require.NoError(t, tx.ReserveSlot(ctx, slot.Key()))
		require.NoError(t, tx.ReleaseSlot(ctx, slot.Key()))
		// Releasing an empty slot is a no-op, not an underflow.
		require.NoError(t, tx.ReleaseSlot(ctx, slot.Key()))
		got, err := tx.GetSlot(ctx, slot.Key())
		require.NoError(t, err)
		require.Zero(t, got.CurrentBookings)
		return nil
	})
	require.NoError(t, err)
}

func TestBlockedSlotRejectsReserve(t *testing.T) {
	s := New()
	slot := s.AddSlot(1, time.Monday, 600, 3)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		require.NoError(t, tx.BlockSlot(ctx, slot.Key(), "maintenance"))
		require.ErrorIs(t, tx.ReserveSlot(ctx, slot.Key()), engine.ErrSlotBlocked)
		require.NoError(t, tx.UnblockSlot(ctx, slot.Key()))
		return tx.ReserveSlot(ctx, slot.Key())
	})
	require.NoError(t, err)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	slot := s.AddSlot(1, time.Tuesday, 540, 2)
	ctx := context.Background()
	ref := model.AccountRef{OwnerID: 42, OwnerKind: model.OwnerStudent}

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		if err := tx.ReserveSlot(ctx, slot.Key()); err != nil {
			return err
		}
		if err := tx.Credit(ctx, ref, 5, model.TxPurchase, "pkg-1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Neither the reservation nor the credit survived.
	err = s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		got, err := tx.GetSlot(ctx, slot.Key())
		require.NoError(t, err)
		require.Zero(t, got.CurrentBookings)

		bal, err := tx.Balance(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, model.Balance{}, bal)

		txs, err := tx.Transactions(ctx, ref)
		require.NoError(t, err)
		require.Empty(t, txs)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerBalanceAndLog(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := model.AccountRef{OwnerID: 42, OwnerKind: model.OwnerStudent}

	err := s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		require.NoError(t, tx.Credit(ctx, ref, 10, model.TxPurchase, "pkg-1"))
		require.NoError(t, tx.Debit(ctx, ref, 3, model.TxLock, "bk-1"))
		require.NoError(t, tx.Debit(ctx, ref, 1, model.TxConsume, "bk-1"))

		bal, err := tx.Balance(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, model.Balance{
			TotalPurchased: 10,
			TotalConsumed:  1,
			LockedQty:      2,
			Available:      7,
		}, bal)

		txs, err := tx.Transactions(ctx, ref)
		require.NoError(t, err)
		require.Len(t, txs, 3)
		// Credits are logged positive, debits negative.
		require.Equal(t, 10, txs[0].Qty)
		require.Equal(t, -3, txs[1].Qty)
		require.Equal(t, -1, txs[2].Qty)
		return nil
	})
	require.NoError(t, err)
}

func TestDebitRejectsOverdraw(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := model.AccountRef{OwnerID: 42, OwnerKind: model.OwnerStudent}

	err := s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		require.NoError(t, tx.Credit(ctx, ref, 2, model.TxPurchase, "pkg-1"))
		return tx.Debit(ctx, ref, 3, model.TxLock, "bk-1")
	})
	require.ErrorIs(t, err, engine.ErrInsufficientBalance)

	// The rolled-back transaction left no trace, including the credit.
	err = s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		bal, err := tx.Balance(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, model.Balance{}, bal)
		return nil
	})
	require.NoError(t, err)
}

func TestKindDirectionEnforced(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := model.AccountRef{OwnerID: 42, OwnerKind: model.OwnerStudent}

	err := s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		return tx.Credit(ctx, ref, 1, model.TxLock, "bk-1")
	})
	require.ErrorIs(t, err, engine.ErrInternal)

	err = s.WithTx(ctx, func(ctx context.Context, tx engine.Tx) error {
		return tx.Debit(ctx, ref, 1, model.TxPurchase, "pkg-1")
	})
	require.ErrorIs(t, err, engine.ErrInternal)
}
