// Package repository implements the engine's store on MySQL using
// database/sql.  Each operation runs inside one transaction opened by
// WithTx; row locks taken with SELECT ... FOR UPDATE serialize
// concurrent work on the same slot or ledger account, and conditional
// updates backstop the capacity invariant.  All timestamps are stored
// in UTC.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joaovsf/fitbook/internal/engine"
)

// Store wraps a *sql.DB and hands out transactional views.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store bound to the given database.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for wiring (policy repository,
// migrations).
func (s *Store) DB() *sql.DB { return s.db }

// WithTx opens a transaction, runs fn against it and commits when fn
// returns nil.  Any error rolls everything back, so a partially
// applied operation is never observable.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx engine.Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = dbtx.Rollback()
		}
	}()
	if err := fn(ctx, &Tx{tx: dbtx}); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Tx implements engine.Tx over one SQL transaction.  Its methods are
// spread across the per-table files in this package.
type Tx struct {
	tx *sql.Tx
}
