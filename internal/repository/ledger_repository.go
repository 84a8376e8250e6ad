package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joaovsf/fitbook/internal/engine"
	"github.com/joaovsf/fitbook/internal/model"
)

// Credit appends a credit-kind transaction and applies it to the
// account counters under a row lock.
func (t *Tx) Credit(ctx context.Context, ref model.AccountRef, qty int, kind model.TxKind, reference string) error {
	if !engine.IsCreditKind(kind) {
		return fmt.Errorf("%w: %s is not a credit kind", engine.ErrInternal, kind)
	}
	return t.applyLedger(ctx, ref, qty, qty, kind, reference)
}

// Debit appends a debit-kind transaction; the balance check and the
// counter mutation happen under the same account row lock, so a
// concurrent debit can never observe a stale available balance.
func (t *Tx) Debit(ctx context.Context, ref model.AccountRef, qty int, kind model.TxKind, reference string) error {
	if !engine.IsDebitKind(kind) {
		return fmt.Errorf("%w: %s is not a debit kind", engine.ErrInternal, kind)
	}
	return t.applyLedger(ctx, ref, qty, -qty, kind, reference)
}

func (t *Tx) applyLedger(ctx context.Context, ref model.AccountRef, qty, signedQty int, kind model.TxKind, reference string) error {
	if qty <= 0 {
		return engine.ErrInvalidQuantity
	}
	acc, err := t.lockAccount(ctx, ref)
	if err != nil {
		return err
	}
	if err := engine.ApplyTransaction(acc, kind, qty); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE ledger_accounts
            SET total_purchased = ?, total_consumed = ?, locked_qty = ?,
                updated_at = UTC_TIMESTAMP()
          WHERE owner_kind = ? AND owner_id = ?`,
		acc.TotalPurchased, acc.TotalConsumed, acc.LockedQty,
		ref.OwnerKind, ref.OwnerID); err != nil {
		return fmt.Errorf("update ledger account: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_transactions (owner_id, owner_kind, kind, qty, reference)
         VALUES (?, ?, ?, ?, ?)`,
		ref.OwnerID, ref.OwnerKind, kind, signedQty, reference); err != nil {
		return fmt.Errorf("insert ledger transaction: %w", err)
	}
	return nil
}

// lockAccount loads the account under FOR UPDATE, creating it first if
// this is the owner's first ledger touch.  Accounts are never deleted.
func (t *Tx) lockAccount(ctx context.Context, ref model.AccountRef) (*model.LedgerAccount, error) {
	const sel = `SELECT owner_id, owner_kind, total_purchased, total_consumed, locked_qty,
                        created_at, updated_at
                   FROM ledger_accounts
                  WHERE owner_kind = ? AND owner_id = ? FOR UPDATE`
	acc, err := scanAccount(t.tx.QueryRowContext(ctx, sel, ref.OwnerKind, ref.OwnerID))
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock ledger account: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT IGNORE INTO ledger_accounts (owner_id, owner_kind) VALUES (?, ?)`,
		ref.OwnerID, ref.OwnerKind); err != nil {
		return nil, fmt.Errorf("create ledger account: %w", err)
	}
	acc, err = scanAccount(t.tx.QueryRowContext(ctx, sel, ref.OwnerKind, ref.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("lock ledger account: %w", err)
	}
	return acc, nil
}

// Balance returns the account counters from the latest committed
// state, zero balances for accounts that do not exist yet.
func (t *Tx) Balance(ctx context.Context, ref model.AccountRef) (model.Balance, error) {
	acc, err := scanAccount(t.tx.QueryRowContext(ctx,
		`SELECT owner_id, owner_kind, total_purchased, total_consumed, locked_qty,
                created_at, updated_at
           FROM ledger_accounts
          WHERE owner_kind = ? AND owner_id = ?`,
		ref.OwnerKind, ref.OwnerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Balance{}, nil
		}
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return acc.Snapshot(), nil
}

// Transactions returns the account's audit trail in creation order.
func (t *Tx) Transactions(ctx context.Context, ref model.AccountRef) ([]model.LedgerTransaction, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, owner_id, owner_kind, kind, qty, reference, created_at
           FROM ledger_transactions
          WHERE owner_kind = ? AND owner_id = ?
          ORDER BY id`,
		ref.OwnerKind, ref.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list ledger transactions: %w", err)
	}
	defer rows.Close()
	var out []model.LedgerTransaction
	for rows.Next() {
		var tr model.LedgerTransaction
		if err := rows.Scan(&tr.ID, &tr.OwnerID, &tr.OwnerKind, &tr.Kind,
			&tr.Qty, &tr.Reference, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger transaction: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanAccount(row rowScanner) (*model.LedgerAccount, error) {
	var acc model.LedgerAccount
	err := row.Scan(&acc.OwnerID, &acc.OwnerKind, &acc.TotalPurchased,
		&acc.TotalConsumed, &acc.LockedQty, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
