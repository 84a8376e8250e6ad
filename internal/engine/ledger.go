package engine

import (
	"fmt"

	"github.com/joaovsf/fitbook/internal/model"
)

// creditKinds and debitKinds partition the transaction kinds by
// direction.  Credit kinds enter through Tx.Credit, debit kinds
// through Tx.Debit; the stored Qty is signed accordingly.
var creditKinds = map[model.TxKind]bool{
	model.TxPurchase: true,
	model.TxUnlock:   true,
	model.TxRefund:   true,
}

var debitKinds = map[model.TxKind]bool{
	model.TxLock:    true,
	model.TxConsume: true,
	model.TxPenalty: true,
}

// IsCreditKind reports whether kind increases the owner's usable or
// purchased credit.
func IsCreditKind(kind model.TxKind) bool { return creditKinds[kind] }

// IsDebitKind reports whether kind locks or consumes credit.
func IsDebitKind(kind model.TxKind) bool { return debitKinds[kind] }

// ApplyTransaction mutates the account counters for one transaction of
// the given kind and positive quantity.  Both store implementations and
// the reconciliation replay route every counter change through this
// single function so the ledger stays replayable by construction.
//
// Effects per kind:
//
//	PURCHASE, REFUND  total_purchased += qty
//	LOCK              locked_qty += qty      (available must stay >= 0)
//	UNLOCK            locked_qty -= qty
//	CONSUME, PENALTY  locked_qty -= qty, total_consumed += qty
func ApplyTransaction(acc *model.LedgerAccount, kind model.TxKind, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	switch kind {
	case model.TxPurchase, model.TxRefund:
		acc.TotalPurchased += qty
	case model.TxLock:
		acc.LockedQty += qty
		if acc.Available() < 0 {
			acc.LockedQty -= qty
			return ErrInsufficientBalance
		}
	case model.TxUnlock:
		if acc.LockedQty < qty {
			return fmt.Errorf("%w: unlock %d exceeds locked %d", ErrInternal, qty, acc.LockedQty)
		}
		acc.LockedQty -= qty
	case model.TxConsume, model.TxPenalty:
		if acc.LockedQty < qty {
			return fmt.Errorf("%w: %s %d exceeds locked %d", ErrInternal, kind, qty, acc.LockedQty)
		}
		acc.LockedQty -= qty
		acc.TotalConsumed += qty
	default:
		return fmt.Errorf("%w: unknown transaction kind %q", ErrInternal, kind)
	}
	return nil
}

// Replay reapplies all transactions to a zero account and returns the
// resulting counters.  Transactions must be in creation order.
func Replay(ref model.AccountRef, txs []model.LedgerTransaction) (model.LedgerAccount, error) {
	acc := model.LedgerAccount{OwnerID: ref.OwnerID, OwnerKind: ref.OwnerKind}
	for i := range txs {
		qty := txs[i].Qty
		if qty < 0 {
			qty = -qty
		}
		if err := ApplyTransaction(&acc, txs[i].Kind, qty); err != nil {
			return acc, fmt.Errorf("replay transaction %d: %w", txs[i].ID, err)
		}
	}
	return acc, nil
}
