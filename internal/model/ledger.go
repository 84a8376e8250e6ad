package model

import "time"

// OwnerKind distinguishes the two ledger account families: class
// credits held by students and hour credits earned by teachers.
type OwnerKind string

const (
	OwnerStudent OwnerKind = "STUDENT"
	OwnerTeacher OwnerKind = "TEACHER"
)

// TxKind enumerates the ledger transaction kinds.  Each kind has a
// fixed effect on the account counters; see the engine's
// ApplyTransaction for the exact arithmetic.
type TxKind string

const (
	TxPurchase TxKind = "PURCHASE"
	TxConsume  TxKind = "CONSUME"
	TxLock     TxKind = "LOCK"
	TxUnlock   TxKind = "UNLOCK"
	TxRefund   TxKind = "REFUND"
	TxPenalty  TxKind = "PENALTY"
)

// AccountRef identifies a ledger account by its owner.  Accounts are
// created lazily on first credit and never deleted.
type AccountRef struct {
	OwnerID   int64
	OwnerKind OwnerKind
}

// LedgerAccount holds the materialized counters for one owner.  The
// derived available balance must never go negative; every mutation
// happens through a LedgerTransaction so that replaying the
// transaction log reproduces the counters exactly.
type LedgerAccount struct {
	OwnerID        int64
	OwnerKind      OwnerKind
	TotalPurchased int
	TotalConsumed  int
	LockedQty      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Available returns purchased minus consumed minus locked.
func (a *LedgerAccount) Available() int {
	return a.TotalPurchased - a.TotalConsumed - a.LockedQty
}

// Balance is the point-in-time counter snapshot returned to callers.
type Balance struct {
	TotalPurchased int `json:"total_purchased"`
	TotalConsumed  int `json:"total_consumed"`
	LockedQty      int `json:"locked_qty"`
	Available      int `json:"available"`
}

// Snapshot converts the account counters into a Balance.
func (a *LedgerAccount) Snapshot() Balance {
	return Balance{
		TotalPurchased: a.TotalPurchased,
		TotalConsumed:  a.TotalConsumed,
		LockedQty:      a.LockedQty,
		Available:      a.Available(),
	}
}

// LedgerTransaction is one append-only entry in an account's audit
// trail.  Qty carries the signed effect (credits positive, debits
// negative); Reference points at the booking or package that caused
// the entry.
type LedgerTransaction struct {
	ID        uint64
	OwnerID   int64
	OwnerKind OwnerKind
	Kind      TxKind
	Qty       int
	Reference string
	CreatedAt time.Time
}
