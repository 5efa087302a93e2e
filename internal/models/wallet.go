package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's balances. Frozen is money escrowed against the
// user's standing highest bids plus any active listing deposits; both
// balances stay non-negative at all times.
type Wallet struct {
	UserID    string          `json:"user_id"`
	Available decimal.Decimal `json:"available"`
	Frozen    decimal.Decimal `json:"frozen"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionKind classifies a wallet ledger entry.
type TransactionKind string

const (
	TxRecharge TransactionKind = "recharge" // top-up into available
	TxFrozen   TransactionKind = "frozen"   // available → frozen (bid escrow)
	TxDeposit  TransactionKind = "deposit"  // available → frozen (listing deposit)
	TxRefund   TransactionKind = "refund"   // frozen → available (outbid / no-sale / rejection)
	TxPayment  TransactionKind = "payment"  // winner's frozen escrow consumed at settlement
	TxPayout   TransactionKind = "payout"   // seller credited at settlement
	TxApplied  TransactionKind = "applied"  // listing deposit released after a finished auction
	TxForfeit  TransactionKind = "forfeit"  // listing deposit seized on force-stop
)

// Transaction is an immutable, append-only wallet ledger entry. Every
// wallet mutation writes exactly one entry per wallet it touches, inside
// the same database transaction.
type Transaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Kind      TransactionKind `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	ItemID    int64           `json:"item_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Message is a persisted inbox notification for a user.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ItemID    int64     `json:"item_id,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
