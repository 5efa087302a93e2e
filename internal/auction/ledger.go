package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-house/internal/models"
)

// Ledger moves money between a wallet's available and frozen balances.
// Every movement appends exactly one immutable transaction record per
// wallet it touches, inside the caller's Tx, so a wallet mutation can
// never commit without its ledger entry (or vice versa).
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Freeze moves amount from available to frozen, recording kind (TxFrozen
// for bid escrow, TxDeposit for listing deposits). Fails with
// ErrInsufficientFunds if available < amount.
func (l *Ledger) Freeze(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, itemID int64, kind models.TransactionKind) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("freeze %s for user %s: non-positive amount: %w", amount, userID, ErrInvariantViolation)
	}
	w, err := l.store.GetWalletForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	if w.Available.LessThan(amount) {
		return fmt.Errorf("user %s has %s available, needs %s: %w", userID, w.Available, amount, ErrInsufficientFunds)
	}
	w.Available = w.Available.Sub(amount)
	w.Frozen = w.Frozen.Add(amount)
	if err := l.store.UpdateWallet(ctx, tx, w); err != nil {
		return err
	}
	return l.record(ctx, tx, userID, kind, amount, itemID)
}

// Release moves amount from frozen back to available, recording kind
// (TxRefund for escrow, TxApplied for deposits returned after a finished
// auction). Fails with ErrInvariantViolation if frozen < amount: correct
// callers never release more than they froze.
func (l *Ledger) Release(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, itemID int64, kind models.TransactionKind) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("release %s for user %s: non-positive amount: %w", amount, userID, ErrInvariantViolation)
	}
	w, err := l.store.GetWalletForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	if w.Frozen.LessThan(amount) {
		return fmt.Errorf("user %s has %s frozen, release of %s: %w", userID, w.Frozen, amount, ErrInvariantViolation)
	}
	w.Frozen = w.Frozen.Sub(amount)
	w.Available = w.Available.Add(amount)
	if err := l.store.UpdateWallet(ctx, tx, w); err != nil {
		return err
	}
	return l.record(ctx, tx, userID, kind, amount, itemID)
}

// Refund is Release recorded with kind TxRefund; used when a bidder is
// outbid, an item is force-stopped, or a pending listing is rejected.
func (l *Ledger) Refund(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, itemID int64) error {
	return l.Release(ctx, tx, userID, amount, itemID, models.TxRefund)
}

// Settle consumes amount from fromUser's frozen escrow and credits it to
// toUser's available balance, recording a payment/payout pair. Used for
// winning-bid settlement.
func (l *Ledger) Settle(ctx context.Context, tx Tx, fromUser, toUser string, amount decimal.Decimal, itemID int64) error {
	return l.transfer(ctx, tx, fromUser, toUser, amount, itemID, models.TxPayment, models.TxPayout)
}

// Forfeit seizes amount from fromUser's frozen deposit and credits it to
// the platform account, recording forfeit entries on both sides. Used when
// an admin force-stops a listing.
func (l *Ledger) Forfeit(ctx context.Context, tx Tx, fromUser, platform string, amount decimal.Decimal, itemID int64) error {
	return l.transfer(ctx, tx, fromUser, platform, amount, itemID, models.TxForfeit, models.TxForfeit)
}

// Recharge credits amount to the user's available balance.
func (l *Ledger) Recharge(ctx context.Context, tx Tx, userID string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("recharge %s for user %s: non-positive amount: %w", amount, userID, ErrInvariantViolation)
	}
	w, err := l.store.GetWalletForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	w.Available = w.Available.Add(amount)
	if err := l.store.UpdateWallet(ctx, tx, w); err != nil {
		return err
	}
	return l.record(ctx, tx, userID, models.TxRecharge, amount, 0)
}

func (l *Ledger) transfer(ctx context.Context, tx Tx, fromUser, toUser string, amount decimal.Decimal, itemID int64, fromKind, toKind models.TransactionKind) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("transfer %s from %s to %s: non-positive amount: %w", amount, fromUser, toUser, ErrInvariantViolation)
	}
	from, err := l.store.GetWalletForUpdate(ctx, tx, fromUser)
	if err != nil {
		return err
	}
	if from.Frozen.LessThan(amount) {
		return fmt.Errorf("user %s has %s frozen, transfer of %s: %w", fromUser, from.Frozen, amount, ErrInvariantViolation)
	}
	from.Frozen = from.Frozen.Sub(amount)
	if err := l.store.UpdateWallet(ctx, tx, from); err != nil {
		return err
	}
	to, err := l.store.GetWalletForUpdate(ctx, tx, toUser)
	if err != nil {
		return err
	}
	to.Available = to.Available.Add(amount)
	if err := l.store.UpdateWallet(ctx, tx, to); err != nil {
		return err
	}
	if err := l.record(ctx, tx, fromUser, fromKind, amount, itemID); err != nil {
		return err
	}
	return l.record(ctx, tx, toUser, toKind, amount, itemID)
}

func (l *Ledger) record(ctx context.Context, tx Tx, userID string, kind models.TransactionKind, amount decimal.Decimal, itemID int64) error {
	return l.store.AppendTransaction(ctx, tx, &models.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		ItemID:    itemID,
		Timestamp: l.now().UTC(),
	})
}
