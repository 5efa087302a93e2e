package auction

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-house/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fund puts amount into the user's available balance directly.
func fund(t *testing.T, store *memStore, userID string, amount string) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		w, err := store.GetWalletForUpdate(context.Background(), tx, userID)
		if err != nil {
			return err
		}
		w.Available = w.Available.Add(dec(amount))
		return store.UpdateWallet(context.Background(), tx, w)
	})
	assert.NoError(t, err)
}

func TestLedgerFreeze(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	ctx := context.Background()
	fund(t, store, "alice", "500")

	err := store.WithinTx(ctx, func(tx Tx) error {
		return ledger.Freeze(ctx, tx, "alice", dec("200"), 7, models.TxFrozen)
	})
	assert.NoError(t, err)

	w := store.wallet("alice")
	check.True(t, w.Available.Equal(dec("300")))
	check.True(t, w.Frozen.Equal(dec("200")))

	assert.Equal(t, 1, len(store.txns))
	check.Equal(t, models.TxFrozen, store.txns[0].Kind)
	check.True(t, store.txns[0].Amount.Equal(dec("200")))
	check.Equal(t, int64(7), store.txns[0].ItemID)
}

func TestLedgerFreezeInsufficientFunds(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	ctx := context.Background()
	fund(t, store, "alice", "100")

	err := store.WithinTx(ctx, func(tx Tx) error {
		return ledger.Freeze(ctx, tx, "alice", dec("200"), 7, models.TxFrozen)
	})
	assert.Error(t, err)
	check.True(t, errors.Is(err, ErrInsufficientFunds))

	// Failed freeze leaves no trace.
	w := store.wallet("alice")
	check.True(t, w.Available.Equal(dec("100")))
	check.True(t, w.Frozen.IsZero())
	check.Equal(t, 0, len(store.txns))
}

func TestLedgerReleaseInvariant(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	ctx := context.Background()
	fund(t, store, "alice", "100")

	err := store.WithinTx(ctx, func(tx Tx) error {
		return ledger.Release(ctx, tx, "alice", dec("50"), 7, models.TxRefund)
	})
	assert.Error(t, err)
	check.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestLedgerRefundRoundTrip(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	ctx := context.Background()
	fund(t, store, "alice", "500")

	err := store.WithinTx(ctx, func(tx Tx) error {
		if err := ledger.Freeze(ctx, tx, "alice", dec("200"), 7, models.TxFrozen); err != nil {
			return err
		}
		return ledger.Refund(ctx, tx, "alice", dec("200"), 7)
	})
	assert.NoError(t, err)

	w := store.wallet("alice")
	check.True(t, w.Available.Equal(dec("500")))
	check.True(t, w.Frozen.IsZero())
	assert.Equal(t, 2, len(store.txns))
	check.Equal(t, models.TxRefund, store.txns[1].Kind)
}

func TestLedgerSettle(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	ctx := context.Background()
	fund(t, store, "buyer", "300")

	err := store.WithinTx(ctx, func(tx Tx) error {
		if err := ledger.Freeze(ctx, tx, "buyer", dec("250"), 7, models.TxFrozen); err != nil {
			return err
		}
		return ledger.Settle(ctx, tx, "buyer", "seller", dec("250"), 7)
	})
	assert.NoError(t, err)

	buyer := store.wallet("buyer")
	seller := store.wallet("seller")
	check.True(t, buyer.Frozen.IsZero())
	check.True(t, buyer.Available.Equal(dec("50")))
	check.True(t, seller.Available.Equal(dec("250")))

	// Pure transfer: total money unchanged.
	total := buyer.Available.Add(buyer.Frozen).Add(seller.Available).Add(seller.Frozen)
	check.True(t, total.Equal(dec("300")))

	// freeze + payment/payout pair.
	assert.Equal(t, 3, len(store.txns))
	check.Equal(t, models.TxPayment, store.txns[1].Kind)
	check.Equal(t, models.TxPayout, store.txns[2].Kind)
}

func TestLedgerSettleWithoutEscrow(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx Tx) error {
		return ledger.Settle(ctx, tx, "buyer", "seller", dec("250"), 7)
	})
	assert.Error(t, err)
	check.True(t, errors.Is(err, ErrInvariantViolation))
	check.True(t, store.wallet("seller").Available.IsZero())
}

func TestLedgerRecharge(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx Tx) error {
		return ledger.Recharge(ctx, tx, "alice", dec("120.50"))
	})
	assert.NoError(t, err)

	w := store.wallet("alice")
	check.True(t, w.Available.Equal(dec("120.50")))
	assert.Equal(t, 1, len(store.txns))
	check.Equal(t, models.TxRecharge, store.txns[0].Kind)
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	for _, amount := range []string{"0", "-5"} {
		err := store.WithinTx(ctx, func(tx Tx) error {
			return ledger.Freeze(ctx, tx, "alice", dec(amount), 0, models.TxFrozen)
		})
		check.True(t, errors.Is(err, ErrInvariantViolation))
	}
}
