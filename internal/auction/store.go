package auction

import (
	"context"
	"time"

	"github.com/aaronwang/auction-house/internal/models"
)

// Tx is an opaque handle to an in-flight store transaction. The engine and
// scheduler never interpret it; they only thread it through store and ledger
// calls so that an item mutation and its money movement commit as one unit.
type Tx interface{}

// DueField selects which timestamp a due-scan compares against the cutoff.
type DueField string

const (
	DueStart DueField = "start_time"
	DueEnd   DueField = "end_time"
)

// Store is the persistence boundary consumed by the core. Implementations
// must give row-level atomicity: reads "ForUpdate" lock the row for the
// duration of the transaction (bounded wait, ErrBusy on timeout), and
// UpdateItem must fail with ErrConflict when expectedVersion is stale.
type Store interface {
	// WithinTx runs fn inside a single transaction, committing if fn
	// returns nil and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	InsertItem(ctx context.Context, tx Tx, item *models.Item) error
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	GetItemForUpdate(ctx context.Context, tx Tx, id int64) (*models.Item, error)
	UpdateItem(ctx context.Context, tx Tx, item *models.Item, expectedVersion int64) error
	// ListDue returns ids of items in the given status whose field is at or
	// before cutoff. The caller re-checks each candidate under its own lock.
	ListDue(ctx context.Context, status models.Status, field DueField, cutoff time.Time) ([]int64, error)
	// AppendBid writes an immutable bid record.
	AppendBid(ctx context.Context, tx Tx, bid *models.Bid) error

	// GetWalletForUpdate locks (creating if absent) the user's wallet row.
	GetWalletForUpdate(ctx context.Context, tx Tx, userID string) (*models.Wallet, error)
	UpdateWallet(ctx context.Context, tx Tx, w *models.Wallet) error
	// AppendTransaction writes an immutable wallet ledger entry.
	AppendTransaction(ctx context.Context, tx Tx, txn *models.Transaction) error
}

// Sink is the notification fan-out consumed by the engine and scheduler.
// Both methods are best-effort: a sink error is logged by the caller and
// never rolls back the committed state change.
type Sink interface {
	// NotifyUser delivers a persisted inbox-style message to one user.
	NotifyUser(ctx context.Context, userID string, itemID int64, text string) error
	// Broadcast pushes an ephemeral event to the item's subscriber room.
	Broadcast(ctx context.Context, itemID int64, event string, payload interface{}) error
}

// EventStream is the durable archival stream for committed bid and
// settlement events. Best-effort, same as Sink.
type EventStream interface {
	PublishBidEvent(ctx context.Context, ev *models.BidEvent) error
	PublishAuctionEnded(ctx context.Context, ev *models.AuctionEndedEvent) error
}
