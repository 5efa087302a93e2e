package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aaronwang/auction-house/internal/models"
)

// Scheduler is the control loop that advances item state on wallclock
// deadlines: approved items whose start time has passed are promoted to
// active, and active items whose end time has passed are settled. Each
// candidate item is handled in its own transaction under the same row lock
// that PlaceBid takes, so a late bid and a settlement for the same item
// always serialize. One item's failure never aborts the scan, and no tick
// failure ever terminates the loop.
type Scheduler struct {
	store  Store
	ledger *Ledger
	sink   Sink
	stream EventStream
	log    *slog.Logger

	interval time.Duration
	now      func() time.Time
}

// NewScheduler wires the auction scheduler. interval is the tick period
// (reference configuration: 10 seconds).
func NewScheduler(store Store, ledger *Ledger, sink Sink, stream EventStream, log *slog.Logger, interval time.Duration) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		store:    store,
		ledger:   ledger,
		sink:     sink,
		stream:   stream,
		log:      log.With("component", "scheduler"),
		interval: interval,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled. In-flight work is never cancelled
// mid-transaction; shutdown simply stops scheduling further ticks.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one promotion scan and one settlement scan. Exported so tests
// and operational tooling can drive the scheduler without the timer.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.promote(ctx, now)
	s.settle(ctx, now)
}

// promote flips approved items whose start time has passed to active. Pure
// status change, no money movement; re-running is a no-op because the scan
// only matches approved rows.
func (s *Scheduler) promote(ctx context.Context, now time.Time) {
	ids, err := s.store.ListDue(ctx, models.StatusApproved, DueStart, now)
	if err != nil {
		s.log.Error("promotion scan failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := s.promoteOne(ctx, id, now); err != nil {
			s.log.Error("promotion failed", "item_id", id, "error", err)
		}
	}
}

func (s *Scheduler) promoteOne(ctx context.Context, itemID int64, now time.Time) error {
	var promoted *models.Item
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		item, err := s.store.GetItemForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		// Re-check under the lock: another process may have advanced it.
		if item.Status != models.StatusApproved || item.StartTime.After(now) {
			return nil
		}
		item.Status = models.StatusActive
		item.UpdatedAt = now.UTC()
		if err := s.store.UpdateItem(ctx, tx, item, item.Version); err != nil {
			return err
		}
		promoted = item
		return nil
	})
	if err != nil || promoted == nil {
		return err
	}
	s.log.Info("auction started", "item_id", promoted.ID, "name", promoted.Name)
	return nil
}

// settle ends active items whose end time has passed. With a highest bidder
// the status flip, order-hash assignment and escrow settlement commit as
// one unit, so a crash can never leave the item ended without the money
// moved. Notifications are best-effort and run after commit.
func (s *Scheduler) settle(ctx context.Context, now time.Time) {
	ids, err := s.store.ListDue(ctx, models.StatusActive, DueEnd, now)
	if err != nil {
		s.log.Error("settlement scan failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := s.settleOne(ctx, id, now); err != nil {
			s.log.Error("settlement failed", "item_id", id, "error", err)
		}
	}
}

func (s *Scheduler) settleOne(ctx context.Context, itemID int64, now time.Time) error {
	var ended *models.Item
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		item, err := s.store.GetItemForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		// Re-check under the lock. This is what makes settlement
		// idempotent: a second scan sees status != active and walks away
		// without regenerating the order hash or moving money twice.
		if item.Status != models.StatusActive || item.EndTime.After(now) {
			return nil
		}
		if item.HasBidder() {
			item.OrderHash = OrderHash(now, item.ID)
			if err := s.ledger.Settle(ctx, tx, item.HighestBidderID, item.SellerID, item.CurrentPrice, item.ID); err != nil {
				return err
			}
		}
		if item.Deposit.Sign() > 0 {
			if err := s.ledger.Release(ctx, tx, item.SellerID, item.Deposit, item.ID, models.TxApplied); err != nil {
				return err
			}
		}
		item.Status = models.StatusEnded
		item.UpdatedAt = now.UTC()
		if err := s.store.UpdateItem(ctx, tx, item, item.Version); err != nil {
			return err
		}
		ended = item
		return nil
	})
	if err != nil || ended == nil {
		return err
	}

	if ended.HasBidder() {
		s.notifyUser(ctx, ended.HighestBidderID, ended.ID,
			fmt.Sprintf("Congratulations! You won %q at %s. Order number: %s", ended.Name, ended.CurrentPrice, ended.OrderHash))
		s.notifyUser(ctx, ended.SellerID, ended.ID,
			fmt.Sprintf("Your listing %q sold for %s to %s. Order number: %s", ended.Name, ended.CurrentPrice, ended.HighestBidderID, ended.OrderHash))
	} else {
		s.notifyUser(ctx, ended.SellerID, ended.ID,
			fmt.Sprintf("The auction for %q has ended with no bids.", ended.Name))
	}

	ev := &models.AuctionEndedEvent{
		EventID:    uuid.New().String(),
		ItemID:     ended.ID,
		Winner:     ended.HighestBidderID,
		FinalPrice: ended.CurrentPrice,
		OrderHash:  ended.OrderHash,
		Timestamp:  now.UTC(),
	}
	if s.sink != nil {
		if err := s.sink.Broadcast(ctx, ended.ID, models.EventAuctionEnded, ev); err != nil {
			s.log.Warn("auction_ended broadcast failed", "item_id", ended.ID, "error", err)
		}
	}
	if s.stream != nil {
		if err := s.stream.PublishAuctionEnded(ctx, ev); err != nil {
			s.log.Warn("auction_ended archival publish failed", "item_id", ended.ID, "error", err)
		}
	}
	s.log.Info("auction settled", "item_id", ended.ID, "winner", ended.HighestBidderID, "price", ended.CurrentPrice.String(), "order_hash", ended.OrderHash)
	return nil
}

func (s *Scheduler) notifyUser(ctx context.Context, userID string, itemID int64, text string) {
	if s.sink == nil {
		return
	}
	if err := s.sink.NotifyUser(ctx, userID, itemID, text); err != nil {
		s.log.Warn("user notification failed", "user_id", userID, "item_id", itemID, "error", err)
	}
}
