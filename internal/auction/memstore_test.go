package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aaronwang/auction-house/internal/models"
)

// memStore is an in-memory Store for tests. A mutex held for the whole
// WithinTx call serializes transactions the way row locks do, and a
// snapshot taken at transaction start restores state on error so failed
// operations leave no partial writes.
type memStore struct {
	mu      sync.Mutex
	items   map[int64]*models.Item
	bids    []*models.Bid
	wallets map[string]*models.Wallet
	txns    []*models.Transaction
	nextID  int64

	// conflictsLeft makes the next n UpdateItem calls fail with ErrConflict.
	conflictsLeft int
}

type memTx struct{}

func newMemStore() *memStore {
	return &memStore{
		items:   map[int64]*models.Item{},
		wallets: map[string]*models.Wallet{},
		nextID:  1,
	}
}

type memSnapshot struct {
	items   map[int64]*models.Item
	bids    []*models.Bid
	wallets map[string]*models.Wallet
	txns    []*models.Transaction
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		items:   make(map[int64]*models.Item, len(s.items)),
		wallets: make(map[string]*models.Wallet, len(s.wallets)),
		bids:    append([]*models.Bid(nil), s.bids...),
		txns:    append([]*models.Transaction(nil), s.txns...),
	}
	for id, item := range s.items {
		c := *item
		snap.items[id] = &c
	}
	for id, w := range s.wallets {
		c := *w
		snap.wallets[id] = &c
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.items = snap.items
	s.wallets = snap.wallets
	s.bids = snap.bids
	s.txns = snap.txns
}

func (s *memStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(memTx{}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) InsertItem(_ context.Context, _ Tx, item *models.Item) error {
	item.ID = s.nextID
	s.nextID++
	item.Version = 1
	c := *item
	s.items[item.ID] = &c
	return nil
}

func (s *memStore) GetItem(_ context.Context, id int64) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	c := *item
	return &c, nil
}

func (s *memStore) GetItemForUpdate(_ context.Context, _ Tx, id int64) (*models.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	c := *item
	return &c, nil
}

func (s *memStore) UpdateItem(_ context.Context, _ Tx, item *models.Item, expectedVersion int64) error {
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return fmt.Errorf("item %d: %w", item.ID, ErrConflict)
	}
	stored, ok := s.items[item.ID]
	if !ok {
		return fmt.Errorf("item %d: %w", item.ID, ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("item %d version %d is stale: %w", item.ID, expectedVersion, ErrConflict)
	}
	c := *item
	c.Version = expectedVersion + 1
	s.items[item.ID] = &c
	item.Version = c.Version
	return nil
}

func (s *memStore) ListDue(_ context.Context, status models.Status, field DueField, cutoff time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, item := range s.items {
		if item.Status != status {
			continue
		}
		ts := item.StartTime
		if field == DueEnd {
			ts = item.EndTime
		}
		if !ts.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) AppendBid(_ context.Context, _ Tx, bid *models.Bid) error {
	c := *bid
	s.bids = append(s.bids, &c)
	return nil
}

func (s *memStore) GetWalletForUpdate(_ context.Context, _ Tx, userID string) (*models.Wallet, error) {
	w, ok := s.wallets[userID]
	if !ok {
		w = &models.Wallet{UserID: userID}
		s.wallets[userID] = w
	}
	c := *w
	return &c, nil
}

func (s *memStore) UpdateWallet(_ context.Context, _ Tx, w *models.Wallet) error {
	if _, ok := s.wallets[w.UserID]; !ok {
		return fmt.Errorf("wallet for %s: %w", w.UserID, ErrNotFound)
	}
	c := *w
	s.wallets[w.UserID] = &c
	return nil
}

func (s *memStore) AppendTransaction(_ context.Context, _ Tx, txn *models.Transaction) error {
	c := *txn
	s.txns = append(s.txns, &c)
	return nil
}

// wallet returns a copy of the user's wallet for assertions.
func (s *memStore) wallet(userID string) models.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		return *w
	}
	return models.Wallet{UserID: userID}
}

// item returns a copy of the stored item for assertions.
func (s *memStore) item(id int64) models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

// notice is one recorded NotifyUser call.
type notice struct {
	UserID string
	ItemID int64
	Text   string
}

// broadcastRec is one recorded Broadcast call.
type broadcastRec struct {
	ItemID int64
	Event  string
}

// memSink records sink calls; failNotify/failBroadcast make calls error to
// prove emissions are best-effort.
type memSink struct {
	mu            sync.Mutex
	notices       []notice
	broadcasts    []broadcastRec
	failNotify    bool
	failBroadcast bool
}

func (s *memSink) NotifyUser(_ context.Context, userID string, itemID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNotify {
		return fmt.Errorf("sink down")
	}
	s.notices = append(s.notices, notice{UserID: userID, ItemID: itemID, Text: text})
	return nil
}

func (s *memSink) Broadcast(_ context.Context, itemID int64, event string, _ interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBroadcast {
		return fmt.Errorf("sink down")
	}
	s.broadcasts = append(s.broadcasts, broadcastRec{ItemID: itemID, Event: event})
	return nil
}

func (s *memSink) noticesFor(userID string) []notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notice
	for _, n := range s.notices {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// memStream records archival stream publications.
type memStream struct {
	mu        sync.Mutex
	bidEvents []*models.BidEvent
	endEvents []*models.AuctionEndedEvent
}

func (s *memStream) PublishBidEvent(_ context.Context, ev *models.BidEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bidEvents = append(s.bidEvents, ev)
	return nil
}

func (s *memStream) PublishAuctionEnded(_ context.Context, ev *models.AuctionEndedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endEvents = append(s.endEvents, ev)
	return nil
}
