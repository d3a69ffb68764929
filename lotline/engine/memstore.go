package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same CAS discipline as the
// SQL-backed one. It backs tests and single-node embedded deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*Auction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{auctions: make(map[uuid.UUID]*Auction)}
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, a *Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := a.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.auctions[c.ID] = c
	return nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutator) (*Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.auctions[id]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionMismatch
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()
	s.auctions[id] = next

	return next.Clone(), nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, a := range s.auctions {
		if a.Status == StatusActive && !a.EndTime.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) ListUnsettled(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, a := range s.auctions {
		if a.Status == StatusEnded && !a.Settled && a.HasWinner() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ListActive returns snapshots of auctions still open at now, newest first
// by creation time.
func (s *MemoryStore) ListActive(ctx context.Context, now time.Time) ([]*Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Auction
	for _, a := range s.auctions {
		if a.Status == StatusActive && a.EndTime.After(now) {
			out = append(out, a.Clone())
		}
	}
	sortAuctionsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Auction, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.auctions[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func sortAuctionsNewestFirst(as []*Auction) {
	sort.Slice(as, func(i, j int) bool {
		return as[i].CreatedAt.After(as[j].CreatedAt)
	})
}

type watchKey struct {
	auctionID uuid.UUID
	userID    uuid.UUID
}

// MemoryWatchStore is the in-process watch relation.
type MemoryWatchStore struct {
	mu      sync.RWMutex
	members map[watchKey]struct{}
}

func NewMemoryWatchStore() *MemoryWatchStore {
	return &MemoryWatchStore{members: make(map[watchKey]struct{})}
}

func (s *MemoryWatchStore) IsWatching(ctx context.Context, auctionID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[watchKey{auctionID, userID}]
	return ok, nil
}

func (s *MemoryWatchStore) Add(ctx context.Context, auctionID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[watchKey{auctionID, userID}] = struct{}{}
	return nil
}

func (s *MemoryWatchStore) Remove(ctx context.Context, auctionID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, watchKey{auctionID, userID})
	return nil
}

func (s *MemoryWatchStore) Count(ctx context.Context, auctionID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.members {
		if k.auctionID == auctionID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryWatchStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for k := range s.members {
		if k.userID == userID {
			ids = append(ids, k.auctionID)
		}
	}
	return ids, nil
}

// MemorySettlementStore enforces the one-settlement-per-auction constraint
// the way the SQL store does with its unique index.
type MemorySettlementStore struct {
	mu        sync.Mutex
	byAuction map[uuid.UUID]*Settlement
}

func NewMemorySettlementStore() *MemorySettlementStore {
	return &MemorySettlementStore{byAuction: make(map[uuid.UUID]*Settlement)}
}

func (s *MemorySettlementStore) Create(ctx context.Context, rec *Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byAuction[rec.AuctionID]; ok {
		return false, nil
	}
	c := *rec
	s.byAuction[rec.AuctionID] = &c
	return true, nil
}

func (s *MemorySettlementStore) GetByAuctionID(ctx context.Context, auctionID uuid.UUID) (*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byAuction[auctionID]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (s *MemorySettlementStore) SetCheckout(ctx context.Context, id uuid.UUID, checkoutID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.byAuction {
		if rec.ID == id {
			rec.CheckoutID = checkoutID
			return nil
		}
	}
	return nil
}

func (s *MemorySettlementStore) MarkPaid(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.byAuction {
		if rec.ID == id {
			rec.Paid = true
			return nil
		}
	}
	return nil
}

func (s *MemorySettlementStore) ListUnpaid(ctx context.Context) ([]*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Settlement
	for _, rec := range s.byAuction {
		if !rec.Paid {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}
