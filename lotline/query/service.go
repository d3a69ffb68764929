// Package query is the read side of the auction service. It serves aggregate
// snapshots and listings with a short-lived LRU cache in front of the store,
// collapsing concurrent cache misses with singleflight.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/lotline/lotline/lotline/engine"
)

const (
	cacheSize          = 2000
	defaultCacheExpiry = 2 * time.Second
)

// AuctionReader is the subset of the auction store the read side needs.
type AuctionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*engine.Auction, error)
	ListActive(ctx context.Context, now time.Time) ([]*engine.Auction, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*engine.Auction, error)
}

// cachedAuction represents a cached aggregate snapshot
type cachedAuction struct {
	auction   *engine.Auction
	timestamp time.Time
}

type Service struct {
	store       AuctionReader
	watches     engine.WatchStore
	cache       *lru.Cache
	cacheExpiry time.Duration
	group       singleflight.Group
}

func NewService(store AuctionReader, watches engine.WatchStore, cacheExpiry time.Duration) *Service {
	if cacheExpiry <= 0 {
		cacheExpiry = defaultCacheExpiry
	}
	cache, _ := lru.New(cacheSize)
	return &Service{
		store:       store,
		watches:     watches,
		cache:       cache,
		cacheExpiry: cacheExpiry,
	}
}

// GetAuction returns a snapshot of the aggregate, served from cache when a
// fresh enough entry exists. Concurrent misses for the same auction share a
// single store read.
func (s *Service) GetAuction(ctx context.Context, id uuid.UUID) (*engine.Auction, error) {
	cacheKey := fmt.Sprintf("auction:%s", id)
	if cached, ok := s.cache.Get(cacheKey); ok {
		if c, ok := cached.(cachedAuction); ok {
			if time.Since(c.timestamp) < s.cacheExpiry {
				return c.auction, nil
			}
		}
	}

	v, err, _ := s.group.Do(cacheKey, func() (interface{}, error) {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Add(cacheKey, cachedAuction{
			auction:   a,
			timestamp: time.Now(),
		})
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*engine.Auction), nil
}

// Invalidate drops the cached snapshot for an auction. Write paths call this
// so readers see their own writes without waiting out the expiry.
func (s *Service) Invalidate(id uuid.UUID) {
	s.cache.Remove(fmt.Sprintf("auction:%s", id))
}

// BidHistory returns the auction's bids newest first.
func (s *Service) BidHistory(ctx context.Context, id uuid.UUID) ([]engine.Bid, error) {
	a, err := s.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}

	bids := make([]engine.Bid, len(a.Bids))
	for i, b := range a.Bids {
		bids[len(a.Bids)-1-i] = b
	}
	return bids, nil
}

// ListActive returns active auctions, newest first.
func (s *Service) ListActive(ctx context.Context) ([]*engine.Auction, error) {
	return s.store.ListActive(ctx, time.Now())
}

// WatchedAuctions returns the auctions a user is watching.
func (s *Service) WatchedAuctions(ctx context.Context, userID uuid.UUID) ([]*engine.Auction, error) {
	ids, err := s.watches.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched auctions: %w", err)
	}
	if len(ids) == 0 {
		return []*engine.Auction{}, nil
	}
	return s.store.ListByIDs(ctx, ids)
}
