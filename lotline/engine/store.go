package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mutator applies a full mutation to an aggregate snapshot. The store either
// persists the whole mutation with a bumped version or fails atomically.
type Mutator func(a *Auction) error

// Store is the single source of truth for auction aggregates. Reads return
// snapshots; writes go through CompareAndSwap keyed on the version observed
// at read time. Components never cache aggregate state across calls, so every
// operation is restartable by resuming reads.
type Store interface {
	// Get returns a snapshot of the aggregate or ErrAuctionNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Auction, error)

	// Create persists a new aggregate at version 1.
	Create(ctx context.Context, a *Auction) error

	// CompareAndSwap applies mutate to the current aggregate iff its version
	// still equals expectedVersion, bumps the version, and returns the new
	// snapshot. A concurrent write surfaces as ErrVersionMismatch; callers
	// must re-read and re-validate before retrying.
	CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutator) (*Auction, error)

	// ListExpired returns ids of active auctions whose deadline has passed.
	ListExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// ListUnsettled returns ids of ended auctions that have a winning bid
	// clearing any reserve but no settlement yet.
	ListUnsettled(ctx context.Context) ([]uuid.UUID, error)
}

// WatchStore holds the (auction, user) watch relation. Membership writes are
// idempotent: adding an existing member or removing an absent one is a no-op.
type WatchStore interface {
	IsWatching(ctx context.Context, auctionID, userID uuid.UUID) (bool, error)
	Add(ctx context.Context, auctionID, userID uuid.UUID) error
	Remove(ctx context.Context, auctionID, userID uuid.UUID) error
	Count(ctx context.Context, auctionID uuid.UUID) (int, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// SettlementStore persists settlement records with a uniqueness constraint
// keyed on auction id, which is what makes creation exactly-once under
// at-least-once invocation.
type SettlementStore interface {
	// Create inserts the record unless one already exists for the auction.
	// It returns false when the record was already there.
	Create(ctx context.Context, s *Settlement) (bool, error)
	GetByAuctionID(ctx context.Context, auctionID uuid.UUID) (*Settlement, error)
	SetCheckout(ctx context.Context, id uuid.UUID, checkoutID string) error
	MarkPaid(ctx context.Context, id uuid.UUID) error
	ListUnpaid(ctx context.Context) ([]*Settlement, error)
}
