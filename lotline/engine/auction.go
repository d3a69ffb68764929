package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AuctionStatus string

const (
	StatusActive    AuctionStatus = "active"
	StatusEnded     AuctionStatus = "ended"
	StatusCancelled AuctionStatus = "cancelled"
)

// Bid is a single accepted bid. The bid log is append-only; slice order is
// acceptance order.
type Bid struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	PlacedAt  time.Time
}

// Auction is the aggregate: the single consistency boundary for one listing.
// Every accepted mutation bumps Version; writers race on it via the store's
// CompareAndSwap and exactly one mutation lands per increment.
type Auction struct {
	ID            uuid.UUID
	SellerID      uuid.UUID
	Title         string
	StartingPrice decimal.Decimal
	ReservePrice  decimal.Decimal // zero means no reserve
	StartTime     time.Time
	EndTime       time.Time
	Status        AuctionStatus
	HighestBid    *Bid
	Bids          []Bid
	Version       int64
	Settled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateAuctionParams is what a seller supplies to open a listing.
type CreateAuctionParams struct {
	SellerID      uuid.UUID
	Title         string
	StartingPrice decimal.Decimal
	ReservePrice  decimal.Decimal
	Duration      time.Duration
}

const (
	MinAuctionDuration = 10 * time.Second
	MaxAuctionDuration = 14 * 24 * time.Hour
)

// OpenAuction builds a new active aggregate at version 1. The caller persists
// it through Store.Create.
func OpenAuction(p CreateAuctionParams, now time.Time) (*Auction, error) {
	if p.SellerID == uuid.Nil {
		return nil, fmt.Errorf("seller id is required")
	}
	if p.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if !p.StartingPrice.IsPositive() {
		return nil, fmt.Errorf("starting price must be positive, got %s", p.StartingPrice)
	}
	if p.ReservePrice.IsNegative() {
		return nil, fmt.Errorf("reserve price cannot be negative")
	}
	if p.ReservePrice.IsPositive() && p.ReservePrice.LessThan(p.StartingPrice) {
		return nil, fmt.Errorf("reserve price cannot be below the starting price")
	}
	if p.Duration < MinAuctionDuration || p.Duration > MaxAuctionDuration {
		return nil, fmt.Errorf("duration must be between %s and %s", MinAuctionDuration, MaxAuctionDuration)
	}

	return &Auction{
		ID:            uuid.New(),
		SellerID:      p.SellerID,
		Title:         p.Title,
		StartingPrice: p.StartingPrice,
		ReservePrice:  p.ReservePrice,
		StartTime:     now,
		EndTime:       now.Add(p.Duration),
		Status:        StatusActive,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Clone returns a deep copy so callers can mutate snapshots freely.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.HighestBid != nil {
		hb := *a.HighestBid
		c.HighestBid = &hb
	}
	c.Bids = make([]Bid, len(a.Bids))
	copy(c.Bids, a.Bids)
	return &c
}

// HasReserve reports whether the seller set a reserve price.
func (a *Auction) HasReserve() bool {
	return a.ReservePrice.IsPositive()
}

// ReserveMet reports whether the current highest bid clears the reserve.
// Auctions without a reserve always clear.
func (a *Auction) ReserveMet() bool {
	if !a.HasReserve() {
		return true
	}
	return a.HighestBid != nil && a.HighestBid.Amount.GreaterThanOrEqual(a.ReservePrice)
}

// HasWinner reports whether a settlement should exist once the auction ends.
func (a *Auction) HasWinner() bool {
	return a.HighestBid != nil && a.ReserveMet()
}

// validateBid evaluates the acceptance predicate against this snapshot.
// A bid is accepted only if the auction is active, placed strictly before the
// deadline, not from the seller, and strictly above the current highest bid
// (or at least the starting price when no bid exists yet).
func (a *Auction) validateBid(bidderID uuid.UUID, amount decimal.Decimal, now time.Time) error {
	if a.Status != StatusActive {
		return ErrNotActive
	}
	if !now.Before(a.EndTime) {
		return ErrTooLate
	}
	if bidderID == a.SellerID {
		return ErrSelfBid
	}
	if a.HighestBid != nil {
		if !amount.GreaterThan(a.HighestBid.Amount) {
			return ErrAmountTooLow
		}
	} else if amount.LessThan(a.StartingPrice) {
		return ErrAmountTooLow
	}
	return nil
}
