package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Auction is the aggregate row. The highest bid is denormalized onto the row
// so every write to it is covered by the version guard.
type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	SellerID      uuid.UUID       `bun:"seller_id,notnull,type:uuid"`
	Title         string          `bun:"title,notnull"`
	StartingPrice decimal.Decimal `bun:"starting_price,notnull,type:numeric"`
	ReservePrice  decimal.Decimal `bun:"reserve_price,notnull,type:numeric"`
	StartTime     time.Time       `bun:"start_time,notnull"`
	EndTime       time.Time       `bun:"end_time,notnull"`
	Status        AuctionStatus   `bun:"status,notnull"`

	HighestBidID    *uuid.UUID           `bun:"highest_bid_id,type:uuid"`
	HighestBidderID *uuid.UUID           `bun:"highest_bidder_id,type:uuid"`
	HighestAmount   decimal.NullDecimal  `bun:"highest_amount,type:numeric"`
	HighestPlacedAt *time.Time           `bun:"highest_placed_at"`

	Version int64 `bun:"version,notnull"`
	Settled bool  `bun:"settled,notnull,default:false"`

	BidCount int `bun:"bid_count,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Bid rows are append-only. LogIndex is the bid's position in the auction's
// acceptance log; reads order on it. PlacedAt is the submission timestamp and
// can disagree with acceptance order when a bid lands on a version retry, so
// it is display data only.
type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        uuid.UUID       `bun:"id,pk,type:uuid"`
	AuctionID uuid.UUID       `bun:"auction_id,notnull,type:uuid"`
	LogIndex  int             `bun:"log_index,notnull"`
	BidderID  uuid.UUID       `bun:"bidder_id,notnull,type:uuid"`
	Amount    decimal.Decimal `bun:"amount,notnull,type:numeric"`
	PlacedAt  time.Time       `bun:"placed_at,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
