package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DeltaKind string

const (
	DeltaBidAccepted       DeltaKind = "bid_accepted"
	DeltaStatusChanged     DeltaKind = "status_changed"
	DeltaWatchCountChanged DeltaKind = "watch_count_changed"
)

// Delta is a single state-change event for observers. Seq is assigned per
// auction by the fanout hub and defines delivery order. Version carries the
// aggregate version the delta resulted from; watch-count deltas do not bump
// the aggregate and carry Version 0, so subscribers gate ordering on Seq and
// use Version only to reconcile against snapshots.
type Delta struct {
	AuctionID uuid.UUID       `json:"auction_id"`
	Seq       int64           `json:"seq"`
	Version   int64           `json:"version,omitempty"`
	Kind      DeltaKind       `json:"kind"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	BidderID  uuid.UUID       `json:"bidder_id,omitempty"`
	Status    AuctionStatus   `json:"status,omitempty"`
	Watchers  int             `json:"watchers,omitempty"`
	At        time.Time       `json:"at"`
}

func bidAcceptedDelta(a *Auction, b *Bid) Delta {
	return Delta{
		AuctionID: a.ID,
		Version:   a.Version,
		Kind:      DeltaBidAccepted,
		Amount:    b.Amount,
		BidderID:  b.BidderID,
		At:        b.PlacedAt,
	}
}

func statusChangedDelta(a *Auction, at time.Time) Delta {
	return Delta{
		AuctionID: a.ID,
		Version:   a.Version,
		Kind:      DeltaStatusChanged,
		Status:    a.Status,
		At:        at,
	}
}

func watchCountDelta(auctionID uuid.UUID, count int, at time.Time) Delta {
	return Delta{
		AuctionID: auctionID,
		Kind:      DeltaWatchCountChanged,
		Watchers:  count,
		At:        at,
	}
}
