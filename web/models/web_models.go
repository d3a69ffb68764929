package models

import (
	"time"

	"github.com/lotline/lotline/lotline/engine"
)

// CreateAuctionRequest is the payload for opening a new listing.
type CreateAuctionRequest struct {
	SellerID      string `json:"seller_id"`
	Title         string `json:"title"`
	StartingPrice string `json:"starting_price"`
	ReservePrice  string `json:"reserve_price,omitempty"`
	DurationSecs  int64  `json:"duration_secs"`
}

// PlaceBidRequest is the payload for a bid attempt.
type PlaceBidRequest struct {
	BidderID string `json:"bidder_id"`
	Amount   string `json:"amount"`
}

// SellerActionRequest identifies the seller for sell-now and cancel.
type SellerActionRequest struct {
	SellerID string `json:"seller_id"`
}

// WatchToggleRequest identifies the user toggling a watch.
type WatchToggleRequest struct {
	UserID string `json:"user_id"`
}

// PaymentWebhookRequest is what the payment provider posts back after a
// checkout session completes.
type PaymentWebhookRequest struct {
	SettlementID string `json:"settlement_id"`
	CheckoutID   string `json:"checkout_id"`
	Status       string `json:"status"`
}

// BidView is the wire representation of an accepted bid.
type BidView struct {
	ID       string    `json:"id"`
	BidderID string    `json:"bidder_id"`
	Amount   string    `json:"amount"`
	PlacedAt time.Time `json:"placed_at"`
}

// AuctionView is the wire representation of an aggregate snapshot. Amounts
// travel as strings to keep decimal precision out of float hands.
type AuctionView struct {
	ID            string    `json:"id"`
	SellerID      string    `json:"seller_id"`
	Title         string    `json:"title"`
	StartingPrice string    `json:"starting_price"`
	ReservePrice  string    `json:"reserve_price,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
	HighestBid    *BidView  `json:"highest_bid,omitempty"`
	BidCount      int       `json:"bid_count"`
	Version       int64     `json:"version"`
	Settled       bool      `json:"settled"`
}

// BidResultView reports the outcome of a bid attempt together with a fresh
// snapshot so clients can reconcile.
type BidResultView struct {
	Outcome string       `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
	Bid     *BidView     `json:"bid,omitempty"`
	Auction *AuctionView `json:"auction"`
}

// WatchView reports the watch state after a toggle.
type WatchView struct {
	AuctionID string `json:"auction_id"`
	UserID    string `json:"user_id"`
	Watching  bool   `json:"watching"`
	Watchers  int    `json:"watchers"`
}

func NewBidView(b *engine.Bid) *BidView {
	if b == nil {
		return nil
	}
	return &BidView{
		ID:       b.ID.String(),
		BidderID: b.BidderID.String(),
		Amount:   b.Amount.String(),
		PlacedAt: b.PlacedAt,
	}
}

func NewAuctionView(a *engine.Auction) *AuctionView {
	view := &AuctionView{
		ID:            a.ID.String(),
		SellerID:      a.SellerID.String(),
		Title:         a.Title,
		StartingPrice: a.StartingPrice.String(),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        string(a.Status),
		HighestBid:    NewBidView(a.HighestBid),
		BidCount:      len(a.Bids),
		Version:       a.Version,
		Settled:       a.Settled,
	}
	if a.HasReserve() {
		view.ReservePrice = a.ReservePrice.String()
	}
	return view
}

func NewAuctionViews(auctions []*engine.Auction) []*AuctionView {
	views := make([]*AuctionView, len(auctions))
	for i, a := range auctions {
		views[i] = NewAuctionView(a)
	}
	return views
}

func NewBidViews(bids []engine.Bid) []*BidView {
	views := make([]*BidView, len(bids))
	for i := range bids {
		views[i] = NewBidView(&bids[i])
	}
	return views
}
