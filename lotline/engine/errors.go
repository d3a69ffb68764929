package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAuctionNotFound = errors.New("auction not found")

	// Rejection reasons for PlaceBid. These are terminal for the attempt:
	// no write occurred and resubmitting the same bid will fail again.
	ErrNotActive    = errors.New("auction is not active")
	ErrTooLate      = errors.New("auction deadline has passed")
	ErrSelfBid      = errors.New("seller cannot bid on their own auction")
	ErrAmountTooLow = errors.New("bid amount is too low")

	ErrNotSeller = errors.New("only the seller may perform this operation")
	ErrHasBids   = errors.New("auction with bids cannot be cancelled")

	// ErrConflict means the CAS retry budget was exhausted under contention.
	// The caller should re-fetch auction state before resubmitting.
	ErrConflict = errors.New("too many concurrent updates, refresh and retry")

	// ErrVersionMismatch is returned by Store.CompareAndSwap when the
	// aggregate changed since it was read. Writers re-read and retry.
	ErrVersionMismatch = errors.New("aggregate version changed since read")
)

// RejectReason is the wire-friendly name for a bid rejection.
type RejectReason string

const (
	ReasonNotActive    RejectReason = "not_active"
	ReasonTooLate      RejectReason = "too_late"
	ReasonSelfBid      RejectReason = "self_bid"
	ReasonAmountTooLow RejectReason = "amount_too_low"
)

func reasonFor(err error) RejectReason {
	switch {
	case errors.Is(err, ErrNotActive):
		return ReasonNotActive
	case errors.Is(err, ErrTooLate):
		return ReasonTooLate
	case errors.Is(err, ErrSelfBid):
		return ReasonSelfBid
	case errors.Is(err, ErrAmountTooLow):
		return ReasonAmountTooLow
	}
	return ""
}

// SettlementError wraps a failure to durably create or hand off a settlement.
// It never propagates out of the close transition; the coordinator retries
// until the settlement record exists.
type SettlementError struct {
	AuctionID uuid.UUID
	Err       error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement for auction %s: %v", e.AuctionID, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}
