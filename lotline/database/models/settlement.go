package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Settlement finalizes one ended auction; auction_id is unique, which is the
// durable exactly-once guard. Paid is flipped by the payment collaborator.
type Settlement struct {
	bun.BaseModel `bun:"table:settlements,alias:s"`

	ID         uuid.UUID       `bun:"id,pk,type:uuid"`
	AuctionID  uuid.UUID       `bun:"auction_id,notnull,unique,type:uuid"`
	BuyerID    uuid.UUID       `bun:"buyer_id,notnull,type:uuid"`
	SellerID   uuid.UUID       `bun:"seller_id,notnull,type:uuid"`
	FinalPrice decimal.Decimal `bun:"final_price,notnull,type:numeric"`
	CheckoutID string          `bun:"checkout_id"`
	Paid       bool            `bun:"paid,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
