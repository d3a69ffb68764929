package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Watch is one (auction, user) membership pair; the pair is unique.
type Watch struct {
	bun.BaseModel `bun:"table:watches,alias:w"`

	ID        int64     `bun:"id,pk,autoincrement"`
	AuctionID uuid.UUID `bun:"auction_id,notnull,type:uuid"`
	UserID    uuid.UUID `bun:"user_id,notnull,type:uuid"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
