package engine

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lotline/lotline/lotline/engine/metrics"
)

const subscriberBuffer = 64

// Subscription is one observer's view of a single auction's delta stream.
// Receive from C; Close when done. The channel is closed by the hub if the
// subscriber falls too far behind, so a closed channel means "resubscribe and
// re-fetch a snapshot", not end of stream.
type Subscription struct {
	C <-chan Delta

	ch          chan Delta
	auctionID   uuid.UUID
	lastVersion int64
	closeOnce   sync.Once
	hub         *Fanout
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Fanout publishes state deltas to per-auction subscribers. Delivery is
// at-least-once and in order per auction; there is no ordering relationship
// across auctions. Publish never blocks: a subscriber that cannot keep up is
// evicted rather than stalling a writer.
type Fanout struct {
	mu     sync.Mutex
	topics map[uuid.UUID]*topic
}

type topic struct {
	seq  int64
	subs map[*Subscription]struct{}
}

func NewFanout() *Fanout {
	return &Fanout{topics: make(map[uuid.UUID]*topic)}
}

// Subscribe registers an observer for one auction's deltas.
func (f *Fanout) Subscribe(auctionID uuid.UUID) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.topics[auctionID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		f.topics[auctionID] = t
	}

	ch := make(chan Delta, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, auctionID: auctionID, hub: f}
	t.subs[sub] = struct{}{}
	return sub
}

// Publish tags the delta with the auction's next sequence number and hands it
// to every subscriber. Deltas that carry an aggregate version are dropped for
// a subscriber that has already observed an equal or newer version, which
// keeps redelivered duplicates from moving state backwards.
func (f *Fanout) Publish(delta Delta) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.topics[delta.AuctionID]
	if !ok {
		return
	}

	t.seq++
	delta.Seq = t.seq
	metrics.RecordDeltaPublished(string(delta.Kind))

	for sub := range t.subs {
		if delta.Version != 0 && delta.Version <= sub.lastVersion {
			continue
		}
		select {
		case sub.ch <- delta:
			if delta.Version != 0 {
				sub.lastVersion = delta.Version
			}
		default:
			// Slow subscriber: evict instead of blocking the writer.
			delete(t.subs, sub)
			sub.closeOnce.Do(func() { close(sub.ch) })
			metrics.RecordDeltaDropped()
			slog.Warn("Evicted slow delta subscriber",
				slog.String("auction_id", delta.AuctionID.String()),
				slog.Int64("seq", delta.Seq))
		}
	}
}

func (f *Fanout) unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.topics[sub.auctionID]
	if !ok {
		return
	}
	if _, ok := t.subs[sub]; !ok {
		return
	}
	delete(t.subs, sub)
	sub.closeOnce.Do(func() { close(sub.ch) })
	if len(t.subs) == 0 {
		delete(f.topics, sub.auctionID)
	}
}
