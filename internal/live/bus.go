// Package live pushes record mutations to subscribers without polling. Every
// successful store mutation publishes the full current snapshot to all
// subscribers of that record id; a late subscriber receives the current
// snapshot before any future updates, so already-applied stages are never
// missed.
package live

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/byebiz/layerone/internal/model"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls further behind loses the oldest intermediate snapshots, never the
// ordering.
const subscriberBuffer = 16

// Snapshotter reads the current snapshot of a record, typically backed by
// store.Store.GetRecord.
type Snapshotter func(ctx context.Context, id string) (*model.Record, error)

// Subscription is one subscriber's live view of a record.
type Subscription struct {
	C        <-chan model.Record
	recordID string
	key      int
}

// Bus fans record snapshots out to per-record subscribers.
type Bus struct {
	mu       sync.Mutex
	subs     map[string]map[int]chan model.Record
	seq      map[string]uint64
	nextKey  int
	snapshot Snapshotter
	closed   bool
}

// NewBus creates a Bus. snapshot provides the initial state pushed to each
// new subscriber; it may be nil in tests.
func NewBus(snapshot Snapshotter) *Bus {
	return &Bus{
		subs:     make(map[string]map[int]chan model.Record),
		seq:      make(map[string]uint64),
		snapshot: snapshot,
	}
}

// Subscribe registers a subscriber for the record and pushes the current
// snapshot as the first message. Returns model.ErrNotFound for unknown ids.
//
// The snapshot read runs outside the bus lock so a slow store never stalls
// publishes or other subscriptions. A per-record publish counter detects a
// publish racing the read; the read is then repeated, which is enough because
// publishes happen after their store write commits.
func (b *Bus) Subscribe(ctx context.Context, recordID string) (*Subscription, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, errors.New("live: bus closed")
		}
		start := b.seq[recordID]
		b.mu.Unlock()

		var snap *model.Record
		if b.snapshot != nil {
			rec, err := b.snapshot(ctx, recordID)
			if err != nil {
				return nil, err
			}
			snap = rec
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, errors.New("live: bus closed")
		}
		if b.snapshot != nil && b.seq[recordID] != start {
			b.mu.Unlock()
			continue
		}

		ch := make(chan model.Record, subscriberBuffer)
		if snap != nil {
			ch <- *snap
		}
		b.nextKey++
		key := b.nextKey
		if b.subs[recordID] == nil {
			b.subs[recordID] = make(map[int]chan model.Record)
		}
		b.subs[recordID][key] = ch
		b.mu.Unlock()

		return &Subscription{C: ch, recordID: recordID, key: key}, nil
	}
}

// Publish fans the snapshot out to all subscribers of its record id. Never
// blocks: a full subscriber buffer drops its oldest entry first.
func (b *Bus) Publish(rec model.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.seq[rec.ID]++
	for _, ch := range b.subs[rec.ID] {
		for {
			select {
			case ch <- rec:
			default:
				// Buffer full: drop the oldest snapshot and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
	if n := len(b.subs[rec.ID]); n > 0 {
		zap.L().Debug("published record snapshot",
			zap.String("record_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.Int("subscribers", n),
		)
	}
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if chans, ok := b.subs[sub.recordID]; ok {
		if ch, ok := chans[sub.key]; ok {
			delete(chans, sub.key)
			close(ch)
		}
		if len(chans) == 0 {
			delete(b.subs, sub.recordID)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string]map[int]chan model.Record)
}
