// Package eventbus — bus.go
//
// In-process publish/subscribe for alarm lifecycle events. Publish
// dispatches synchronously from the publisher's goroutine into a
// per-subscriber bounded channel; subscribers are expected to enqueue
// and return, never block the publisher on I/O (SPEC_FULL.md §4.6).
// Subscriber-list mutations are serialized under a short guard that is
// never held during dispatch (route-first: snapshot the subscriber
// list, then deliver outside the lock), and a full subscriber channel
// is drained of its oldest entry rather than blocking or dropping the
// newest — matching the drop-oldest overflow policy used throughout
// this pipeline's queues.

package eventbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/model"
)

// Bus is a multi-subscriber in-process event publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	queueCap    int
	dropped     atomic.Uint64
	log         *zap.Logger
}

type subscriber struct {
	id uint64
	ch chan model.AlarmEvent
}

// New creates a Bus whose per-subscriber delivery channels have
// capacity queueCap.
func New(queueCap int, log *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		queueCap:    queueCap,
		log:         log,
	}
}

// Subscribe registers a new subscriber and returns its id plus a
// receive-only channel of events. Call Unsubscribe(id) to stop
// receiving and release the channel.
func (b *Bus) Subscribe() (id uint64, events <-chan model.AlarmEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan model.AlarmEvent, b.queueCap)}
	b.subscribers[sub.id] = sub
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Publish dispatches event to every current subscriber. Never blocks:
// a subscriber whose channel is full has its oldest queued event
// discarded to make room, and the drop counter is incremented.
func (b *Bus) Publish(event model.AlarmEvent) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *subscriber, event model.AlarmEvent) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	// Full: drop the oldest queued event, then retry once.
	select {
	case <-sub.ch:
		b.dropped.Add(1)
		if b.log != nil {
			b.log.Warn("event bus subscriber full, dropped oldest event",
				zap.Uint64("subscriber_id", sub.id))
		}
	default:
	}

	select {
	case sub.ch <- event:
	default:
		// Subscriber drained concurrently and refilled; give up rather
		// than spin. This event is dropped and counted, not retried.
		b.dropped.Add(1)
	}
}

// DroppedTotal returns the lifetime count of events dropped due to a
// full subscriber channel.
func (b *Bus) DroppedTotal() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the current number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
