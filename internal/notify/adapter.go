// Package notify — adapter.go
//
// The Notification Adapter bridges the event bus to the outbound
// webhook queue: it subscribes to every alarm event, joins each one
// with a counters snapshot into a Payload, and enqueues it for
// delivery by the Worker. Like every other queue in this pipeline, a
// full queue drops its oldest entry rather than blocking the bus
// (SPEC_FULL.md §4.7).

package notify

import (
	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/eventbus"
	"github.com/alarmcore/alarmcore/internal/store"
)

// Adapter subscribes to a Bus and feeds a bounded delivery queue.
type Adapter struct {
	bus   *eventbus.Bus
	store *store.Store
	log   *zap.Logger

	subID uint64
	queue chan Payload
}

// NewAdapter creates an Adapter whose delivery queue has capacity
// queueCap. Call Run to subscribe and start forwarding; call Queue for
// the Worker's input channel.
func NewAdapter(bus *eventbus.Bus, st *store.Store, queueCap int, log *zap.Logger) *Adapter {
	return &Adapter{
		bus:   bus,
		store: st,
		log:   log,
		queue: make(chan Payload, queueCap),
	}
}

// Queue returns the adapter's outbound payload queue, consumed by Worker.Run.
func (a *Adapter) Queue() <-chan Payload { return a.queue }

// Run subscribes to the bus and forwards events as payloads until
// events is closed (i.e. until Unsubscribe is called, typically via
// ctx cancellation in the caller).
func (a *Adapter) Run() {
	id, events := a.bus.Subscribe()
	a.subID = id
	for ev := range events {
		p := buildPayload(ev, a.store.Counters())
		a.push(p)
	}
}

// Stop unsubscribes from the bus, causing Run's range loop to return.
func (a *Adapter) Stop() {
	a.bus.Unsubscribe(a.subID)
}

// push enqueues a payload, dropping the oldest queued payload if the
// queue is full.
func (a *Adapter) push(p Payload) {
	select {
	case a.queue <- p:
		return
	default:
	}

	select {
	case <-a.queue:
		a.store.RecordNotificationDropped()
		a.log.Warn("notify: delivery queue full, dropped oldest payload")
	default:
	}

	select {
	case a.queue <- p:
	default:
		a.store.RecordNotificationDropped()
	}
}
