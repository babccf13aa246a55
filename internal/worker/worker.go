// Package worker — worker.go
//
// The Alarm Worker drives the store/criteria/engine pipeline: pop one
// reading, apply it to the store, invoke each registered criterion,
// feed the collected decisions to the engine, publish the returned
// events on the bus. Shutdown is signaled by context cancellation; the
// worker then drains the queue up to a configured limit before
// exiting, rather than discarding whatever is still in flight.

package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/criteria"
	"github.com/alarmcore/alarmcore/internal/engine"
	"github.com/alarmcore/alarmcore/internal/eventbus"
	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
)

// Worker is the Alarm Worker (SPEC_FULL.md §4.5).
type Worker struct {
	readings     <-chan model.Reading
	store        *store.Store
	registry     *criteria.Registry
	engine       *engine.Engine
	bus          *eventbus.Bus
	log          *zap.Logger
	drainLimit   int
	onEvent      func(model.AlarmEvent)
	staleTimeout time.Duration
}

// SetEventHook registers a callback invoked for every event published by
// this worker, after the bus has accepted it. Used to mirror events into
// the observability metrics without coupling this package to Prometheus.
func (w *Worker) SetEventHook(fn func(model.AlarmEvent)) {
	w.onEvent = fn
}

// SetStaleTimeout enables the staleness sweep: any active alarm whose
// LastSeen falls behind timeout is auto-cleared (SPEC_FULL.md §6
// alarms.stale_timeout_s). A zero timeout (the default) disables the
// sweep entirely.
func (w *Worker) SetStaleTimeout(timeout time.Duration) {
	w.staleTimeout = timeout
}

// New creates a Worker. drainLimit bounds how many queued readings are
// processed after shutdown is signaled before the worker exits.
func New(
	readings <-chan model.Reading,
	st *store.Store,
	registry *criteria.Registry,
	eng *engine.Engine,
	bus *eventbus.Bus,
	log *zap.Logger,
	drainLimit int,
) *Worker {
	return &Worker{
		readings:   readings,
		store:      st,
		registry:   registry,
		engine:     eng,
		bus:        bus,
		log:        log,
		drainLimit: drainLimit,
	}
}

// staleSweepInterval bounds how often the staleness sweep runs,
// independent of the configured timeout, so a short timeout still
// gets checked reasonably promptly without busy-polling.
const staleSweepInterval = 1 * time.Second

// Run processes readings until ctx is cancelled, then drains. When a
// stale timeout is configured, a ticker also periodically sweeps the
// store for alarms that have gone silent.
func (w *Worker) Run(ctx context.Context) {
	var staleC <-chan time.Time
	if w.staleTimeout > 0 {
		ticker := time.NewTicker(staleSweepInterval)
		defer ticker.Stop()
		staleC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-staleC:
			w.sweepStale()
		case r, ok := <-w.readings:
			if !ok {
				return
			}
			w.process(r)
		}
	}
}

// sweepStale runs one staleness pass and publishes any CLEARED events
// it produces.
func (w *Worker) sweepStale() {
	events := w.engine.SweepStale(time.Now(), w.staleTimeout)
	for _, ev := range events {
		w.bus.Publish(ev)
		if w.onEvent != nil {
			w.onEvent(ev)
		}
	}
}

// drain processes whatever is immediately available in the queue, up
// to drainLimit readings, without blocking.
func (w *Worker) drain() {
	for i := 0; i < w.drainLimit; i++ {
		select {
		case r, ok := <-w.readings:
			if !ok {
				return
			}
			w.process(r)
		default:
			return
		}
	}
}

// process is one tick: update the store, evaluate every criterion,
// feed decisions to the engine, and publish the resulting events.
func (w *Worker) process(r model.Reading) {
	if r.Spectral {
		w.store.UpsertSpectrum(r.Sensor, r.Values, r.Timestamp)
	} else {
		w.store.UpsertScalar(r.Sensor, r.Value, r.Timestamp)
	}

	view := w.store.View()

	var decisions []model.AlarmDecision
	for _, c := range w.registry.All() {
		ds, err := c.Evaluate(view)
		if err != nil {
			w.store.RecordCriteriaError()
			w.log.Warn("criterion evaluation failed",
				zap.String("criterion", c.Name()), zap.Error(err))
			continue
		}
		decisions = append(decisions, ds...)
	}

	events := w.engine.Ingest(decisions, time.Now())
	for _, ev := range events {
		w.bus.Publish(ev)
		if w.onEvent != nil {
			w.onEvent(ev)
		}
	}
}
