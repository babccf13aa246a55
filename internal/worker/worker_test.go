package worker_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alarmcore/alarmcore/internal/criteria"
	"github.com/alarmcore/alarmcore/internal/engine"
	"github.com/alarmcore/alarmcore/internal/eventbus"
	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
	"github.com/alarmcore/alarmcore/internal/worker"
)

// fixedCriterion always raises the same alarm key while active is true.
type fixedCriterion struct {
	key    model.AlarmKey
	active bool
}

func (c *fixedCriterion) Name() string { return "fixed" }

func (c *fixedCriterion) Evaluate(_ *store.View) ([]model.AlarmDecision, error) {
	return []model.AlarmDecision{{
		Key:            c.key,
		ShouldBeActive: c.active,
		Severity:       model.SeverityCritical,
		Message:        "fixed breach",
	}}, nil
}

func TestWorker_ProcessReadingPublishesRaisedEvent(t *testing.T) {
	st := store.New()
	registry := criteria.NewRegistry()
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	registry.Register(&fixedCriterion{key: key, active: true})
	eng := engine.New(st, 0.01, nil)
	bus := eventbus.New(4, zap.NewNop())

	_, events := bus.Subscribe()

	readings := make(chan model.Reading, 1)
	w := worker.New(readings, st, registry, eng, bus, zap.NewNop(), 10)

	var hookEvents []model.AlarmEvent
	w.SetEventHook(func(ev model.AlarmEvent) { hookEvents = append(hookEvents, ev) })

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	readings <- model.Reading{Sensor: "reactor-1", Value: 120.0, Timestamp: time.Now()}

	select {
	case ev := <-events:
		if ev.Key != key || ev.Transition != model.TransitionRaised {
			t.Fatalf("got event %+v, want RAISED for %+v", ev, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for RAISED event")
	}

	deadline := time.After(2 * time.Second)
	for len(hookEvents) == 0 {
		select {
		case <-deadline:
			t.Fatalf("event hook was never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorker_StaleSweepClearsSilentAlarm(t *testing.T) {
	st := store.New()
	registry := criteria.NewRegistry()
	key := model.AlarmKey{Source: "reactor-3", AlarmType: "HIGH_LIMIT"}
	registry.Register(&fixedCriterion{key: key, active: true})
	eng := engine.New(st, 0.01, nil)
	bus := eventbus.New(4, zap.NewNop())
	_, events := bus.Subscribe()

	readings := make(chan model.Reading, 1)
	w := worker.New(readings, st, registry, eng, bus, zap.NewNop(), 10)
	w.SetStaleTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	readings <- model.Reading{Sensor: "reactor-3", Value: 120.0, Timestamp: time.Now()}

	var sawRaised, sawCleared bool
	deadline := time.After(3 * time.Second)
	for !sawCleared {
		select {
		case ev := <-events:
			switch ev.Transition {
			case model.TransitionRaised:
				sawRaised = true
			case model.TransitionCleared:
				sawCleared = true
			}
		case <-deadline:
			t.Fatalf("stale sweep never cleared the silent alarm (raised=%v)", sawRaised)
		}
	}
	if !sawRaised {
		t.Fatalf("never observed the initial RAISED event before CLEARED")
	}
}

func TestWorker_DrainProcessesQueuedReadingsAfterCancel(t *testing.T) {
	st := store.New()
	registry := criteria.NewRegistry()
	key := model.AlarmKey{Source: "reactor-2", AlarmType: "HIGH_LIMIT"}
	registry.Register(&fixedCriterion{key: key, active: true})
	eng := engine.New(st, 0.01, nil)
	bus := eventbus.New(4, zap.NewNop())
	_, events := bus.Subscribe()

	readings := make(chan model.Reading, 4)
	readings <- model.Reading{Sensor: "reactor-2", Value: 1.0, Timestamp: time.Now()}

	w := worker.New(readings, st, registry, eng, bus, zap.NewNop(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go w.Run(ctx)

	select {
	case ev := <-events:
		if ev.Key != key {
			t.Fatalf("got event for %+v, want %+v", ev.Key, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for drained event after shutdown")
	}
}
