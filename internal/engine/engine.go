// Package engine — engine.go
//
// The Alarm Engine: the sole writer of alarm-state transitions. It
// consumes stateless decisions from the criteria set, applies
// hysteresis against the prior recorded state, and produces lifecycle
// events in decision-input order. It follows a single-writer
// state-machine discipline over the three-transition
// RAISED/UPDATED/CLEARED lifecycle.

package engine

import (
	"math"
	"time"

	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
)

// Engine owns the decision -> transition logic described in
// SPEC_FULL.md §4.4.
type Engine struct {
	store        *store.Store
	defaultEps   float64
	perRuleEps   map[string]float64 // alarm_type -> value_eps override
}

// New creates an Engine bound to st. defaultEps is the global
// value_eps; perRuleEps overrides it per alarm_type.
func New(st *store.Store, defaultEps float64, perRuleEps map[string]float64) *Engine {
	if perRuleEps == nil {
		perRuleEps = map[string]float64{}
	}
	return &Engine{store: st, defaultEps: defaultEps, perRuleEps: perRuleEps}
}

func (e *Engine) epsFor(alarmType string) float64 {
	if v, ok := e.perRuleEps[alarmType]; ok {
		return v
	}
	return e.defaultEps
}

// Ingest applies each decision in order and returns the events
// produced. Events for a given key are strictly ordered by this
// single-writer call; across ticks, the engine is only ever invoked
// from the alarm worker goroutine.
func (e *Engine) Ingest(decisions []model.AlarmDecision, now time.Time) []model.AlarmEvent {
	events := make([]model.AlarmEvent, 0, len(decisions))

	for _, d := range decisions {
		prior, hadPrior := e.store.AlarmState(d.Key)

		if d.ShouldBeActive {
			if !hadPrior || !prior.Active {
				events = append(events, e.raise(d, now))
				continue
			}
			if ev, ok := e.update(d, prior, now); ok {
				events = append(events, ev)
			}
			continue
		}

		if hadPrior && prior.Active {
			events = append(events, e.clear(d, prior, now))
		}
		// Absent or already-inactive prior with should_be_active=false:
		// no event (SPEC_FULL.md §4.4 "missing decisions").
	}

	return events
}

func (e *Engine) raise(d model.AlarmDecision, now time.Time) model.AlarmEvent {
	newState := model.AlarmState{
		Key:       d.Key,
		Severity:  d.Severity,
		Active:    true,
		FirstSeen: now,
		LastSeen:  now,
		Message:   d.Message,
		HasValue:  d.HasValue,
		Value:     d.Value,
		Details:   d.Details,
	}
	e.store.CommitAlarm(newState, model.TransitionRaised)
	return buildEvent(d.Key, model.TransitionRaised, now, d)
}

func (e *Engine) update(d model.AlarmDecision, prior model.AlarmState, now time.Time) (model.AlarmEvent, bool) {
	eps := e.epsFor(d.Key.AlarmType)

	valueWithinEps := d.HasValue == prior.HasValue
	if valueWithinEps && d.HasValue {
		valueWithinEps = math.Abs(d.Value-prior.Value) < eps
	}
	unchanged := valueWithinEps &&
		d.Severity == prior.Severity &&
		d.Message == prior.Message &&
		d.Details == prior.Details

	if unchanged {
		e.store.TouchLastSeen(d.Key, now)
		return model.AlarmEvent{}, false
	}

	newState := prior
	newState.Severity = d.Severity
	newState.Message = d.Message
	newState.HasValue = d.HasValue
	newState.Value = d.Value
	newState.Details = d.Details
	newState.LastSeen = now
	e.store.CommitAlarm(newState, model.TransitionUpdated)
	return buildEvent(d.Key, model.TransitionUpdated, now, d), true
}

func (e *Engine) clear(d model.AlarmDecision, prior model.AlarmState, now time.Time) model.AlarmEvent {
	newState := prior
	newState.Active = false
	newState.LastSeen = now
	e.store.CommitAlarm(newState, model.TransitionCleared)
	return buildEvent(d.Key, model.TransitionCleared, now, d)
}

// SweepStale clears every active alarm whose LastSeen is older than
// timeout, producing a CLEARED event for each (SPEC_FULL.md §6
// alarms.stale_timeout_s). This is the engine's second source of
// CLEARED transitions alongside an explicit should_be_active=false
// decision from Ingest.
func (e *Engine) SweepStale(now time.Time, timeout time.Duration) []model.AlarmEvent {
	snap := e.store.Snapshot()
	events := make([]model.AlarmEvent, 0)

	for _, prior := range snap.Alarms {
		if !prior.Active {
			continue
		}
		if now.Sub(prior.LastSeen) < timeout {
			continue
		}

		newState := prior
		newState.Active = false
		newState.LastSeen = now
		e.store.CommitAlarm(newState, model.TransitionCleared)

		events = append(events, buildEvent(prior.Key, model.TransitionCleared, now, model.AlarmDecision{
			Severity: prior.Severity,
			Message:  "stale: no update received within timeout",
			HasValue: prior.HasValue,
			Value:    prior.Value,
			Details:  prior.Details,
		}))
	}

	return events
}

func buildEvent(key model.AlarmKey, transition model.Transition, now time.Time, d model.AlarmDecision) model.AlarmEvent {
	return model.AlarmEvent{
		Key:        key,
		Transition: transition,
		Severity:   d.Severity,
		Timestamp:  now,
		Message:    d.Message,
		HasValue:   d.HasValue,
		Value:      d.Value,
		Details:    d.Details,
	}
}
