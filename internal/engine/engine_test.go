package engine_test

import (
	"testing"
	"time"

	"github.com/alarmcore/alarmcore/internal/engine"
	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
)

func TestIngest_RaiseThenClear(t *testing.T) {
	s := store.New()
	e := engine.New(s, 0.5, nil)
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()

	events := e.Ingest([]model.AlarmDecision{{
		Key: key, ShouldBeActive: true, Severity: model.SeverityWarning,
		Message: "too hot", HasValue: true, Value: 120,
	}}, now)
	if len(events) != 1 || events[0].Transition != model.TransitionRaised {
		t.Fatalf("first ingest = %+v, want one RAISED event", events)
	}

	events = e.Ingest([]model.AlarmDecision{{
		Key: key, ShouldBeActive: false, Severity: model.SeverityWarning,
	}}, now.Add(time.Second))
	if len(events) != 1 || events[0].Transition != model.TransitionCleared {
		t.Fatalf("second ingest = %+v, want one CLEARED event", events)
	}
}

func TestIngest_WithinEpsilonProducesNoUpdate(t *testing.T) {
	s := store.New()
	e := engine.New(s, 0.5, nil)
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()

	e.Ingest([]model.AlarmDecision{{
		Key: key, ShouldBeActive: true, Severity: model.SeverityWarning,
		Message: "too hot", HasValue: true, Value: 120.0,
	}}, now)

	events := e.Ingest([]model.AlarmDecision{{
		Key: key, ShouldBeActive: true, Severity: model.SeverityWarning,
		Message: "too hot", HasValue: true, Value: 120.2,
	}}, now.Add(time.Second))
	if len(events) != 0 {
		t.Fatalf("ingest within eps produced %d events, want 0", len(events))
	}

	st, _ := s.AlarmState(key)
	if !st.LastSeen.Equal(now.Add(time.Second)) {
		t.Fatalf("LastSeen not touched on within-eps repeat")
	}
}

func TestIngest_BeyondEpsilonProducesUpdate(t *testing.T) {
	s := store.New()
	e := engine.New(s, 0.5, nil)
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()

	e.Ingest([]model.AlarmDecision{{
		Key: key, ShouldBeActive: true, Severity: model.SeverityWarning, Value: 120.0, HasValue: true,
	}}, now)

	events := e.Ingest([]model.AlarmDecision{{
		Key: key, ShouldBeActive: true, Severity: model.SeverityWarning, Value: 130.0, HasValue: true,
	}}, now.Add(time.Second))
	if len(events) != 1 || events[0].Transition != model.TransitionUpdated {
		t.Fatalf("ingest beyond eps = %+v, want one UPDATED event", events)
	}
}

func TestIngest_PerRuleEpsOverride(t *testing.T) {
	s := store.New()
	e := engine.New(s, 0.01, map[string]float64{"HIGH_LIMIT": 100})
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()

	e.Ingest([]model.AlarmDecision{{Key: key, ShouldBeActive: true, Value: 120, HasValue: true}}, now)
	events := e.Ingest([]model.AlarmDecision{{Key: key, ShouldBeActive: true, Value: 150, HasValue: true}}, now.Add(time.Second))
	if len(events) != 0 {
		t.Fatalf("per-rule eps override not applied: got %d events, want 0", len(events))
	}
}

func TestIngest_InactiveWithNoPriorProducesNoEvent(t *testing.T) {
	s := store.New()
	e := engine.New(s, 0.5, nil)
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}

	events := e.Ingest([]model.AlarmDecision{{Key: key, ShouldBeActive: false}}, time.Now())
	if len(events) != 0 {
		t.Fatalf("inactive decision with no prior state produced %d events, want 0", len(events))
	}
}

func TestSweepStale_ClearsAlarmPastTimeout(t *testing.T) {
	s := store.New()
	e := engine.New(s, 0.5, nil)
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()

	e.Ingest([]model.AlarmDecision{{
		Key: key, ShouldBeActive: true, Severity: model.SeverityCritical, Value: 120, HasValue: true,
	}}, now)

	events := e.SweepStale(now.Add(time.Minute), 30*time.Second)
	if len(events) != 1 || events[0].Transition != model.TransitionCleared || events[0].Key != key {
		t.Fatalf("SweepStale = %+v, want one CLEARED event for %+v", events, key)
	}

	st, _ := s.AlarmState(key)
	if st.Active {
		t.Fatalf("alarm still active after stale sweep")
	}
}

func TestSweepStale_LeavesFreshAlarmAlone(t *testing.T) {
	s := store.New()
	e := engine.New(s, 0.5, nil)
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()

	e.Ingest([]model.AlarmDecision{{
		Key: key, ShouldBeActive: true, Severity: model.SeverityCritical, Value: 120, HasValue: true,
	}}, now)

	events := e.SweepStale(now.Add(5*time.Second), 30*time.Second)
	if len(events) != 0 {
		t.Fatalf("SweepStale on a fresh alarm produced %d events, want 0", len(events))
	}

	st, _ := s.AlarmState(key)
	if !st.Active {
		t.Fatalf("fresh alarm was cleared by stale sweep")
	}
}

func TestSweepStale_IgnoresAlreadyClearedAlarm(t *testing.T) {
	s := store.New()
	e := engine.New(s, 0.5, nil)
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()

	e.Ingest([]model.AlarmDecision{{Key: key, ShouldBeActive: true, Value: 120, HasValue: true}}, now)
	e.Ingest([]model.AlarmDecision{{Key: key, ShouldBeActive: false}}, now.Add(time.Second))

	events := e.SweepStale(now.Add(time.Hour), 30*time.Second)
	if len(events) != 0 {
		t.Fatalf("SweepStale on an already-cleared alarm produced %d events, want 0", len(events))
	}
}
