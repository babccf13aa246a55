package store_test

import (
	"testing"
	"time"

	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
)

func TestUpsertScalar_PreservesSpectrum(t *testing.T) {
	s := store.New()
	now := time.Now()
	s.UpsertSpectrum("ftir-1", []float64{1, 2, 3}, now)
	s.UpsertScalar("ftir-1", 42.0, now.Add(time.Second))

	v, ts, ok := s.GetScalar("ftir-1")
	if !ok || v != 42.0 {
		t.Fatalf("GetScalar = (%v, %v, %v), want (42, _, true)", v, ts, ok)
	}
	spectrum, _, ok := s.GetSpectrum("ftir-1")
	if !ok || len(spectrum) != 3 {
		t.Fatalf("GetSpectrum lost after scalar upsert: %v, %v", spectrum, ok)
	}
}

func TestGetScalar_UnknownSensor(t *testing.T) {
	s := store.New()
	if _, _, ok := s.GetScalar("missing"); ok {
		t.Fatalf("GetScalar on unknown sensor returned ok=true")
	}
}

func TestView_IsIndependentOfLaterWrites(t *testing.T) {
	s := store.New()
	now := time.Now()
	s.UpsertScalar("temp-1", 10.0, now)
	view := s.View()

	s.UpsertScalar("temp-1", 99.0, now.Add(time.Second))

	v, _, ok := view.GetScalar("temp-1")
	if !ok || v != 10.0 {
		t.Fatalf("view mutated after later store write: got %v, want 10.0", v)
	}
}

func TestCommitAlarm_CountersUpdateWithState(t *testing.T) {
	s := store.New()
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()

	s.CommitAlarm(model.AlarmState{Key: key, Severity: model.SeverityWarning, Active: true, FirstSeen: now, LastSeen: now}, model.TransitionRaised)

	c := s.Counters()
	if c.AlarmStatesTotal != 1 || c.AlarmStatesActive != 1 {
		t.Fatalf("counters after raise = %+v, want total=1 active=1", c)
	}
	if c.EventCountsByTransition[model.TransitionRaised] != 1 {
		t.Fatalf("raised transition count = %d, want 1", c.EventCountsByTransition[model.TransitionRaised])
	}

	cleared := model.AlarmState{Key: key, Severity: model.SeverityWarning, Active: false, FirstSeen: now, LastSeen: now.Add(time.Second)}
	s.CommitAlarm(cleared, model.TransitionCleared)

	c = s.Counters()
	if c.AlarmStatesTotal != 1 {
		t.Fatalf("AlarmStatesTotal after clear = %d, want 1 (no new key)", c.AlarmStatesTotal)
	}
	if c.AlarmStatesActive != 0 {
		t.Fatalf("AlarmStatesActive after clear = %d, want 0", c.AlarmStatesActive)
	}
	if c.EventCountsByTransition[model.TransitionCleared] != 1 {
		t.Fatalf("cleared transition count = %d, want 1", c.EventCountsByTransition[model.TransitionCleared])
	}
}

func TestSetAck_UnknownKey(t *testing.T) {
	s := store.New()
	if _, ok := s.SetAck(model.AlarmKey{Source: "x", AlarmType: "y"}, true, time.Now()); ok {
		t.Fatalf("SetAck on unknown key returned ok=true")
	}
}

func TestSetAck_RoundTrip(t *testing.T) {
	s := store.New()
	key := model.AlarmKey{Source: "reactor-1", AlarmType: "HIGH_LIMIT"}
	now := time.Now()
	s.CommitAlarm(model.AlarmState{Key: key, Active: true, FirstSeen: now, LastSeen: now}, model.TransitionRaised)

	st, ok := s.SetAck(key, true, now)
	if !ok || !st.Acked || st.AckedAt == nil {
		t.Fatalf("SetAck(true) = %+v, %v", st, ok)
	}

	st, ok = s.SetAck(key, false, now)
	if !ok || st.Acked || st.AckedAt != nil {
		t.Fatalf("SetAck(false) = %+v, %v", st, ok)
	}
}

func TestSnapshot_CapturesAllAlarms(t *testing.T) {
	s := store.New()
	now := time.Now()
	s.CommitAlarm(model.AlarmState{Key: model.AlarmKey{Source: "a", AlarmType: "HIGH_LIMIT"}, Active: true, FirstSeen: now, LastSeen: now}, model.TransitionRaised)
	s.CommitAlarm(model.AlarmState{Key: model.AlarmKey{Source: "b", AlarmType: "LOW_LIMIT"}, Active: true, FirstSeen: now, LastSeen: now}, model.TransitionRaised)

	snap := s.Snapshot()
	if len(snap.Alarms) != 2 {
		t.Fatalf("snapshot has %d alarms, want 2", len(snap.Alarms))
	}
}
