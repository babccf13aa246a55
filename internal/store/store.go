// Package store — store.go
//
// The authoritative in-memory state of the alarm processing core:
// latest value per sensor, latest spectrum per spectral channel, the
// alarm-state table, and the derived counters. Every mutating and
// reading operation is serialized under a single mutex; Snapshot()
// captures the alarm-state table and counters under one acquisition,
// and View() captures the sensor-latest map under another. Sensor-latest
// state is not part of Snapshot().
//
// Design note: the specification allows either a re-entrant guard or
// an immutable-view-plus-non-reentrant-write-back strategy (see
// SPEC_FULL.md §9). This store takes the latter: sensor entries are
// replaced wholesale rather than mutated in place (copy-on-write), so
// View() can hand criteria a consistent read-only snapshot without
// holding the lock during evaluation, and the lock itself never needs
// to be re-acquired by the same goroutine mid-operation.

package store

import (
	"sync"
	"time"

	"github.com/alarmcore/alarmcore/internal/model"
)

// Store is the shared, concurrency-safe state container.
type Store struct {
	mu       sync.Mutex
	sensors  map[string]*model.SensorLatest
	alarms   map[model.AlarmKey]*model.AlarmState
	counters model.Counters
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sensors: make(map[string]*model.SensorLatest),
		alarms:  make(map[model.AlarmKey]*model.AlarmState),
		counters: model.Counters{
			StateCountsBySeverity:   make(map[model.Severity]uint64),
			EventCountsByTransition: make(map[model.Transition]uint64),
		},
	}
}

// UpsertScalar records the latest scalar value for a sensor.
// NaN and Inf values are accepted and stored (criteria are responsible
// for treating them as "no reading"; see SPEC_FULL.md §4.3).
func (s *Store) UpsertScalar(name string, value float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sensors[name]
	next := &model.SensorLatest{Name: name, HasScalar: true, Value: value, ScalarTS: ts}
	if prev != nil {
		next.HasSpectrum = prev.HasSpectrum
		next.Spectrum = prev.Spectrum
		next.SpectrumTS = prev.SpectrumTS
		next.ReferenceIdx = prev.ReferenceIdx
	} else {
		next.ReferenceIdx = -1
	}
	s.sensors[name] = next
}

// UpsertSpectrum records the latest spectrum for a sensor channel.
func (s *Store) UpsertSpectrum(name string, values []float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sensors[name]
	cp := make([]float64, len(values))
	copy(cp, values)
	next := &model.SensorLatest{Name: name, HasSpectrum: true, Spectrum: cp, SpectrumTS: ts, ReferenceIdx: -1}
	if prev != nil {
		next.HasScalar = prev.HasScalar
		next.Value = prev.Value
		next.ScalarTS = prev.ScalarTS
		next.ReferenceIdx = prev.ReferenceIdx
	}
	s.sensors[name] = next
}

// SetReferenceSpectrum configures the reference peak bin index used by
// the FTIR peak-shift criterion for the named channel. Set once at
// startup from configuration, not on the hot path.
func (s *Store) SetReferenceSpectrum(name string, referencePeakIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sensors[name]
	next := &model.SensorLatest{Name: name, ReferenceIdx: referencePeakIndex}
	if ok {
		*next = *cur
		next.ReferenceIdx = referencePeakIndex
	}
	s.sensors[name] = next
}

// GetScalar returns the latest scalar value for a sensor, or ok=false
// if the sensor has never reported a scalar reading.
func (s *Store) GetScalar(name string) (value float64, ts time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.sensors[name]
	if !found || !e.HasScalar {
		return 0, time.Time{}, false
	}
	return e.Value, e.ScalarTS, true
}

// GetSpectrum returns the latest spectrum for a sensor channel, or
// ok=false if the channel has never reported a spectrum.
func (s *Store) GetSpectrum(name string) (values []float64, ts time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.sensors[name]
	if !found || !e.HasSpectrum {
		return nil, time.Time{}, false
	}
	return e.Spectrum, e.SpectrumTS, true
}

// View returns a consistent read-only snapshot of the sensor-latest
// map for criteria evaluation. Because sensor entries are replaced
// wholesale rather than mutated, the returned view remains valid and
// immutable even after later updates land in the store.
func (s *Store) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	sensors := make(map[string]*model.SensorLatest, len(s.sensors))
	for k, v := range s.sensors {
		sensors[k] = v
	}
	return &View{sensors: sensors}
}

// View is an immutable, point-in-time snapshot of sensor-latest state,
// safe to read from any goroutine without further synchronization.
type View struct {
	sensors map[string]*model.SensorLatest
}

// GetScalar returns the latest scalar value for a sensor as captured
// at View() time.
func (v *View) GetScalar(name string) (value float64, ts time.Time, ok bool) {
	e, found := v.sensors[name]
	if !found || !e.HasScalar {
		return 0, time.Time{}, false
	}
	return e.Value, e.ScalarTS, true
}

// GetSpectrum returns the latest spectrum for a sensor channel as
// captured at View() time, along with its configured reference peak
// bin index (-1 if unset).
func (v *View) GetSpectrum(name string) (values []float64, ts time.Time, referenceIdx int, ok bool) {
	e, found := v.sensors[name]
	if !found || !e.HasSpectrum {
		return nil, time.Time{}, -1, false
	}
	return e.Spectrum, e.SpectrumTS, e.ReferenceIdx, true
}

// AlarmState returns the current alarm-state record for a key, if any.
func (s *Store) AlarmState(key model.AlarmKey) (model.AlarmState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.alarms[key]
	if !ok {
		return model.AlarmState{}, false
	}
	return st.Clone(), true
}

// CommitAlarm writes a new alarm-state record for key under the
// transition that produced it, and returns the prior record (if any).
// Counters — including the per-transition event counters — are
// updated in the same critical section as the state-table write, per
// SPEC_FULL.md §4.2 ("counter updates are performed in the same
// critical section as the state-table update they describe").
func (s *Store) CommitAlarm(newState model.AlarmState, transition model.Transition) (prior model.AlarmState, hadPrior bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.alarms[newState.Key]
	if existed {
		prior = old.Clone()
		hadPrior = true
	}

	if !existed {
		s.counters.AlarmStatesTotal++
	}

	// Remove the prior severity/active contribution before applying the new one.
	if existed && old.Active {
		s.counters.AlarmStatesActive--
		s.counters.StateCountsBySeverity[old.Severity]--
	}
	if newState.Active {
		s.counters.AlarmStatesActive++
		s.counters.StateCountsBySeverity[newState.Severity]++
	}

	s.counters.AlarmEventsTotal++
	s.counters.EventCountsByTransition[transition]++

	stored := newState
	s.alarms[newState.Key] = &stored
	return prior, hadPrior
}

// TouchLastSeen updates only the last_seen timestamp of an existing
// active alarm, used when a decision repeats within value_eps and must
// not generate an UPDATED event.
func (s *Store) TouchLastSeen(key model.AlarmKey, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.alarms[key]; ok {
		st.LastSeen = ts
	}
}

// SetAck sets or clears the operator-acknowledgement annotation on an
// alarm key. Never participates in RAISED/UPDATED/CLEARED logic.
func (s *Store) SetAck(key model.AlarmKey, acked bool, ts time.Time) (model.AlarmState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.alarms[key]
	if !ok {
		return model.AlarmState{}, false
	}
	st.Acked = acked
	if acked {
		t := ts
		st.AckedAt = &t
	} else {
		st.AckedAt = nil
	}
	return st.Clone(), true
}

// RecordReadingDropped increments the readings-dropped counter.
func (s *Store) RecordReadingDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.ReadingsDroppedTotal++
}

// RecordNotificationDropped increments the notifications-dropped counter.
func (s *Store) RecordNotificationDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.NotificationsDroppedTotal++
}

// RecordCriteriaError increments the criteria-errors counter.
func (s *Store) RecordCriteriaError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.CriteriaErrorsTotal++
}

// Counters returns a copy of the current counters.
func (s *Store) Counters() model.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters.Clone()
}

// Snapshot returns a consistent point-in-time copy of every AlarmState
// plus the counters, captured under one lock acquisition.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	alarms := make([]model.AlarmState, 0, len(s.alarms))
	for _, st := range s.alarms {
		alarms = append(alarms, st.Clone())
	}
	return model.Snapshot{
		Alarms:   alarms,
		Counters: s.counters.Clone(),
		TakenAt:  time.Now(),
	}
}
