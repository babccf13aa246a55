// Package notify — payload.go
//
// The outbound webhook payload shape (SPEC_FULL.md §4.7, §6):
//
//	{ "type": "alarm_event", "event": {...}, "totals": {...} }

package notify

import (
	"time"

	"github.com/alarmcore/alarmcore/internal/model"
)

// Payload is the JSON body posted to the configured webhook.
type Payload struct {
	Type   string        `json:"type"`
	Event  wireEvent     `json:"event"`
	Totals wireCounters  `json:"totals"`

	attempt int // internal retry counter, not serialized
}

type wireKey struct {
	Source    string `json:"source"`
	AlarmType string `json:"alarm_type"`
}

type wireEvent struct {
	Key        wireKey  `json:"key"`
	Transition string   `json:"transition"`
	Severity   string   `json:"severity"`
	Timestamp  string   `json:"timestamp"`
	Message    string   `json:"message"`
	Value      *float64 `json:"value,omitempty"`
	Details    string   `json:"details,omitempty"`
}

type wireCounters struct {
	AlarmStatesTotal        uint64            `json:"alarm_states_total"`
	AlarmStatesActive       uint64            `json:"alarm_states_active"`
	AlarmEventsTotal        uint64            `json:"alarm_events_total"`
	StateCountsBySeverity   map[string]uint64 `json:"state_counts_by_severity"`
	EventCountsByTransition map[string]uint64 `json:"event_counts_by_transition"`
}

// buildPayload joins an event with a counters snapshot into a delivery
// payload.
func buildPayload(ev model.AlarmEvent, counters model.Counters) Payload {
	p := Payload{
		Type: "alarm_event",
		Event: wireEvent{
			Key:        wireKey{Source: ev.Key.Source, AlarmType: ev.Key.AlarmType},
			Transition: ev.Transition.String(),
			Severity:   ev.Severity.String(),
			Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339Nano),
			Message:    ev.Message,
			Details:    ev.Details,
		},
		Totals: wireCounters{
			AlarmStatesTotal:        counters.AlarmStatesTotal,
			AlarmStatesActive:       counters.AlarmStatesActive,
			AlarmEventsTotal:        counters.AlarmEventsTotal,
			StateCountsBySeverity:   bySeverityLabels(counters.StateCountsBySeverity),
			EventCountsByTransition: byTransitionLabels(counters.EventCountsByTransition),
		},
	}
	if ev.HasValue {
		v := ev.Value
		p.Event.Value = &v
	}
	return p
}

func bySeverityLabels(m map[model.Severity]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k.String()] = v
	}
	return out
}

func byTransitionLabels(m map[model.Transition]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k.String()] = v
	}
	return out
}
