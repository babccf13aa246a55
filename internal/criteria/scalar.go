// Package criteria — scalar.go
//
// Scalar limit criterion: for each configured scalar sensor, two
// independent alarm keys are evaluated — HIGH_LIMIT and LOW_LIMIT —
// each a strict-inequality breach against a configured bound.

package criteria

import (
	"fmt"
	"math"

	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
)

// ScalarLimit is the reference "scalar limit" criterion (SPEC_FULL.md
// §4.3.1): a sensor alarms when its latest value is strictly outside
// [LowLimit, HighLimit].
type ScalarLimit struct {
	Sensor     string
	Units      string
	LowLimit   float64
	HighLimit  float64
	Severity   model.Severity
}

// Name returns a criterion identifier unique to this sensor.
func (c *ScalarLimit) Name() string { return "scalar_limit:" + c.Sensor }

// Evaluate implements Criterion.
func (c *ScalarLimit) Evaluate(view *store.View) ([]model.AlarmDecision, error) {
	v, _, ok := view.GetScalar(c.Sensor)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		// No reading, or NaN/Inf treated as no reading: no decision for
		// either key (SPEC_FULL.md §4.3 edge cases).
		return nil, nil
	}

	decisions := make([]model.AlarmDecision, 0, 2)

	highActive := v > c.HighLimit
	decisions = append(decisions, model.AlarmDecision{
		Key:            model.AlarmKey{Source: c.Sensor, AlarmType: "HIGH_LIMIT"},
		ShouldBeActive: highActive,
		Severity:       c.Severity,
		Message:        fmt.Sprintf("%s above high limit: %g > %g %s", c.Sensor, v, c.HighLimit, c.Units),
		HasValue:       true,
		Value:          v,
		Details:        fmt.Sprintf("high_limit=%g", c.HighLimit),
	})

	lowActive := v < c.LowLimit
	decisions = append(decisions, model.AlarmDecision{
		Key:            model.AlarmKey{Source: c.Sensor, AlarmType: "LOW_LIMIT"},
		ShouldBeActive: lowActive,
		Severity:       c.Severity,
		Message:        fmt.Sprintf("%s below low limit: %g < %g %s", c.Sensor, v, c.LowLimit, c.Units),
		HasValue:       true,
		Value:          v,
		Details:        fmt.Sprintf("low_limit=%g", c.LowLimit),
	})

	return decisions, nil
}
