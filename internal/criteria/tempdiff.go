// Package criteria — tempdiff.go
//
// Temperature differential criterion: alarms when the absolute
// difference between two named scalar sensors exceeds a threshold.

package criteria

import (
	"fmt"
	"math"

	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
)

// TempDiff is the reference "temperature differential" criterion
// (SPEC_FULL.md §4.3.2).
type TempDiff struct {
	PairName string
	SensorA  string
	SensorB  string
	Delta    float64
	Severity model.Severity
}

// Name returns a criterion identifier unique to this sensor pair.
func (c *TempDiff) Name() string { return "temp_diff:" + c.PairName }

// Evaluate implements Criterion.
func (c *TempDiff) Evaluate(view *store.View) ([]model.AlarmDecision, error) {
	a, _, okA := view.GetScalar(c.SensorA)
	b, _, okB := view.GetScalar(c.SensorB)
	if !okA || !okB || isNoReading(a) || isNoReading(b) {
		return nil, nil
	}

	diff := math.Abs(a - b)
	key := model.AlarmKey{Source: c.PairName, AlarmType: "TEMP_DIFF"}
	return []model.AlarmDecision{{
		Key:            key,
		ShouldBeActive: diff > c.Delta,
		Severity:       c.Severity,
		Message:        fmt.Sprintf("%s differential: |%g - %g| = %g > %g", c.PairName, a, b, diff, c.Delta),
		HasValue:       true,
		Value:          diff,
		Details:        fmt.Sprintf("a=%s b=%s delta=%g", c.SensorA, c.SensorB, c.Delta),
	}}, nil
}

func isNoReading(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
