// Package criteria — ftir.go
//
// FTIR peak shift criterion: alarms when the argmax bin of the latest
// spectrum for a channel has drifted more than a tolerance away from
// the channel's configured reference peak bin.

package criteria

import (
	"fmt"
	"math"

	"github.com/alarmcore/alarmcore/internal/model"
	"github.com/alarmcore/alarmcore/internal/store"
)

// FTIRPeakShift is the reference "FTIR peak shift" criterion
// (SPEC_FULL.md §4.3.3). The reference peak bin index is carried on
// the store's sensor-latest entry for the channel (set once at startup
// from configuration via Store.SetReferenceSpectrum), not recomputed
// from a reference spectrum on every tick.
type FTIRPeakShift struct {
	Channel       string
	ToleranceBins int
	Severity      model.Severity
}

// Name returns a criterion identifier unique to this channel.
func (c *FTIRPeakShift) Name() string { return "ftir_peak_shift:" + c.Channel }

// Evaluate implements Criterion.
func (c *FTIRPeakShift) Evaluate(view *store.View) ([]model.AlarmDecision, error) {
	values, _, referenceIdx, ok := view.GetSpectrum(c.Channel)
	if !ok || len(values) == 0 {
		// No latest spectrum: produce no decision (SPEC_FULL.md §4.3.3).
		return nil, nil
	}
	if referenceIdx < 0 {
		// No reference configured for this channel: nothing to compare
		// against, so no decision rather than a false CLEARED/RAISED.
		return nil, nil
	}

	latestIdx := argmax(values)
	shift := latestIdx - referenceIdx
	if shift < 0 {
		shift = -shift
	}

	key := model.AlarmKey{Source: c.Channel, AlarmType: "FTIR_PEAK_SHIFT"}
	return []model.AlarmDecision{{
		Key:            key,
		ShouldBeActive: shift > c.ToleranceBins,
		Severity:       c.Severity,
		Message:        fmt.Sprintf("%s peak shift: argmax=%d ref=%d shift=%d bins", c.Channel, latestIdx, referenceIdx, shift),
		HasValue:       true,
		Value:          float64(shift),
		Details:        fmt.Sprintf("tolerance_bins=%d", c.ToleranceBins),
	}}, nil
}

// argmax returns the index of the maximum value in values. Ties
// resolve to the first (lowest-index) occurrence.
func argmax(values []float64) int {
	best := 0
	bestVal := math.Inf(-1)
	for i, v := range values {
		if v > bestVal {
			bestVal = v
			best = i
		}
	}
	return best
}
