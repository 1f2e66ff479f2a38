// Package gaps finds missing stretches in a symbol's stored daily history.
//
// The expected calendar is every weekday in range. Exchange holidays are not
// modelled; instead runs shorter than the minimum gap length are discarded as
// probable holidays.
package gaps

import (
	"sort"
	"time"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// DefaultMinGapDays is the shortest run of missing business days reported.
const DefaultMinGapDays = 3

// Detector computes gaps. It is pure and safe for concurrent use.
type Detector struct {
	minGapDays int
}

// NewDetector creates a detector; values below 1 fall back to the default.
func NewDetector(minGapDays int) *Detector {
	if minGapDays < 1 {
		minGapDays = DefaultMinGapDays
	}
	return &Detector{minGapDays: minGapDays}
}

// MinGapDays returns the configured holiday-noise threshold.
func (d *Detector) MinGapDays() int {
	return d.minGapDays
}

// Detect returns gaps in ascending order of start date. When window is nil the
// range is the min/max of the observed dates.
func (d *Detector) Detect(symbol string, observed []time.Time, window *models.DateRange) []models.Gap {
	have := make(map[time.Time]struct{}, len(observed))
	days := make([]time.Time, 0, len(observed))
	for _, t := range observed {
		day := models.TradingDay(t)
		if _, dup := have[day]; dup {
			continue
		}
		have[day] = struct{}{}
		days = append(days, day)
	}

	var start, end time.Time
	switch {
	case window != nil:
		start, end = models.TradingDay(window.Start), models.TradingDay(window.End)
	case len(days) > 0:
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
		start, end = days[0], days[len(days)-1]
	default:
		return nil
	}
	if end.Before(start) {
		return nil
	}

	var (
		gaps    []models.Gap
		runFrom time.Time
		runTo   time.Time
		runLen  int
	)
	flush := func() {
		if runLen >= d.minGapDays {
			gaps = append(gaps, models.Gap{Symbol: symbol, Start: runFrom, End: runTo})
		}
		runLen = 0
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if !models.IsBusinessDay(day) {
			continue
		}
		if _, ok := have[day]; ok {
			flush()
			continue
		}
		if runLen == 0 {
			runFrom = day
		}
		runTo = day
		runLen++
	}
	flush()

	return gaps
}
