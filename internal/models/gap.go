package models

import "time"

// Gap is a maximal run of missing expected trading days for a symbol.
// Gaps are derived from stored dates and never persisted.
type Gap struct {
	Symbol string    `json:"symbol,omitempty"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// BusinessDays returns the number of weekdays the gap spans.
func (g Gap) BusinessDays() int {
	return BusinessDaysBetween(g.Start, g.End)
}

// Range converts the gap into a fetch window.
func (g Gap) Range() DateRange {
	return DateRange{Start: g.Start, End: g.End}
}
