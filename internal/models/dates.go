package models

import "time"

// DateLayout is the wire and log format for trading dates.
const DateLayout = "2006-01-02"

// TradingDay truncates t to midnight UTC of its calendar date.
func TradingDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsBusinessDay reports whether t falls on Monday through Friday.
func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// BusinessDaysBetween counts weekdays in the closed range [from, to].
func BusinessDaysBetween(from, to time.Time) int {
	from, to = TradingDay(from), TradingDay(to)
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if IsBusinessDay(d) {
			n++
		}
	}
	return n
}

// DateRange is a closed range of trading days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t's trading day lies inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := TradingDay(t)
	return !d.Before(TradingDay(r.Start)) && !d.After(TradingDay(r.End))
}

// IsEmpty reports whether the range contains no days.
func (r DateRange) IsEmpty() bool {
	return TradingDay(r.End).Before(TradingDay(r.Start))
}

// Hull returns the smallest range covering every input range.
func Hull(ranges []DateRange) (DateRange, bool) {
	if len(ranges) == 0 {
		return DateRange{}, false
	}
	out := ranges[0]
	for _, r := range ranges[1:] {
		if r.Start.Before(out.Start) {
			out.Start = r.Start
		}
		if r.End.After(out.End) {
			out.End = r.End
		}
	}
	return out, true
}
