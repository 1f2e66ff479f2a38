// Package providers adapts upstream daily price APIs to a single interface.
package providers

import (
	"context"
	"sort"
	"time"

	"github.com/irfndi/celebrum-pricesync/internal/config"
	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// Provider is implemented by every upstream adapter.
type Provider interface {
	// Name returns the configured provider name, e.g. "alphavantage".
	Name() string
	// RateProfile returns the pacing parameters for this provider.
	RateProfile() RateProfile
	// FetchHistorical returns daily bars for symbol within [start, end],
	// sorted ascending by date with at most one bar per day.
	FetchHistorical(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error)
}

// RateProfile describes how fast a provider may be called and how the delay
// grows while it keeps failing.
type RateProfile struct {
	CallsPerMinute   int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BackoffThreshold int
	BackoffFactor    float64
}

func rateProfileFromConfig(cfg config.ProviderConfig) RateProfile {
	p := RateProfile{
		CallsPerMinute:   cfg.CallsPerMinute,
		BaseDelay:        cfg.BaseDelay,
		MaxDelay:         cfg.MaxDelay,
		BackoffThreshold: cfg.BackoffThreshold,
		BackoffFactor:    cfg.BackoffFactor,
	}
	if p.BaseDelay <= 0 && p.CallsPerMinute > 0 {
		p.BaseDelay = time.Minute / time.Duration(p.CallsPerMinute)
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2
	}
	return p
}

// normalizeBars sorts bars by date, keeps the last bar seen for a day and
// drops anything outside [start, end].
func normalizeBars(bars []models.PriceBar, start, end time.Time) []models.PriceBar {
	window := models.DateRange{Start: models.TradingDay(start), End: models.TradingDay(end)}

	byDay := make(map[time.Time]models.PriceBar, len(bars))
	for _, b := range bars {
		b.Date = models.TradingDay(b.Date)
		if !window.Contains(b.Date) {
			continue
		}
		byDay[b.Date] = b
	}

	out := make([]models.PriceBar, 0, len(byDay))
	for _, b := range byDay {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
