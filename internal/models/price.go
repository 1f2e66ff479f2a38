package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidBar is returned when a bar fails numeric validation.
var ErrInvalidBar = errors.New("invalid price bar")

// PriceBar is one normalized daily bar as produced by a provider adapter.
type PriceBar struct {
	Date          time.Time       `json:"date"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	AdjustedClose decimal.Decimal `json:"adjusted_close"`
	Volume        int64           `json:"volume"`
}

// PriceRecord is a stored bar. At most one exists per (Symbol, Date).
type PriceRecord struct {
	Symbol string `json:"symbol" db:"symbol"`
	PriceBar
	Source    string    `json:"source" db:"source"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks that every required numeric field is present and sane.
func (b PriceBar) Validate() error {
	if b.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidBar)
	}
	for name, v := range map[string]decimal.Decimal{
		"open":  b.Open,
		"high":  b.High,
		"low":   b.Low,
		"close": b.Close,
	} {
		if !v.IsPositive() {
			return fmt.Errorf("%w: %s must be positive on %s, got %s", ErrInvalidBar, name, b.Date.Format(DateLayout), v)
		}
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("%w: high %s below low %s on %s", ErrInvalidBar, b.High, b.Low, b.Date.Format(DateLayout))
	}
	if b.AdjustedClose.IsNegative() {
		return fmt.Errorf("%w: negative adjusted close on %s", ErrInvalidBar, b.Date.Format(DateLayout))
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: negative volume on %s", ErrInvalidBar, b.Date.Format(DateLayout))
	}
	return nil
}

// ValidateBars validates a whole payload; one bad bar rejects all of it.
func ValidateBars(bars []PriceBar) error {
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DecimalFromFloat converts a provider float, rejecting NaN and infinities.
func DecimalFromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("%w: non-finite value %v", ErrInvalidBar, v)
	}
	return decimal.NewFromFloat(v), nil
}

// DecimalFromString parses a provider string price.
func DecimalFromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: parse %q: %v", ErrInvalidBar, s, err)
	}
	return d, nil
}

// FilterRange keeps bars whose date falls inside any of the given spans.
func FilterRange(bars []PriceBar, spans []DateRange) []PriceBar {
	if len(spans) == 0 {
		return bars
	}
	out := make([]PriceBar, 0, len(bars))
	for _, b := range bars {
		for _, s := range spans {
			if s.Contains(b.Date) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}
