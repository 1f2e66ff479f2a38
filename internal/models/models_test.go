package models

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func validBar(date string) PriceBar {
	return PriceBar{
		Date:          day(date),
		Open:          decimal.NewFromFloat(10.5),
		High:          decimal.NewFromFloat(11),
		Low:           decimal.NewFromFloat(10),
		Close:         decimal.NewFromFloat(10.75),
		AdjustedClose: decimal.NewFromFloat(10.70),
		Volume:        1200,
	}
}

func TestPriceBar_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(b *PriceBar)
		wantErr bool
	}{
		{name: "valid bar", mutate: func(b *PriceBar) {}},
		{name: "missing date", mutate: func(b *PriceBar) { b.Date = time.Time{} }, wantErr: true},
		{name: "zero close", mutate: func(b *PriceBar) { b.Close = decimal.Zero }, wantErr: true},
		{name: "negative open", mutate: func(b *PriceBar) { b.Open = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "high below low", mutate: func(b *PriceBar) { b.High = decimal.NewFromInt(9) }, wantErr: true},
		{name: "negative volume", mutate: func(b *PriceBar) { b.Volume = -5 }, wantErr: true},
		{name: "zero adjusted close allowed", mutate: func(b *PriceBar) { b.AdjustedClose = decimal.Zero }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBar("2024-01-02")
			tt.mutate(&b)
			err := b.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBar)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBars_RejectsWholePayload(t *testing.T) {
	bad := validBar("2024-01-03")
	bad.Low = decimal.Zero
	err := ValidateBars([]PriceBar{validBar("2024-01-02"), bad})
	assert.ErrorIs(t, err, ErrInvalidBar)
}

func TestDecimalFromFloat(t *testing.T) {
	d, err := DecimalFromFloat(12.25)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(12.25).Equal(d))

	_, err = DecimalFromFloat(nan())
	assert.ErrorIs(t, err, ErrInvalidBar)
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestDecimalFromString(t *testing.T) {
	d, err := DecimalFromString("187.4400")
	require.NoError(t, err)
	assert.Equal(t, "187.44", d.String())

	_, err = DecimalFromString("n/a")
	assert.ErrorIs(t, err, ErrInvalidBar)
}

func TestBusinessDaysBetween(t *testing.T) {
	// 2024-01-03 (Wed) .. 2024-01-09 (Tue) spans one weekend
	assert.Equal(t, 5, BusinessDaysBetween(day("2024-01-03"), day("2024-01-09")))
	assert.Equal(t, 0, BusinessDaysBetween(day("2024-01-06"), day("2024-01-07")))
	assert.Equal(t, 1, BusinessDaysBetween(day("2024-01-08"), day("2024-01-08")))
}

func TestDateRange(t *testing.T) {
	r := DateRange{Start: day("2024-01-03"), End: day("2024-01-09")}
	assert.True(t, r.Contains(day("2024-01-03")))
	assert.True(t, r.Contains(day("2024-01-09").Add(15*time.Hour)))
	assert.False(t, r.Contains(day("2024-01-10")))
	assert.False(t, r.IsEmpty())
	assert.True(t, DateRange{Start: day("2024-01-10"), End: day("2024-01-09")}.IsEmpty())

	hull, ok := Hull([]DateRange{r, {Start: day("2024-02-01"), End: day("2024-02-02")}})
	require.True(t, ok)
	assert.Equal(t, day("2024-01-03"), hull.Start)
	assert.Equal(t, day("2024-02-02"), hull.End)

	_, ok = Hull(nil)
	assert.False(t, ok)
}

func TestFilterRange(t *testing.T) {
	bars := []PriceBar{validBar("2024-01-02"), validBar("2024-01-05"), validBar("2024-01-10")}
	got := FilterRange(bars, []DateRange{{Start: day("2024-01-04"), End: day("2024-01-10")}})
	require.Len(t, got, 2)
	assert.Equal(t, day("2024-01-05"), got[0].Date)

	assert.Len(t, FilterRange(bars, nil), 3)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeSymbol("  aapl "))
	assert.Equal(t, "BRK.B", NormalizeSymbol("brk.b"))
}

func TestFailureRecord_Exhausted(t *testing.T) {
	assert.False(t, FailureRecord{ConsecutiveFailures: 2}.Exhausted(3))
	assert.True(t, FailureRecord{ConsecutiveFailures: 3}.Exhausted(3))
	assert.False(t, FailureRecord{ConsecutiveFailures: 10}.Exhausted(0))
}

func TestSyncRun_LifecycleHelpers(t *testing.T) {
	started := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	run := NewSyncRun(started, "production", "batch-01")

	assert.Equal(t, SyncRunRunning, run.Status)
	assert.NotEmpty(t, run.RunID.String())
	assert.False(t, run.IsTerminal())
	assert.False(t, run.IsStale(started.Add(time.Hour), 6*time.Hour))
	assert.True(t, run.IsStale(started.Add(7*time.Hour), 6*time.Hour))

	run.ProviderStats["alphavantage"] = ProviderTally{Success: 1}
	cp := run.Clone()
	cp.ProviderStats["alphavantage"] = ProviderTally{Success: 5}
	assert.Equal(t, 1, run.ProviderStats["alphavantage"].Success)

	run.Status = SyncRunCompleted
	assert.True(t, run.IsTerminal())
	assert.False(t, run.IsStale(started.Add(7*time.Hour), 6*time.Hour))
}

func TestGap_BusinessDays(t *testing.T) {
	g := Gap{Symbol: "AAPL", Start: day("2024-01-03"), End: day("2024-01-09")}
	assert.Equal(t, 5, g.BusinessDays())
	assert.Equal(t, DateRange{Start: g.Start, End: g.End}, g.Range())
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "timeout", 20, "timeout"},
		{"ascii cut", "connection refused", 10, "connection"},
		{"cut inside rune backs off", "aé", 2, "a"},
		{"rune boundary kept", "aéb", 3, "aé"},
		{"invalid input cleaned", "ok\xffgo", 10, "okgo"},
		{"zero max", "anything", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateText(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}

	long := TruncateText("a"+strings.Repeat("é", 150), 200)
	assert.LessOrEqual(t, len(long), 200)
	assert.True(t, utf8.ValidString(long))
}
