package gaps

import (
	"testing"
	"time"

	"github.com/irfndi/celebrum-pricesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dates(ss ...string) []time.Time {
	out := make([]time.Time, 0, len(ss))
	for _, s := range ss {
		out = append(out, d(s))
	}
	return out
}

func TestNewDetector_Defaults(t *testing.T) {
	assert.Equal(t, DefaultMinGapDays, NewDetector(0).MinGapDays())
	assert.Equal(t, 5, NewDetector(5).MinGapDays())
}

func TestDetect_ReportsMultiDayGap(t *testing.T) {
	det := NewDetector(3)
	got := det.Detect("AAPL", dates("2024-01-01", "2024-01-02", "2024-01-10"), nil)

	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, d("2024-01-03"), got[0].Start)
	assert.Equal(t, d("2024-01-09"), got[0].End)
	assert.Equal(t, 5, got[0].BusinessDays())
}

func TestDetect_IgnoresSingleHoliday(t *testing.T) {
	det := NewDetector(3)
	// 2024-01-15 is a Monday holiday
	got := det.Detect("MSFT", dates("2024-01-11", "2024-01-12", "2024-01-16", "2024-01-17"), nil)
	assert.Empty(t, got)
}

func TestDetect_WeekendsDoNotSplitOrCount(t *testing.T) {
	det := NewDetector(3)
	// Fri 2024-01-05 present, Mon..Wed 08..10 missing, Thu 11 present
	got := det.Detect("IBM", dates("2024-01-05", "2024-01-11"), nil)
	require.Len(t, got, 1)
	assert.Equal(t, d("2024-01-08"), got[0].Start)
	assert.Equal(t, d("2024-01-10"), got[0].End)

	// Thu 04 .. Tue 09 missing around a weekend is one run of four days
	got = det.Detect("IBM", dates("2024-01-03", "2024-01-10"), nil)
	require.Len(t, got, 1)
	assert.Equal(t, d("2024-01-04"), got[0].Start)
	assert.Equal(t, d("2024-01-09"), got[0].End)
}

func TestDetect_ExplicitWindowFindsEdges(t *testing.T) {
	det := NewDetector(3)
	window := &models.DateRange{Start: d("2024-02-01"), End: d("2024-02-29")}
	got := det.Detect("TSLA", dates("2024-02-07", "2024-02-08", "2024-02-09", "2024-02-12", "2024-02-13"), window)

	require.Len(t, got, 2)
	assert.Equal(t, d("2024-02-01"), got[0].Start)
	assert.Equal(t, d("2024-02-06"), got[0].End)
	assert.Equal(t, d("2024-02-14"), got[1].Start)
	assert.Equal(t, d("2024-02-29"), got[1].End)
	assert.True(t, got[0].End.Before(got[1].Start))
}

func TestDetect_EmptyInputs(t *testing.T) {
	det := NewDetector(3)
	assert.Nil(t, det.Detect("X", nil, nil))

	window := &models.DateRange{Start: d("2024-03-04"), End: d("2024-03-08")}
	got := det.Detect("X", nil, window)
	require.Len(t, got, 1)
	assert.Equal(t, d("2024-03-04"), got[0].Start)
	assert.Equal(t, d("2024-03-08"), got[0].End)

	inverted := &models.DateRange{Start: d("2024-03-08"), End: d("2024-03-04")}
	assert.Nil(t, det.Detect("X", nil, inverted))
}

func TestDetect_UnsortedAndDuplicateInput(t *testing.T) {
	det := NewDetector(3)
	in := dates("2024-01-10", "2024-01-01", "2024-01-02", "2024-01-10")
	in = append(in, d("2024-01-02").Add(13*time.Hour))
	got := det.Detect("AAPL", in, nil)
	require.Len(t, got, 1)
	assert.Equal(t, d("2024-01-03"), got[0].Start)
}

func TestDetect_GapsAreOrderedAndMeetThreshold(t *testing.T) {
	det := NewDetector(2)
	window := &models.DateRange{Start: d("2024-04-01"), End: d("2024-04-30")}
	observed := dates("2024-04-03", "2024-04-05", "2024-04-10", "2024-04-11", "2024-04-22")
	got := det.Detect("NVDA", observed, window)

	require.NotEmpty(t, got)
	for i, g := range got {
		assert.GreaterOrEqual(t, g.BusinessDays(), 2)
		if i > 0 {
			assert.True(t, got[i-1].End.Before(g.Start))
		}
	}
}
