package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-pricesync/internal/config"
)

func newTestYahoo(t *testing.T, handler http.HandlerFunc) *Yahoo {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	y, err := NewYahoo(config.ProviderConfig{BaseURL: server.URL, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	return y
}

// 2024-01-02 and 2024-01-03 14:30 UTC, market open in New York.
const yahooChart = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "BRK-B", "gmtoffset": -18000},
      "timestamp": [1704205800, 1704292200, 1704378600],
      "indicators": {
        "quote": [{
          "open":   [362.0, 360.1, null],
          "high":   [365.2, 361.9, 358.0],
          "low":    [360.5, 357.3, 355.1],
          "close":  [362.4, 358.2, 357.0],
          "volume": [3500000, 4100000, 3900000]
        }],
        "adjclose": [{"adjclose": [362.4, 358.2, 357.0]}]
      }
    }],
    "error": null
  }
}`

func TestYahoo_FetchHistorical(t *testing.T) {
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/BRK-B", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "1704153600", r.URL.Query().Get("period1"))
		_, _ = w.Write([]byte(yahooChart))
	})

	bars, err := y.FetchHistorical(context.Background(), "BRK.B", date(2024, 1, 2), date(2024, 1, 4))
	require.NoError(t, err)

	// the third row has a null open and is skipped
	require.Len(t, bars, 2)
	assert.Equal(t, date(2024, 1, 2), bars[0].Date)
	assert.Equal(t, date(2024, 1, 3), bars[1].Date)
	assert.Equal(t, "362.4", bars[0].Close.String())
	assert.Equal(t, int64(4100000), bars[1].Volume)
	assert.NoError(t, bars[0].Validate())
}

func TestYahoo_NotFound(t *testing.T) {
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	})

	_, err := y.FetchHistorical(context.Background(), "GONE", date(2024, 1, 2), date(2024, 1, 4))
	assert.True(t, IsNotFound(err))
	assert.False(t, CountsAsBreakerFailure(err))
}

func TestYahoo_ErrorEnvelope(t *testing.T) {
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Internal","description":"oops"}}}`))
	})

	_, err := y.FetchHistorical(context.Background(), "AAPL", date(2024, 1, 2), date(2024, 1, 4))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, CountsAsBreakerFailure(err))
}

func TestYahoo_LengthMismatch(t *testing.T) {
	y := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{},"timestamp":[1704205800],"indicators":{"quote":[{"open":[],"high":[],"low":[],"close":[],"volume":[]}]}}],"error":null}}`))
	})

	_, err := y.FetchHistorical(context.Background(), "AAPL", date(2024, 1, 2), date(2024, 1, 4))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestYahoo_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	y, err := NewYahoo(config.ProviderConfig{BaseURL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = y.FetchHistorical(context.Background(), "AAPL", date(2024, 1, 2), date(2024, 1, 4))
	assert.ErrorIs(t, err, ErrUnavailable)
}
