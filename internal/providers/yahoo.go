package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-pricesync/internal/config"
	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// Yahoo reads the public v8 chart endpoint. No key, generous pacing, but
// rows may contain nulls and are dropped when they do.
type Yahoo struct {
	http    *httpClient
	suffix  string
	profile RateProfile
}

type yahooChartResponse struct {
	Chart struct {
		Result []yahooResult `json:"result"`
		Error  *yahooError   `json:"error"`
	} `json:"chart"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		GMTOffset int64  `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

func NewYahoo(cfg config.ProviderConfig, logger *logrus.Logger) (*Yahoo, error) {
	return &Yahoo{
		http:    newHTTPClient(config.ProviderYahoo, cfg.BaseURL, cfg.Timeout, logger),
		suffix:  cfg.SymbolSuffix,
		profile: rateProfileFromConfig(cfg),
	}, nil
}

func (y *Yahoo) Name() string             { return config.ProviderYahoo }
func (y *Yahoo) RateProfile() RateProfile { return y.profile }

// yahooSymbol converts class share notation, BRK.B becomes BRK-B.
func (y *Yahoo) yahooSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, ".", "-") + y.suffix
}

func (y *Yahoo) FetchHistorical(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(models.TradingDay(start).Unix(), 10))
	q.Set("period2", strconv.FormatInt(models.TradingDay(end).AddDate(0, 0, 1).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div,split")

	path := "/v8/finance/chart/" + url.PathEscape(y.yahooSymbol(symbol)) + "?" + q.Encode()

	var body yahooChartResponse
	if err := y.http.getJSON(ctx, symbol, path, &body); err != nil {
		return nil, err
	}

	if e := body.Chart.Error; e != nil {
		kind := ErrUnavailable
		if strings.EqualFold(e.Code, "Not Found") {
			kind = ErrNotFound
		}
		return nil, newError(y.Name(), symbol, kind, fmt.Errorf("%s: %s", e.Code, e.Description))
	}
	if len(body.Chart.Result) == 0 {
		return nil, newError(y.Name(), symbol, ErrNotFound, fmt.Errorf("empty chart result"))
	}

	bars, err := body.Chart.Result[0].bars()
	if err != nil {
		return nil, newError(y.Name(), symbol, ErrMalformed, err)
	}
	return normalizeBars(bars, start, end), nil
}

func (r yahooResult) bars() ([]models.PriceBar, error) {
	if len(r.Timestamp) == 0 {
		return nil, nil
	}
	if len(r.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart has timestamps but no quote series")
	}
	q := r.Indicators.Quote[0]
	n := len(r.Timestamp)
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n || len(q.Volume) != n {
		return nil, fmt.Errorf("quote series length mismatch for %d timestamps", n)
	}
	var adj []*float64
	if len(r.Indicators.AdjClose) > 0 && len(r.Indicators.AdjClose[0].AdjClose) == n {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]models.PriceBar, 0, n)
	for i, ts := range r.Timestamp {
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil || q.Volume[i] == nil {
			continue
		}
		bar := models.PriceBar{
			Date:   models.TradingDay(time.Unix(ts+r.Meta.GMTOffset, 0).UTC()),
			Volume: *q.Volume[i],
		}
		var err error
		if bar.Open, err = models.DecimalFromFloat(*q.Open[i]); err != nil {
			return nil, err
		}
		if bar.High, err = models.DecimalFromFloat(*q.High[i]); err != nil {
			return nil, err
		}
		if bar.Low, err = models.DecimalFromFloat(*q.Low[i]); err != nil {
			return nil, err
		}
		if bar.Close, err = models.DecimalFromFloat(*q.Close[i]); err != nil {
			return nil, err
		}
		bar.AdjustedClose = bar.Close
		if adj != nil && adj[i] != nil {
			if bar.AdjustedClose, err = models.DecimalFromFloat(*adj[i]); err != nil {
				return nil, err
			}
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
