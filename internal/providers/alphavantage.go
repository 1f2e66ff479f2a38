package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-pricesync/internal/config"
	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// compactWindow is roughly how far back the 100-point "compact" series reaches.
const compactWindow = 140 * 24 * time.Hour

// AlphaVantage fetches TIME_SERIES_DAILY_ADJUSTED. It is the high quality,
// low quota primary source.
type AlphaVantage struct {
	http    *httpClient
	apiKey  string
	suffix  string
	profile RateProfile
	now     func() time.Time
}

type avBar struct {
	Open          string `json:"1. open"`
	High          string `json:"2. high"`
	Low           string `json:"3. low"`
	Close         string `json:"4. close"`
	AdjustedClose string `json:"5. adjusted close"`
	Volume        string `json:"6. volume"`
}

type avResponse struct {
	ErrorMessage string           `json:"Error Message"`
	Note         string           `json:"Note"`
	Information  string           `json:"Information"`
	Series       map[string]avBar `json:"Time Series (Daily)"`
}

func NewAlphaVantage(cfg config.ProviderConfig, logger *logrus.Logger) (*AlphaVantage, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: alphavantage requires an API key", config.ErrInvalidConfig)
	}
	return &AlphaVantage{
		http:    newHTTPClient(config.ProviderAlphaVantage, cfg.BaseURL, cfg.Timeout, logger),
		apiKey:  cfg.APIKey,
		suffix:  cfg.SymbolSuffix,
		profile: rateProfileFromConfig(cfg),
		now:     time.Now,
	}, nil
}

func (a *AlphaVantage) Name() string             { return config.ProviderAlphaVantage }
func (a *AlphaVantage) RateProfile() RateProfile { return a.profile }

func (a *AlphaVantage) FetchHistorical(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	outputSize := "compact"
	if a.now().Sub(start) > compactWindow {
		outputSize = "full"
	}

	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY_ADJUSTED")
	q.Set("symbol", symbol+a.suffix)
	q.Set("outputsize", outputSize)
	q.Set("apikey", a.apiKey)

	var body avResponse
	if err := a.http.getJSON(ctx, symbol, "/query?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	// Alpha Vantage reports most failures with HTTP 200 and a message field.
	switch {
	case body.ErrorMessage != "":
		return nil, newError(a.Name(), symbol, ErrNotFound, fmt.Errorf("%s", body.ErrorMessage))
	case body.Note != "":
		return nil, newError(a.Name(), symbol, ErrRateLimited, fmt.Errorf("%s", body.Note))
	case body.Information != "":
		return nil, newError(a.Name(), symbol, ErrRateLimited, fmt.Errorf("%s", body.Information))
	case body.Series == nil:
		return nil, newError(a.Name(), symbol, ErrMalformed, fmt.Errorf("response has no daily series"))
	}

	bars := make([]models.PriceBar, 0, len(body.Series))
	for day, raw := range body.Series {
		bar, err := raw.toBar(day)
		if err != nil {
			return nil, newError(a.Name(), symbol, ErrMalformed, err)
		}
		bars = append(bars, bar)
	}
	return normalizeBars(bars, start, end), nil
}

func (b avBar) toBar(day string) (models.PriceBar, error) {
	date, err := time.Parse(models.DateLayout, day)
	if err != nil {
		return models.PriceBar{}, fmt.Errorf("parse date %q: %w", day, err)
	}
	bar := models.PriceBar{Date: date}
	if bar.Open, err = models.DecimalFromString(b.Open); err != nil {
		return bar, err
	}
	if bar.High, err = models.DecimalFromString(b.High); err != nil {
		return bar, err
	}
	if bar.Low, err = models.DecimalFromString(b.Low); err != nil {
		return bar, err
	}
	if bar.Close, err = models.DecimalFromString(b.Close); err != nil {
		return bar, err
	}
	if b.AdjustedClose == "" {
		bar.AdjustedClose = bar.Close
	} else if bar.AdjustedClose, err = models.DecimalFromString(b.AdjustedClose); err != nil {
		return bar, err
	}
	if bar.Volume, err = strconv.ParseInt(b.Volume, 10, 64); err != nil {
		return bar, fmt.Errorf("parse volume %q: %w", b.Volume, err)
	}
	return bar, nil
}
