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

// TwelveData fetches the time_series endpoint. It has no adjusted close, so
// the close is stored as the adjusted value.
type TwelveData struct {
	http    *httpClient
	apiKey  string
	suffix  string
	profile RateProfile
}

type tdValue struct {
	Datetime string `json:"datetime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

type tdResponse struct {
	Status  string    `json:"status"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Values  []tdValue `json:"values"`
}

func NewTwelveData(cfg config.ProviderConfig, logger *logrus.Logger) (*TwelveData, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: twelvedata requires an API key", config.ErrInvalidConfig)
	}
	return &TwelveData{
		http:    newHTTPClient(config.ProviderTwelveData, cfg.BaseURL, cfg.Timeout, logger),
		apiKey:  cfg.APIKey,
		suffix:  cfg.SymbolSuffix,
		profile: rateProfileFromConfig(cfg),
	}, nil
}

func (t *TwelveData) Name() string             { return config.ProviderTwelveData }
func (t *TwelveData) RateProfile() RateProfile { return t.profile }

func (t *TwelveData) FetchHistorical(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	q := url.Values{}
	q.Set("symbol", symbol+t.suffix)
	q.Set("interval", "1day")
	q.Set("start_date", start.Format(models.DateLayout))
	// end_date is exclusive on the API side
	q.Set("end_date", end.AddDate(0, 0, 1).Format(models.DateLayout))
	q.Set("order", "ASC")
	q.Set("outputsize", "5000")
	q.Set("apikey", t.apiKey)

	var body tdResponse
	if err := t.http.getJSON(ctx, symbol, "/time_series?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	if body.Status == "error" {
		return nil, newError(t.Name(), symbol, tdErrorKind(body.Code, body.Message), fmt.Errorf("code %d: %s", body.Code, body.Message))
	}

	bars := make([]models.PriceBar, 0, len(body.Values))
	for _, v := range body.Values {
		bar, err := v.toBar()
		if err != nil {
			return nil, newError(t.Name(), symbol, ErrMalformed, err)
		}
		bars = append(bars, bar)
	}
	return normalizeBars(bars, start, end), nil
}

// tdErrorKind maps the status codes Twelve Data embeds in 200 responses.
func tdErrorKind(code int, message string) error {
	switch {
	case code == 429:
		return ErrRateLimited
	case code == 404:
		return ErrNotFound
	case code == 400 && strings.Contains(strings.ToLower(message), "symbol"):
		return ErrNotFound
	default:
		return ErrUnavailable
	}
}

func (v tdValue) toBar() (models.PriceBar, error) {
	date, err := time.Parse("2006-01-02 15:04:05", v.Datetime)
	if err != nil {
		date, err = time.Parse(models.DateLayout, v.Datetime)
		if err != nil {
			return models.PriceBar{}, fmt.Errorf("parse time %q: %w", v.Datetime, err)
		}
	}
	bar := models.PriceBar{Date: date}
	if bar.Open, err = models.DecimalFromString(v.Open); err != nil {
		return bar, err
	}
	if bar.High, err = models.DecimalFromString(v.High); err != nil {
		return bar, err
	}
	if bar.Low, err = models.DecimalFromString(v.Low); err != nil {
		return bar, err
	}
	if bar.Close, err = models.DecimalFromString(v.Close); err != nil {
		return bar, err
	}
	bar.AdjustedClose = bar.Close
	if v.Volume != "" {
		if bar.Volume, err = strconv.ParseInt(v.Volume, 10, 64); err != nil {
			return bar, fmt.Errorf("parse volume %q: %w", v.Volume, err)
		}
	}
	return bar, nil
}
