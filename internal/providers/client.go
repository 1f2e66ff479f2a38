package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

const userAgent = "Celebrum-PriceSync/1.0"

// maxBodyBytes bounds how much of a provider response is read into memory.
const maxBodyBytes = 32 << 20

// httpClient is the transport shared by the REST adapters.
type httpClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

func newHTTPClient(name, baseURL string, timeout time.Duration, logger *logrus.Logger) *httpClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &httpClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// getJSON performs a GET and decodes the body into result. Transport and
// status failures are mapped onto the provider error kinds; a cancelled
// context is returned as is.
func (c *httpClient) getJSON(ctx context.Context, symbol, path string, result interface{}) error {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return newError(c.name, symbol, ErrUnavailable, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return newError(c.name, symbol, ErrUnavailable, fmt.Errorf("failed to make request: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Debug("Error closing response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return newError(c.name, symbol, ErrUnavailable, fmt.Errorf("failed to read response body: %w", err))
	}

	c.logger.WithFields(logrus.Fields{
		"provider": c.name,
		"symbol":   symbol,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("Provider request completed")

	if err := classifyStatus(resp.StatusCode); err != nil {
		return newError(c.name, symbol, err, fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body)))
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return newError(c.name, symbol, ErrMalformed, fmt.Errorf("failed to unmarshal response: %w", err))
		}
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 400:
		return ErrUnavailable
	default:
		return nil
	}
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return models.TruncateText(s, max) + "..."
	}
	return strings.ToValidUTF8(s, "")
}
