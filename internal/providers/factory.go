package providers

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-pricesync/internal/config"
)

// Constructor builds an adapter from its config block.
type Constructor func(cfg config.ProviderConfig, logger *logrus.Logger) (Provider, error)

var registry = map[string]Constructor{
	config.ProviderAlphaVantage: func(cfg config.ProviderConfig, logger *logrus.Logger) (Provider, error) {
		return NewAlphaVantage(cfg, logger)
	},
	config.ProviderTwelveData: func(cfg config.ProviderConfig, logger *logrus.Logger) (Provider, error) {
		return NewTwelveData(cfg, logger)
	},
	config.ProviderYahoo: func(cfg config.ProviderConfig, logger *logrus.Logger) (Provider, error) {
		return NewYahoo(cfg, logger)
	},
}

// New resolves a provider name to a live adapter.
//
// Parameters:
//
//	name: Provider name, case insensitive.
//	cfg: Provider configuration block.
//	logger: Logger passed to the adapter's HTTP client.
//
// Returns:
//
//	Provider: Adapter instance.
//	error: ErrUnknownProvider for names without an adapter.
func New(name string, cfg config.ProviderConfig, logger *logrus.Logger) (Provider, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", config.ErrInvalidConfig, ErrUnknownProvider, name)
	}
	return ctor(cfg, logger)
}

// BuildChain constructs the enabled providers in call order, primary first.
// Any construction failure is a configuration error and aborts startup.
func BuildChain(cfg config.ProvidersConfig, logger *logrus.Logger) ([]Provider, error) {
	for _, name := range append([]string{cfg.Primary}, cfg.Fallbacks...) {
		if _, ok := registry[strings.ToLower(strings.TrimSpace(name))]; !ok {
			return nil, fmt.Errorf("%w: %w %q", config.ErrInvalidConfig, ErrUnknownProvider, name)
		}
	}

	names := cfg.Chain()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no enabled providers", config.ErrInvalidConfig)
	}

	chain := make([]Provider, 0, len(names))
	for _, name := range names {
		pc, _ := cfg.ByName(name)
		p, err := New(name, pc, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %s: %w", name, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}
