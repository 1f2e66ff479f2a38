package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Days:                   30,
			BatchSize:              50,
			MaxStockFailureRetries: 3,
			Workers:                4,
			GracePeriod:            30 * time.Second,
			RunTimeout:             2 * time.Hour,
			StaleAfter:             6 * time.Hour,
			LockTTL:                3 * time.Hour,
		},
		Providers: ProvidersConfig{
			Primary:   ProviderAlphaVantage,
			Fallbacks: []string{ProviderYahoo},
			AlphaVantage: ProviderConfig{
				Enabled: true,
				APIKey:  "av-key",
			},
			Yahoo: ProviderConfig{Enabled: true},
		},
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "sync",
		Password: "secret",
		DBName:   "prices",
		SSLMode:  "require",
	}
	assert.Equal(t, "host=db port=5433 user=sync password=secret dbname=prices sslmode=require", db.DSN())

	db.DatabaseURL = "postgres://u:p@host/db"
	assert.Equal(t, "postgres://u:p@host/db", db.DSN())
}

func TestProvidersConfig_ByName(t *testing.T) {
	p := validConfig().Providers

	pc, ok := p.ByName("AlphaVantage")
	require.True(t, ok)
	assert.Equal(t, "av-key", pc.APIKey)

	_, ok = p.ByName("bloomberg")
	assert.False(t, ok)
}

func TestProvidersConfig_Chain(t *testing.T) {
	p := validConfig().Providers
	p.Fallbacks = []string{" Yahoo ", ProviderTwelveData, ProviderAlphaVantage}

	// twelvedata is disabled and alphavantage is already primary
	assert.Equal(t, []string{ProviderAlphaVantage, ProviderYahoo}, p.Chain())

	p.AlphaVantage.Enabled = false
	assert.Equal(t, []string{ProviderYahoo}, p.Chain())
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("workers are clamped", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sync.Workers = 0
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 1, cfg.Sync.Workers)

		cfg.Sync.Workers = 64
		require.NoError(t, cfg.Validate())
		assert.Equal(t, MaxWorkers, cfg.Sync.Workers)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sync days", func(c *Config) { c.Sync.Days = 0 }},
		{"negative batch size", func(c *Config) { c.Sync.BatchSize = -1 }},
		{"zero retries", func(c *Config) { c.Sync.MaxStockFailureRetries = 0 }},
		{"unknown primary", func(c *Config) { c.Providers.Primary = "bloomberg" }},
		{"unknown fallback", func(c *Config) { c.Providers.Fallbacks = []string{"iex"} }},
		{"missing api key", func(c *Config) { c.Providers.AlphaVantage.APIKey = "" }},
		{"unbounded run timeout", func(c *Config) { c.Sync.RunTimeout = 0 }},
		{"negative grace period", func(c *Config) { c.Sync.GracePeriod = -time.Second }},
		{"run outlives stale threshold", func(c *Config) { c.Sync.StaleAfter = 2 * time.Hour }},
		{"grace pushes past stale threshold", func(c *Config) { c.Sync.StaleAfter = 2*time.Hour + 10*time.Second }},
		{"run outlives lock", func(c *Config) { c.Sync.LockTTL = 90 * time.Minute }},
		{"empty chain", func(c *Config) {
			c.Providers.AlphaVantage.Enabled = false
			c.Providers.Yahoo.Enabled = false
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	os.Clearenv()
	t.Setenv("ALPHA_VANTAGE_API_KEY", "demo")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30, cfg.Sync.Days)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxStockFailureRetries)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 3, cfg.Sync.MinGapDays)
	assert.Equal(t, 30*time.Second, cfg.Sync.GracePeriod)
	assert.Equal(t, 6*time.Hour, cfg.Sync.StaleAfter)
	assert.True(t, cfg.Sync.MarkStaleFailed)

	assert.Equal(t, ProviderAlphaVantage, cfg.Providers.Primary)
	assert.Equal(t, []string{ProviderYahoo}, cfg.Providers.Fallbacks)
	assert.Equal(t, "demo", cfg.Providers.AlphaVantage.APIKey)
	assert.Equal(t, 5, cfg.Providers.AlphaVantage.CallsPerMinute)
	assert.Equal(t, 12*time.Second, cfg.Providers.AlphaVantage.BaseDelay)
	assert.Equal(t, 7500*time.Millisecond, cfg.Providers.TwelveData.BaseDelay)
	assert.False(t, cfg.Providers.TwelveData.Enabled)
	assert.True(t, cfg.Providers.Yahoo.Enabled)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "pricesync", cfg.Telemetry.ServiceName)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("DATABASE_URL", "postgres://sync@db:5432/prices")
	t.Setenv("SYNC_DAYS", "90")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("MAX_STOCK_FAILURE_RETRIES", "5")
	t.Setenv("SYNC_WORKERS", "20")
	t.Setenv("PRIMARY_PROVIDER", "TwelveData")
	t.Setenv("FALLBACK_PROVIDERS", "alphavantage,yahoo")
	t.Setenv("ENABLE_TWELVE_DATA", "true")
	t.Setenv("TWELVE_DATA_API_KEY", "td-key")
	t.Setenv("ALPHA_VANTAGE_API_KEY", "av-key")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("ADMIN_API_KEY", "admin-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "postgres://sync@db:5432/prices", cfg.Database.DSN())
	assert.Equal(t, 90, cfg.Sync.Days)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.MaxStockFailureRetries)
	assert.Equal(t, MaxWorkers, cfg.Sync.Workers)
	assert.Equal(t, ProviderTwelveData, cfg.Providers.Primary)
	assert.Equal(t, []string{ProviderTwelveData, ProviderAlphaVantage, ProviderYahoo}, cfg.Providers.Chain())
	assert.Equal(t, int64(-100123), cfg.Telegram.ChatID)
	assert.Equal(t, "admin-key", cfg.Security.AdminAPIKey)
}

func TestLoad_NestedEnvironmentNames(t *testing.T) {
	os.Clearenv()
	t.Setenv("ALPHA_VANTAGE_API_KEY", "demo")
	t.Setenv("SYNC_MIN_GAP_DAYS", "5")
	t.Setenv("PROVIDERS_YAHOO_CALLS_PER_MINUTE", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Sync.MinGapDays)
	assert.Equal(t, 30, cfg.Providers.Yahoo.CallsPerMinute)
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	os.Clearenv()
	t.Setenv("ALPHA_VANTAGE_API_KEY", "demo")
	t.Setenv("BATCH_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingPrimaryKey(t *testing.T) {
	os.Clearenv()

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestResolveOTLPEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		signal   string
		want     OTLPEndpoint
	}{
		{"localhost:4318", "/v1/logs", OTLPEndpoint{HostPort: "localhost:4318"}},
		{"https://collector.example.com:4318", "/v1/traces", OTLPEndpoint{URL: "https://collector.example.com:4318/v1/traces"}},
		{"https://collector.example.com:4318/", "/v1/logs", OTLPEndpoint{URL: "https://collector.example.com:4318/v1/logs"}},
		{"http://gateway/otlp", "/v1/logs", OTLPEndpoint{URL: "http://gateway/otlp/v1/logs"}},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint+tt.signal, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveOTLPEndpoint(tt.endpoint, tt.signal))
		})
	}
}
