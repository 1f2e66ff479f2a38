package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Provider names understood by the adapter factory.
const (
	ProviderAlphaVantage = "alphavantage"
	ProviderTwelveData   = "twelvedata"
	ProviderYahoo        = "yahoo"
)

// KnownProviders lists every provider name in a stable order.
var KnownProviders = []string{ProviderAlphaVantage, ProviderTwelveData, ProviderYahoo}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Sync        SyncConfig      `mapstructure:"sync"`
	Providers   ProvidersConfig `mapstructure:"providers"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Security    SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	DatabaseURL     string        `mapstructure:"database_url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns DatabaseURL when set, otherwise a key/value connection string.
func (d DatabaseConfig) DSN() string {
	if d.DatabaseURL != "" {
		return d.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SyncConfig holds the options the orchestrator is constructed with.
type SyncConfig struct {
	Days                   int           `mapstructure:"days"`
	BatchSize              int           `mapstructure:"batch_size"`
	MaxStockFailureRetries int           `mapstructure:"max_stock_failure_retries"`
	Workers                int           `mapstructure:"workers"`
	MinGapDays             int           `mapstructure:"min_gap_days"`
	GracePeriod            time.Duration `mapstructure:"grace_period"`
	RunTimeout             time.Duration `mapstructure:"run_timeout"`
	StaleAfter             time.Duration `mapstructure:"stale_after"`
	MarkStaleFailed        bool          `mapstructure:"mark_stale_failed"`
	StoreFailureLimit      int           `mapstructure:"store_failure_limit"`
	SymbolCacheTTL         time.Duration `mapstructure:"symbol_cache_ttl"`
	LockTTL                time.Duration `mapstructure:"lock_ttl"`
}

// MaxWorkers bounds the worker pool regardless of configuration.
const MaxWorkers = 8

type ProvidersConfig struct {
	Primary      string         `mapstructure:"primary"`
	Fallbacks    []string       `mapstructure:"fallbacks"`
	AlphaVantage ProviderConfig `mapstructure:"alphavantage"`
	TwelveData   ProviderConfig `mapstructure:"twelvedata"`
	Yahoo        ProviderConfig `mapstructure:"yahoo"`
}

// ProviderConfig covers one upstream: credentials, pacing and breaker tuning.
type ProviderConfig struct {
	Enabled                   bool          `mapstructure:"enabled"`
	APIKey                    string        `mapstructure:"api_key"`
	BaseURL                   string        `mapstructure:"base_url"`
	Timeout                   time.Duration `mapstructure:"timeout"`
	CallsPerMinute            int           `mapstructure:"calls_per_minute"`
	BaseDelay                 time.Duration `mapstructure:"base_delay"`
	MaxDelay                  time.Duration `mapstructure:"max_delay"`
	BackoffThreshold          int           `mapstructure:"backoff_threshold"`
	BackoffFactor             float64       `mapstructure:"backoff_factor"`
	SymbolSuffix              string        `mapstructure:"symbol_suffix"`
	FailureThreshold          int           `mapstructure:"failure_threshold"`
	RecoveryTimeout           time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenMaxCalls          int           `mapstructure:"half_open_max_calls"`
	RateLimitBreakerThreshold int           `mapstructure:"rate_limit_breaker_threshold"`
}

// ByName returns the config block for a provider name.
func (p ProvidersConfig) ByName(name string) (ProviderConfig, bool) {
	switch strings.ToLower(name) {
	case ProviderAlphaVantage:
		return p.AlphaVantage, true
	case ProviderTwelveData:
		return p.TwelveData, true
	case ProviderYahoo:
		return p.Yahoo, true
	default:
		return ProviderConfig{}, false
	}
}

// Chain returns the enabled providers in call order: primary, then fallbacks.
func (p ProvidersConfig) Chain() []string {
	seen := make(map[string]bool)
	var chain []string
	for _, name := range append([]string{p.Primary}, p.Fallbacks...) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if pc, ok := p.ByName(name); ok && pc.Enabled {
			chain = append(chain, name)
		}
	}
	return chain
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	Stdout         bool    `mapstructure:"stdout"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// OTLPEndpoint is where one OTLP/HTTP exporter sends its signal. Exactly one
// of URL and HostPort is set.
type OTLPEndpoint struct {
	URL      string
	HostPort string
}

// ResolveOTLPEndpoint interprets telemetry.otlp_endpoint for one signal. A
// value with a scheme is a base URL and gets signalPath appended to its path;
// a bare host:port means plain HTTP on the exporter's default path.
func ResolveOTLPEndpoint(endpoint, signalPath string) OTLPEndpoint {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		return OTLPEndpoint{HostPort: endpoint}
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return OTLPEndpoint{URL: endpoint}
	}
	u.Path = strings.TrimRight(u.Path, "/") + signalPath
	return OTLPEndpoint{URL: u.String()}
}

type SecurityConfig struct {
	AdminAPIKey     string `mapstructure:"admin_api_key" json:"-" yaml:"-"`
	AdminAPIKeyHash string `mapstructure:"admin_api_key_hash" json:"-" yaml:"-"`
	JWTSecret       string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
}

// flatEnv maps config keys to the short environment names operators use in
// cron and container definitions.
var flatEnv = map[string]string{
	"database.database_url":          "DATABASE_URL",
	"redis.url":                      "REDIS_URL",
	"sync.days":                      "SYNC_DAYS",
	"sync.batch_size":                "BATCH_SIZE",
	"sync.max_stock_failure_retries": "MAX_STOCK_FAILURE_RETRIES",
	"sync.workers":                   "SYNC_WORKERS",
	"providers.primary":              "PRIMARY_PROVIDER",
	"providers.fallbacks":            "FALLBACK_PROVIDERS",
	"providers.alphavantage.api_key": "ALPHA_VANTAGE_API_KEY",
	"providers.alphavantage.enabled": "ENABLE_ALPHA_VANTAGE",
	"providers.twelvedata.api_key":   "TWELVE_DATA_API_KEY",
	"providers.twelvedata.enabled":   "ENABLE_TWELVE_DATA",
	"providers.yahoo.enabled":        "ENABLE_YAHOO",
	"telegram.bot_token":             "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":               "TELEGRAM_CHAT_ID",
	"security.admin_api_key":         "ADMIN_API_KEY",
	"security.admin_api_key_hash":    "ADMIN_API_KEY_HASH",
	"security.jwt_secret":            "ADMIN_JWT_SECRET",
	"telemetry.otlp_endpoint":        "OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads .env, an optional config.yaml and the environment, then validates.
func Load() (*Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range flatEnv {
		nested := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, nested, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Environment = strings.ToLower(cfg.Environment)
	cfg.Providers.Primary = strings.ToLower(strings.TrimSpace(cfg.Providers.Primary))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints and clamps the worker count.
func (c *Config) Validate() error {
	s := &c.Sync
	if s.Days <= 0 {
		return fmt.Errorf("%w: sync days must be positive, got %d", ErrInvalidConfig, s.Days)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, s.BatchSize)
	}
	if s.MaxStockFailureRetries <= 0 {
		return fmt.Errorf("%w: max stock failure retries must be positive, got %d", ErrInvalidConfig, s.MaxStockFailureRetries)
	}
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.Workers > MaxWorkers {
		s.Workers = MaxWorkers
	}
	if s.RunTimeout <= 0 {
		return fmt.Errorf("%w: run timeout must be positive, got %s", ErrInvalidConfig, s.RunTimeout)
	}
	if s.GracePeriod < 0 {
		return fmt.Errorf("%w: grace period must not be negative, got %s", ErrInvalidConfig, s.GracePeriod)
	}
	// A live run must finish before the sweeper calls it stale or its lock lapses.
	longest := s.RunTimeout + s.GracePeriod
	if longest >= s.StaleAfter {
		return fmt.Errorf("%w: run timeout plus grace period (%s) must be below stale_after (%s)", ErrInvalidConfig, longest, s.StaleAfter)
	}
	if longest >= s.LockTTL {
		return fmt.Errorf("%w: run timeout plus grace period (%s) must be below lock_ttl (%s)", ErrInvalidConfig, longest, s.LockTTL)
	}

	p := c.Providers
	if _, ok := p.ByName(p.Primary); !ok {
		return fmt.Errorf("%w: unknown primary provider %q", ErrInvalidConfig, p.Primary)
	}
	for _, name := range p.Fallbacks {
		if _, ok := p.ByName(strings.TrimSpace(name)); !ok {
			return fmt.Errorf("%w: unknown fallback provider %q", ErrInvalidConfig, name)
		}
	}

	chain := p.Chain()
	if len(chain) == 0 {
		return fmt.Errorf("%w: no enabled provider in chain", ErrInvalidConfig)
	}
	for _, name := range chain {
		pc, _ := p.ByName(name)
		if name != ProviderYahoo && pc.APIKey == "" {
			return fmt.Errorf("%w: provider %s is enabled but has no API key", ErrInvalidConfig, name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "pricesync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.max_conn_idle_time", "5m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("sync.days", 30)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_stock_failure_retries", 3)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.min_gap_days", 3)
	v.SetDefault("sync.grace_period", "30s")
	v.SetDefault("sync.run_timeout", "2h")
	v.SetDefault("sync.stale_after", "6h")
	v.SetDefault("sync.mark_stale_failed", true)
	v.SetDefault("sync.store_failure_limit", 5)
	v.SetDefault("sync.symbol_cache_ttl", "1h")
	v.SetDefault("sync.lock_ttl", "3h")

	v.SetDefault("providers.primary", ProviderAlphaVantage)
	v.SetDefault("providers.fallbacks", []string{ProviderYahoo})

	// Alpha Vantage free tier: 5 calls per minute.
	v.SetDefault("providers.alphavantage.enabled", true)
	v.SetDefault("providers.alphavantage.api_key", "")
	v.SetDefault("providers.alphavantage.base_url", "https://www.alphavantage.co")
	v.SetDefault("providers.alphavantage.timeout", "30s")
	v.SetDefault("providers.alphavantage.calls_per_minute", 5)
	v.SetDefault("providers.alphavantage.base_delay", "12s")
	v.SetDefault("providers.alphavantage.max_delay", "5m")
	v.SetDefault("providers.alphavantage.backoff_threshold", 2)
	v.SetDefault("providers.alphavantage.backoff_factor", 2.0)
	v.SetDefault("providers.alphavantage.symbol_suffix", "")
	v.SetDefault("providers.alphavantage.failure_threshold", 5)
	v.SetDefault("providers.alphavantage.recovery_timeout", "5m")
	v.SetDefault("providers.alphavantage.half_open_max_calls", 2)
	v.SetDefault("providers.alphavantage.rate_limit_breaker_threshold", 3)

	v.SetDefault("providers.twelvedata.enabled", false)
	v.SetDefault("providers.twelvedata.api_key", "")
	v.SetDefault("providers.twelvedata.base_url", "https://api.twelvedata.com")
	v.SetDefault("providers.twelvedata.timeout", "20s")
	v.SetDefault("providers.twelvedata.calls_per_minute", 8)
	v.SetDefault("providers.twelvedata.base_delay", "7500ms")
	v.SetDefault("providers.twelvedata.max_delay", "3m")
	v.SetDefault("providers.twelvedata.backoff_threshold", 2)
	v.SetDefault("providers.twelvedata.backoff_factor", 2.0)
	v.SetDefault("providers.twelvedata.symbol_suffix", "")
	v.SetDefault("providers.twelvedata.failure_threshold", 5)
	v.SetDefault("providers.twelvedata.recovery_timeout", "3m")
	v.SetDefault("providers.twelvedata.half_open_max_calls", 2)
	v.SetDefault("providers.twelvedata.rate_limit_breaker_threshold", 3)

	v.SetDefault("providers.yahoo.enabled", true)
	v.SetDefault("providers.yahoo.api_key", "")
	v.SetDefault("providers.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("providers.yahoo.timeout", "15s")
	v.SetDefault("providers.yahoo.calls_per_minute", 120)
	v.SetDefault("providers.yahoo.base_delay", "500ms")
	v.SetDefault("providers.yahoo.max_delay", "1m")
	v.SetDefault("providers.yahoo.backoff_threshold", 3)
	v.SetDefault("providers.yahoo.backoff_factor", 2.0)
	v.SetDefault("providers.yahoo.symbol_suffix", "")
	v.SetDefault("providers.yahoo.failure_threshold", 10)
	v.SetDefault("providers.yahoo.recovery_timeout", "2m")
	v.SetDefault("providers.yahoo.half_open_max_calls", 3)
	v.SetDefault("providers.yahoo.rate_limit_breaker_threshold", 5)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.service_name", "pricesync")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("security.admin_api_key", "")
	v.SetDefault("security.admin_api_key_hash", "")
	v.SetDefault("security.jwt_secret", "")
}
