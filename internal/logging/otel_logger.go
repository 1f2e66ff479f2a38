package logging

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/irfndi/celebrum-pricesync/internal/config"
)

// OTLPConfig holds configuration for OpenTelemetry logging
type OTLPConfig struct {
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// OTLPHook forwards logrus entries to an OpenTelemetry logger provider.
type OTLPHook struct {
	logger   otellog.Logger
	shutdown func(context.Context) error
}

// NewOTLPHook exports logs over OTLP/HTTP to config.Endpoint.
func NewOTLPHook(ctx context.Context, config OTLPConfig) (*OTLPHook, error) {
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlploghttp.New(ctx, endpointOption(endpoint)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(exporter)),
		log.WithResource(res),
	)
	return newOTLPHook(provider, config.ServiceName), nil
}

// endpointOption mirrors the trace exporter's reading of the shared
// telemetry endpoint so both signals reach the same collector.
func endpointOption(endpoint string) []otlploghttp.Option {
	target := config.ResolveOTLPEndpoint(endpoint, "/v1/logs")
	if target.URL != "" {
		return []otlploghttp.Option{otlploghttp.WithEndpointURL(target.URL)}
	}
	return []otlploghttp.Option{
		otlploghttp.WithEndpoint(target.HostPort),
		otlploghttp.WithURLPath("/v1/logs"),
		otlploghttp.WithInsecure(),
	}
}

func newOTLPHook(provider *log.LoggerProvider, name string) *OTLPHook {
	return &OTLPHook{
		logger:   provider.Logger(name),
		shutdown: provider.Shutdown,
	}
}

// Levels reports that every level is forwarded; the logger's own level
// already filters entries before hooks fire.
func (h *OTLPHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire converts one entry into an OpenTelemetry log record.
func (h *OTLPHook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var rec otellog.Record
	rec.SetTimestamp(entry.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetSeverity(severity(entry.Level))
	rec.SetSeverityText(entry.Level.String())
	rec.SetBody(otellog.StringValue(entry.Message))

	attrs := make([]otellog.KeyValue, 0, len(entry.Data))
	for k, v := range entry.Data {
		attrs = append(attrs, attribute(k, v))
	}
	rec.AddAttributes(attrs...)

	h.logger.Emit(ctx, rec)
	return nil
}

// Shutdown flushes buffered records.
func (h *OTLPHook) Shutdown(ctx context.Context) error {
	if h.shutdown != nil {
		return h.shutdown(ctx)
	}
	return nil
}

func attribute(key string, v interface{}) otellog.KeyValue {
	switch val := v.(type) {
	case string:
		return otellog.String(key, val)
	case int:
		return otellog.Int(key, val)
	case int64:
		return otellog.Int64(key, val)
	case float64:
		return otellog.Float64(key, val)
	case bool:
		return otellog.Bool(key, val)
	case error:
		return otellog.String(key, val.Error())
	case time.Duration:
		return otellog.String(key, val.String())
	default:
		return otellog.String(key, fmt.Sprint(val))
	}
}

func severity(level logrus.Level) otellog.Severity {
	switch level {
	case logrus.TraceLevel:
		return otellog.SeverityTrace
	case logrus.DebugLevel:
		return otellog.SeverityDebug
	case logrus.InfoLevel:
		return otellog.SeverityInfo
	case logrus.WarnLevel:
		return otellog.SeverityWarn
	case logrus.ErrorLevel:
		return otellog.SeverityError
	default:
		return otellog.SeverityFatal
	}
}
