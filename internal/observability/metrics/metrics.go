package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes credit, limit and scheduling instruments.
type Metrics struct {
	creditsDebited    metric.Int64Counter
	creditDenials     metric.Int64Counter
	debitConflicts    metric.Int64Counter
	usageTracked      metric.Int64Counter
	gateDenials       metric.Int64Counter
	schedulesCreated  metric.Int64Counter
	schedulesCanceled metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New builds the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "botledger"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
	}{
		{&m.creditsDebited, "botledger_credits_debited_total"},
		{&m.creditDenials, "botledger_credit_denials_total"},
		{&m.debitConflicts, "botledger_credit_debit_conflicts_total"},
		{&m.usageTracked, "botledger_usage_tracked_total"},
		{&m.gateDenials, "botledger_gate_denials_total"},
		{&m.schedulesCreated, "botledger_schedules_created_total"},
		{&m.schedulesCanceled, "botledger_schedules_cancelled_total"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return m, nil
}

// NewNop returns instruments backed by the noop provider; useful in tests.
func NewNop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordCreditsDebited adds amount to the debited total split by bucket.
func (m *Metrics) RecordCreditsDebited(ctx context.Context, featureID, bucket string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature_id", strings.TrimSpace(featureID)),
		attribute.String("bucket", bucket),
	)
	m.creditsDebited.Add(ctx, amount, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCreditDenied(ctx context.Context, featureID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature_id", strings.TrimSpace(featureID)))
	m.creditDenials.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordDebitConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.debitConflicts.Add(ctx, 1)
}

// RecordUsageTracked counts counter-limit increments by limit type.
func (m *Metrics) RecordUsageTracked(ctx context.Context, limitType string, by int64) {
	if m == nil || by <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("limit_type", limitType))
	m.usageTracked.Add(ctx, by, metric.WithAttributes(attrs...))
}

// RecordGateDenied counts gate denials by result code.
func (m *Metrics) RecordGateDenied(ctx context.Context, code string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("code", code))
	m.gateDenials.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordScheduleCreated(ctx context.Context, provider, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("trigger", trigger),
	)
	m.schedulesCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordScheduleCancelled(ctx context.Context, provider string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", provider))
	m.schedulesCanceled.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"feature_id": {},
	"bucket":     {},
	"limit_type": {},
	"code":       {},
	"provider":   {},
	"trigger":    {},
	"reason":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Organization and contact identifiers never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
