package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/skillsenselab/resilio/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider. Returns a
// MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// newResource builds the OTel resource describing this service.
func newResource(serviceName, serviceVersion, environment string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("environment", environment),
		),
	)
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the metric instruments for the resilience pipeline:
// fault classification, breaker transitions, rate limiting, cache
// effectiveness and queue depth.
type Metrics struct {
	faultTotal         metric.Int64Counter
	breakerTransitions metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	cacheEvictions     metric.Int64Counter
	queueDepth         metric.Int64Gauge
	drainDuration      metric.Float64Histogram
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	faultTotal, err := meter.Int64Counter("fault.total",
		metric.WithDescription("Classified faults by kind and severity"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fault.total counter: %w", err)
	}

	breakerTransitions, err := meter.Int64Counter("breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating breaker.transitions counter: %w", err)
	}

	rateLimitDenied, err := meter.Int64Counter("ratelimit.denied",
		metric.WithDescription("Requests denied by rate limiting"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ratelimit.denied counter: %w", err)
	}

	cacheHits, err := meter.Int64Counter("cache.hits",
		metric.WithDescription("Response cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache.hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter("cache.misses",
		metric.WithDescription("Response cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache.misses counter: %w", err)
	}

	cacheEvictions, err := meter.Int64Counter("cache.evictions",
		metric.WithDescription("Response cache evictions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache.evictions counter: %w", err)
	}

	queueDepth, err := meter.Int64Gauge("queue.depth",
		metric.WithDescription("Offline queue depth, failed entries included"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue.depth gauge: %w", err)
	}

	drainDuration, err := meter.Float64Histogram("queue.drain.duration",
		metric.WithDescription("Duration of queue drains in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue.drain.duration histogram: %w", err)
	}

	return &Metrics{
		faultTotal:         faultTotal,
		breakerTransitions: breakerTransitions,
		rateLimitDenied:    rateLimitDenied,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		cacheEvictions:     cacheEvictions,
		queueDepth:         queueDepth,
		drainDuration:      drainDuration,
	}, nil
}

// RecordFault records a classified fault.
func (m *Metrics) RecordFault(ctx context.Context, kind, severity string) {
	m.faultTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("severity", severity),
	))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, target, from, to string) {
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordRateLimitDenied records a rate-limit denial.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, concern string) {
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("concern", concern),
	))
}

// RecordCacheHit records a response cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	m.cacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a response cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	m.cacheMisses.Add(ctx, 1)
}

// RecordCacheEviction records evicted cache entries.
func (m *Metrics) RecordCacheEviction(ctx context.Context, count int64) {
	m.cacheEvictions.Add(ctx, count)
}

// RecordQueueDepth records the current offline queue depth.
func (m *Metrics) RecordQueueDepth(ctx context.Context, depth int64) {
	m.queueDepth.Record(ctx, depth)
}

// RecordDrain records a completed queue drain.
func (m *Metrics) RecordDrain(ctx context.Context, drained int64, duration time.Duration) {
	m.drainDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Int64("drained", drained),
	))
}
