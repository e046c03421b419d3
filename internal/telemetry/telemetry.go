package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const systemMetricsInterval = 15 * time.Second

// Telemetry holds all telemetry instruments and providers.
// A nil *Telemetry is valid and turns every method into a no-op.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter
	diskPath       string

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// USE Metrics (Utilization, Saturation, Errors)
	cpuUsage       metric.Float64Gauge
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	diskFree       metric.Int64Gauge

	// Queue Metrics
	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	downloadBytes    metric.Int64Counter
	queueDepth       metric.Int64Gauge

	// Catalog and storage
	catalogOperationsTotal metric.Int64Counter
	catalogErrors          metric.Int64Counter
	dbOperationsTotal      metric.Int64Counter
	dbOperationDuration    metric.Float64Histogram

	// System health
	systemErrors metric.Int64Counter
	systemUptime metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint, when set, additionally pushes metrics over OTLP/gRPC.
	OTLPEndpoint string

	// DiskPath is the directory whose free space is reported.
	DiskPath string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	tracerProvider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		exporter:       exporter,
		diskPath:       cfg.DiskPath,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordDownload records the terminal state of one transfer and how long it ran.
func (t *Telemetry) RecordDownload(state string, duration time.Duration) {
	if t == nil || t.downloadsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", state))

	t.downloadsTotal.Add(context.Background(), 1, attrs)
	t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementActiveDownloads increments active downloads counter.
func (t *Telemetry) IncrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveDownloads decrements active downloads counter.
func (t *Telemetry) DecrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// AddDownloadedBytes counts bytes written to disk across all transfers.
func (t *Telemetry) AddDownloadedBytes(n int64) {
	if t != nil && t.downloadBytes != nil {
		t.downloadBytes.Add(context.Background(), n)
	}
}

// RecordQueueDepth records how many items are waiting for a worker.
func (t *Telemetry) RecordQueueDepth(depth int) {
	if t != nil && t.queueDepth != nil {
		t.queueDepth.Record(context.Background(), int64(depth))
	}
}

// RecordCatalogOperation records catalog client operation metrics.
func (t *Telemetry) RecordCatalogOperation(operation, status string) {
	if t == nil || t.catalogOperationsTotal == nil {
		return
	}

	t.catalogOperationsTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)

	if status == "error" {
		t.catalogErrors.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("operation", operation)),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter and tracer providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	return t.meterProvider.Shutdown(ctx)
}

// initializeMetrics creates every instrument. Instrument names already appear
// in the meter's errors, so they are collected and joined.
func (t *Telemetry) initializeMetrics() error {
	var (
		m    = t.meter
		errs []error
		err  error
	)

	check := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	// HTTP API (rate, errors, duration)
	t.httpRequestsTotal, err = m.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	check(err)
	t.httpRequestDuration, err = m.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s"))
	check(err)
	t.httpRequestsInFlight, err = m.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"))
	check(err)

	// Download queue
	t.downloadsTotal, err = m.Int64Counter("downloads_total",
		metric.WithDescription("Finished downloads by terminal state"))
	check(err)
	t.downloadsActive, err = m.Int64UpDownCounter("downloads_active",
		metric.WithDescription("Transfers currently holding a slot"))
	check(err)
	t.downloadDuration, err = m.Float64Histogram("download_duration_seconds",
		metric.WithDescription("Time from first byte request to terminal state"), metric.WithUnit("s"))
	check(err)
	t.downloadBytes, err = m.Int64Counter("download_bytes_total",
		metric.WithDescription("Bytes written to destination files"), metric.WithUnit("By"))
	check(err)
	t.queueDepth, err = m.Int64Gauge("queue_depth",
		metric.WithDescription("Items waiting for a worker"))
	check(err)

	// Catalog and history store
	t.catalogOperationsTotal, err = m.Int64Counter("catalog_operations_total",
		metric.WithDescription("Calls made to the media catalog"))
	check(err)
	t.catalogErrors, err = m.Int64Counter("catalog_errors_total",
		metric.WithDescription("Failed calls to the media catalog"))
	check(err)
	t.dbOperationsTotal, err = m.Int64Counter("db_operations_total",
		metric.WithDescription("History database operations"))
	check(err)
	t.dbOperationDuration, err = m.Float64Histogram("db_operation_duration_seconds",
		metric.WithDescription("History database operation duration in seconds"), metric.WithUnit("s"))
	check(err)

	// Process and host
	t.cpuUsage, err = m.Float64Gauge("cpu_usage_percent",
		metric.WithDescription("Host CPU usage"), metric.WithUnit("%"))
	check(err)
	t.memoryUsage, err = m.Int64Gauge("memory_usage_bytes",
		metric.WithDescription("Heap bytes allocated by the process"), metric.WithUnit("By"))
	check(err)
	t.goroutineCount, err = m.Int64Gauge("goroutine_count",
		metric.WithDescription("Number of goroutines"))
	check(err)
	t.diskFree, err = m.Int64Gauge("download_dir_free_bytes",
		metric.WithDescription("Free space on the volume holding the download directory"), metric.WithUnit("By"))
	check(err)
	t.systemErrors, err = m.Int64Counter("system_errors_total",
		metric.WithDescription("Internal errors by component"))
	check(err)
	t.systemUptime, err = m.Float64Gauge("system_uptime_seconds",
		metric.WithDescription("Seconds since telemetry started"), metric.WithUnit("s"))
	check(err)

	return errors.Join(errs...)
}

func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(ctx, startTime)
		}
	}
}

func (t *Telemetry) updateSystemMetrics(ctx context.Context, startTime time.Time) {
	var m runtime.MemStats

	runtime.ReadMemStats(&m)

	t.memoryUsage.Record(ctx, int64(m.Alloc))
	t.goroutineCount.Record(ctx, int64(runtime.NumGoroutine()))
	t.systemUptime.Record(ctx, time.Since(startTime).Seconds())

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		t.cpuUsage.Record(ctx, percents[0])
	}

	if t.diskPath != "" {
		if usage, err := disk.UsageWithContext(ctx, t.diskPath); err == nil {
			t.diskFree.Record(ctx, int64(usage.Free))
		} else {
			t.RecordSystemError("telemetry", "disk_usage")
		}
	}
}
