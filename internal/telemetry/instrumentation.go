package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CARDINALITY:
//
// Span attributes and metric labels must stay bounded. Never attach item ids, file names,
// destination paths, stream URLs or error messages as attributes; those belong in logs,
// which carry trace_id/span_id for correlation.
//
// Bounded values that are safe to use:
// - operation ("resolve", "open_stream", "list_series", ...)
// - status ("success", "error") and terminal item states
// - component ("database", "catalog", "downloader")

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with a span.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentCatalogOperation instruments calls made to the media catalog.
func (t *Telemetry) InstrumentCatalogOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "catalog_"+operation, "catalog", fn)

	t.RecordCatalogOperation(operation, statusOf(err))

	return err
}

// InstrumentDownload wraps the execution of a single transfer. The active
// gauge covers the whole call; the terminal state is recorded by the caller
// through RecordDownload because cancellation is not an error.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	return t.InstrumentOperation(ctx, "download", "downloader", fn)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
