package transfer

import (
	"context"

	"github.com/lunikdev/JellyGrab/internal/telemetry"
)

// InstrumentedSource wraps a Source with telemetry.
type InstrumentedSource struct {
	source    Source
	telemetry *telemetry.Telemetry
}

// NewInstrumentedSource creates a new instrumented source.
func NewInstrumentedSource(source Source, tel *telemetry.Telemetry) *InstrumentedSource {
	return &InstrumentedSource{
		source:    source,
		telemetry: tel,
	}
}

// Resolve resolves an item with telemetry.
func (s *InstrumentedSource) Resolve(ctx context.Context, itemID string) (*Resolution, error) {
	var result *Resolution

	err := s.telemetry.InstrumentCatalogOperation(ctx, "resolve", func(ctx context.Context) error {
		var err error
		result, err = s.source.Resolve(ctx, itemID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// OpenStream opens a stream with telemetry.
func (s *InstrumentedSource) OpenStream(ctx context.Context, locator string) (*Stream, error) {
	var result *Stream

	err := s.telemetry.InstrumentCatalogOperation(ctx, "open_stream", func(ctx context.Context) error {
		var err error
		result, err = s.source.OpenStream(ctx, locator)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
