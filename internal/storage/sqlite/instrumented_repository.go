package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lunikdev/JellyGrab/internal/storage"
	"github.com/lunikdev/JellyGrab/internal/telemetry"
)

// InstrumentedHistoryRepository wraps the history repositories with telemetry.
type InstrumentedHistoryRepository struct {
	read      *HistoryReadRepository
	write     *HistoryWriteRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		read:      NewHistoryReadRepository(dbConn),
		write:     NewHistoryWriteRepository(dbConn),
		telemetry: tel,
	}
}

// ListHistory retrieves history with telemetry.
func (r *InstrumentedHistoryRepository) ListHistory(ctx context.Context, limit int) ([]storage.HistoryRecord, error) {
	var result []storage.HistoryRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_history", func(ctx context.Context) error {
		var err error
		result, err = r.read.ListHistory(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RecordOutcome stores an outcome with telemetry.
func (r *InstrumentedHistoryRepository) RecordOutcome(ctx context.Context, rec storage.HistoryRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_outcome", func(ctx context.Context) error {
		return r.write.RecordOutcome(ctx, rec)
	})
}

// DeleteHistoryBefore prunes history with telemetry.
func (r *InstrumentedHistoryRepository) DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	var removed int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_history", func(ctx context.Context) error {
		var err error
		removed, err = r.write.DeleteHistoryBefore(ctx, before)

		return err
	})

	return removed, err
}
