package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lunikdev/JellyGrab/internal/storage"
)

// HistoryWriteRepository implements storage.HistoryWriteRepository
// and stores download outcomes in SQLite.
type HistoryWriteRepository struct {
	db *sql.DB
}

func NewHistoryWriteRepository(db *sql.DB) *HistoryWriteRepository {
	return &HistoryWriteRepository{db: db}
}

func (r *HistoryWriteRepository) RecordOutcome(ctx context.Context, rec storage.HistoryRecord) error {
	finishedAt := rec.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO download_history
			(item_id, filename, path, state, total_bytes, downloaded_bytes, error, instance_id, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ItemID, rec.Filename, rec.Path, rec.State, rec.TotalBytes, rec.DownloadedBytes,
		nullString(rec.Error), nullString(rec.InstanceID), finishedAt.UTC().Format(timeLayout),
	)

	return err
}

// DeleteHistoryBefore removes records finished strictly before the given time.
func (r *HistoryWriteRepository) DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM download_history WHERE finished_at < ?`, before.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
