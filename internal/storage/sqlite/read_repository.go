package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lunikdev/JellyGrab/internal/storage"
)

const defaultHistoryLimit = 100

type HistoryReadRepository struct {
	db *sql.DB
}

func NewHistoryReadRepository(dbConn *sql.DB) *HistoryReadRepository {
	return &HistoryReadRepository{db: dbConn}
}

// ListHistory returns up to limit records, newest first.
func (r *HistoryReadRepository) ListHistory(ctx context.Context, limit int) ([]storage.HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT
			item_id,
			filename,
			path,
			state,
			total_bytes,
			downloaded_bytes,
			error,
			instance_id,
			finished_at
		FROM download_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var records []storage.HistoryRecord

	for rows.Next() {
		var (
			record     storage.HistoryRecord
			errMsg     sql.NullString
			instanceID sql.NullString
			finishedAt string
		)

		if err := rows.Scan(
			&record.ItemID, &record.Filename, &record.Path, &record.State,
			&record.TotalBytes, &record.DownloadedBytes, &errMsg, &instanceID, &finishedAt,
		); err != nil {
			return nil, err
		}

		record.Error = errMsg.String
		record.InstanceID = instanceID.String

		if t, err := time.Parse(timeLayout, finishedAt); err == nil {
			record.FinishedAt = t
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
