package storage

import (
	"context"
	"time"
)

// HistoryRecord is the persisted outcome of one finished download. History is
// informational: nothing reads it back to resume or skip transfers.
type HistoryRecord struct {
	ItemID          string    `json:"item_id"`
	Filename        string    `json:"filename"`
	Path            string    `json:"path"`
	State           string    `json:"state"`
	TotalBytes      int64     `json:"total_bytes"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	Error           string    `json:"error,omitempty"`
	InstanceID      string    `json:"instance_id"`
	FinishedAt      time.Time `json:"finished_at"`
}

// HistoryReadRepository lists past outcomes, newest first.
type HistoryReadRepository interface {
	ListHistory(ctx context.Context, limit int) ([]HistoryRecord, error)
}

type HistoryWriteRepository interface {
	RecordOutcome(ctx context.Context, rec HistoryRecord) error
	DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error) // returns rows removed
}

type HistoryRepository interface {
	HistoryReadRepository
	HistoryWriteRepository
}
