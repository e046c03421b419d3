package downloader

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/lunikdev/JellyGrab/internal/downloader/progress"
)

// State is the lifecycle position of a download item.
type State int32

const (
	Queued State = iota
	Downloading
	Completed
	Failed
	Cancelled
	AlreadyExists
)

var stateNames = map[State]string{
	Queued:        "queued",
	Downloading:   "downloading",
	Completed:     "completed",
	Failed:        "failed",
	Cancelled:     "cancelled",
	AlreadyExists: "already_exists",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int32(s))
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled, AlreadyExists:
		return true
	default:
		return false
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st

			return nil
		}
	}

	return fmt.Errorf("unknown state %q", text)
}

// Item is one requested transfer. Identity fields are fixed at enqueue time.
// Runtime fields are atomics: the worker executing the item is their only
// writer and any number of readers may observe them concurrently.
type Item struct {
	ID                      string
	Filename                string
	DestinationPath         string
	SourceLocator           string
	ShowSuccessNotification bool
	CreatedAt               time.Time

	state      atomic.Int32
	downloaded atomic.Int64
	total      atomic.Int64
	speed      atomic.Uint64 // float64 bits
	eta        atomic.Uint64 // float64 bits
	startedAt  atomic.Int64  // unix nanos, 0 until Downloading
	finishedAt atomic.Int64
	lastErr    atomic.Pointer[string]
}

func newItem(id, filename, dest, locator string, total int64, showSuccess bool, now time.Time) *Item {
	it := &Item{
		ID:                      id,
		Filename:                filename,
		DestinationPath:         dest,
		SourceLocator:           locator,
		ShowSuccessNotification: showSuccess,
		CreatedAt:               now,
	}

	it.total.Store(total)
	it.setRates(progress.Unknown, progress.Unknown)

	return it
}

func (it *Item) State() State { return State(it.state.Load()) }

func (it *Item) DownloadedBytes() int64 { return it.downloaded.Load() }

func (it *Item) TotalBytes() int64 { return it.total.Load() }

// transition moves the item from one non-terminal state to another.
func (it *Item) transition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}

	return it.state.CompareAndSwap(int32(from), int32(to))
}

// finish moves the item into a terminal state. It fails if the item is
// already terminal.
func (it *Item) finish(to State, at time.Time) bool {
	for {
		cur := State(it.state.Load())
		if cur.IsTerminal() {
			return false
		}

		if it.state.CompareAndSwap(int32(cur), int32(to)) {
			it.finishedAt.Store(at.UnixNano())

			return true
		}
	}
}

// adoptTotal sets the size once, only if it was still unknown.
func (it *Item) adoptTotal(n int64) bool {
	return n > 0 && it.total.CompareAndSwap(0, n)
}

func (it *Item) addDownloaded(n int) int64 {
	return it.downloaded.Add(int64(n))
}

func (it *Item) setRates(speed, eta float64) {
	it.speed.Store(math.Float64bits(speed))
	it.eta.Store(math.Float64bits(eta))
}

func (it *Item) setError(err error) {
	msg := err.Error()
	it.lastErr.Store(&msg)
}

func (it *Item) markStarted(at time.Time) {
	it.startedAt.Store(at.UnixNano())
}

// Snapshot is a plain copy of an item handed to observers.
type Snapshot struct {
	ID                      string    `json:"id"`
	Filename                string    `json:"filename"`
	DestinationPath         string    `json:"destination_path"`
	State                   State     `json:"state"`
	DownloadedBytes         int64     `json:"downloaded_bytes"`
	TotalBytes              int64     `json:"total_bytes"`
	Percent                 float64   `json:"percent"`
	Speed                   float64   `json:"speed_bytes_per_sec"`
	ETA                     float64   `json:"eta_seconds"`
	Error                   string    `json:"error,omitempty"`
	ShowSuccessNotification bool      `json:"show_success_notification"`
	CreatedAt               time.Time `json:"created_at"`
	StartedAt               time.Time `json:"started_at"`
	FinishedAt              time.Time `json:"finished_at"`
}

// Snapshot copies the item. Fields are read individually, so a snapshot taken
// while the item is downloading may mix values from adjacent chunks.
func (it *Item) Snapshot() Snapshot {
	s := Snapshot{
		ID:                      it.ID,
		Filename:                it.Filename,
		DestinationPath:         it.DestinationPath,
		State:                   it.State(),
		DownloadedBytes:         it.downloaded.Load(),
		TotalBytes:              it.total.Load(),
		Speed:                   math.Float64frombits(it.speed.Load()),
		ETA:                     math.Float64frombits(it.eta.Load()),
		ShowSuccessNotification: it.ShowSuccessNotification,
		CreatedAt:               it.CreatedAt,
		Percent:                 progress.Unknown,
	}

	if s.TotalBytes > 0 {
		s.Percent = float64(s.DownloadedBytes) * 100 / float64(s.TotalBytes)
	}

	if msg := it.lastErr.Load(); msg != nil {
		s.Error = *msg
	}

	if ns := it.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns)
	}

	if ns := it.finishedAt.Load(); ns != 0 {
		s.FinishedAt = time.Unix(0, ns)
	}

	return s
}
