package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lunikdev/JellyGrab/internal/downloader/progress"
	"github.com/lunikdev/JellyGrab/internal/logctx"
	"github.com/lunikdev/JellyGrab/internal/storage"
	"github.com/lunikdev/JellyGrab/internal/telemetry"
	"github.com/lunikdev/JellyGrab/internal/transfer"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	// DefaultChunkSize is the read size used when none is configured.
	DefaultChunkSize = 1 << 20
	// MinChunkSize is the smallest read size accepted.
	MinChunkSize = 256 << 10
	// DefaultMaxConcurrent matches the number of transfers run by default.
	DefaultMaxConcurrent = 2

	eventBuffer = 64
)

// HistoryRecorder persists terminal outcomes.
type HistoryRecorder interface {
	RecordOutcome(ctx context.Context, rec storage.HistoryRecord) error
}

// Options configures a Downloader. Zero values select defaults.
type Options struct {
	DownloadDir    string
	MaxConcurrent  int
	ChunkSizeBytes int64
	History        HistoryRecorder
	Telemetry      *telemetry.Telemetry
	Clock          progress.Clock
	SampleInterval time.Duration
	InstanceID     string
}

// Downloader runs the download queue: it resolves items, queues them, and
// executes at most MaxConcurrent transfers at a time on a pool of workers.
type Downloader struct {
	source     transfer.Source
	dir        string
	history    HistoryRecorder
	telemetry  *telemetry.Telemetry
	clock      progress.Clock
	interval   time.Duration
	instanceID string

	registry *Registry
	queue    *WorkQueue
	slots    *slots
	cancels  *cancelSet
	bus      *Bus

	chunkSize atomic.Int64

	mu            sync.Mutex
	maxConcurrent int
	workers       int
	runCtx        context.Context
	wg            sync.WaitGroup

	// openFile opens the destination for writing; replaced in tests.
	openFile func(name string) (io.WriteCloser, error)
}

// New returns a Downloader reading from source. Call Start to run workers.
func New(source transfer.Source, opts Options) *Downloader {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}

	if opts.Clock == nil {
		opts.Clock = progress.SystemClock{}
	}

	if opts.SampleInterval <= 0 {
		opts.SampleInterval = progress.DefaultInterval
	}

	if opts.InstanceID == "" {
		opts.InstanceID = GenerateInstanceID()
	}

	d := &Downloader{
		source:        source,
		dir:           opts.DownloadDir,
		history:       opts.History,
		telemetry:     opts.Telemetry,
		clock:         opts.Clock,
		interval:      opts.SampleInterval,
		instanceID:    opts.InstanceID,
		registry:      NewRegistry(),
		queue:         NewWorkQueue(),
		slots:         newSlots(opts.MaxConcurrent),
		cancels:       newCancelSet(),
		bus:           NewBus(),
		maxConcurrent: opts.MaxConcurrent,
		openFile: func(name string) (io.WriteCloser, error) {
			return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
		},
	}

	if opts.ChunkSizeBytes == 0 {
		opts.ChunkSizeBytes = DefaultChunkSize
	}

	d.SetChunkSizeBytes(opts.ChunkSizeBytes)

	return d
}

// Start launches the worker pool. Workers stop when ctx is done; use Wait to
// block until they have exited. Start is a no-op if already started.
func (d *Downloader) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.runCtx != nil {
		return
	}

	d.runCtx = ctx

	logctx.LoggerFromContext(ctx).Info("starting download workers",
		"workers", d.maxConcurrent, "chunk_size", humanize.IBytes(uint64(d.chunkSize.Load())))

	d.spawnLocked(d.maxConcurrent)
}

// Wait blocks until every worker has exited.
func (d *Downloader) Wait() {
	d.wg.Wait()
}

// spawnLocked grows the pool to n workers. Workers are never torn down; extra
// ones block on slot acquisition. Callers hold mu.
func (d *Downloader) spawnLocked(n int) {
	for d.workers < n {
		d.workers++
		d.wg.Add(1)

		go d.work(d.runCtx)
	}
}

// Enqueue resolves itemID and queues it for download. An item whose
// destination already holds a completed file is reported as AlreadyExists
// without opening a stream.
func (d *Downloader) Enqueue(ctx context.Context, itemID string, showSuccessNotification bool) (Snapshot, error) {
	if itemID == "" {
		return Snapshot{}, ErrInvalidItemID
	}

	logger := logctx.LoggerFromContext(ctx).With("item_id", itemID)

	if existing, ok := d.registry.Get(itemID); ok {
		st := existing.State()
		if !st.IsTerminal() {
			return existing.Snapshot(), ErrItemActive
		}

		if st == Completed || st == AlreadyExists {
			if info, ok := regularFile(existing.DestinationPath); ok {
				item := newItem(existing.ID, existing.Filename, existing.DestinationPath, existing.SourceLocator,
					info.Size(), showSuccessNotification, d.clock.Now())

				return d.registerExisting(ctx, item, info.Size())
			}
		}
	}

	res, err := d.source.Resolve(ctx, itemID)
	if err != nil {
		var re *transfer.ResolutionError
		if !errors.As(err, &re) {
			err = &transfer.ResolutionError{ItemID: itemID, Reason: err.Error(), Err: err}
		}

		logger.Warn("failed to resolve item", "err", err)

		return Snapshot{}, err
	}

	dest, err := d.destination(res)
	if err != nil {
		return Snapshot{}, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return Snapshot{}, &transfer.FilesystemError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}

	item := newItem(itemID, res.Filename, dest, res.SourceLocator, res.TotalBytes, showSuccessNotification, d.clock.Now())

	if info, ok := regularFile(dest); ok {
		return d.registerExisting(ctx, item, info.Size())
	}

	// a stale marker from a previous item with this id must not cancel the new one
	d.cancels.Clear(itemID)

	if err := d.registry.Put(item); err != nil {
		return Snapshot{}, err
	}

	d.queue.Push(item)

	logger.Info("item queued", "filename", item.Filename, "size", humanize.Bytes(uint64(max(item.TotalBytes(), 0))))

	d.publishStatus(item)
	d.publishQueueDepth()

	return item.Snapshot(), nil
}

func (d *Downloader) registerExisting(ctx context.Context, item *Item, size int64) (Snapshot, error) {
	item.total.Store(size)
	item.downloaded.Store(size)
	item.state.Store(int32(AlreadyExists))
	item.finishedAt.Store(d.clock.Now().UnixNano())

	if err := d.registry.Put(item); err != nil {
		return Snapshot{}, err
	}

	logctx.LoggerFromContext(ctx).Info("file already exists", "item_id", item.ID, "path", item.DestinationPath)

	d.publishStatus(item)

	return item.Snapshot(), nil
}

func (d *Downloader) destination(res *transfer.Resolution) (string, error) {
	if res.Filename == "" || filepath.Base(res.Filename) != res.Filename {
		return "", &transfer.ResolutionError{ItemID: res.ItemID, Reason: fmt.Sprintf("invalid filename %q", res.Filename)}
	}

	dir := filepath.Clean(res.Directory)
	if res.Directory != "" && !filepath.IsLocal(dir) {
		return "", &transfer.ResolutionError{ItemID: res.ItemID, Reason: fmt.Sprintf("invalid directory %q", res.Directory)}
	}

	return filepath.Join(d.dir, dir, res.Filename), nil
}

// Cancel requests cooperative cancellation. Queued items are cancelled when a
// worker picks them up, downloading items at the next chunk boundary.
// Cancelling a finished item is a no-op.
func (d *Downloader) Cancel(itemID string) error {
	item, ok := d.registry.Get(itemID)
	if !ok {
		return ErrNotFound
	}

	if item.State().IsTerminal() {
		return nil
	}

	d.cancels.Request(itemID)

	return nil
}

// Dismiss removes a finished item from the registry. Files are left on disk.
func (d *Downloader) Dismiss(itemID string) error {
	return d.registry.Remove(itemID)
}

// SetMaxConcurrent changes the transfer cap. Raising it starts workers
// immediately; lowering it lets running transfers finish.
func (d *Downloader) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.maxConcurrent = n
	d.slots.SetLimit(n)

	if d.runCtx != nil {
		d.spawnLocked(n)
	}
}

func (d *Downloader) MaxConcurrent() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.maxConcurrent
}

// SetChunkSizeBytes changes the read size for subsequent reads, including
// those of transfers already running. Values under MinChunkSize are raised.
func (d *Downloader) SetChunkSizeBytes(n int64) {
	d.chunkSize.Store(max(n, MinChunkSize))
}

func (d *Downloader) ChunkSizeBytes() int64 {
	return d.chunkSize.Load()
}

func (d *Downloader) Get(itemID string) (Snapshot, bool) {
	item, ok := d.registry.Get(itemID)
	if !ok {
		return Snapshot{}, false
	}

	return item.Snapshot(), true
}

func (d *Downloader) List() []Snapshot {
	return d.registry.List()
}

// Totals aggregates progress over all items except failed and cancelled ones.
func (d *Downloader) Totals() progress.Totals {
	return TotalsOf(d.registry.List())
}

// TotalsOf aggregates an already taken list of snapshots.
func TotalsOf(items []Snapshot) progress.Totals {
	samples := make([]progress.Sample, len(items))
	for i, s := range items {
		samples[i] = progress.Sample{
			Downloaded: s.DownloadedBytes,
			Total:      s.TotalBytes,
			Speed:      s.Speed,
			Excluded:   s.State == Failed || s.State == Cancelled,
		}
	}

	return progress.Aggregate(samples)
}

func (d *Downloader) QueueDepth() int {
	return d.queue.Len()
}

// Active returns the number of items currently downloading.
func (d *Downloader) Active() int {
	var n int

	for _, s := range d.registry.List() {
		if s.State == Downloading {
			n++
		}
	}

	return n
}

// Subscribe returns a subscription to downloader events. The caller must
// Close it. A subscriber that stops reading is eventually disconnected; its
// Done channel is closed and Dropped reports true.
func (d *Downloader) Subscribe() *Subscription {
	return d.bus.Subscribe(eventBuffer)
}

func (d *Downloader) work(ctx context.Context) {
	defer d.wg.Done()

	for {
		item, err := d.queue.Pop(ctx)
		if err != nil {
			return
		}

		d.publishQueueDepth()
		d.process(ctx, item)
	}
}

// process runs one dequeued item to a terminal state.
func (d *Downloader) process(ctx context.Context, item *Item) {
	ctx = logctx.WithItemID(ctx, item.ID)

	if item.State() != Queued {
		return
	}

	if d.cancels.Take(item.ID) {
		d.finish(ctx, item, Cancelled, nil)

		return
	}

	// the pool is shutting down
	if err := d.slots.Acquire(ctx); err != nil {
		d.finish(ctx, item, Cancelled, nil)

		return
	}
	defer d.slots.Release()

	if d.cancels.Take(item.ID) || ctx.Err() != nil {
		d.finish(ctx, item, Cancelled, nil)

		return
	}

	if !item.transition(Queued, Downloading) {
		return
	}

	item.markStarted(d.clock.Now())
	d.publishStatus(item)

	var state State

	err := d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		var err error
		state, err = d.execute(ctx, item)

		return err
	})

	// shutting down is not the item's fault
	if err != nil && ctx.Err() != nil {
		state, err = Cancelled, nil
	}

	d.finish(ctx, item, state, err)
}

// execute streams the item to disk. It returns the terminal state to enter
// and, for Failed, the cause.
func (d *Downloader) execute(ctx context.Context, item *Item) (State, error) {
	logger := logctx.LoggerFromContext(ctx)

	stream, err := d.source.OpenStream(ctx, item.SourceLocator)
	if err != nil {
		var te *transfer.TransportError
		var ae *transfer.AuthenticationError

		if !errors.As(err, &te) && !errors.As(err, &ae) {
			err = &transfer.TransportError{Operation: "open_stream", Message: err.Error(), Err: err}
		}

		return Failed, err
	}
	defer stream.Body.Close()

	item.adoptTotal(stream.TotalBytes)

	out, err := d.openFile(item.DestinationPath)
	if err != nil {
		return Failed, &transfer.FilesystemError{Op: "open", Path: item.DestinationPath, Err: err}
	}

	logger.Info("downloading file", "path", item.DestinationPath,
		"size", humanize.Bytes(uint64(max(item.TotalBytes(), 0))))

	state, err := d.copyChunks(ctx, item, stream.Body, out)

	if cerr := out.Close(); cerr != nil && err == nil {
		state, err = Failed, &transfer.FilesystemError{Op: "close", Path: item.DestinationPath, Err: cerr}
	}

	return state, err
}

func (d *Downloader) copyChunks(ctx context.Context, item *Item, body io.Reader, out io.Writer) (State, error) {
	sampler := progress.NewSampler(d.clock, d.interval)
	sampler.Start(item.DownloadedBytes())

	var buf []byte

	for {
		size := int(d.chunkSize.Load())
		if cap(buf) < size {
			buf = make([]byte, size)
		}

		chunk := buf[:size]

		n, rerr := io.ReadFull(body, chunk)
		if rerr == io.EOF {
			break
		}

		// a partially filled chunk followed by an error is discarded
		if rerr != nil && !errors.Is(rerr, io.ErrUnexpectedEOF) {
			return Failed, &transfer.TransportError{Operation: "read_chunk", Message: rerr.Error(), Err: rerr}
		}

		if d.cancels.Take(item.ID) {
			return Cancelled, nil
		}

		if _, err := out.Write(chunk[:n]); err != nil {
			return Failed, &transfer.FilesystemError{Op: "write", Path: item.DestinationPath, Err: err}
		}

		downloaded := item.addDownloaded(n)
		total := item.TotalBytes()

		d.telemetry.AddDownloadedBytes(int64(n))

		if total > 0 && downloaded > total {
			return Failed, &transfer.TransportError{
				Operation: "read_chunk",
				Message:   fmt.Sprintf("stream exceeded announced size of %d bytes", total),
			}
		}

		if r, ok := sampler.Observe(downloaded, total); ok {
			item.setRates(r.Speed, r.ETA)
			d.bus.Publish(ProgressChanged{ItemID: item.ID, Progress: r})
		}

		if rerr != nil {
			break
		}

		if err := ctx.Err(); err != nil {
			return Failed, err
		}
	}

	downloaded := item.DownloadedBytes()

	if !item.adoptTotal(downloaded) {
		if total := item.TotalBytes(); total > 0 && downloaded != total {
			return Failed, &transfer.TransportError{
				Operation: "read_chunk",
				Message:   fmt.Sprintf("stream ended after %d of %d bytes", downloaded, total),
			}
		}
	}

	return Completed, nil
}

// finish moves item into a terminal state and reports it.
func (d *Downloader) finish(ctx context.Context, item *Item, state State, err error) {
	logger := logctx.LoggerFromContext(ctx)

	if err != nil {
		item.setError(err)
	}

	if state == Completed {
		item.setRates(0, 0)
	} else {
		item.setRates(0, progress.Unknown)
	}

	now := d.clock.Now()
	if !item.finish(state, now) {
		return
	}

	d.cancels.Clear(item.ID)

	snap := item.Snapshot()

	var duration time.Duration
	if !snap.StartedAt.IsZero() {
		duration = now.Sub(snap.StartedAt)
	}

	switch state {
	case Completed:
		logger.Info("download completed", "path", item.DestinationPath,
			"size", humanize.Bytes(uint64(snap.DownloadedBytes)), "duration", duration.Round(time.Millisecond))
	case Failed:
		logger.Error("download failed", "path", item.DestinationPath,
			"downloaded", humanize.Bytes(uint64(snap.DownloadedBytes)), "err", err)
	case Cancelled:
		logger.Info("download cancelled", "path", item.DestinationPath,
			"downloaded", humanize.Bytes(uint64(snap.DownloadedBytes)))
	}

	d.telemetry.RecordDownload(state.String(), duration)
	d.recordHistory(ctx, snap)

	d.bus.Publish(StatusChanged{Item: snap})

	if state == Failed {
		d.bus.Publish(ItemFailed{ItemID: item.ID, Filename: item.Filename, Err: err})
	}
}

func (d *Downloader) recordHistory(ctx context.Context, snap Snapshot) {
	if d.history == nil {
		return
	}

	rec := storage.HistoryRecord{
		ItemID:          snap.ID,
		Filename:        snap.Filename,
		Path:            snap.DestinationPath,
		State:           snap.State.String(),
		TotalBytes:      snap.TotalBytes,
		DownloadedBytes: snap.DownloadedBytes,
		Error:           snap.Error,
		InstanceID:      d.instanceID,
		FinishedAt:      snap.FinishedAt,
	}

	// history must outlive a shutdown that cancelled the transfer
	if err := d.history.RecordOutcome(context.WithoutCancel(ctx), rec); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to record download history", "err", err)
	}
}

func (d *Downloader) publishStatus(item *Item) {
	d.bus.Publish(StatusChanged{Item: item.Snapshot()})
}

func (d *Downloader) publishQueueDepth() {
	depth := d.queue.Len()

	d.telemetry.RecordQueueDepth(depth)
	d.bus.Publish(QueueDepthChanged{Depth: depth})
}

func regularFile(path string) (fs.FileInfo, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}

	return info, true
}
