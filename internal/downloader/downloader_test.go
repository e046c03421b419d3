package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lunikdev/JellyGrab/internal/storage"
	"github.com/lunikdev/JellyGrab/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mib     = 1 << 20
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeStream describes the body served for one locator.
type fakeStream struct {
	data       []byte
	size       int64         // announced size, 0 for none
	gate       chan struct{} // nil means ungated
	failAfter  int           // reads that succeed before readErr, 0 means never fail
	readErr    error
	openErr    error
	resolveErr error
	filename   string // resolved filename, id+".mp4" when empty
}

type fakeSource struct {
	mu      sync.Mutex
	streams map[string]*fakeStream

	resolves atomic.Int32
	opens    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{streams: make(map[string]*fakeStream)}
}

func (s *fakeSource) add(id string, fs *fakeStream) {
	s.mu.Lock()
	s.streams[id] = fs
	s.mu.Unlock()
}

func (s *fakeSource) get(id string) (*fakeStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.streams[id]

	return fs, ok
}

func (s *fakeSource) Resolve(_ context.Context, itemID string) (*transfer.Resolution, error) {
	s.resolves.Add(1)

	fs, ok := s.get(itemID)
	if !ok {
		return nil, errors.New("no such item")
	}

	if fs.resolveErr != nil {
		return nil, fs.resolveErr
	}

	filename := fs.filename
	if filename == "" {
		filename = itemID + ".mp4"
	}

	return &transfer.Resolution{
		ItemID:        itemID,
		SourceLocator: itemID,
		Filename:      filename,
		Directory:     "Show",
		TotalBytes:    fs.size,
	}, nil
}

func (s *fakeSource) OpenStream(ctx context.Context, locator string) (*transfer.Stream, error) {
	s.opens.Add(1)

	fs, _ := s.get(locator)
	if fs.openErr != nil {
		return nil, fs.openErr
	}

	n := s.inflight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	body := &gatedReader{
		ctx:       ctx,
		r:         bytes.NewReader(fs.data),
		gate:      fs.gate,
		failAfter: fs.failAfter,
		err:       fs.readErr,
		onClose:   func() { s.inflight.Add(-1) },
	}

	return &transfer.Stream{Body: body, TotalBytes: fs.size}, nil
}

type gatedReader struct {
	ctx       context.Context
	r         io.Reader
	gate      chan struct{}
	failAfter int
	reads     int
	err       error
	onClose   func()
	closed    sync.Once
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-g.ctx.Done():
			return 0, g.ctx.Err()
		}
	}

	if g.err != nil && g.reads == g.failAfter {
		return 0, g.err
	}

	g.reads++

	return g.r.Read(p)
}

func (g *gatedReader) Close() error {
	g.closed.Do(g.onClose)

	return nil
}

type countingFile struct {
	*os.File
	writes *atomic.Int32
}

func (f *countingFile) Write(p []byte) (int, error) {
	f.writes.Add(1)

	return f.File.Write(p)
}

type historySpy struct {
	mu      sync.Mutex
	records []storage.HistoryRecord
}

func (h *historySpy) RecordOutcome(_ context.Context, rec storage.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)

	return nil
}

func (h *historySpy) all() []storage.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]storage.HistoryRecord(nil), h.records...)
}

type harness struct {
	d      *Downloader
	src    *fakeSource
	dir    string
	writes atomic.Int32
	hist   *historySpy
	ctx    context.Context
}

func newHarness(t *testing.T, maxConcurrent int, chunk int64) *harness {
	t.Helper()

	h := &harness{src: newFakeSource(), dir: t.TempDir(), hist: &historySpy{}}
	h.d = New(h.src, Options{
		DownloadDir:    h.dir,
		MaxConcurrent:  maxConcurrent,
		ChunkSizeBytes: chunk,
		History:        h.hist,
		InstanceID:     "test",
	})
	h.d.openFile = func(name string) (io.WriteCloser, error) {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
		if err != nil {
			return nil, err
		}

		return &countingFile{File: f, writes: &h.writes}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx

	t.Cleanup(func() {
		cancel()
		h.d.Wait()
	})

	return h
}

func (h *harness) start() { h.d.Start(h.ctx) }

func (h *harness) path(id string) string {
	return filepath.Join(h.dir, "Show", id+".mp4")
}

func (h *harness) waitState(t *testing.T, id string, want State) {
	t.Helper()

	require.Eventually(t, func() bool {
		s, ok := h.d.Get(id)

		return ok && s.State == want
	}, waitFor, tick, "item %s never reached %s", id, want)
}

func payload(n int) []byte {
	return bytes.Repeat([]byte{0xAB}, n)
}

func TestScenarioA_SingleItemCompletes(t *testing.T) {
	h := newHarness(t, 1, mib)
	h.src.add("x", &fakeStream{data: payload(10 * mib), size: 10 * mib})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	h.waitState(t, "x", Completed)

	s, _ := h.d.Get("x")
	assert.Equal(t, int32(10), h.writes.Load())
	assert.Equal(t, int64(10*mib), s.DownloadedBytes)
	assert.Equal(t, int64(10*mib), s.TotalBytes)
	assert.Equal(t, float64(0), s.Speed)

	info, err := os.Stat(h.path("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(10*mib), info.Size())

	require.Eventually(t, func() bool { return len(h.hist.all()) == 1 }, waitFor, tick)
	rec := h.hist.all()[0]
	assert.Equal(t, "completed", rec.State)
	assert.Equal(t, "test", rec.InstanceID)
}

func TestScenarioB_SecondItemWaitsForFirst(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	gate := make(chan struct{})
	h.src.add("x", &fakeStream{data: payload(2 * MinChunkSize), size: 2 * MinChunkSize, gate: gate})
	h.src.add("y", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)
	_, err = h.d.Enqueue(context.Background(), "y", true)
	require.NoError(t, err)

	h.waitState(t, "x", Downloading)

	time.Sleep(50 * time.Millisecond)

	y, _ := h.d.Get("y")
	assert.Equal(t, Queued, y.State)
	assert.Equal(t, int32(1), h.src.opens.Load())
	assert.Equal(t, 1, h.d.QueueDepth())

	close(gate)

	h.waitState(t, "x", Completed)
	h.waitState(t, "y", Completed)
}

func TestScenarioC_CancelBeforeDequeue(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)
	require.NoError(t, h.d.Cancel("x"))

	h.start()
	h.waitState(t, "x", Cancelled)

	assert.Zero(t, h.src.opens.Load())
	assert.NoFileExists(t, h.path("x"))

	s, _ := h.d.Get("x")
	assert.True(t, s.StartedAt.IsZero())
}

func TestScenarioD_TransportFailureKeepsPartialFile(t *testing.T) {
	h := newHarness(t, 1, mib)
	h.src.add("x", &fakeStream{
		data:      payload(10 * mib),
		size:      10 * mib,
		failAfter: 3,
		readErr:   errors.New("connection reset by peer"),
	})
	h.start()

	sub := h.d.Subscribe()
	defer sub.Close()

	failed := make(chan ItemFailed, 1)

	go func() {
		for {
			select {
			case ev := <-sub.C():
				if f, ok := ev.(ItemFailed); ok {
					failed <- f
				}
			case <-sub.Done():
				return
			}
		}
	}()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	h.waitState(t, "x", Failed)

	info, err := os.Stat(h.path("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(3*mib), info.Size())
	assert.Equal(t, int32(1), h.src.opens.Load())

	s, _ := h.d.Get("x")
	assert.Equal(t, int64(3*mib), s.DownloadedBytes)
	assert.Contains(t, s.Error, "connection reset by peer")

	select {
	case f := <-failed:
		var te *transfer.TransportError
		require.ErrorAs(t, f.Err, &te)
		assert.Equal(t, "x", f.ItemID)
	case <-time.After(waitFor):
		t.Fatal("no ItemFailed event")
	}

	// no automatic retry
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), h.src.opens.Load())
}

func TestScenarioE_ConcurrencyCap(t *testing.T) {
	h := newHarness(t, 3, MinChunkSize)
	gate := make(chan struct{})
	ids := []string{"a", "b", "c", "d", "e"}

	for _, id := range ids {
		h.src.add(id, &fakeStream{data: payload(MinChunkSize), size: MinChunkSize, gate: gate})
	}

	h.start()

	for _, id := range ids {
		_, err := h.d.Enqueue(context.Background(), id, false)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return h.d.Active() == 3 }, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, h.d.Active())
	assert.Equal(t, 2, h.d.QueueDepth())

	close(gate)

	for _, id := range ids {
		h.waitState(t, id, Completed)
	}

	assert.LessOrEqual(t, h.src.peak.Load(), int32(3))
	assert.Equal(t, int32(5), h.src.opens.Load())
}

func TestEnqueue_ExistingFileIsAlreadyExists(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})
	h.start()

	require.NoError(t, os.MkdirAll(filepath.Dir(h.path("x")), dirPerm))
	require.NoError(t, os.WriteFile(h.path("x"), []byte("existing"), filePerm))

	s, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	assert.Equal(t, AlreadyExists, s.State)
	assert.Equal(t, int64(len("existing")), s.TotalBytes)
	assert.Zero(t, h.src.opens.Load())
}

func TestEnqueue_CompletedItemSkipsNetwork(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)
	h.waitState(t, "x", Completed)

	resolves := h.src.resolves.Load()

	s, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	assert.Equal(t, AlreadyExists, s.State)
	assert.Equal(t, resolves, h.src.resolves.Load())
	assert.Equal(t, int32(1), h.src.opens.Load())
}

func TestEnqueue_ActiveItemIsRejected(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	_, err = h.d.Enqueue(context.Background(), "x", true)
	require.ErrorIs(t, err, ErrItemActive)
	assert.Equal(t, 1, h.d.QueueDepth())
}

func TestEnqueue_ResolutionFailureWritesNothing(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{resolveErr: errors.New("404 item not found")})

	_, err := h.d.Enqueue(context.Background(), "x", true)

	var re *transfer.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "x", re.ItemID)

	_, ok := h.d.Get("x")
	assert.False(t, ok)
	assert.NoDirExists(t, filepath.Join(h.dir, "Show"))
}

func TestEnqueue_EmptyID(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)

	_, err := h.d.Enqueue(context.Background(), "", true)
	require.ErrorIs(t, err, ErrInvalidItemID)
}

func TestCancel_MidTransferKeepsPartialFile(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	gate := make(chan struct{})
	h.src.add("x", &fakeStream{data: payload(4 * MinChunkSize), size: 4 * MinChunkSize, gate: gate})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	stop := make(chan struct{})
	sampled := make(chan []int64, 1)

	go func() {
		var seen []int64

		for {
			select {
			case <-stop:
				sampled <- seen

				return
			default:
			}

			if s, ok := h.d.Get("x"); ok {
				seen = append(seen, s.DownloadedBytes)
			}

			time.Sleep(time.Millisecond)
		}
	}()

	gate <- struct{}{}
	gate <- struct{}{}

	require.Eventually(t, func() bool {
		s, _ := h.d.Get("x")

		return s.DownloadedBytes == 2*MinChunkSize
	}, waitFor, tick)

	require.NoError(t, h.d.Cancel("x"))

	gate <- struct{}{}

	h.waitState(t, "x", Cancelled)

	info, err := os.Stat(h.path("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(2*MinChunkSize), info.Size())

	s, _ := h.d.Get("x")
	assert.Empty(t, s.Error)
	assert.LessOrEqual(t, s.DownloadedBytes, s.TotalBytes)

	close(stop)

	seen := <-sampled
	require.NotEmpty(t, seen)

	for i := 1; i < len(seen); i++ {
		require.GreaterOrEqual(t, seen[i], seen[i-1], "downloaded bytes went backwards at sample %d", i)
	}
}

func TestEnqueue_SameDestinationIsRejected(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	gate := make(chan struct{})
	h.src.add("a", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize, gate: gate, filename: "dup.mp4"})
	h.src.add("b", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize, filename: "dup.mp4"})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "a", true)
	require.NoError(t, err)

	_, err = h.d.Enqueue(context.Background(), "b", true)
	require.ErrorIs(t, err, ErrDestinationBusy)

	_, ok := h.d.Get("b")
	assert.False(t, ok)

	close(gate)
	h.waitState(t, "a", Completed)

	// the file is now on disk, so b finds it there
	s, err := h.d.Enqueue(context.Background(), "b", true)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, s.State)
	assert.Equal(t, int32(1), h.src.opens.Load())
}

func TestShutdown_CancelsItemWaitingForSlot(t *testing.T) {
	src := newFakeSource()
	gate := make(chan struct{})
	src.add("a", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize, gate: gate})
	src.add("b", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})

	hist := &historySpy{}
	d := New(src, Options{DownloadDir: t.TempDir(), MaxConcurrent: 2, ChunkSizeBytes: MinChunkSize, History: hist})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)
	// two workers, one slot
	d.SetMaxConcurrent(1)

	_, err := d.Enqueue(context.Background(), "a", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.Active() == 1 }, waitFor, tick)

	_, err = d.Enqueue(context.Background(), "b", true)
	require.NoError(t, err)

	// the idle worker has taken b and waits for a slot
	require.Eventually(t, func() bool { return d.QueueDepth() == 0 }, waitFor, tick)

	b, _ := d.Get("b")
	assert.Equal(t, Queued, b.State)

	cancel()
	d.Wait()

	for _, id := range []string{"a", "b"} {
		s, ok := d.Get(id)
		require.True(t, ok)
		assert.Equal(t, Cancelled, s.State, id)
	}

	b, _ = d.Get("b")
	assert.True(t, b.StartedAt.IsZero())
	assert.Equal(t, int32(1), src.opens.Load())

	states := make(map[string]string)
	for _, rec := range hist.all() {
		states[rec.ItemID] = rec.State
	}

	assert.Equal(t, map[string]string{"a": "cancelled", "b": "cancelled"}, states)
}

func TestEvents_StalledSubscriberDoesNotBlockQueue(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)

	const n = 100

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%d", i)
		h.src.add(ids[i], &fakeStream{data: payload(16), size: 16})
	}

	// subscribed, never read
	stalled := h.d.Subscribe()
	defer stalled.Close()

	h.start()

	enqueued := make(chan error, 1)

	go func() {
		for _, id := range ids {
			if _, err := h.d.Enqueue(context.Background(), id, false); err != nil {
				enqueued <- err

				return
			}
		}

		enqueued <- nil
	}()

	select {
	case err := <-enqueued:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("enqueue blocked behind a subscriber that never reads")
	}

	for _, id := range ids {
		h.waitState(t, id, Completed)
	}
}

func TestCancel_TerminalAndUnknownItems(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})
	h.start()

	require.ErrorIs(t, h.d.Cancel("missing"), ErrNotFound)

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)
	h.waitState(t, "x", Completed)

	require.NoError(t, h.d.Cancel("x"))

	s, _ := h.d.Get("x")
	assert.Equal(t, Completed, s.State)
}

func TestSetMaxConcurrent_GrowsPool(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	gate := make(chan struct{})
	h.src.add("a", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize, gate: gate})
	h.src.add("b", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize, gate: gate})
	h.start()

	for _, id := range []string{"a", "b"} {
		_, err := h.d.Enqueue(context.Background(), id, true)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return h.d.Active() == 1 }, waitFor, tick)

	h.d.SetMaxConcurrent(2)

	require.Eventually(t, func() bool { return h.d.Active() == 2 }, waitFor, tick)
	assert.Equal(t, 2, h.d.MaxConcurrent())

	close(gate)
	h.waitState(t, "a", Completed)
	h.waitState(t, "b", Completed)
}

func TestSetMaxConcurrent_ShrinksLazily(t *testing.T) {
	h := newHarness(t, 2, MinChunkSize)
	gateA := make(chan struct{})
	gateB := make(chan struct{})
	h.src.add("a", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize, gate: gateA})
	h.src.add("b", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize, gate: gateB})
	h.src.add("c", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})
	h.start()

	for _, id := range []string{"a", "b", "c"} {
		_, err := h.d.Enqueue(context.Background(), id, true)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return h.d.Active() == 2 }, waitFor, tick)

	h.d.SetMaxConcurrent(1)

	// both running transfers continue
	assert.Equal(t, 2, h.d.Active())

	close(gateA)
	h.waitState(t, "a", Completed)

	// b still holds the only slot, so c cannot start
	time.Sleep(50 * time.Millisecond)
	c, _ := h.d.Get("c")
	assert.Equal(t, Queued, c.State)

	close(gateB)
	h.waitState(t, "b", Completed)
	h.waitState(t, "c", Completed)
}

func TestSetChunkSizeBytes_Floor(t *testing.T) {
	h := newHarness(t, 1, 0)
	assert.Equal(t, int64(DefaultChunkSize), h.d.ChunkSizeBytes())

	h.d.SetChunkSizeBytes(1024)
	assert.Equal(t, int64(MinChunkSize), h.d.ChunkSizeBytes())

	h.d.SetChunkSizeBytes(4 * mib)
	assert.Equal(t, int64(4*mib), h.d.ChunkSizeBytes())
}

func TestExecute_UnknownSizeAdoptedAtEnd(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize + 10)})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	h.waitState(t, "x", Completed)

	s, _ := h.d.Get("x")
	assert.Equal(t, int64(MinChunkSize+10), s.TotalBytes)
	assert.Equal(t, s.TotalBytes, s.DownloadedBytes)
	assert.InDelta(t, 100, s.Percent, 0.001)
	assert.Equal(t, int32(2), h.writes.Load())
}

func TestExecute_ShortStreamFails(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: 2 * MinChunkSize})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	h.waitState(t, "x", Failed)

	s, _ := h.d.Get("x")
	assert.Contains(t, s.Error, "stream ended after")
}

func TestExecute_OpenStreamFailure(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{size: MinChunkSize, openErr: &transfer.TransportError{Operation: "open_stream", StatusCode: 500, Message: "boom"}})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	h.waitState(t, "x", Failed)
	assert.NoFileExists(t, h.path("x"))
}

func TestExecute_FilesystemFailure(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})
	h.d.openFile = func(string) (io.WriteCloser, error) { return nil, os.ErrPermission }
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	h.waitState(t, "x", Failed)

	s, _ := h.d.Get("x")
	assert.Contains(t, s.Error, "filesystem error during open")
}

func TestFailureIsItemScoped(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("bad", &fakeStream{size: MinChunkSize, openErr: errors.New("dial tcp: refused")})
	h.src.add("good", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})
	h.start()

	for _, id := range []string{"bad", "good"} {
		_, err := h.d.Enqueue(context.Background(), id, true)
		require.NoError(t, err)
	}

	h.waitState(t, "bad", Failed)
	h.waitState(t, "good", Completed)

	totals := h.d.Totals()
	assert.Equal(t, 1, totals.Items)
	assert.Equal(t, int64(MinChunkSize), totals.Downloaded)
}

func TestDismiss(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	require.ErrorIs(t, h.d.Dismiss("x"), ErrItemActive)

	h.start()
	h.waitState(t, "x", Completed)

	require.NoError(t, h.d.Dismiss("x"))
	_, ok := h.d.Get("x")
	assert.False(t, ok)
	assert.FileExists(t, h.path("x"))

	require.ErrorIs(t, h.d.Dismiss("x"), ErrNotFound)
}

func TestRetryAfterFailureIsExplicit(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{size: MinChunkSize, openErr: errors.New("temporary")})
	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)
	h.waitState(t, "x", Failed)

	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})

	s, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)
	assert.Equal(t, Queued, s.State)

	h.waitState(t, "x", Completed)
	assert.Equal(t, int32(2), h.src.opens.Load())
}

func TestEvents_StatusSequence(t *testing.T) {
	h := newHarness(t, 1, MinChunkSize)
	h.src.add("x", &fakeStream{data: payload(MinChunkSize), size: MinChunkSize})

	sub := h.d.Subscribe()
	defer sub.Close()

	h.start()

	_, err := h.d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	var states []State

	timeout := time.After(waitFor)

	for len(states) < 3 {
		select {
		case ev := <-sub.C():
			if sc, ok := ev.(StatusChanged); ok {
				states = append(states, sc.Item.State)
			}
		case <-timeout:
			t.Fatalf("timed out, got states %v", states)
		}
	}

	assert.Equal(t, []State{Queued, Downloading, Completed}, states)
}

func TestProgress_NoSamplesWithoutElapsedTime(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := newFakeSource()
	src.add("x", &fakeStream{data: payload(8 * MinChunkSize), size: 8 * MinChunkSize})

	d := New(src, Options{DownloadDir: t.TempDir(), MaxConcurrent: 1, ChunkSizeBytes: MinChunkSize, Clock: clock})

	sub := d.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		d.Wait()
	}()

	d.Start(ctx)

	_, err := d.Enqueue(context.Background(), "x", true)
	require.NoError(t, err)

	var progressEvents int

	timeout := time.After(waitFor)

	for done := false; !done; {
		select {
		case ev := <-sub.C():
			switch e := ev.(type) {
			case ProgressChanged:
				progressEvents++
			case StatusChanged:
				done = e.Item.State == Completed
			}
		case <-timeout:
			t.Fatal("timed out")
		}
	}

	assert.Zero(t, progressEvents)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func TestDestination_RejectsEscapingPaths(t *testing.T) {
	d := New(newFakeSource(), Options{DownloadDir: "/downloads"})

	_, err := d.destination(&transfer.Resolution{ItemID: "x", Filename: "a.mp4", Directory: "../etc"})
	require.Error(t, err)

	_, err = d.destination(&transfer.Resolution{ItemID: "x", Filename: "sub/a.mp4"})
	require.Error(t, err)

	p, err := d.destination(&transfer.Resolution{ItemID: "x", Filename: "a.mp4", Directory: "Show"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/downloads", "Show", "a.mp4"), p)
}
