package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *pruner) DeleteHistoryBefore(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cutoffs = append(p.cutoffs, before)

	return 2, p.err
}

func (p *pruner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.cutoffs)
}

func TestPruneHistory_Cutoff(t *testing.T) {
	p := &pruner{}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	removed, err := PruneHistory(context.Background(), p, 24*time.Hour, now)
	require.NoError(t, err)

	assert.Equal(t, int64(2), removed)
	assert.Equal(t, []time.Time{now.Add(-24 * time.Hour)}, p.cutoffs)
}

func TestPruneHistory_DisabledRetention(t *testing.T) {
	p := &pruner{}

	removed, err := PruneHistory(context.Background(), p, 0, time.Now())
	require.NoError(t, err)

	assert.Zero(t, removed)
	assert.Zero(t, p.calls())
}

func TestPruneHistory_Error(t *testing.T) {
	p := &pruner{err: errors.New("database is locked")}

	_, err := PruneHistory(context.Background(), p, time.Hour, time.Now())
	require.ErrorContains(t, err, "database is locked")
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := &pruner{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)

	go func() { done <- Run(ctx, p, time.Hour, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return p.calls() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
