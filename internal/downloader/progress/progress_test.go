package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSampler_MinimumInterval(t *testing.T) {
	clock := newManualClock()
	s := NewSampler(clock, time.Second)
	s.Start(0)

	var emitted int

	// 3000 tiny chunks spread over 3 seconds.
	for i := 1; i <= 3000; i++ {
		clock.Advance(time.Millisecond)

		if _, ok := s.Observe(int64(i*1024), 0); ok {
			emitted++
		}
	}

	assert.Equal(t, 3, emitted)
}

func TestSampler_NothingBeforeFirstInterval(t *testing.T) {
	clock := newManualClock()
	s := NewSampler(clock, time.Second)
	s.Start(0)

	clock.Advance(999 * time.Millisecond)

	_, ok := s.Observe(1024, 2048)
	assert.False(t, ok)
	assert.Equal(t, float64(Unknown), s.Speed())
}

func TestSampler_SpeedAndETA(t *testing.T) {
	clock := newManualClock()
	s := NewSampler(clock, time.Second)
	s.Start(0)

	clock.Advance(2 * time.Second)

	r, ok := s.Observe(4000, 10000)
	require.True(t, ok)
	assert.InDelta(t, 2000, r.Speed, 0.001)
	assert.InDelta(t, 3, r.ETA, 0.001)
	assert.InDelta(t, 40, r.Percent, 0.001)

	clock.Advance(time.Second)

	r, ok = s.Observe(5000, 10000)
	require.True(t, ok)
	assert.InDelta(t, 1000, r.Speed, 0.001)
	assert.InDelta(t, 5, r.ETA, 0.001)
}

func TestSampler_UnknownTotal(t *testing.T) {
	clock := newManualClock()
	s := NewSampler(clock, time.Second)
	s.Start(0)

	clock.Advance(time.Second)

	r, ok := s.Observe(1000, 0)
	require.True(t, ok)
	assert.InDelta(t, 1000, r.Speed, 0.001)
	assert.Equal(t, float64(Unknown), r.ETA)
	assert.Equal(t, float64(Unknown), r.Percent)
}

func TestNewReport_ZeroSpeedHasUnknownETA(t *testing.T) {
	r := NewReport(10, 100, 0)

	assert.Equal(t, float64(Unknown), r.ETA)
	assert.InDelta(t, 10, r.Percent, 0.001)
}

func TestAggregate(t *testing.T) {
	totals := Aggregate([]Sample{
		{Downloaded: 50, Total: 100, Speed: 10},
		{Downloaded: 25, Total: 100, Speed: Unknown},
		{Downloaded: 70, Total: 100, Speed: 99, Excluded: true},
		{Downloaded: 25, Total: 0, Speed: 5},
	})

	assert.Equal(t, 3, totals.Items)
	assert.Equal(t, int64(100), totals.Downloaded)
	assert.Equal(t, int64(200), totals.Total)
	assert.InDelta(t, 15, totals.Speed, 0.001)
	assert.InDelta(t, 50, totals.Percent, 0.001)
}

func TestAggregate_Empty(t *testing.T) {
	totals := Aggregate(nil)

	assert.Zero(t, totals.Items)
	assert.Equal(t, float64(Unknown), totals.Percent)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"bytes", FormatBytes(1_500_000), "1.5 MB"},
		{"bytes unknown", FormatBytes(Unknown), "-"},
		{"speed", FormatSpeed(2_000_000), "2.0 MB/s"},
		{"speed unknown", FormatSpeed(Unknown), "-"},
		{"percent", FormatPercent(12.34), "12.3%"},
		{"percent unknown", FormatPercent(Unknown), "?"},
		{"eta minutes", FormatETA(90.7), "1:30"},
		{"eta hours", FormatETA(3725), "1:02:05"},
		{"eta unknown", FormatETA(Unknown), "--:--"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
