// Package progress turns raw byte counts into rate-limited speed and ETA
// reports and derives aggregate totals across many transfers.
package progress

import (
	"time"

	"golang.org/x/time/rate"
)

// Unknown marks a derived value that cannot be computed yet. It is distinct
// from zero: an ETA of 0 means done, Unknown means no estimate.
const Unknown = -1

// DefaultInterval is the minimum spacing between two samples of one transfer.
const DefaultInterval = time.Second

// Report is a point-in-time view of one transfer.
type Report struct {
	Percent    float64 // Unknown when total is unknown
	Downloaded int64
	Total      int64   // 0 when unknown
	Speed      float64 // bytes/sec, Unknown before the first sample
	ETA        float64 // seconds, Unknown unless speed > 0 and total known
}

// Sampler gates speed/ETA recomputation for one transfer so that samples are
// at least interval apart regardless of chunk size or link speed.
//
// A Sampler is owned by the worker executing the transfer and is not safe for
// concurrent use.
type Sampler struct {
	clock   Clock
	limiter *rate.Limiter

	lastAt    time.Time
	lastBytes int64
	speed     float64
}

// NewSampler returns a sampler that emits at most once per interval.
func NewSampler(clock Clock, interval time.Duration) *Sampler {
	if clock == nil {
		clock = SystemClock{}
	}

	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Sampler{
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		speed:   Unknown,
	}
}

// Start anchors the sampler at the current time. The first sample is allowed
// one full interval later.
func (s *Sampler) Start(downloaded int64) time.Time {
	now := s.clock.Now()

	s.limiter.AllowN(now, 1)
	s.lastAt = now
	s.lastBytes = downloaded
	s.speed = Unknown

	return now
}

// Observe records the current byte count. It returns a fresh report and true
// when the minimum interval has elapsed since the previous sample, and false
// otherwise; nothing is recomputed on a false return.
func (s *Sampler) Observe(downloaded, total int64) (Report, bool) {
	now := s.clock.Now()

	if !s.limiter.AllowN(now, 1) {
		return Report{}, false
	}

	if elapsed := now.Sub(s.lastAt).Seconds(); elapsed > 0 {
		s.speed = float64(downloaded-s.lastBytes) / elapsed
	}

	s.lastAt = now
	s.lastBytes = downloaded

	return NewReport(downloaded, total, s.speed), true
}

// Speed returns the last computed speed, or Unknown.
func (s *Sampler) Speed() float64 {
	return s.speed
}

// NewReport derives percent and ETA from raw counters.
func NewReport(downloaded, total int64, speed float64) Report {
	r := Report{
		Percent:    Unknown,
		Downloaded: downloaded,
		Total:      total,
		Speed:      speed,
		ETA:        Unknown,
	}

	if total > 0 {
		r.Percent = float64(downloaded) * 100 / float64(total)
		if speed > 0 {
			r.ETA = float64(total-downloaded) / speed
		}
	}

	return r
}
