package progress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders n in SI units ("1.0 MB"); negative values render as "-".
func FormatBytes(n int64) string {
	if n < 0 {
		return "-"
	}

	return humanize.Bytes(uint64(n))
}

// FormatSpeed renders a bytes/sec figure.
func FormatSpeed(bps float64) string {
	if bps < 0 {
		return "-"
	}

	return humanize.Bytes(uint64(bps)) + "/s"
}

// FormatPercent renders a percentage with one decimal, or "?" when unknown.
func FormatPercent(p float64) string {
	if p < 0 {
		return "?"
	}

	return humanize.FtoaWithDigits(p, 1) + "%"
}

// FormatETA renders seconds as H:MM:SS or M:SS, and "--:--" when unknown.
func FormatETA(seconds float64) string {
	if seconds < 0 {
		return "--:--"
	}

	d := time.Duration(seconds) * time.Second
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}

	return fmt.Sprintf("%d:%02d", m, s)
}
