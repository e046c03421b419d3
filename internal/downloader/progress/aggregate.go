package progress

// Sample is the per-item input to Aggregate.
type Sample struct {
	Downloaded int64
	Total      int64
	Speed      float64 // Unknown values are ignored
	Excluded   bool    // failed or cancelled items
}

// Totals is the additive roll-up of all non-excluded items.
type Totals struct {
	Downloaded int64   `json:"downloaded_bytes"`
	Total      int64   `json:"total_bytes"`
	Percent    float64 `json:"percent"` // Unknown when no item has a known size
	Speed      float64 `json:"speed_bytes_per_sec"`
	Items      int     `json:"items"`
}

// Aggregate sums bytes and last-known speeds. It is a plain sum, so it may lag
// behind individual items by up to one sampling interval.
func Aggregate(samples []Sample) Totals {
	var t Totals

	for _, s := range samples {
		if s.Excluded {
			continue
		}

		t.Items++
		t.Downloaded += s.Downloaded
		t.Total += s.Total

		if s.Speed > 0 {
			t.Speed += s.Speed
		}
	}

	t.Percent = Unknown
	if t.Total > 0 {
		t.Percent = float64(t.Downloaded) * 100 / float64(t.Total)
	}

	return t
}
