package marketdata

import (
	"fmt"
	"time"
)

// Resample thins a series to a coarser cadence: points are bucketed by
// truncating their timestamps to the interval and each bucket keeps its last
// observed price. The input must already be sorted, which LoadCSV and
// LoadSeries guarantee.
func Resample(s Series, interval time.Duration) (Series, error) {
	if interval <= 0 {
		return Series{}, fmt.Errorf("resample: interval must be positive, got %v", interval)
	}
	out := Series{Name: s.Name}
	for _, pt := range s.Points {
		bucket := pt.Time.Truncate(interval)
		if n := len(out.Points); n > 0 && out.Points[n-1].Time.Equal(bucket) {
			out.Points[n-1].Price = pt.Price
			continue
		}
		out.Points = append(out.Points, Point{Time: bucket, Price: pt.Price})
	}
	return out, nil
}
