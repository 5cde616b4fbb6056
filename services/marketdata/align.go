package marketdata

import (
	"fmt"
	"time"
)

// Table is an aligned multi-security price grid: one timestamp per row and
// one price per series per row, series in input order.
type Table struct {
	Names  []string
	Times  []time.Time
	Prices [][]float64
}

// Align inner-joins the series on exact timestamps and keeps only the
// largest continuous run with a uniform sampling interval, so the engine
// sees gap-free, consistently spaced ticks.
func Align(series ...Series) (Table, error) {
	if len(series) == 0 {
		return Table{}, fmt.Errorf("align: no series")
	}

	counts := make(map[int64]int, len(series[0].Points))
	for _, s := range series {
		for _, pt := range s.Points {
			counts[pt.Time.UnixNano()]++
		}
	}

	t := Table{Names: make([]string, len(series))}
	lookups := make([]map[int64]float64, len(series))
	for i, s := range series {
		t.Names[i] = s.Name
		lookups[i] = make(map[int64]float64, len(s.Points))
		for _, pt := range s.Points {
			lookups[i][pt.Time.UnixNano()] = pt.Price
		}
	}
	// the first series drives row order; it is already sorted
	for _, pt := range series[0].Points {
		ns := pt.Time.UnixNano()
		if counts[ns] != len(series) {
			continue
		}
		row := make([]float64, len(series))
		for i := range series {
			row[i] = lookups[i][ns]
		}
		t.Times = append(t.Times, pt.Time)
		t.Prices = append(t.Prices, row)
	}
	if len(t.Times) == 0 {
		return Table{}, fmt.Errorf("align: series share no timestamps")
	}
	return retainLargestContinuousRun(t), nil
}

// retainLargestContinuousRun finds the dominant sampling interval and keeps
// the longest stretch of rows spaced exactly by it.
func retainLargestContinuousRun(t Table) Table {
	if len(t.Times) < 2 {
		return t
	}
	deltas := make(map[time.Duration]int)
	for i := 1; i < len(t.Times); i++ {
		deltas[t.Times[i].Sub(t.Times[i-1])]++
	}
	var interval time.Duration
	best := 0
	for d, n := range deltas {
		if n > best {
			interval, best = d, n
		}
	}

	bestStart, bestLen := 0, 1
	start := 0
	for i := 1; i < len(t.Times); i++ {
		if t.Times[i].Sub(t.Times[i-1]) != interval {
			start = i
			continue
		}
		if run := i - start + 1; run > bestLen {
			bestStart, bestLen = start, run
		}
	}
	return Table{
		Names:  t.Names,
		Times:  t.Times[bestStart : bestStart+bestLen],
		Prices: t.Prices[bestStart : bestStart+bestLen],
	}
}

// SplitWarmup severs the first n rows off as the indicator warm-up segment,
// leaving the remainder as the simulated range.
func (t Table) SplitWarmup(n int) (Table, Table, error) {
	if n < 1 || n >= len(t.Times) {
		return Table{}, Table{}, fmt.Errorf("warm-up of %d rows needs a longer table than %d", n, len(t.Times))
	}
	head := Table{Names: t.Names, Times: t.Times[:n], Prices: t.Prices[:n]}
	tail := Table{Names: t.Names, Times: t.Times[n:], Prices: t.Prices[n:]}
	return head, tail, nil
}

// Column extracts one security's points from the table.
func (t Table) Column(i int) []Point {
	pts := make([]Point, len(t.Times))
	for row := range t.Times {
		pts[row] = Point{Time: t.Times[row], Price: t.Prices[row][i]}
	}
	return pts
}
