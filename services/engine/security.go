package engine

import (
	"fmt"
	"math"
	"time"

	"tradesim/services/indicator"
)

// PricePoint is one (timestamp, price) observation of a security.
type PricePoint struct {
	Time  time.Time
	Price float64
}

// Security tracks one instrument: its price history, indicator state, open
// units per direction (oldest first) and the per-tick unit size. It holds a
// fully-resolved parameter snapshot and never reads portfolio state.
type Security struct {
	Name string

	params securityParams

	prices []float64
	times  []time.Time

	ATR  float64
	MACD *indicator.MACD

	// UnitSize is the risk-budget contract count, refreshed every tick.
	UnitSize int

	longEntryATR  float64
	shortEntryATR float64

	longPositions  []*Unit
	shortPositions []*Unit
}

func newSecurity(cfg Config, params securityParams, initial []PricePoint) (*Security, error) {
	need := maxInt(params.atrAverageRange+1, cfg.MinInitialPoints())
	if len(initial) < need {
		return nil, fmt.Errorf("security %s: warm-up needs %d points, got %d", params.name, need, len(initial))
	}
	s := &Security{
		Name:   params.name,
		params: params,
		prices: make([]float64, len(initial)),
		times:  make([]time.Time, len(initial)),
	}
	for i, pt := range initial {
		if math.IsNaN(pt.Price) || math.IsInf(pt.Price, 0) {
			return nil, fmt.Errorf("security %s: malformed warm-up price at index %d", params.name, i)
		}
		s.prices[i] = pt.Price
		s.times[i] = pt.Time
	}
	atr, err := indicator.InitATR(s.prices, params.atrAverageRange)
	if err != nil {
		return nil, fmt.Errorf("security %s: %w", params.name, err)
	}
	s.ATR = atr
	if cfg.NeedsMACD() {
		macd, err := indicator.InitMACD(s.prices, cfg.MACDFastLength, cfg.MACDSlowLength,
			cfg.MACDSignalLength, cfg.EMASmoothing)
		if err != nil {
			return nil, fmt.Errorf("security %s: %w", params.name, err)
		}
		s.MACD = macd
	}
	return s, nil
}

// updateIndicators advances ATR (and MACD when enabled) with the new price.
// The price is not appended to history here; rolling windows must keep
// seeing strictly prior ticks until the whole tick is processed.
func (s *Security) updateIndicators(price float64) {
	prev := s.prices[len(s.prices)-1]
	s.ATR = indicator.StepATR(s.ATR, prev, price, s.params.atrAverageRange)
	if s.MACD != nil {
		s.MACD.Step(price)
	}
}

// updateUnitSize recomputes the risk-budget contract count, truncated to an
// integer and never negative.
func (s *Security) updateUnitSize(riskPercent, notionalAccountSize float64) {
	if s.ATR <= 0 {
		s.UnitSize = 0
		return
	}
	size := int((riskPercent / 100 * notionalAccountSize) / (s.ATR * s.params.lotSize))
	if size < 0 {
		size = 0
	}
	s.UnitSize = size
}

// maxUnitSize caps the contract count so one trade's margin requirement
// stays under the per-trade ceiling. A zero ceiling disables the cap.
func (s *Security) maxUnitSize(price, maxMarginPerTrade float64) int {
	if maxMarginPerTrade <= 0 || s.params.marginFactor <= 0 {
		return math.MaxInt
	}
	return int(maxMarginPerTrade / (s.params.marginFactor * price * s.params.lotSize))
}

func (s *Security) appendPrice(price float64, t time.Time) {
	s.prices = append(s.prices, price)
	s.times = append(s.times, t)
}

// rollingHigh returns the maximum over the last n strictly prior ticks, or
// false when fewer than n prior ticks exist.
func (s *Security) rollingHigh(n int) (float64, bool) {
	if n < 1 || len(s.prices) < n {
		return 0, false
	}
	high := s.prices[len(s.prices)-n]
	for _, p := range s.prices[len(s.prices)-n+1:] {
		if p > high {
			high = p
		}
	}
	return high, true
}

// rollingLow is the mirror of rollingHigh.
func (s *Security) rollingLow(n int) (float64, bool) {
	if n < 1 || len(s.prices) < n {
		return 0, false
	}
	low := s.prices[len(s.prices)-n]
	for _, p := range s.prices[len(s.prices)-n+1:] {
		if p < low {
			low = p
		}
	}
	return low, true
}

func (s *Security) positions(d Direction) []*Unit {
	if d == Long {
		return s.longPositions
	}
	return s.shortPositions
}

func (s *Security) entryATR(d Direction) float64 {
	if d == Long {
		return s.longEntryATR
	}
	return s.shortEntryATR
}

func (s *Security) setEntryATR(d Direction, atr float64) {
	if d == Long {
		s.longEntryATR = atr
	} else {
		s.shortEntryATR = atr
	}
}

func (s *Security) addUnit(u *Unit) {
	if u.Direction == Long {
		s.longPositions = append(s.longPositions, u)
	} else {
		s.shortPositions = append(s.shortPositions, u)
	}
}

// removeUnit detaches the unit at index i in the given direction's list.
func (s *Security) removeUnit(d Direction, i int) *Unit {
	ps := s.positions(d)
	u := ps[i]
	ps = append(ps[:i], ps[i+1:]...)
	if d == Long {
		s.longPositions = ps
	} else {
		s.shortPositions = ps
	}
	return u
}

// NumLongPositions counts the open long units.
func (s *Security) NumLongPositions() int { return len(s.longPositions) }

// NumShortPositions counts the open short units.
func (s *Security) NumShortPositions() int { return len(s.shortPositions) }

// NumTotalPositions counts all open units.
func (s *Security) NumTotalPositions() int { return len(s.longPositions) + len(s.shortPositions) }

// IsLoaded reports whether the security is at its unit cap.
func (s *Security) IsLoaded() bool { return s.NumTotalPositions() >= s.params.maxUnits }

func (s *Security) entered(d Direction) bool { return len(s.positions(d)) > 0 }

// QuickSummary renders the open-position state, e.g. "2L 1S".
func (s *Security) QuickSummary() string {
	return fmt.Sprintf("%dL %dS", s.NumLongPositions(), s.NumShortPositions())
}
