package indicator

import "fmt"

// MACD holds the incremental MACD/Signal state for one security. Value is
// the fast/slow EMA difference; Signal is an EMA of the Value series. The
// previous tick's pair is retained so crossover conditions can be evaluated
// without looking back at history.
type MACD struct {
	FastLength   int
	SlowLength   int
	SignalLength int
	Smoothing    float64

	Fast   float64
	Slow   float64
	Value  float64
	Signal float64

	PrevValue  float64
	PrevSignal float64
}

// MACDWarmup is the minimum number of prices InitMACD needs: the slow EMA
// seed plus enough MACD values to seed the signal line.
func MACDWarmup(slowLength, signalLength int) int {
	return slowLength + signalLength - 1
}

// InitMACD batch-computes the MACD state over a warm-up series. The fast and
// slow EMAs are seeded with simple means over their own lengths; the signal
// line is seeded with the simple mean of the first signalLength MACD values,
// which start once the slow EMA is seeded.
func InitMACD(prices []float64, fastLength, slowLength, signalLength int, smoothing float64) (*MACD, error) {
	if fastLength < 1 || slowLength < 1 || signalLength < 1 {
		return nil, fmt.Errorf("macd lengths must be >= 1, got fast=%d slow=%d signal=%d",
			fastLength, slowLength, signalLength)
	}
	if fastLength >= slowLength {
		return nil, fmt.Errorf("macd fast length %d must be shorter than slow length %d", fastLength, slowLength)
	}
	if need := MACDWarmup(slowLength, signalLength); len(prices) < need {
		return nil, fmt.Errorf("macd warm-up needs %d prices, got %d", need, len(prices))
	}

	m := &MACD{
		FastLength:   fastLength,
		SlowLength:   slowLength,
		SignalLength: signalLength,
		Smoothing:    smoothing,
	}

	m.Fast = mean(prices[:fastLength])
	for i := fastLength; i < slowLength; i++ {
		m.Fast = StepEMA(m.Fast, fastLength, smoothing, prices[i])
	}
	m.Slow = mean(prices[:slowLength])
	m.Value = m.Fast - m.Slow

	sum := m.Value
	seen := 1
	seeded := signalLength == 1
	if seeded {
		m.Signal = m.Value
	}
	for i := slowLength; i < len(prices); i++ {
		m.PrevValue, m.PrevSignal = m.Value, m.Signal
		m.Fast = StepEMA(m.Fast, fastLength, smoothing, prices[i])
		m.Slow = StepEMA(m.Slow, slowLength, smoothing, prices[i])
		m.Value = m.Fast - m.Slow
		if !seeded {
			sum += m.Value
			seen++
			if seen == signalLength {
				m.Signal = sum / float64(signalLength)
				seeded = true
			}
		} else {
			m.Signal = StepEMA(m.Signal, signalLength, smoothing, m.Value)
		}
	}
	return m, nil
}

// Step advances the MACD state by one price.
func (m *MACD) Step(price float64) {
	m.PrevValue, m.PrevSignal = m.Value, m.Signal
	m.Fast = StepEMA(m.Fast, m.FastLength, m.Smoothing, price)
	m.Slow = StepEMA(m.Slow, m.SlowLength, m.Smoothing, price)
	m.Value = m.Fast - m.Slow
	m.Signal = StepEMA(m.Signal, m.SignalLength, m.Smoothing, m.Value)
}

// CrossedAboveSignal reports a strict upward MACD/Signal crossover between
// the previous and current tick.
func (m *MACD) CrossedAboveSignal() bool {
	return m.PrevValue < m.PrevSignal && m.Value > m.Signal
}

// CrossedBelowSignal reports a strict downward MACD/Signal crossover.
func (m *MACD) CrossedBelowSignal() bool {
	return m.PrevValue > m.PrevSignal && m.Value < m.Signal
}

// CrossedAboveZero reports a strict upward zero-line crossover.
func (m *MACD) CrossedAboveZero() bool {
	return m.PrevValue < 0 && m.Value > 0
}

// CrossedBelowZero reports a strict downward zero-line crossover.
func (m *MACD) CrossedBelowZero() bool {
	return m.PrevValue > 0 && m.Value < 0
}
