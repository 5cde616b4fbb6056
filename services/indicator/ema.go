package indicator

import "fmt"

// DefaultSmoothing is the conventional EMA smoothing constant.
const DefaultSmoothing = 2.0

// InitEMA seeds an EMA with the simple mean of the first `length` prices and
// steps it across the remainder of the series.
func InitEMA(prices []float64, length int, smoothing float64) (float64, error) {
	if length < 1 {
		return 0, fmt.Errorf("ema length must be >= 1, got %d", length)
	}
	if len(prices) < length {
		return 0, fmt.Errorf("ema warm-up needs %d prices, got %d", length, len(prices))
	}
	ema := mean(prices[:length])
	for i := length; i < len(prices); i++ {
		ema = StepEMA(ema, length, smoothing, prices[i])
	}
	return ema, nil
}

// StepEMA advances an EMA by one price. A smoothing of zero degenerates to
// returning the previous value unchanged.
func StepEMA(prevEMA float64, length int, smoothing, price float64) float64 {
	multiplier := smoothing / float64(length+1)
	return price*multiplier + prevEMA*(1-multiplier)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
