// Package indicator provides the incremental technical indicators used by the
// simulation engine: Average True Range and EMA/MACD/Signal. Every indicator
// has a batch warm-up initializer and an O(1) per-tick step; for the same
// inputs the two forms produce identical values.
package indicator

import (
	"fmt"
	"math"
)

// InitATR computes the warm-up ATR over a price series. True range is the
// absolute first difference of consecutive prices. The first `window` true
// ranges are averaged, and the remainder of the series is folded in with
// Wilder smoothing. Requires at least window+1 prices.
func InitATR(prices []float64, window int) (float64, error) {
	if window < 1 {
		return 0, fmt.Errorf("atr window must be >= 1, got %d", window)
	}
	if len(prices) < window+1 {
		return 0, fmt.Errorf("atr warm-up needs %d prices, got %d", window+1, len(prices))
	}
	sum := 0.0
	for i := 1; i <= window; i++ {
		sum += math.Abs(prices[i] - prices[i-1])
	}
	atr := sum / float64(window)
	for i := window + 1; i < len(prices); i++ {
		atr = StepATR(atr, prices[i-1], prices[i], window)
	}
	return atr, nil
}

// StepATR advances the ATR by one tick with Wilder smoothing.
func StepATR(prevATR, prevPrice, currPrice float64, window int) float64 {
	tr := math.Abs(currPrice - prevPrice)
	return (float64(window-1)*prevATR + tr) / float64(window)
}
