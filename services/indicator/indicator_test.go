package indicator

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestInitATRSeedIsMeanTrueRange(t *testing.T) {
	// true ranges: 2, 1, 3 -> mean 2
	atr, err := InitATR([]float64{100, 102, 101, 104}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(atr, 2) {
		t.Fatalf("seed atr = %v, want 2", atr)
	}
}

func TestInitATRMatchesStepATR(t *testing.T) {
	prices := []float64{50, 52, 51, 55, 54, 58, 57, 60, 59, 63}
	window := 4

	batch, err := InitATR(prices, window)
	if err != nil {
		t.Fatal(err)
	}

	seed, err := InitATR(prices[:window+1], window)
	if err != nil {
		t.Fatal(err)
	}
	atr := seed
	for i := window + 1; i < len(prices); i++ {
		atr = StepATR(atr, prices[i-1], prices[i], window)
	}
	if !almostEqual(batch, atr) {
		t.Fatalf("batch atr %v != incremental atr %v", batch, atr)
	}
}

func TestInitATRTooShort(t *testing.T) {
	if _, err := InitATR([]float64{1, 2, 3}, 3); err == nil {
		t.Fatal("expected error for series shorter than window+1")
	}
	if _, err := InitATR([]float64{1, 2}, 0); err == nil {
		t.Fatal("expected error for window < 1")
	}
}

func TestStepATRWilderSmoothing(t *testing.T) {
	// ((window-1)*prev + tr) / window with tr = |101 - 104| = 3
	got := StepATR(2, 104, 101, 4)
	if !almostEqual(got, (3*2.0+3)/4) {
		t.Fatalf("step atr = %v", got)
	}
}

func TestInitEMAMatchesStepEMA(t *testing.T) {
	prices := []float64{10, 11, 12, 11, 13, 14, 12, 15}
	length := 3

	batch, err := InitEMA(prices, length, DefaultSmoothing)
	if err != nil {
		t.Fatal(err)
	}

	ema := (prices[0] + prices[1] + prices[2]) / 3
	for i := length; i < len(prices); i++ {
		ema = StepEMA(ema, length, DefaultSmoothing, prices[i])
	}
	if !almostEqual(batch, ema) {
		t.Fatalf("batch ema %v != incremental ema %v", batch, ema)
	}
}

func TestStepEMAZeroSmoothingIsIdentity(t *testing.T) {
	if got := StepEMA(42, 10, 0, 999); got != 42 {
		t.Fatalf("zero smoothing should hold the previous value, got %v", got)
	}
}

func TestInitMACDValidation(t *testing.T) {
	prices := make([]float64, 50)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	if _, err := InitMACD(prices, 26, 12, 9, DefaultSmoothing); err == nil {
		t.Fatal("expected error when fast >= slow")
	}
	if _, err := InitMACD(prices[:10], 12, 26, 9, DefaultSmoothing); err == nil {
		t.Fatal("expected error for series shorter than warm-up")
	}
}

func TestMACDWarmupLength(t *testing.T) {
	if got := MACDWarmup(26, 9); got != 34 {
		t.Fatalf("warmup = %d, want 34", got)
	}
	// exactly the warm-up length must succeed
	prices := make([]float64, MACDWarmup(26, 9))
	for i := range prices {
		prices[i] = 100 + math.Sin(float64(i)/3)*5
	}
	m, err := InitMACD(prices, 12, 26, 9, DefaultSmoothing)
	if err != nil {
		t.Fatal(err)
	}
	if m.Signal == 0 && m.Value != 0 {
		t.Fatal("signal line not seeded after warm-up")
	}
}

func TestInitMACDMatchesStep(t *testing.T) {
	prices := make([]float64, 80)
	for i := range prices {
		prices[i] = 100 + math.Sin(float64(i)/5)*10 + float64(i)*0.3
	}
	fast, slow, signal := 5, 12, 4

	batch, err := InitMACD(prices, fast, slow, signal, DefaultSmoothing)
	if err != nil {
		t.Fatal(err)
	}

	warm := MACDWarmup(slow, signal)
	inc, err := InitMACD(prices[:warm], fast, slow, signal, DefaultSmoothing)
	if err != nil {
		t.Fatal(err)
	}
	for i := warm; i < len(prices); i++ {
		inc.Step(prices[i])
	}

	if !almostEqual(batch.Value, inc.Value) {
		t.Fatalf("batch value %v != incremental value %v", batch.Value, inc.Value)
	}
	if !almostEqual(batch.Signal, inc.Signal) {
		t.Fatalf("batch signal %v != incremental signal %v", batch.Signal, inc.Signal)
	}
	if !almostEqual(batch.PrevValue, inc.PrevValue) {
		t.Fatalf("batch prev value %v != incremental prev value %v", batch.PrevValue, inc.PrevValue)
	}
}

func TestMACDCrossovers(t *testing.T) {
	m := &MACD{PrevValue: -1, PrevSignal: 0, Value: 1, Signal: 0.5}
	if !m.CrossedAboveSignal() {
		t.Fatal("expected upward signal crossover")
	}
	if !m.CrossedAboveZero() {
		t.Fatal("expected upward zero crossover")
	}
	if m.CrossedBelowSignal() || m.CrossedBelowZero() {
		t.Fatal("unexpected downward crossover")
	}

	// touching the line is not a crossover
	m = &MACD{PrevValue: 0.5, PrevSignal: 0.5, Value: 1, Signal: 0.5}
	if m.CrossedAboveSignal() {
		t.Fatal("equal previous values must not count as a crossover")
	}
}
