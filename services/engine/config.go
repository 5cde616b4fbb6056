package engine

import (
	"fmt"

	"tradesim/services/indicator"
)

// Config holds every portfolio-wide policy and numeric parameter. It is
// validated once, before the first tick; securities resolve their own
// overrides against it at construction and never read it afterwards.
type Config struct {
	// Entry policy.
	EntryType     EntryType
	LongBreakout  int
	ShortBreakout int
	// LongAtHigh selects trend-following breakout semantics: long at the
	// prior high, short at the prior low. False inverts the mapping.
	LongAtHigh bool
	// RequireMACDSignalSide additionally demands the current MACD be on the
	// entry side of the signal line.
	RequireMACDSignalSide bool
	// RequireSignalPolarity additionally demands a negative signal line for
	// longs and a positive one for shorts.
	RequireSignalPolarity bool

	// Additional-unit (pyramiding) policy.
	ExtraUnits             ExtraUnitMode
	ExtraUnitATRFactor     float64
	AdjustStopsOnMoreUnits bool
	AdjustStopATRFactor    float64

	// Stop policy.
	UseStops       bool
	StopLossFactor float64

	// Exit policy.
	ExitType          ExitType
	ExitLongHorizon   int // ticks, ExitTimed
	ExitShortHorizon  int
	ExitLongBreakout  int // window, ExitBreakout
	ExitShortBreakout int

	// Account and risk.
	NotionalAccountSize  float64
	CompoundAccountSize  bool // re-base the notional account by each net profit
	RiskPercentOfAccount float64
	MarginFactor         float64
	MaxMarginPerTrade    float64 // 0 disables the per-trade margin cap
	MaxPositionLimitEachWay int
	MaxUnits             int
	ATRAverageRange      int
	LotSize              float64
	TransactionCostRate  float64
	SlippagePerContract  float64

	// MACD parameters, used when any MACD-based policy is active.
	MACDFastLength   int
	MACDSlowLength   int
	MACDSignalLength int
	EMASmoothing     float64
}

// DefaultConfig mirrors the conventional turtle-style parameter set.
func DefaultConfig() Config {
	return Config{
		EntryType:     EntryBreakout,
		LongBreakout:  20,
		ShortBreakout: 20,
		LongAtHigh:    true,

		ExtraUnits:             ExtraUnitsNone,
		ExtraUnitATRFactor:     0.5,
		AdjustStopsOnMoreUnits: true,
		AdjustStopATRFactor:    0.5,

		UseStops:       true,
		StopLossFactor: 2,

		ExitType:          ExitTimed,
		ExitLongHorizon:   80,
		ExitShortHorizon:  80,
		ExitLongBreakout:  80,
		ExitShortBreakout: 80,

		NotionalAccountSize:     100000,
		RiskPercentOfAccount:    1,
		MarginFactor:            0.1,
		MaxPositionLimitEachWay: 12,
		MaxUnits:                4,
		ATRAverageRange:         20,
		LotSize:                 15,

		MACDFastLength:   12,
		MACDSlowLength:   26,
		MACDSignalLength: 9,
		EMASmoothing:     indicator.DefaultSmoothing,
	}
}

// NeedsMACD reports whether any active policy requires MACD state.
func (c Config) NeedsMACD() bool {
	return c.EntryType == EntryMACDSignalCross ||
		c.EntryType == EntryMACDZeroCross ||
		c.ExitType == ExitMACDCross ||
		c.RequireMACDSignalSide ||
		c.RequireSignalPolarity
}

// Validate rejects unrecognized policy tags and degenerate numerics before
// any state is built. The simulation never silently defaults.
func (c Config) Validate() error {
	switch c.EntryType {
	case EntryBreakout, EntryMACDSignalCross, EntryMACDZeroCross:
	default:
		return fmt.Errorf("invalid entry type %d", int(c.EntryType))
	}
	switch c.ExitType {
	case ExitTimed, ExitBreakout, ExitMACDCross:
	default:
		return fmt.Errorf("invalid exit type %d", int(c.ExitType))
	}
	switch c.ExtraUnits {
	case ExtraUnitsNone, ExtraUnitsAsNew, ExtraUnitsUsingATR:
	default:
		return fmt.Errorf("invalid additional-unit mode %d", int(c.ExtraUnits))
	}
	if c.ATRAverageRange < 1 {
		return fmt.Errorf("ATR average range must be >= 1, got %d", c.ATRAverageRange)
	}
	if c.EntryType == EntryBreakout && (c.LongBreakout < 1 || c.ShortBreakout < 1) {
		return fmt.Errorf("breakout windows must be >= 1, got long=%d short=%d", c.LongBreakout, c.ShortBreakout)
	}
	if c.ExitType == ExitTimed && (c.ExitLongHorizon < 1 || c.ExitShortHorizon < 1) {
		return fmt.Errorf("timed-exit horizons must be >= 1, got long=%d short=%d", c.ExitLongHorizon, c.ExitShortHorizon)
	}
	if c.ExitType == ExitBreakout && (c.ExitLongBreakout < 1 || c.ExitShortBreakout < 1) {
		return fmt.Errorf("exit breakout windows must be >= 1, got long=%d short=%d", c.ExitLongBreakout, c.ExitShortBreakout)
	}
	if c.NotionalAccountSize <= 0 {
		return fmt.Errorf("notional account size must be positive, got %v", c.NotionalAccountSize)
	}
	if c.RiskPercentOfAccount <= 0 {
		return fmt.Errorf("risk percent of account must be positive, got %v", c.RiskPercentOfAccount)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("lot size must be positive, got %v", c.LotSize)
	}
	if c.MarginFactor < 0 || c.MaxMarginPerTrade < 0 {
		return fmt.Errorf("margin factor and cap must be non-negative, got %v and %v", c.MarginFactor, c.MaxMarginPerTrade)
	}
	if c.MaxPositionLimitEachWay < 1 || c.MaxUnits < 1 {
		return fmt.Errorf("position limits must be >= 1, got each-way=%d per-security=%d", c.MaxPositionLimitEachWay, c.MaxUnits)
	}
	if c.NeedsMACD() {
		if c.MACDFastLength < 1 || c.MACDSignalLength < 1 || c.MACDFastLength >= c.MACDSlowLength {
			return fmt.Errorf("invalid MACD lengths fast=%d slow=%d signal=%d",
				c.MACDFastLength, c.MACDSlowLength, c.MACDSignalLength)
		}
	}
	return nil
}

// MinInitialPoints is the shortest warm-up series a security built from this
// config can accept: enough prior ticks for the ATR seed, every rolling
// window, and the MACD warm-up when MACD policies are active.
func (c Config) MinInitialPoints() int {
	n := c.ATRAverageRange
	if c.EntryType == EntryBreakout {
		n = maxInt(n, c.LongBreakout, c.ShortBreakout)
	}
	if c.ExitType == ExitBreakout {
		n = maxInt(n, c.ExitLongBreakout, c.ExitShortBreakout)
	}
	if c.NeedsMACD() {
		n = maxInt(n, indicator.MACDWarmup(c.MACDSlowLength, c.MACDSignalLength))
	}
	return n + 1
}

// SecurityConfig carries per-security overrides. Zero-valued fields inherit
// the portfolio configuration; the resolution happens once, when the
// security is constructed.
type SecurityConfig struct {
	Name                string
	LotSize             float64
	MaxUnits            int
	ATRAverageRange     int
	StopLossFactor      float64
	TransactionCostRate float64
	SlippagePerContract float64
}

// securityParams is the fully-resolved snapshot a Security runs on.
type securityParams struct {
	name                string
	lotSize             float64
	maxUnits            int
	atrAverageRange     int
	stopLossFactor      float64
	transactionCostRate float64
	slippagePerContract float64
	marginFactor        float64
}

func (c Config) resolveSecurity(sc SecurityConfig) securityParams {
	p := securityParams{
		name:                sc.Name,
		lotSize:             sc.LotSize,
		maxUnits:            sc.MaxUnits,
		atrAverageRange:     sc.ATRAverageRange,
		stopLossFactor:      sc.StopLossFactor,
		transactionCostRate: sc.TransactionCostRate,
		slippagePerContract: sc.SlippagePerContract,
		marginFactor:        c.MarginFactor,
	}
	if p.lotSize == 0 {
		p.lotSize = c.LotSize
	}
	if p.maxUnits == 0 {
		p.maxUnits = c.MaxUnits
	}
	if p.atrAverageRange == 0 {
		p.atrAverageRange = c.ATRAverageRange
	}
	if p.stopLossFactor == 0 {
		p.stopLossFactor = c.StopLossFactor
	}
	if p.transactionCostRate == 0 {
		p.transactionCostRate = c.TransactionCostRate
	}
	if p.slippagePerContract == 0 {
		p.slippagePerContract = c.SlippagePerContract
	}
	return p
}

func maxInt(vs ...int) int {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
