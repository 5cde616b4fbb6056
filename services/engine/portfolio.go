package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// noThreshold marks exits that are not driven by a price level (stop outs,
// timed exits, MACD exits, end-of-run liquidation). Breakout exits always
// carry the window level, even when it is zero.
var noThreshold decimal.NullDecimal

// PriceTable is the aligned simulation input: one timestamp per tick and one
// price per security per tick, securities in the order they were added.
type PriceTable struct {
	Times  []time.Time
	Prices [][]float64
}

func (t PriceTable) validate(numSecurities int) error {
	if len(t.Times) != len(t.Prices) {
		return fmt.Errorf("price table: %d timestamps but %d price rows", len(t.Times), len(t.Prices))
	}
	for i, row := range t.Prices {
		if len(row) != numSecurities {
			return fmt.Errorf("price table: tick %d has %d prices, want %d", i, len(row), numSecurities)
		}
		for j, p := range row {
			if math.IsNaN(p) || math.IsInf(p, 0) {
				return fmt.Errorf("price table: malformed price at tick %d security %d", i, j)
			}
		}
	}
	return nil
}

// Portfolio owns the securities, the account-wide counters and the ledger,
// and drives the per-tick policy evaluation in a fixed order: indicators,
// unit sizes, stops, exits, entries, history append.
type Portfolio struct {
	cfg Config
	log *zap.Logger

	securities []*Security
	ledger     *Ledger

	numLongPositions  int
	numShortPositions int
	equity            float64
	marginTotal       float64
	notionalAccount   float64

	grossProfit     float64
	netProfit       float64
	slippageCost    float64
	transactionCost float64

	peakMargin   float64
	peakMarginAt time.Time

	tick      int
	finalized bool
}

// NewPortfolio validates the configuration and builds an empty portfolio.
// A nil logger is replaced with a no-op one.
func NewPortfolio(cfg Config, log *zap.Logger) (*Portfolio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("portfolio config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Portfolio{
		cfg:             cfg,
		log:             log,
		ledger:          NewLedger(),
		notionalAccount: cfg.NotionalAccountSize,
	}, nil
}

// AddSecurity registers a security seeded with its warm-up series. Overrides
// left zero in sc inherit the portfolio configuration; the resolution is
// final, the security never consults the portfolio again.
func (p *Portfolio) AddSecurity(sc SecurityConfig, initial []PricePoint) error {
	if sc.Name == "" {
		return fmt.Errorf("security name must not be empty")
	}
	for _, s := range p.securities {
		if s.Name == sc.Name {
			return fmt.Errorf("duplicate security name %q", sc.Name)
		}
	}
	sec, err := newSecurity(p.cfg, p.cfg.resolveSecurity(sc), initial)
	if err != nil {
		return err
	}
	sec.updateUnitSize(p.cfg.RiskPercentOfAccount, p.notionalAccount)
	p.securities = append(p.securities, sec)
	return nil
}

// Run iterates the aligned price table tick by tick and then force-closes
// every remaining unit at the final tick's price. The progress callback, if
// non-nil, receives a fraction in [0,1] after each tick; it must not mutate
// simulation state.
func (p *Portfolio) Run(table PriceTable, progress func(float64)) error {
	if p.finalized {
		return fmt.Errorf("portfolio has already been run")
	}
	if len(p.securities) == 0 {
		return fmt.Errorf("no securities in portfolio")
	}
	if err := table.validate(len(p.securities)); err != nil {
		return err
	}
	total := len(table.Times)
	p.log.Info("starting simulation",
		zap.Int("ticks", total),
		zap.Int("securities", len(p.securities)),
		zap.String("entry_type", p.cfg.EntryType.String()),
		zap.String("exit_type", p.cfg.ExitType.String()),
	)

	for i := 0; i < total; i++ {
		p.tick = i
		prices := table.Prices[i]
		t := table.Times[i]

		for j, sec := range p.securities {
			sec.updateIndicators(prices[j])
		}
		for _, sec := range p.securities {
			sec.updateUnitSize(p.cfg.RiskPercentOfAccount, p.notionalAccount)
		}
		if err := p.checkStops(prices, t); err != nil {
			return err
		}
		if err := p.checkExits(prices, t); err != nil {
			return err
		}
		if err := p.checkEntries(prices, t); err != nil {
			return err
		}
		for j, sec := range p.securities {
			sec.appendPrice(prices[j], t)
		}
		if err := p.checkInvariants(); err != nil {
			return err
		}
		if p.marginTotal > p.peakMargin {
			p.peakMargin = p.marginTotal
			p.peakMarginAt = t
		}
		if progress != nil {
			progress(float64(i+1) / float64(total))
		}
	}

	if total > 0 {
		if err := p.exitAll(table.Prices[total-1], table.Times[total-1]); err != nil {
			return err
		}
	}
	p.finalized = true
	p.log.Info("simulation complete",
		zap.Int("trades", p.ledger.Len()),
		zap.Float64("equity", p.equity),
		zap.Float64("net_profit", p.netProfit),
	)
	return nil
}

// --- entries ---

func (p *Portfolio) checkEntries(prices []float64, t time.Time) error {
	for _, d := range []Direction{Long, Short} {
		for i, sec := range p.securities {
			price := prices[i]
			if sec.IsLoaded() {
				continue
			}
			if !sec.entered(d) {
				if _, err := p.tryEnterNewUnit(sec, d, price, t); err != nil {
					return err
				}
				continue
			}
			switch p.cfg.ExtraUnits {
			case ExtraUnitsAsNew:
				if _, err := p.tryEnterNewUnit(sec, d, price, t); err != nil {
					return err
				}
			case ExtraUnitsUsingATR:
				if _, err := p.tryAddMoreUnits(sec, d, price, t); err != nil {
					return err
				}
			case ExtraUnitsNone:
			}
		}
	}
	return nil
}

// entryTriggered evaluates the active entry family plus the optional MACD
// conjuncts against the current tick.
func (p *Portfolio) entryTriggered(sec *Security, d Direction, price float64) bool {
	var triggered bool
	switch p.cfg.EntryType {
	case EntryBreakout:
		window := p.cfg.LongBreakout
		if d == Short {
			window = p.cfg.ShortBreakout
		}
		high, okH := sec.rollingHigh(window)
		low, okL := sec.rollingLow(window)
		if !okH || !okL {
			return false
		}
		atHigh := price > high
		atLow := price < low
		if d == Long {
			triggered = atHigh
			if !p.cfg.LongAtHigh {
				triggered = atLow
			}
		} else {
			triggered = atLow
			if !p.cfg.LongAtHigh {
				triggered = atHigh
			}
		}
	case EntryMACDSignalCross:
		if d == Long {
			triggered = sec.MACD.CrossedAboveSignal()
		} else {
			triggered = sec.MACD.CrossedBelowSignal()
		}
	case EntryMACDZeroCross:
		if d == Long {
			triggered = sec.MACD.CrossedAboveZero()
		} else {
			triggered = sec.MACD.CrossedBelowZero()
		}
	}
	if triggered && p.cfg.RequireMACDSignalSide {
		if d == Long {
			triggered = sec.MACD.Value > sec.MACD.Signal
		} else {
			triggered = sec.MACD.Value < sec.MACD.Signal
		}
	}
	if triggered && p.cfg.RequireSignalPolarity {
		if d == Long {
			triggered = sec.MACD.Signal < 0
		} else {
			triggered = sec.MACD.Signal > 0
		}
	}
	return triggered
}

func (p *Portfolio) directionLoaded(d Direction) bool {
	if d == Long {
		return p.numLongPositions >= p.cfg.MaxPositionLimitEachWay
	}
	return p.numShortPositions >= p.cfg.MaxPositionLimitEachWay
}

func (p *Portfolio) tryEnterNewUnit(sec *Security, d Direction, price float64, t time.Time) (bool, error) {
	if p.directionLoaded(d) || sec.IsLoaded() {
		return false, nil
	}
	if !p.entryTriggered(sec, d, price) {
		return false, nil
	}
	sec.updateUnitSize(p.cfg.RiskPercentOfAccount, p.notionalAccount)
	sec.setEntryATR(d, sec.ATR)
	return p.openUnit(sec, d, price, t, sec.entryATR(d))
}

// tryAddMoreUnits applies the ATR-distance pyramiding rule and, when
// configured, re-centers every stop in the direction by rank: the newest
// unit keeps its original stop, each earlier unit moves a further
// AdjustStopATRFactor*ATR in the favorable direction.
func (p *Portfolio) tryAddMoreUnits(sec *Security, d Direction, price float64, t time.Time) (bool, error) {
	if p.directionLoaded(d) || sec.IsLoaded() {
		return false, nil
	}
	ps := sec.positions(d)
	latest := ps[len(ps)-1]
	diff := price - latest.EntryPrice
	if d == Short {
		diff = latest.EntryPrice - price
	}
	if diff < p.cfg.ExtraUnitATRFactor*sec.entryATR(d) {
		return false, nil
	}
	opened, err := p.openUnit(sec, d, price, t, sec.entryATR(d))
	if err != nil || !opened {
		return opened, err
	}
	if p.cfg.AdjustStopsOnMoreUnits {
		ps = sec.positions(d)
		n := len(ps)
		for i, u := range ps {
			adj := p.cfg.AdjustStopATRFactor * u.EntryATR * float64(n-1-i)
			if d == Long {
				u.Stop = u.OriginalStop + adj
			} else {
				u.Stop = u.OriginalStop - adj
			}
		}
	}
	return true, nil
}

// openUnit sizes, creates and books a unit. The margin cap applies here, at
// placement time; a resulting size of zero places no trade.
func (p *Portfolio) openUnit(sec *Security, d Direction, price float64, t time.Time, entryATR float64) (bool, error) {
	size := sec.UnitSize
	if limit := sec.maxUnitSize(price, p.cfg.MaxMarginPerTrade); size > limit {
		size = limit
	}
	if size <= 0 {
		return false, nil
	}
	u := newUnit(d, price, t, p.tick, entryATR, size, sec.params)
	sec.addUnit(u)
	if d == Long {
		p.numLongPositions++
		p.equity -= u.EntryValue()
	} else {
		p.numShortPositions++
		p.equity += u.EntryValue()
	}
	p.marginTotal += u.MarginReq()

	err := p.ledger.open(&LedgerRow{
		TradeID:        u.TradeID,
		Security:       sec.Name,
		Direction:      d.String(),
		EntryTime:      t,
		EntryTick:      p.tick,
		EntryPrice:     decimal.NewFromFloat(price),
		UnitSize:       size,
		LotSize:        decimal.NewFromFloat(u.LotSize),
		EntryATR:       decimal.NewFromFloat(entryATR),
		EquityAtEntry:  decimal.NewFromFloat(p.equity),
		SecurityStatus: sec.QuickSummary(),
	})
	if err != nil {
		return false, err
	}
	p.log.Debug("unit opened",
		zap.String("security", sec.Name),
		zap.String("direction", d.String()),
		zap.Float64("price", price),
		zap.Int("unit_size", size),
		zap.Float64("stop", u.Stop),
	)
	return true, nil
}

// --- stops ---

func (p *Portfolio) checkStops(prices []float64, t time.Time) error {
	if !p.cfg.UseStops {
		return nil
	}
	for _, d := range []Direction{Long, Short} {
		for i, sec := range p.securities {
			price := prices[i]
			// reverse order so closing does not invalidate pending indexes
			for j := len(sec.positions(d)) - 1; j >= 0; j-- {
				if sec.positions(d)[j].StopHit(price) {
					if err := p.closeUnit(sec, d, j, price, t, ExitReasonStopOut, noThreshold); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// --- exits ---

func (p *Portfolio) checkExits(prices []float64, t time.Time) error {
	switch p.cfg.ExitType {
	case ExitTimed:
		return p.checkTimedExits(prices, t)
	case ExitBreakout:
		return p.checkBreakoutExits(prices, t)
	case ExitMACDCross:
		return p.checkMACDExits(prices, t)
	}
	return fmt.Errorf("invalid exit type %d", int(p.cfg.ExitType))
}

// checkTimedExits pops from the front of each list while the oldest unit has
// reached its horizon; units are ordered by entry time so no further entries
// need checking once the front survives.
func (p *Portfolio) checkTimedExits(prices []float64, t time.Time) error {
	for i, sec := range p.securities {
		price := prices[i]
		for len(sec.longPositions) > 0 && p.tick-sec.longPositions[0].EntryTick >= p.cfg.ExitLongHorizon {
			if err := p.closeUnit(sec, Long, 0, price, t, ExitReasonTimed, noThreshold); err != nil {
				return err
			}
		}
		for len(sec.shortPositions) > 0 && p.tick-sec.shortPositions[0].EntryTick >= p.cfg.ExitShortHorizon {
			if err := p.closeUnit(sec, Short, 0, price, t, ExitReasonTimed, noThreshold); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Portfolio) checkBreakoutExits(prices []float64, t time.Time) error {
	for i, sec := range p.securities {
		price := prices[i]
		if sec.entered(Long) {
			if low, ok := sec.rollingLow(p.cfg.ExitLongBreakout); ok && price < low {
				threshold := decimal.NewNullDecimal(decimal.NewFromFloat(low))
				if err := p.closeAll(sec, Long, price, t, ExitReasonBreakout, threshold); err != nil {
					return err
				}
			}
		}
		if sec.entered(Short) {
			if high, ok := sec.rollingHigh(p.cfg.ExitShortBreakout); ok && price > high {
				threshold := decimal.NewNullDecimal(decimal.NewFromFloat(high))
				if err := p.closeAll(sec, Short, price, t, ExitReasonBreakout, threshold); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Portfolio) checkMACDExits(prices []float64, t time.Time) error {
	for i, sec := range p.securities {
		price := prices[i]
		if sec.entered(Long) && sec.MACD.CrossedBelowSignal() {
			if err := p.closeAll(sec, Long, price, t, ExitReasonMACDCross, noThreshold); err != nil {
				return err
			}
		}
		if sec.entered(Short) && sec.MACD.CrossedAboveSignal() {
			if err := p.closeAll(sec, Short, price, t, ExitReasonMACDCross, noThreshold); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Portfolio) closeAll(sec *Security, d Direction, price float64, t time.Time, exitType string, threshold decimal.NullDecimal) error {
	for len(sec.positions(d)) > 0 {
		if err := p.closeUnit(sec, d, len(sec.positions(d))-1, price, t, exitType, threshold); err != nil {
			return err
		}
	}
	return nil
}

// exitAll force-closes every remaining unit at the final tick's prices.
func (p *Portfolio) exitAll(prices []float64, t time.Time) error {
	for i, sec := range p.securities {
		if err := p.closeAll(sec, Long, prices[i], t, ExitReasonExitAll, noThreshold); err != nil {
			return err
		}
		if err := p.closeAll(sec, Short, prices[i], t, ExitReasonExitAll, noThreshold); err != nil {
			return err
		}
	}
	return nil
}

// closeUnit removes the unit, settles P&L and costs, updates account
// aggregates and writes the ledger exit exactly once.
func (p *Portfolio) closeUnit(sec *Security, d Direction, idx int, price float64, t time.Time, exitType string, threshold decimal.NullDecimal) error {
	u := sec.removeUnit(d, idx)

	entryValue := u.EntryValue()
	exitValue := u.Value(price)
	gross := exitValue - entryValue
	if d == Short {
		gross = entryValue - exitValue
	}
	slippage := 2 * sec.params.slippagePerContract * u.LotSize * float64(u.UnitSize)
	transaction := sec.params.transactionCostRate * (entryValue + exitValue + slippage)
	net := gross - slippage - transaction

	if d == Long {
		p.numLongPositions--
		p.equity += exitValue
	} else {
		p.numShortPositions--
		p.equity -= exitValue
	}
	p.equity -= slippage + transaction
	p.marginTotal -= u.MarginReq()

	p.grossProfit += gross
	p.netProfit += net
	p.slippageCost += slippage
	p.transactionCost += transaction
	if p.cfg.CompoundAccountSize {
		p.notionalAccount += net
	}

	exit := LedgerRow{
		ExitTime:        t,
		ExitTick:        p.tick,
		ExitPrice:       decimal.NewFromFloat(price),
		ExitType:        exitType,
		GrossProfit:     decimal.NewFromFloat(gross),
		SlippageCost:    decimal.NewFromFloat(slippage),
		TransactionCost: decimal.NewFromFloat(transaction),
		NetProfit:       decimal.NewFromFloat(net),
		ExitATR:         decimal.NewFromFloat(sec.ATR),
		ExitThreshold:   threshold,
	}
	if err := p.ledger.closeRow(u.TradeID, exit); err != nil {
		return err
	}
	p.log.Debug("unit closed",
		zap.String("security", sec.Name),
		zap.String("direction", d.String()),
		zap.String("exit_type", exitType),
		zap.Float64("price", price),
		zap.Float64("net_profit", net),
	)
	return nil
}

// --- invariants ---

const marginTolerance = 1e-6

// checkInvariants cross-checks the portfolio counters against the owned
// securities. A divergence is a programming error and aborts the run.
func (p *Portfolio) checkInvariants() error {
	longSum, shortSum := 0, 0
	marginSum := 0.0
	for _, sec := range p.securities {
		longSum += sec.NumLongPositions()
		shortSum += sec.NumShortPositions()
		for _, u := range sec.longPositions {
			marginSum += u.MarginReq()
		}
		for _, u := range sec.shortPositions {
			marginSum += u.MarginReq()
		}
	}
	if longSum != p.numLongPositions || shortSum != p.numShortPositions {
		return fmt.Errorf("position-count invariant violated at tick %d: portfolio %dL/%dS, securities %dL/%dS",
			p.tick, p.numLongPositions, p.numShortPositions, longSum, shortSum)
	}
	if math.Abs(marginSum-p.marginTotal) > marginTolerance*(1+math.Abs(marginSum)) {
		return fmt.Errorf("margin invariant violated at tick %d: portfolio total %v, sum over units %v",
			p.tick, p.marginTotal, marginSum)
	}
	return nil
}

// --- accessors ---

// Ledger exposes the trade book.
func (p *Portfolio) Ledger() *Ledger { return p.ledger }

// Equity is the cumulative cash flow of all entries, exits and costs.
func (p *Portfolio) Equity() float64 { return p.equity }

// MarginTotal is the margin reserved against all open units.
func (p *Portfolio) MarginTotal() float64 { return p.marginTotal }

// NumLongPositions is the portfolio-wide open long unit count.
func (p *Portfolio) NumLongPositions() int { return p.numLongPositions }

// NumShortPositions is the portfolio-wide open short unit count.
func (p *Portfolio) NumShortPositions() int { return p.numShortPositions }

// NotionalAccountSize is the current risk-sizing account base.
func (p *Portfolio) NotionalAccountSize() float64 { return p.notionalAccount }

// GrossProfit is the cumulative gross P&L over closed units.
func (p *Portfolio) GrossProfit() float64 { return p.grossProfit }

// NetProfit is the cumulative net P&L over closed units.
func (p *Portfolio) NetProfit() float64 { return p.netProfit }

// PeakMargin reports the maximum concurrent margin and when it occurred.
func (p *Portfolio) PeakMargin() (float64, time.Time) { return p.peakMargin, p.peakMarginAt }

// Securities returns the securities in their fixed iteration order.
func (p *Portfolio) Securities() []*Security { return p.securities }
