package engine

import (
	"math"
	"testing"
	"time"

	"tradesim/services/indicator"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testConfig shrinks the windows so scenarios fit in a handful of ticks:
// 3-tick breakout and ATR windows, lot size 1, no stop adjustment noise.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LongBreakout = 3
	cfg.ShortBreakout = 3
	cfg.ATRAverageRange = 3
	cfg.ExitLongHorizon = 100
	cfg.ExitShortHorizon = 100
	cfg.NotionalAccountSize = 10000
	cfg.RiskPercentOfAccount = 1
	cfg.LotSize = 1
	return cfg
}

// warmupPoints yields [100, 101, 100, 101]: three true ranges of 1, so the
// seeded ATR is exactly 1.
func warmupPoints() []PricePoint {
	prices := []float64{100, 101, 100, 101}
	pts := make([]PricePoint, len(prices))
	for i, p := range prices {
		pts[i] = PricePoint{Time: t0.Add(time.Duration(i) * time.Minute), Price: p}
	}
	return pts
}

func newTestPortfolio(t *testing.T, cfg Config) *Portfolio {
	t.Helper()
	p, err := NewPortfolio(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.AddSecurity(SecurityConfig{Name: "SEC"}, warmupPoints()); err != nil {
		t.Fatal(err)
	}
	return p
}

func table(prices ...float64) PriceTable {
	tbl := PriceTable{}
	for i, p := range prices {
		tbl.Times = append(tbl.Times, t0.Add(time.Duration(i+100)*time.Minute))
		tbl.Prices = append(tbl.Prices, []float64{p})
	}
	return tbl
}

func TestParsePolicyNames(t *testing.T) {
	for _, name := range []string{"Breakout", "MACD crossover", "MACD zero crossover"} {
		e, err := ParseEntryType(name)
		if err != nil {
			t.Fatal(err)
		}
		if e.String() != name {
			t.Fatalf("entry round trip: %q -> %q", name, e.String())
		}
	}
	if _, err := ParseEntryType("Donchian"); err == nil {
		t.Fatal("expected error for unknown entry type")
	}
	if _, err := ParseExitType("never"); err == nil {
		t.Fatal("expected error for unknown exit type")
	}
	if _, err := ParseExtraUnitMode("always"); err == nil {
		t.Fatal("expected error for unknown additional-unit mode")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.EntryType = EntryType(99)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown entry tag")
	}
	cfg = DefaultConfig()
	cfg.LotSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero lot size")
	}
	cfg = DefaultConfig()
	cfg.EntryType = EntryMACDSignalCross
	cfg.MACDFastLength = 26
	cfg.MACDSlowLength = 12
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for fast >= slow when MACD is active")
	}
}

func TestUnitStopDerivation(t *testing.T) {
	p := securityParams{name: "SEC", lotSize: 15, marginFactor: 0.1, stopLossFactor: 2}

	long := newUnit(Long, 100, t0, 0, 1, 3, p)
	if long.Stop != 98 || long.OriginalStop != 98 {
		t.Fatalf("long stop = %v (original %v), want 98", long.Stop, long.OriginalStop)
	}
	if long.StopHit(98) {
		t.Fatal("touching the stop must not trigger it")
	}
	if !long.StopHit(97.99) {
		t.Fatal("price below the long stop must trigger it")
	}

	short := newUnit(Short, 100, t0, 0, 1, 3, p)
	if short.Stop != 102 {
		t.Fatalf("short stop = %v, want 102", short.Stop)
	}
	if short.StopHit(102) || !short.StopHit(102.01) {
		t.Fatal("short stop must trigger strictly above the stop price")
	}

	if long.EntryValue() != 100*3*15 {
		t.Fatalf("entry value = %v", long.EntryValue())
	}
	if long.MarginReq() != 100*3*15*0.1 {
		t.Fatalf("margin requirement = %v", long.MarginReq())
	}
}

func TestSecurityRollingWindows(t *testing.T) {
	sec, err := newSecurity(testConfig(), testConfig().resolveSecurity(SecurityConfig{Name: "SEC"}), warmupPoints())
	if err != nil {
		t.Fatal(err)
	}
	if high, ok := sec.rollingHigh(3); !ok || high != 101 {
		t.Fatalf("rolling high = %v %v, want 101 true", high, ok)
	}
	if low, ok := sec.rollingLow(4); !ok || low != 100 {
		t.Fatalf("rolling low = %v %v, want 100 true", low, ok)
	}
	if _, ok := sec.rollingHigh(5); ok {
		t.Fatal("window longer than history must report no value")
	}
}

func TestSecurityUnitSize(t *testing.T) {
	sec, err := newSecurity(testConfig(), testConfig().resolveSecurity(SecurityConfig{Name: "SEC"}), warmupPoints())
	if err != nil {
		t.Fatal(err)
	}
	// ATR is 1, so a 1% risk budget on 10000 buys 100 single-contract lots.
	sec.updateUnitSize(1, 10000)
	if sec.UnitSize != 100 {
		t.Fatalf("unit size = %d, want 100", sec.UnitSize)
	}
	sec.ATR = 0
	sec.updateUnitSize(1, 10000)
	if sec.UnitSize != 0 {
		t.Fatalf("unit size with zero ATR = %d, want 0", sec.UnitSize)
	}
}

func TestSecurityWarmupTooShort(t *testing.T) {
	cfg := testConfig()
	_, err := newSecurity(cfg, cfg.resolveSecurity(SecurityConfig{Name: "SEC"}), warmupPoints()[:3])
	if err == nil {
		t.Fatal("expected error for warm-up shorter than the minimum")
	}
}

func TestLedgerExactlyOnce(t *testing.T) {
	l := NewLedger()
	row := &LedgerRow{TradeID: "a"}
	if err := l.open(row); err != nil {
		t.Fatal(err)
	}
	if err := l.open(&LedgerRow{TradeID: "a"}); err == nil {
		t.Fatal("expected error for duplicate trade id")
	}
	if err := l.closeRow("a", LedgerRow{ExitType: ExitReasonTimed}); err != nil {
		t.Fatal(err)
	}
	if err := l.closeRow("a", LedgerRow{}); err == nil {
		t.Fatal("expected error for double close")
	}
	if err := l.closeRow("b", LedgerRow{}); err == nil {
		t.Fatal("expected error for unknown trade id")
	}
	if rows := l.Rows(); len(rows) != 1 || !rows[0].Closed {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestTradeIDDeterministic(t *testing.T) {
	a := tradeID("SEC", Long, t0)
	b := tradeID("SEC", Long, t0)
	if a != b {
		t.Fatalf("same coordinates produced different ids: %s vs %s", a, b)
	}
	if a == tradeID("SEC", Short, t0) {
		t.Fatal("direction must distinguish trade ids")
	}
}

func TestBreakoutEntryThenStopOut(t *testing.T) {
	p := newTestPortfolio(t, testConfig())

	// Tick 0: 103 jumps the 3-tick high of 101, entering long. The ATR has
	// already absorbed the jump: (2*1 + 2)/3 = 4/3, so the stop sits at
	// 103 - 2*(4/3) = 100.333. Tick 1 at 100 crosses it.
	if err := p.Run(table(103, 100), nil); err != nil {
		t.Fatal(err)
	}

	rows := p.Ledger().Rows()
	if len(rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if !row.Closed || row.ExitType != ExitReasonStopOut {
		t.Fatalf("exit type = %q closed=%v, want stop out", row.ExitType, row.Closed)
	}
	if row.Direction != "Long" || row.EntryTick != 0 || row.ExitTick != 1 {
		t.Fatalf("row coordinates = %s entry %d exit %d", row.Direction, row.EntryTick, row.ExitTick)
	}
	// unit size at entry: int(100 / (4/3)) = 75
	if row.UnitSize != 75 {
		t.Fatalf("unit size = %d, want 75", row.UnitSize)
	}
	if p.NumLongPositions() != 0 || p.NumShortPositions() != 0 {
		t.Fatalf("open positions after run: %dL %dS", p.NumLongPositions(), p.NumShortPositions())
	}
	if p.MarginTotal() != 0 {
		t.Fatalf("margin after run = %v, want 0", p.MarginTotal())
	}
	// gross = (100 - 103) * 75, no costs configured
	if math.Abs(p.GrossProfit()-(-225)) > 1e-9 || math.Abs(p.Equity()-(-225)) > 1e-9 {
		t.Fatalf("gross = %v equity = %v, want -225", p.GrossProfit(), p.Equity())
	}
}

func TestNoPyramidingByDefault(t *testing.T) {
	p := newTestPortfolio(t, testConfig())

	// Second breakout at tick 1 must not add a unit while ExtraUnits is off.
	if err := p.Run(table(103, 106, 106), nil); err != nil {
		t.Fatal(err)
	}
	rows := p.Ledger().Rows()
	if len(rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rows))
	}
	if rows[0].ExitType != ExitReasonExitAll {
		t.Fatalf("exit type = %q, want forced exit", rows[0].ExitType)
	}
}

func TestTimedExit(t *testing.T) {
	cfg := testConfig()
	cfg.ExitLongHorizon = 2
	cfg.ExitShortHorizon = 2
	p := newTestPortfolio(t, cfg)

	// Enter at tick 0; the horizon is reached at tick 2, before any new
	// breakout can fire at 102.
	if err := p.Run(table(103, 103.1, 102), nil); err != nil {
		t.Fatal(err)
	}
	rows := p.Ledger().Rows()
	if len(rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.ExitType != ExitReasonTimed || row.ExitTick != 2 {
		t.Fatalf("exit = %q at tick %d, want timed at 2", row.ExitType, row.ExitTick)
	}
}

func TestBreakoutExitRecordsThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.UseStops = false // the stop at 100.3 would fire before the window break
	cfg.ExitType = ExitBreakout
	cfg.ExitLongBreakout = 3
	cfg.ExitShortBreakout = 3
	p := newTestPortfolio(t, cfg)

	// Enter long at 103, then fall through the 3-tick low. At tick 2 the
	// prior window is {101, 103, 103.2} with low 101; 99 breaks it.
	if err := p.Run(table(103, 103.2, 99), nil); err != nil {
		t.Fatal(err)
	}
	var exit *LedgerRow
	for _, row := range p.Ledger().Rows() {
		if row.ExitType == ExitReasonBreakout {
			exit = row
		}
	}
	if exit == nil {
		t.Fatal("no breakout exit recorded")
	}
	if !exit.ExitThreshold.Valid {
		t.Fatal("breakout exit did not record its threshold")
	}
	if got := exit.ExitThreshold.Decimal.InexactFloat64(); got != 101 {
		t.Fatalf("exit threshold = %v, want 101", got)
	}
}

func TestBreakoutExitRecordsZeroThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.UseStops = false
	cfg.ExitType = ExitBreakout
	cfg.ExitLongBreakout = 4
	cfg.ExitShortBreakout = 4
	p, err := NewPortfolio(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Warm up across zero so the exit window's low is exactly 0. True
	// ranges are all 1, so the seeded ATR is 1 as usual.
	warmup := make([]PricePoint, 0, 5)
	for i, price := range []float64{2, 1, 0, 1, 2} {
		warmup = append(warmup, PricePoint{Time: t0.Add(time.Duration(i) * time.Minute), Price: price})
	}
	if err := p.AddSecurity(SecurityConfig{Name: "SEC"}, warmup); err != nil {
		t.Fatal(err)
	}

	// Enter long at 3, then break the 4-tick low {0, 1, 2, 3} at -1.
	if err := p.Run(table(3, -1), nil); err != nil {
		t.Fatal(err)
	}
	var exit *LedgerRow
	for _, row := range p.Ledger().Rows() {
		if row.ExitType == ExitReasonBreakout {
			exit = row
		}
	}
	if exit == nil {
		t.Fatal("no breakout exit recorded")
	}
	if !exit.ExitThreshold.Valid {
		t.Fatal("zero breakout level dropped from the ledger")
	}
	if !exit.ExitThreshold.Decimal.IsZero() {
		t.Fatalf("exit threshold = %v, want 0", exit.ExitThreshold.Decimal)
	}
}

func TestStopOutRecordsNoThreshold(t *testing.T) {
	cfg := testConfig()
	p := newTestPortfolio(t, cfg)

	// Enter long at 103, stop at ~100.33, then crash through it.
	if err := p.Run(table(103, 99), nil); err != nil {
		t.Fatal(err)
	}
	rows := p.Ledger().Rows()
	if len(rows) != 1 || rows[0].ExitType != ExitReasonStopOut {
		t.Fatalf("rows = %+v, want a single stop out", rows)
	}
	if rows[0].ExitThreshold.Valid {
		t.Fatalf("stop out threshold = %v, want none", rows[0].ExitThreshold.Decimal)
	}
}

func TestPyramidingATRAdjustsStops(t *testing.T) {
	cfg := testConfig()
	cfg.UseStops = false // keep both units open for inspection
	cfg.ExtraUnits = ExtraUnitsUsingATR
	cfg.ExtraUnitATRFactor = 0.5
	cfg.AdjustStopsOnMoreUnits = true
	cfg.AdjustStopATRFactor = 0.5
	p := newTestPortfolio(t, cfg)
	sec := p.Securities()[0]

	tbl := table(103, 105)
	// run the two ticks by hand so open units survive for assertions
	for i := range tbl.Times {
		p.tick = i
		sec.updateIndicators(tbl.Prices[i][0])
		sec.updateUnitSize(cfg.RiskPercentOfAccount, p.notionalAccount)
		if err := p.checkEntries(tbl.Prices[i], tbl.Times[i]); err != nil {
			t.Fatal(err)
		}
		sec.appendPrice(tbl.Prices[i][0], tbl.Times[i])
	}

	if len(sec.longPositions) != 2 {
		t.Fatalf("open long units = %d, want 2", len(sec.longPositions))
	}
	first, second := sec.longPositions[0], sec.longPositions[1]

	// entry ATR is frozen at the first entry: 4/3
	entryATR := 4.0 / 3.0
	if math.Abs(first.EntryATR-entryATR) > 1e-9 || math.Abs(second.EntryATR-entryATR) > 1e-9 {
		t.Fatalf("entry ATRs = %v, %v, want %v", first.EntryATR, second.EntryATR, entryATR)
	}
	// newest keeps its original stop; the older unit is re-centered one rank
	// up: original + 0.5 * entryATR
	if math.Abs(second.Stop-second.OriginalStop) > 1e-9 {
		t.Fatalf("newest stop moved: %v vs original %v", second.Stop, second.OriginalStop)
	}
	wantFirst := first.OriginalStop + 0.5*entryATR
	if math.Abs(first.Stop-wantFirst) > 1e-9 {
		t.Fatalf("adjusted stop = %v, want %v", first.Stop, wantFirst)
	}
}

func TestMarginCapLimitsUnitSize(t *testing.T) {
	cfg := testConfig()
	// uncapped size would be 75; margin per contract at entry is
	// 0.1 * 103 * 1 = 10.3, so a 200 ceiling allows 19 contracts
	cfg.MaxMarginPerTrade = 200
	p := newTestPortfolio(t, cfg)

	if err := p.Run(table(103, 103), nil); err != nil {
		t.Fatal(err)
	}
	rows := p.Ledger().Rows()
	if len(rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rows))
	}
	if rows[0].UnitSize != 19 {
		t.Fatalf("unit size = %d, want 19", rows[0].UnitSize)
	}
}

func TestZeroUnitSizePlacesNoTrade(t *testing.T) {
	cfg := testConfig()
	cfg.RiskPercentOfAccount = 0.001 // budget below one contract
	p := newTestPortfolio(t, cfg)

	if err := p.Run(table(103, 104), nil); err != nil {
		t.Fatal(err)
	}
	if p.Ledger().Len() != 0 {
		t.Fatalf("ledger rows = %d, want 0", p.Ledger().Len())
	}
}

func TestTransactionAndSlippageCosts(t *testing.T) {
	cfg := testConfig()
	cfg.TransactionCostRate = 0.001
	cfg.SlippagePerContract = 0.05
	p := newTestPortfolio(t, cfg)

	if err := p.Run(table(103, 100), nil); err != nil {
		t.Fatal(err)
	}
	rows := p.Ledger().Rows()
	if len(rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rows))
	}
	row := rows[0]

	size := float64(row.UnitSize)
	slippage := 2 * 0.05 * 1 * size
	transaction := 0.001 * (103*size + 100*size + slippage)
	gross := (100 - 103) * size

	if got := row.SlippageCost.InexactFloat64(); math.Abs(got-slippage) > 1e-9 {
		t.Fatalf("slippage = %v, want %v", got, slippage)
	}
	if got := row.TransactionCost.InexactFloat64(); math.Abs(got-transaction) > 1e-6 {
		t.Fatalf("transaction cost = %v, want %v", got, transaction)
	}
	if got := row.NetProfit.InexactFloat64(); math.Abs(got-(gross-slippage-transaction)) > 1e-6 {
		t.Fatalf("net = %v, want %v", got, gross-slippage-transaction)
	}
}

func TestRunRejectsSecondRun(t *testing.T) {
	p := newTestPortfolio(t, testConfig())
	if err := p.Run(table(101), nil); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(table(101), nil); err == nil {
		t.Fatal("expected error running a finalized portfolio")
	}
}

func TestRunRejectsMalformedTable(t *testing.T) {
	p := newTestPortfolio(t, testConfig())
	tbl := table(101, 102)
	tbl.Prices[1] = []float64{102, 103}
	if err := p.Run(tbl, nil); err == nil {
		t.Fatal("expected error for ragged price row")
	}
	p = newTestPortfolio(t, testConfig())
	tbl = table(101)
	tbl.Prices[0][0] = math.NaN()
	if err := p.Run(tbl, nil); err == nil {
		t.Fatal("expected error for NaN price")
	}
}

func TestMACDEntryConjuncts(t *testing.T) {
	cfg := testConfig()
	cfg.EntryType = EntryMACDSignalCross
	cfg.RequireSignalPolarity = true
	p, err := NewPortfolio(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	sec := &Security{
		Name: "SEC",
		MACD: &indicator.MACD{PrevValue: -1, PrevSignal: 0, Value: 1, Signal: 0.5},
	}

	// upward crossover, but the signal line is positive: polarity filter
	// blocks the long entry
	if p.entryTriggered(sec, Long, 100) {
		t.Fatal("positive signal line must block the long entry")
	}
	sec.MACD.Signal = -0.5
	sec.MACD.PrevSignal = -1.5
	sec.MACD.PrevValue = -2
	if !p.entryTriggered(sec, Long, 100) {
		t.Fatal("expected long entry on crossover with negative signal line")
	}
}

func TestDuplicateSecurityRejected(t *testing.T) {
	p := newTestPortfolio(t, testConfig())
	if err := p.AddSecurity(SecurityConfig{Name: "SEC"}, warmupPoints()); err == nil {
		t.Fatal("expected error for duplicate security name")
	}
	if err := p.AddSecurity(SecurityConfig{}, warmupPoints()); err == nil {
		t.Fatal("expected error for empty security name")
	}
}
