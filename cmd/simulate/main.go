// Command simulate runs a rule-based trading simulation over one or more
// price-series CSVs and writes the trade ledger and summary statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradesim/services/clickhouse"
	"tradesim/services/config"
	"tradesim/services/engine"
	"tradesim/services/marketdata"
	"tradesim/services/report"
)

func main() {
	csvList := flag.String("csv", "", "Comma-separated series CSVs, each 'name=path' or a bare path")
	chTable := flag.String("clickhouse-series", "", "Load series from this ClickHouse table instead of CSVs")
	chSecurities := flag.String("securities", "", "Comma-separated security names for -clickhouse-series")
	chFrom := flag.String("from", "", "Series range start for -clickhouse-series (RFC3339)")
	chTo := flag.String("to", "", "Series range end for -clickhouse-series (RFC3339)")
	resample := flag.Duration("resample", 0, "Optional coarser cadence for the input series, e.g. 15m")
	out := flag.String("out", "./ledger.csv", "Ledger CSV output path")
	arrowOut := flag.String("arrow-out", "", "Optional Arrow IPC output path for the ledger")
	saveCH := flag.Bool("save-clickhouse", false, "Persist the finished ledger to ClickHouse")
	verbose := flag.Bool("verbose", false, "Log every entry and exit")

	entry := flag.String("entry", "Breakout", "Entry type: Breakout | MACD crossover | MACD zero crossover")
	exit := flag.String("exit", "Timed", "Exit type: Timed | Breakout | MACD crossover")
	extraUnits := flag.String("extra-units", "No", "Additional-unit mode: No | As new unit | Using ATR")

	longBreakout := flag.Int("long-breakout", 20, "Long entry breakout window (ticks)")
	shortBreakout := flag.Int("short-breakout", 20, "Short entry breakout window (ticks)")
	longAtHigh := flag.Bool("long-at-high", true, "Trend-following breakout mapping; false inverts")
	macdSide := flag.Bool("macd-signal-side", false, "Require MACD on the entry side of the signal line")
	signalPolarity := flag.Bool("signal-polarity", false, "Require negative signal for longs, positive for shorts")

	extraFactor := flag.Float64("extra-unit-atr-factor", 0.5, "ATR multiple of favorable movement before pyramiding")
	adjustStops := flag.Bool("adjust-stops", true, "Re-center stops when additional units are added")
	adjustFactor := flag.Float64("adjust-stop-atr-factor", 0.5, "ATR multiple per position rank when re-centering stops")

	useStops := flag.Bool("use-stops", true, "Evaluate stop losses")
	stopFactor := flag.Float64("stop-loss-factor", 2, "Stop distance in ATR multiples")

	exitLongHorizon := flag.Int("exit-long-horizon", 80, "Timed exit horizon for longs (ticks)")
	exitShortHorizon := flag.Int("exit-short-horizon", 80, "Timed exit horizon for shorts (ticks)")
	exitLongBreakout := flag.Int("exit-long-breakout", 80, "Exit breakout window for longs (ticks)")
	exitShortBreakout := flag.Int("exit-short-breakout", 80, "Exit breakout window for shorts (ticks)")

	notional := flag.Float64("account-size", 100000, "Notional account size")
	compound := flag.Bool("compound", false, "Re-base the notional account by each net profit")
	risk := flag.Float64("risk-percent", 1, "Risk percent of account per unit per ATR")
	marginFactor := flag.Float64("margin-factor", 0.1, "Margin fraction of notional per unit")
	maxMargin := flag.Float64("max-margin-per-trade", 0, "Per-trade margin cap (0 = uncapped)")
	maxEachWay := flag.Int("max-positions-each-way", 12, "Portfolio-wide open unit cap per direction")
	maxUnits := flag.Int("max-units", 4, "Per-security open unit cap")
	atrRange := flag.Int("atr-range", 20, "ATR averaging window (ticks)")
	lotSize := flag.Float64("lot-size", 15, "Contracts per lot")
	txnRate := flag.Float64("transaction-cost-rate", 0, "Transaction cost rate on traded notional")
	slippage := flag.Float64("slippage-per-contract", 0, "Slippage per contract per leg")

	macdFast := flag.Int("macd-fast", 12, "MACD fast EMA length")
	macdSlow := flag.Int("macd-slow", 26, "MACD slow EMA length")
	macdSignal := flag.Int("macd-signal", 9, "MACD signal EMA length")

	flag.Parse()

	logger := buildLogger(*verbose)
	defer logger.Sync()

	if *csvList == "" && *chTable == "" {
		logger.Fatal("no input series; pass -csv name=path[,name=path...] or -clickhouse-series table")
	}

	cfg := engine.DefaultConfig()
	var err error
	if cfg.EntryType, err = engine.ParseEntryType(*entry); err != nil {
		logger.Fatal("bad -entry", zap.Error(err))
	}
	if cfg.ExitType, err = engine.ParseExitType(*exit); err != nil {
		logger.Fatal("bad -exit", zap.Error(err))
	}
	if cfg.ExtraUnits, err = engine.ParseExtraUnitMode(*extraUnits); err != nil {
		logger.Fatal("bad -extra-units", zap.Error(err))
	}
	cfg.LongBreakout = *longBreakout
	cfg.ShortBreakout = *shortBreakout
	cfg.LongAtHigh = *longAtHigh
	cfg.RequireMACDSignalSide = *macdSide
	cfg.RequireSignalPolarity = *signalPolarity
	cfg.ExtraUnitATRFactor = *extraFactor
	cfg.AdjustStopsOnMoreUnits = *adjustStops
	cfg.AdjustStopATRFactor = *adjustFactor
	cfg.UseStops = *useStops
	cfg.StopLossFactor = *stopFactor
	cfg.ExitLongHorizon = *exitLongHorizon
	cfg.ExitShortHorizon = *exitShortHorizon
	cfg.ExitLongBreakout = *exitLongBreakout
	cfg.ExitShortBreakout = *exitShortBreakout
	cfg.NotionalAccountSize = *notional
	cfg.CompoundAccountSize = *compound
	cfg.RiskPercentOfAccount = *risk
	cfg.MarginFactor = *marginFactor
	cfg.MaxMarginPerTrade = *maxMargin
	cfg.MaxPositionLimitEachWay = *maxEachWay
	cfg.MaxUnits = *maxUnits
	cfg.ATRAverageRange = *atrRange
	cfg.LotSize = *lotSize
	cfg.TransactionCostRate = *txnRate
	cfg.SlippagePerContract = *slippage
	cfg.MACDFastLength = *macdFast
	cfg.MACDSlowLength = *macdSlow
	cfg.MACDSignalLength = *macdSignal

	var series []marketdata.Series
	if *chTable != "" {
		series = loadFromClickHouse(logger, *chTable, *chSecurities, *chFrom, *chTo)
	} else {
		for _, spec := range strings.Split(*csvList, ",") {
			name, path := splitSpec(strings.TrimSpace(spec))
			s, err := marketdata.LoadCSV(path, name)
			if err != nil {
				logger.Fatal("load series", zap.String("path", path), zap.Error(err))
			}
			logger.Info("series loaded", zap.String("name", name), zap.Int("points", len(s.Points)))
			series = append(series, s)
		}
	}
	if *resample > 0 {
		for i, s := range series {
			rs, err := marketdata.Resample(s, *resample)
			if err != nil {
				logger.Fatal("resample series", zap.String("name", s.Name), zap.Error(err))
			}
			logger.Info("series resampled",
				zap.String("name", s.Name),
				zap.Duration("interval", *resample),
				zap.Int("points", len(rs.Points)))
			series[i] = rs
		}
	}

	table, err := marketdata.Align(series...)
	if err != nil {
		logger.Fatal("align series", zap.Error(err))
	}
	warmup, ticks, err := table.SplitWarmup(cfg.MinInitialPoints())
	if err != nil {
		logger.Fatal("split warm-up", zap.Error(err))
	}

	pf, err := engine.NewPortfolio(cfg, logger)
	if err != nil {
		logger.Fatal("build portfolio", zap.Error(err))
	}
	for i, name := range table.Names {
		initial := make([]engine.PricePoint, len(warmup.Times))
		for row := range warmup.Times {
			initial[row] = engine.PricePoint{Time: warmup.Times[row], Price: warmup.Prices[row][i]}
		}
		if err := pf.AddSecurity(engine.SecurityConfig{Name: name}, initial); err != nil {
			logger.Fatal("add security", zap.String("name", name), zap.Error(err))
		}
	}

	progress := progressPrinter(os.Stdout)
	if err := pf.Run(engine.PriceTable{Times: ticks.Times, Prices: ticks.Prices}, progress); err != nil {
		fmt.Println()
		logger.Fatal("simulation failed", zap.Error(err))
	}
	fmt.Println()

	rows := pf.Ledger().Rows()
	peak, peakAt := pf.PeakMargin()
	summary := report.Summarize(rows, pf.Equity(), peak, peakAt)
	printSummary(summary)

	if err := writeLedger(*out, rows); err != nil {
		logger.Fatal("write ledger", zap.Error(err))
	}
	logger.Info("ledger written", zap.String("path", *out), zap.Int("rows", len(rows)))

	if *arrowOut != "" {
		data, err := report.LedgerToArrow(rows)
		if err != nil {
			logger.Fatal("encode arrow ledger", zap.Error(err))
		}
		if err := os.WriteFile(*arrowOut, data, 0o644); err != nil {
			logger.Fatal("write arrow ledger", zap.Error(err))
		}
		logger.Info("arrow ledger written", zap.String("path", *arrowOut))
	}

	if *saveCH {
		ctx := context.Background()
		ch := connectClickHouse(ctx, logger)
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			logger.Fatal("ensure clickhouse schema", zap.Error(err))
		}
		runID := uuid.New().String()
		if err := ch.SaveLedger(ctx, runID, rows); err != nil {
			logger.Fatal("save ledger", zap.Error(err))
		}
		logger.Info("ledger persisted", zap.String("run_id", runID))
	}
}

func connectClickHouse(ctx context.Context, logger *zap.Logger) *clickhouse.Client {
	app, err := config.Load()
	if err != nil {
		logger.Fatal("load app config", zap.Error(err))
	}
	ch, err := clickhouse.Open(ctx, clickhouse.Options{
		DSN:      app.ClickHouseDSN,
		Database: app.ClickHouseDatabase,
		User:     app.ClickHouseUser,
		Password: app.ClickHousePassword,
	})
	if err != nil {
		logger.Fatal("connect clickhouse", zap.Error(err))
	}
	return ch
}

func loadFromClickHouse(logger *zap.Logger, table, securities, from, to string) []marketdata.Series {
	if securities == "" {
		logger.Fatal("no securities; pass -securities name[,name...] with -clickhouse-series")
	}
	rangeFrom, rangeTo := time.Time{}, time.Now().UTC()
	var err error
	if from != "" {
		if rangeFrom, err = time.Parse(time.RFC3339, from); err != nil {
			logger.Fatal("bad -from", zap.Error(err))
		}
	}
	if to != "" {
		if rangeTo, err = time.Parse(time.RFC3339, to); err != nil {
			logger.Fatal("bad -to", zap.Error(err))
		}
	}

	ctx := context.Background()
	ch := connectClickHouse(ctx, logger)
	defer ch.Close()

	var series []marketdata.Series
	for _, name := range strings.Split(securities, ",") {
		name = strings.TrimSpace(name)
		s, err := ch.LoadSeries(ctx, table, name, rangeFrom, rangeTo)
		if err != nil {
			logger.Fatal("load series", zap.String("name", name), zap.Error(err))
		}
		logger.Info("series loaded", zap.String("name", name), zap.Int("points", len(s.Points)))
		series = append(series, s)
	}
	return series
}

func buildLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// progressPrinter emits one update per 10% step, starting at 0%.
func progressPrinter(w io.Writer) func(float64) {
	last := -10
	return func(f float64) {
		if pct := int(f * 100); pct/10 > last/10 {
			last = pct
			fmt.Fprintf(w, "\rsimulating... %3d%%", pct)
		}
	}
}

// splitSpec resolves 'name=path' pairs, deriving the name from the file stem
// when only a path is given.
func splitSpec(spec string) (name, path string) {
	if i := strings.Index(spec, "="); i != -1 {
		return spec[:i], spec[i+1:]
	}
	base := filepath.Base(spec)
	return strings.TrimSuffix(base, filepath.Ext(base)), spec
}

func writeLedger(path string, rows []*engine.LedgerRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.WriteLedgerCSV(f, rows)
}

func printSummary(s report.Summary) {
	fmt.Println("=== Simulation Summary ===")
	fmt.Printf("Trades:            %d (wins %d / losses %d, stop outs %d)\n",
		s.Trades, s.Wins, s.Losses, s.StopOuts)
	fmt.Printf("Gross profit:      %s\n", s.GrossProfit.StringFixed(2))
	fmt.Printf("Slippage cost:     %s\n", s.SlippageCost.StringFixed(2))
	fmt.Printf("Transaction cost:  %s\n", s.TransactionCost.StringFixed(2))
	fmt.Printf("Net profit:        %s\n", s.NetProfit.StringFixed(2))
	fmt.Printf("Avg gross/trade:   %s\n", s.AvgGrossPerTrade.StringFixed(2))
	fmt.Printf("Avg net/trade:     %s\n", s.AvgNetPerTrade.StringFixed(2))
	fmt.Printf("Final equity:      %s\n", s.FinalEquity.StringFixed(2))
	fmt.Printf("Peak margin:       %s at %s\n",
		s.PeakMargin.StringFixed(2), s.PeakMarginAt.Format(time.RFC3339))
}
