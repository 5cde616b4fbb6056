// Command server exposes the simulation engine over HTTP: a synchronous
// simulate endpoint that accepts policy parameters and inline price series,
// and returns the trade ledger with summary statistics.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradesim/services/config"
	"tradesim/services/engine"
	"tradesim/services/marketdata"
	"tradesim/services/report"
)

type simulateService struct {
	logger *zap.Logger
}

type pointJSON struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

type seriesJSON struct {
	Name   string      `json:"name"`
	Points []pointJSON `json:"points"`
}

// simulateRequest carries the policy knobs plus the inline series. Fields
// left out of the JSON body keep the engine defaults because the request is
// pre-populated before binding.
type simulateRequest struct {
	EntryType  string `json:"entry_type"`
	ExitType   string `json:"exit_type"`
	ExtraUnits string `json:"extra_units"`

	LongBreakout          int  `json:"long_breakout"`
	ShortBreakout         int  `json:"short_breakout"`
	LongAtHigh            bool `json:"long_at_high"`
	RequireMACDSignalSide bool `json:"require_macd_signal_side"`
	RequireSignalPolarity bool `json:"require_signal_polarity"`

	ExtraUnitATRFactor     float64 `json:"extra_unit_atr_factor"`
	AdjustStopsOnMoreUnits bool    `json:"adjust_stops_on_more_units"`
	AdjustStopATRFactor    float64 `json:"adjust_stop_atr_factor"`

	UseStops       bool    `json:"use_stops"`
	StopLossFactor float64 `json:"stop_loss_factor"`

	ExitLongHorizon   int `json:"exit_long_horizon"`
	ExitShortHorizon  int `json:"exit_short_horizon"`
	ExitLongBreakout  int `json:"exit_long_breakout"`
	ExitShortBreakout int `json:"exit_short_breakout"`

	NotionalAccountSize     float64 `json:"notional_account_size"`
	CompoundAccountSize     bool    `json:"compound_account_size"`
	RiskPercentOfAccount    float64 `json:"risk_percent_of_account"`
	MarginFactor            float64 `json:"margin_factor"`
	MaxMarginPerTrade       float64 `json:"max_margin_per_trade"`
	MaxPositionLimitEachWay int     `json:"max_position_limit_each_way"`
	MaxUnits                int     `json:"max_units"`
	ATRAverageRange         int     `json:"atr_average_range"`
	LotSize                 float64 `json:"lot_size"`
	TransactionCostRate     float64 `json:"transaction_cost_rate"`
	SlippagePerContract     float64 `json:"slippage_per_contract"`

	MACDFastLength   int `json:"macd_fast_length"`
	MACDSlowLength   int `json:"macd_slow_length"`
	MACDSignalLength int `json:"macd_signal_length"`

	Series []seriesJSON `json:"series"`
}

func defaultRequest() simulateRequest {
	d := engine.DefaultConfig()
	return simulateRequest{
		EntryType:               d.EntryType.String(),
		ExitType:                d.ExitType.String(),
		ExtraUnits:              d.ExtraUnits.String(),
		LongBreakout:            d.LongBreakout,
		ShortBreakout:           d.ShortBreakout,
		LongAtHigh:              d.LongAtHigh,
		ExtraUnitATRFactor:      d.ExtraUnitATRFactor,
		AdjustStopsOnMoreUnits:  d.AdjustStopsOnMoreUnits,
		AdjustStopATRFactor:     d.AdjustStopATRFactor,
		UseStops:                d.UseStops,
		StopLossFactor:          d.StopLossFactor,
		ExitLongHorizon:         d.ExitLongHorizon,
		ExitShortHorizon:        d.ExitShortHorizon,
		ExitLongBreakout:        d.ExitLongBreakout,
		ExitShortBreakout:       d.ExitShortBreakout,
		NotionalAccountSize:     d.NotionalAccountSize,
		RiskPercentOfAccount:    d.RiskPercentOfAccount,
		MarginFactor:            d.MarginFactor,
		MaxPositionLimitEachWay: d.MaxPositionLimitEachWay,
		MaxUnits:                d.MaxUnits,
		ATRAverageRange:         d.ATRAverageRange,
		LotSize:                 d.LotSize,
		MACDFastLength:          d.MACDFastLength,
		MACDSlowLength:          d.MACDSlowLength,
		MACDSignalLength:        d.MACDSignalLength,
	}
}

type simulateResponse struct {
	JobID    string              `json:"job_id"`
	Summary  report.Summary      `json:"summary"`
	Trades   []*engine.LedgerRow `json:"trades"`
	Duration string              `json:"duration"`
}

func (s *simulateService) handleSimulate(c *gin.Context) {
	started := time.Now()
	jobID := uuid.New().String()

	req := defaultRequest()
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Series) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no series provided"})
		return
	}

	cfg, err := req.toConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	series := make([]marketdata.Series, len(req.Series))
	for i, sj := range req.Series {
		s := marketdata.Series{Name: sj.Name}
		for _, pt := range sj.Points {
			s.Points = append(s.Points, marketdata.Point{Time: pt.Time, Price: pt.Price})
		}
		// payload points carry no ordering guarantee
		series[i] = s.Normalize()
	}

	s.logger.Info("starting simulation job",
		zap.String("job_id", jobID),
		zap.Int("securities", len(series)),
		zap.String("entry_type", req.EntryType),
		zap.String("exit_type", req.ExitType),
	)

	table, err := marketdata.Align(series...)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	warmup, ticks, err := table.SplitWarmup(cfg.MinInitialPoints())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pf, err := engine.NewPortfolio(cfg, s.logger)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i, name := range table.Names {
		if err := pf.AddSecurity(engine.SecurityConfig{Name: name}, toPricePoints(warmup, i)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := pf.Run(engine.PriceTable{Times: ticks.Times, Prices: ticks.Prices}, nil); err != nil {
		s.logger.Error("simulation job failed", zap.String("job_id", jobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rows := pf.Ledger().Rows()
	peak, peakAt := pf.PeakMargin()
	summary := report.Summarize(rows, pf.Equity(), peak, peakAt)

	s.logger.Info("simulation job complete",
		zap.String("job_id", jobID),
		zap.Int("trades", summary.Trades),
		zap.Duration("duration", time.Since(started)),
	)
	c.JSON(http.StatusOK, simulateResponse{
		JobID:    jobID,
		Summary:  summary,
		Trades:   rows,
		Duration: time.Since(started).String(),
	})
}

func (r simulateRequest) toConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	var err error
	if cfg.EntryType, err = engine.ParseEntryType(r.EntryType); err != nil {
		return engine.Config{}, err
	}
	if cfg.ExitType, err = engine.ParseExitType(r.ExitType); err != nil {
		return engine.Config{}, err
	}
	if cfg.ExtraUnits, err = engine.ParseExtraUnitMode(r.ExtraUnits); err != nil {
		return engine.Config{}, err
	}
	cfg.LongBreakout = r.LongBreakout
	cfg.ShortBreakout = r.ShortBreakout
	cfg.LongAtHigh = r.LongAtHigh
	cfg.RequireMACDSignalSide = r.RequireMACDSignalSide
	cfg.RequireSignalPolarity = r.RequireSignalPolarity
	cfg.ExtraUnitATRFactor = r.ExtraUnitATRFactor
	cfg.AdjustStopsOnMoreUnits = r.AdjustStopsOnMoreUnits
	cfg.AdjustStopATRFactor = r.AdjustStopATRFactor
	cfg.UseStops = r.UseStops
	cfg.StopLossFactor = r.StopLossFactor
	cfg.ExitLongHorizon = r.ExitLongHorizon
	cfg.ExitShortHorizon = r.ExitShortHorizon
	cfg.ExitLongBreakout = r.ExitLongBreakout
	cfg.ExitShortBreakout = r.ExitShortBreakout
	cfg.NotionalAccountSize = r.NotionalAccountSize
	cfg.CompoundAccountSize = r.CompoundAccountSize
	cfg.RiskPercentOfAccount = r.RiskPercentOfAccount
	cfg.MarginFactor = r.MarginFactor
	cfg.MaxMarginPerTrade = r.MaxMarginPerTrade
	cfg.MaxPositionLimitEachWay = r.MaxPositionLimitEachWay
	cfg.MaxUnits = r.MaxUnits
	cfg.ATRAverageRange = r.ATRAverageRange
	cfg.LotSize = r.LotSize
	cfg.TransactionCostRate = r.TransactionCostRate
	cfg.SlippagePerContract = r.SlippagePerContract
	cfg.MACDFastLength = r.MACDFastLength
	cfg.MACDSlowLength = r.MACDSlowLength
	cfg.MACDSignalLength = r.MACDSignalLength
	return cfg, cfg.Validate()
}

func toPricePoints(t marketdata.Table, col int) []engine.PricePoint {
	pts := make([]engine.PricePoint, len(t.Times))
	for row := range t.Times {
		pts[row] = engine.PricePoint{Time: t.Times[row], Price: t.Prices[row][col]}
	}
	return pts
}

func (s *simulateService) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// buildLogger constructs the production logger at the configured level.
func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg.Level = lvl
	return cfg.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting simulation service",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.HTTPPort),
	)

	service := &simulateService{logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api := router.Group("/api/v1")
	{
		api.POST("/simulate", service.handleSimulate)
		api.GET("/health", service.handleHealth)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}
