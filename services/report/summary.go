// Package report turns a finalized trade ledger into summary statistics and
// serialized outputs (CSV and Arrow IPC) for downstream analysis.
package report

import (
	"time"

	"github.com/shopspring/decimal"

	"tradesim/services/engine"
)

// Summary aggregates closed ledger rows.
type Summary struct {
	Trades   int
	StopOuts int
	Wins     int
	Losses   int

	GrossProfit     decimal.Decimal
	NetProfit       decimal.Decimal
	SlippageCost    decimal.Decimal
	TransactionCost decimal.Decimal

	AvgGrossPerTrade decimal.Decimal
	AvgNetPerTrade   decimal.Decimal

	FinalEquity  decimal.Decimal
	PeakMargin   decimal.Decimal
	PeakMarginAt time.Time
}

// Summarize folds the ledger into totals and per-trade averages. Only closed
// rows count; after a finished run every row is closed.
func Summarize(rows []*engine.LedgerRow, finalEquity, peakMargin float64, peakMarginAt time.Time) Summary {
	s := Summary{
		FinalEquity:  decimal.NewFromFloat(finalEquity),
		PeakMargin:   decimal.NewFromFloat(peakMargin),
		PeakMarginAt: peakMarginAt,
	}
	for _, row := range rows {
		if !row.Closed {
			continue
		}
		s.Trades++
		if row.ExitType == engine.ExitReasonStopOut {
			s.StopOuts++
		}
		if row.NetProfit.IsPositive() {
			s.Wins++
		} else {
			s.Losses++
		}
		s.GrossProfit = s.GrossProfit.Add(row.GrossProfit)
		s.NetProfit = s.NetProfit.Add(row.NetProfit)
		s.SlippageCost = s.SlippageCost.Add(row.SlippageCost)
		s.TransactionCost = s.TransactionCost.Add(row.TransactionCost)
	}
	if s.Trades > 0 {
		n := decimal.NewFromInt(int64(s.Trades))
		s.AvgGrossPerTrade = s.GrossProfit.Div(n)
		s.AvgNetPerTrade = s.NetProfit.Div(n)
	}
	return s
}
