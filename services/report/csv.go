package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"tradesim/services/engine"
)

var ledgerHeader = []string{
	"trade_id", "security", "direction",
	"entry_time", "entry_tick", "entry_price", "unit_size", "lot_size", "entry_atr",
	"equity_at_entry", "security_status",
	"exit_time", "exit_tick", "exit_price", "exit_type", "exit_threshold",
	"gross_profit", "slippage_cost", "transaction_cost", "net_profit", "exit_atr",
}

// WriteLedgerCSV streams the ledger in insertion order, one row per lot.
func WriteLedgerCSV(w io.Writer, rows []*engine.LedgerRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	for _, row := range rows {
		rec := []string{
			row.TradeID,
			row.Security,
			row.Direction,
			row.EntryTime.Format(time.RFC3339),
			strconv.Itoa(row.EntryTick),
			row.EntryPrice.String(),
			strconv.Itoa(row.UnitSize),
			row.LotSize.String(),
			row.EntryATR.String(),
			row.EquityAtEntry.String(),
			row.SecurityStatus,
		}
		if row.Closed {
			threshold := ""
			if row.ExitThreshold.Valid {
				threshold = row.ExitThreshold.Decimal.String()
			}
			rec = append(rec,
				row.ExitTime.Format(time.RFC3339),
				strconv.Itoa(row.ExitTick),
				row.ExitPrice.String(),
				row.ExitType,
				threshold,
				row.GrossProfit.String(),
				row.SlippageCost.String(),
				row.TransactionCost.String(),
				row.NetProfit.String(),
				row.ExitATR.String(),
			)
		} else {
			rec = append(rec, "", "", "", "", "", "", "", "", "", "")
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write ledger row %s: %w", row.TradeID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
