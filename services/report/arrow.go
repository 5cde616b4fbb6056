package report

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"tradesim/services/engine"
)

var ledgerSchema = arrow.NewSchema([]arrow.Field{
	{Name: "trade_id", Type: arrow.BinaryTypes.String},
	{Name: "security", Type: arrow.BinaryTypes.String},
	{Name: "direction", Type: arrow.BinaryTypes.String},
	{Name: "entry_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "unit_size", Type: arrow.PrimitiveTypes.Int64},
	{Name: "lot_size", Type: arrow.PrimitiveTypes.Float64},
	{Name: "entry_atr", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_type", Type: arrow.BinaryTypes.String},
	{Name: "gross_profit", Type: arrow.PrimitiveTypes.Float64},
	{Name: "slippage_cost", Type: arrow.PrimitiveTypes.Float64},
	{Name: "transaction_cost", Type: arrow.PrimitiveTypes.Float64},
	{Name: "net_profit", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_atr", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// LedgerToArrow serializes closed ledger rows to an Arrow IPC stream, the
// interchange format consumed by the analytics tooling.
func LedgerToArrow(rows []*engine.LedgerRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no ledger rows to convert")
	}
	pool := memory.NewGoAllocator()

	n := len(rows)
	tradeIDs := make([]string, n)
	securities := make([]string, n)
	directions := make([]string, n)
	entryTimes := make([]int64, n)
	entryPrices := make([]float64, n)
	unitSizes := make([]int64, n)
	lotSizes := make([]float64, n)
	entryATRs := make([]float64, n)
	exitTimes := make([]int64, n)
	exitPrices := make([]float64, n)
	exitTypes := make([]string, n)
	grosses := make([]float64, n)
	slippages := make([]float64, n)
	transactions := make([]float64, n)
	nets := make([]float64, n)
	exitATRs := make([]float64, n)

	for i, row := range rows {
		tradeIDs[i] = row.TradeID
		securities[i] = row.Security
		directions[i] = row.Direction
		entryTimes[i] = row.EntryTime.UnixMilli()
		entryPrices[i] = row.EntryPrice.InexactFloat64()
		unitSizes[i] = int64(row.UnitSize)
		lotSizes[i] = row.LotSize.InexactFloat64()
		entryATRs[i] = row.EntryATR.InexactFloat64()
		exitTimes[i] = row.ExitTime.UnixMilli()
		exitPrices[i] = row.ExitPrice.InexactFloat64()
		exitTypes[i] = row.ExitType
		grosses[i] = row.GrossProfit.InexactFloat64()
		slippages[i] = row.SlippageCost.InexactFloat64()
		transactions[i] = row.TransactionCost.InexactFloat64()
		nets[i] = row.NetProfit.InexactFloat64()
		exitATRs[i] = row.ExitATR.InexactFloat64()
	}

	appendString := func(vals []string) arrow.Array {
		b := array.NewStringBuilder(pool)
		b.AppendValues(vals, nil)
		return b.NewStringArray()
	}
	appendInt64 := func(vals []int64) arrow.Array {
		b := array.NewInt64Builder(pool)
		b.AppendValues(vals, nil)
		return b.NewInt64Array()
	}
	appendFloat64 := func(vals []float64) arrow.Array {
		b := array.NewFloat64Builder(pool)
		b.AppendValues(vals, nil)
		return b.NewFloat64Array()
	}

	record := array.NewRecord(ledgerSchema, []arrow.Array{
		appendString(tradeIDs),
		appendString(securities),
		appendString(directions),
		appendInt64(entryTimes),
		appendFloat64(entryPrices),
		appendInt64(unitSizes),
		appendFloat64(lotSizes),
		appendFloat64(entryATRs),
		appendInt64(exitTimes),
		appendFloat64(exitPrices),
		appendString(exitTypes),
		appendFloat64(grosses),
		appendFloat64(slippages),
		appendFloat64(transactions),
		appendFloat64(nets),
		appendFloat64(exitATRs),
	}, int64(n))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(ledgerSchema))
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}
