package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// tradeNamespace scopes the deterministic trade identifiers.
var tradeNamespace = uuid.NameSpaceOID

// tradeID derives a stable identifier from the entry coordinates, so the
// same simulation always produces the same ledger keys.
func tradeID(security string, d Direction, entry time.Time) string {
	name := fmt.Sprintf("%s|%s|%d", security, d, entry.UnixNano())
	return uuid.NewSHA1(tradeNamespace, []byte(name)).String()
}

// LedgerRow is the audit record of one unit. Entry fields are written when
// the unit opens; exit fields are written exactly once, when it closes.
type LedgerRow struct {
	TradeID        string
	Security       string
	Direction      string
	EntryTime      time.Time
	EntryTick      int
	EntryPrice     decimal.Decimal
	UnitSize       int
	LotSize        decimal.Decimal
	EntryATR       decimal.Decimal
	EquityAtEntry  decimal.Decimal
	SecurityStatus string

	Closed          bool
	ExitTime        time.Time
	ExitTick        int
	ExitPrice       decimal.Decimal
	ExitType        string
	ExitThreshold   decimal.NullDecimal // breakout exits record the broken level
	GrossProfit     decimal.Decimal
	SlippageCost    decimal.Decimal
	TransactionCost decimal.Decimal
	NetProfit       decimal.Decimal
	ExitATR         decimal.Decimal
}

// Ledger is the append-only trade book: a map from trade ID to its mutable
// row plus an insertion-ordered key list for stable output.
type Ledger struct {
	rows  map[string]*LedgerRow
	order []string
}

func NewLedger() *Ledger {
	return &Ledger{rows: make(map[string]*LedgerRow)}
}

// open appends a row at unit entry. A duplicate trade ID is a bookkeeping
// bug, not an input condition.
func (l *Ledger) open(row *LedgerRow) error {
	if _, ok := l.rows[row.TradeID]; ok {
		return fmt.Errorf("ledger: duplicate trade id %s", row.TradeID)
	}
	l.rows[row.TradeID] = row
	l.order = append(l.order, row.TradeID)
	return nil
}

// closeRow records the exit outcome. Each row is mutated exactly once.
func (l *Ledger) closeRow(id string, exit LedgerRow) error {
	row, ok := l.rows[id]
	if !ok {
		return fmt.Errorf("ledger: no row for trade id %s", id)
	}
	if row.Closed {
		return fmt.Errorf("ledger: trade %s already closed", id)
	}
	row.Closed = true
	row.ExitTime = exit.ExitTime
	row.ExitTick = exit.ExitTick
	row.ExitPrice = exit.ExitPrice
	row.ExitType = exit.ExitType
	row.ExitThreshold = exit.ExitThreshold
	row.GrossProfit = exit.GrossProfit
	row.SlippageCost = exit.SlippageCost
	row.TransactionCost = exit.TransactionCost
	row.NetProfit = exit.NetProfit
	row.ExitATR = exit.ExitATR
	return nil
}

// Rows returns the ledger in insertion order.
func (l *Ledger) Rows() []*LedgerRow {
	out := make([]*LedgerRow, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.rows[id])
	}
	return out
}

// Get looks up one row by trade ID.
func (l *Ledger) Get(id string) (*LedgerRow, bool) {
	row, ok := l.rows[id]
	return row, ok
}

// Len is the number of rows ever written.
func (l *Ledger) Len() int { return len(l.order) }
