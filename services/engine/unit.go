package engine

import "time"

// Unit is one traded lot. Every economic term is fixed at entry; the stop
// price is the only field that may change afterwards (pyramiding stop
// adjustment). The owning Security holds the unit until it is closed.
type Unit struct {
	Direction      Direction
	Security       string
	EntryPrice     float64
	EntryTime      time.Time
	EntryTick      int
	EntryATR       float64
	UnitSize       int
	LotSize        float64
	MarginFactor   float64
	StopLossFactor float64

	// OriginalStop is the stop derived at entry; Stop starts equal to it and
	// is re-centered from it when additional units adjust stops.
	OriginalStop float64
	Stop         float64

	// TradeID keys the ledger row written for this unit.
	TradeID string
}

func newUnit(d Direction, price float64, t time.Time, tick int, atr float64,
	unitSize int, p securityParams) *Unit {
	stop := price - p.stopLossFactor*atr
	if d == Short {
		stop = price + p.stopLossFactor*atr
	}
	return &Unit{
		Direction:      d,
		Security:       p.name,
		EntryPrice:     price,
		EntryTime:      t,
		EntryTick:      tick,
		EntryATR:       atr,
		UnitSize:       unitSize,
		LotSize:        p.lotSize,
		MarginFactor:   p.marginFactor,
		StopLossFactor: p.stopLossFactor,
		OriginalStop:   stop,
		Stop:           stop,
		TradeID:        tradeID(p.name, d, t),
	}
}

// Value is the notional worth of the lot at the given price.
func (u *Unit) Value(price float64) float64 {
	return price * float64(u.UnitSize) * u.LotSize
}

// EntryValue is the notional worth at the entry price.
func (u *Unit) EntryValue() float64 {
	return u.Value(u.EntryPrice)
}

// MarginReq is the margin reserved against this lot for its whole lifetime,
// fixed from the entry notional.
func (u *Unit) MarginReq() float64 {
	return u.EntryValue() * u.MarginFactor
}

// StopHit reports whether the current price has crossed the stop.
func (u *Unit) StopHit(price float64) bool {
	if u.Direction == Long {
		return u.Stop > price
	}
	return u.Stop < price
}
