// Package engine implements the tick-by-tick trading simulation core: the
// Unit lot model, per-security state machines, the portfolio orchestrator
// and the append-only trade ledger. Policies are closed enums selected at
// construction time; unrecognized policy names are configuration errors.
package engine

import "fmt"

// Direction of a traded lot.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Long {
		return "Long"
	}
	return "Short"
}

// EntryType selects the family of entry triggers. Exactly one is active.
type EntryType int

const (
	// EntryBreakout triggers when price exceeds the rolling high (or falls
	// below the rolling low) over the prior breakout window.
	EntryBreakout EntryType = iota
	// EntryMACDSignalCross triggers on a strict MACD/Signal crossover.
	EntryMACDSignalCross
	// EntryMACDZeroCross triggers on a strict MACD zero-line crossover.
	EntryMACDZeroCross
)

func (e EntryType) String() string {
	switch e {
	case EntryBreakout:
		return "Breakout"
	case EntryMACDSignalCross:
		return "MACD crossover"
	case EntryMACDZeroCross:
		return "MACD zero crossover"
	}
	return fmt.Sprintf("EntryType(%d)", int(e))
}

// ParseEntryType maps a policy name to its tag.
func ParseEntryType(s string) (EntryType, error) {
	switch s {
	case "Breakout":
		return EntryBreakout, nil
	case "MACD crossover":
		return EntryMACDSignalCross, nil
	case "MACD zero crossover":
		return EntryMACDZeroCross, nil
	}
	return 0, fmt.Errorf("unrecognized entry type %q", s)
}

// ExitType selects the family of exit triggers. Exactly one is active.
type ExitType int

const (
	// ExitTimed closes the oldest unit once it has been held for the
	// configured number of ticks.
	ExitTimed ExitType = iota
	// ExitBreakout closes all units in a direction when price breaks the
	// rolling low (longs) or high (shorts) over the exit window.
	ExitBreakout
	// ExitMACDCross closes all units in a direction on the opposite
	// MACD/Signal crossover.
	ExitMACDCross
)

func (e ExitType) String() string {
	switch e {
	case ExitTimed:
		return "Timed"
	case ExitBreakout:
		return "Breakout"
	case ExitMACDCross:
		return "MACD crossover"
	}
	return fmt.Sprintf("ExitType(%d)", int(e))
}

// ParseExitType maps a policy name to its tag.
func ParseExitType(s string) (ExitType, error) {
	switch s {
	case "Timed":
		return ExitTimed, nil
	case "Breakout":
		return ExitBreakout, nil
	case "MACD crossover":
		return ExitMACDCross, nil
	}
	return 0, fmt.Errorf("unrecognized exit type %q", s)
}

// ExtraUnitMode decides how a security that already holds a position in a
// direction responds to a further entry opportunity.
type ExtraUnitMode int

const (
	// ExtraUnitsNone never pyramids: one entry opportunity per direction.
	ExtraUnitsNone ExtraUnitMode = iota
	// ExtraUnitsAsNew treats additional opportunities like fresh entries.
	ExtraUnitsAsNew
	// ExtraUnitsUsingATR pyramids only after price has moved favorably by
	// the configured multiple of the entry ATR since the latest unit.
	ExtraUnitsUsingATR
)

func (m ExtraUnitMode) String() string {
	switch m {
	case ExtraUnitsNone:
		return "No"
	case ExtraUnitsAsNew:
		return "As new unit"
	case ExtraUnitsUsingATR:
		return "Using ATR"
	}
	return fmt.Sprintf("ExtraUnitMode(%d)", int(m))
}

// ParseExtraUnitMode maps a policy name to its tag.
func ParseExtraUnitMode(s string) (ExtraUnitMode, error) {
	switch s {
	case "No":
		return ExtraUnitsNone, nil
	case "As new unit":
		return ExtraUnitsAsNew, nil
	case "Using ATR":
		return ExtraUnitsUsingATR, nil
	}
	return 0, fmt.Errorf("unrecognized additional-unit mode %q", s)
}

// Exit reasons recorded on ledger rows.
const (
	ExitReasonStopOut   = "Stop out"
	ExitReasonTimed     = "Timed"
	ExitReasonBreakout  = "Breakout"
	ExitReasonMACDCross = "MACD crossover"
	ExitReasonExitAll   = "Exit all"
)
