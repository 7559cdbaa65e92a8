package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartitionKey is the single partition every mover record lives under.
const PartitionKey = "MOVERS"

// Precision is the number of decimals kept for percent change and closing price.
const Precision = 6

// DailyBar is one symbol's open and close on a trading date.
// TradingDate comes from the bar's own UTC timestamp, not from the request.
type DailyBar struct {
	Symbol      string
	TradingDate string
	Open        float64
	Close       float64
}

// MoverCandidate is one symbol's open-to-close move.
type MoverCandidate struct {
	Symbol        string
	PercentChange float64
	ClosingPrice  float64
}

// NewCandidate computes (close-open)/open*100 for bar. Both values are rounded to
// Precision decimals here, so moves that only differ past that compare as equal.
func NewCandidate(bar DailyBar) (MoverCandidate, error) {
	if bar.Open == 0 {
		return MoverCandidate{}, &ZeroOpenPriceError{Symbol: bar.Symbol, Date: bar.TradingDate}
	}
	return MoverCandidate{
		Symbol:        bar.Symbol,
		PercentChange: roundFloat((bar.Close - bar.Open) / bar.Open * 100),
		ClosingPrice:  roundFloat(bar.Close),
	}, nil
}

func roundFloat(v float64) float64 {
	return decimal.NewFromFloat(v).Round(Precision).InexactFloat64()
}

// MoverRecord is the persisted top mover of a trading date. It is never updated.
type MoverRecord struct {
	Date          string
	Ticker        string
	PercentChange decimal.Decimal
	ClosingPrice  decimal.Decimal
}

// NewMoverRecord rounds c half away from zero to Precision decimals.
func NewMoverRecord(date string, c MoverCandidate) MoverRecord {
	return MoverRecord{
		Date:          date,
		Ticker:        c.Symbol,
		PercentChange: decimal.NewFromFloat(c.PercentChange).Round(Precision),
		ClosingPrice:  decimal.NewFromFloat(c.ClosingPrice).Round(Precision),
	}
}

// SymbolOutcome is the per-symbol result of an aggregation: a candidate or a failure.
type SymbolOutcome struct {
	Symbol    string
	Bar       *DailyBar
	Candidate *MoverCandidate
	Err       error
}

func (o SymbolOutcome) Ok() bool { return o.Err == nil && o.Candidate != nil }

// InsertOutcome is the result of a conditional insert.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota + 1
	// AlreadyPresent means another writer recorded the date first.
	AlreadyPresent
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// MoverStoredEvent is published after a record is inserted.
type MoverStoredEvent struct {
	Date          string    `json:"date"`
	Ticker        string    `json:"ticker"`
	PercentChange float64   `json:"percent_change"`
	ClosingPrice  float64   `json:"closing_price"`
	StoredAt      time.Time `json:"stored_at"`
}

func NewMoverStoredEvent(rec MoverRecord, at time.Time) MoverStoredEvent {
	return MoverStoredEvent{
		Date:          rec.Date,
		Ticker:        rec.Ticker,
		PercentChange: rec.PercentChange.InexactFloat64(),
		ClosingPrice:  rec.ClosingPrice.InexactFloat64(),
		StoredAt:      at.UTC(),
	}
}
