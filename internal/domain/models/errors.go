package models

import (
	"errors"
	"fmt"
)

// ErrIncompleteBatch means at least one watchlist symbol failed, so nothing was written.
var ErrIncompleteBatch = errors.New("incomplete batch")

// DateMismatchError means a bar resolved to a different date than the batch target.
type DateMismatchError struct {
	Symbol   string
	Expected string
	Got      string
}

func (e *DateMismatchError) Error() string {
	return fmt.Sprintf("%s: bar date %s does not match target %s", e.Symbol, e.Got, e.Expected)
}

type ZeroOpenPriceError struct {
	Symbol string
	Date   string
}

func (e *ZeroOpenPriceError) Error() string {
	return fmt.Sprintf("%s: zero open price on %s", e.Symbol, e.Date)
}

// InsufficientHistoryError means the calendar window had fewer trading dates than requested.
type InsufficientHistoryError struct {
	EndDate string
	Want    int
	Got     int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("only found %d trading dates <= %s, need %d", e.Got, e.EndDate, e.Want)
}
