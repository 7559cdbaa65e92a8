package util

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the ISO calendar date used for trading dates and store sort keys.
const DateLayout = "2006-01-02"

// DateFromMillis converts an epoch-millisecond bar timestamp to its UTC calendar date.
func DateFromMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// IsDate reports whether s is a valid YYYY-MM-DD date.
func IsDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// AddDays shifts a YYYY-MM-DD date by n calendar days.
func AddDays(s string, n int) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// DateScore maps YYYY-MM-DD to the integer yyyymmdd, which orders the same way as the date.
func DateScore(s string) (int64, error) {
	t, err := ParseDate(s)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(t.Format("20060102"), 10, 64)
}
