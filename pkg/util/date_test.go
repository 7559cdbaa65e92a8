package util

import (
	"testing"
	"time"
)

func TestDateFromMillisUsesUTC(t *testing.T) {
	// 2024-10-10T20:00:00Z is still the 10th in UTC even though it is the 11th in Asia.
	ms := time.Date(2024, 10, 10, 20, 0, 0, 0, time.UTC).UnixMilli()
	if got := DateFromMillis(ms); got != "2024-10-10" {
		t.Fatalf("unexpected date %s", got)
	}
}

func TestAddDaysCrossesMonth(t *testing.T) {
	got, err := AddDays("2024-03-05", -25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-02-09" {
		t.Fatalf("unexpected date %s", got)
	}
}

func TestDateScoreOrdersLikeDates(t *testing.T) {
	a, err := DateScore("2024-12-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := DateScore("2025-01-02")
	if a != 20241231 || b <= a {
		t.Fatalf("unexpected scores %d %d", a, b)
	}
}

func TestIsDateRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "2024-13-01", "10/10/2024", "2024-1-1"} {
		if IsDate(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
	if !IsDate("2024-02-29") {
		t.Fatalf("expected leap day to be accepted")
	}
}
