package repository

import (
	"strings"
	"testing"
	"time"

	"MoverPull/internal/domain/models"
)

func TestBuildBarInsert(t *testing.T) {
	at := time.Date(2024, 10, 11, 1, 0, 0, 0, time.UTC)
	bars := []models.DailyBar{
		{Symbol: "A", TradingDate: "2024-10-10", Open: 100, Close: 105},
		{Symbol: "B", TradingDate: "2024-10-10", Open: 0, Close: 1},
	}

	q, args, err := buildBarInsert("movers.daily_bars", "2024-10-10", bars, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(q, "INSERT INTO movers.daily_bars (") || strings.Count(q, "(?, ?, ?, ?, ?, ?)") != 2 {
		t.Fatalf("unexpected query %s", q)
	}
	if len(args) != 12 {
		t.Fatalf("expected 12 args, got %d", len(args))
	}
	if pct := args[4].(float64); pct != 5 {
		t.Fatalf("unexpected percent %v", pct)
	}
	if pct := args[10].(float64); pct != 0 {
		t.Fatalf("zero open should archive a zero percent, got %v", pct)
	}
}

func TestBuildBarInsertEmpty(t *testing.T) {
	q, args, err := buildBarInsert("t", "2024-10-10", nil, time.Now())
	if err != nil || q != "" || args != nil {
		t.Fatalf("expected no-op, got %q %v %v", q, args, err)
	}
}

func TestArchiveSchemaIsQualified(t *testing.T) {
	stmts := archiveSchema("movers")
	if len(stmts) != 2 || !strings.Contains(stmts[1], "movers.daily_bars") || !strings.Contains(stmts[1], "ReplacingMergeTree") {
		t.Fatalf("unexpected schema %v", stmts)
	}
}
