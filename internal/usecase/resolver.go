package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"MoverPull/internal/domain/models"
	domrepo "MoverPull/internal/domain/repository"
	"MoverPull/pkg/util"
)

// MaxWindowDays bounds how many trading dates one backfill may cover.
const MaxWindowDays = 30

// minLookbackDays covers weekends plus a cluster of holidays for a 7-date window.
const minLookbackDays = 25

// DateResolver picks the trading date(s) to ingest, using the first watchlist
// symbol as the calendar oracle.
type DateResolver struct {
	quotes domrepo.QuoteSource
	oracle string
}

func NewDateResolver(quotes domrepo.QuoteSource, watchlist []string) (*DateResolver, error) {
	if len(watchlist) == 0 {
		return nil, errors.New("watchlist is empty")
	}
	return &DateResolver{quotes: quotes, oracle: watchlist[0]}, nil
}

// Latest returns the most recent trading date and the oracle's bar for it, so
// the aggregation can reuse the bar instead of fetching it again.
func (r *DateResolver) Latest(ctx context.Context) (string, models.DailyBar, error) {
	bar, err := r.quotes.PrevDay(ctx, r.oracle)
	if err != nil {
		return "", models.DailyBar{}, fmt.Errorf("resolve latest trading date via %s: %w", r.oracle, err)
	}
	return bar.TradingDate, bar, nil
}

// Window returns the last n trading dates on or before endDate, oldest first.
func (r *DateResolver) Window(ctx context.Context, endDate string, n int) ([]string, error) {
	if n < 1 || n > MaxWindowDays {
		return nil, fmt.Errorf("days must be between 1 and %d, got %d", MaxWindowDays, n)
	}
	start, err := util.AddDays(endDate, -LookbackDays(n))
	if err != nil {
		return nil, fmt.Errorf("end date: %w", err)
	}

	bars, err := r.quotes.DailyRange(ctx, r.oracle, start, endDate)
	if err != nil {
		return nil, fmt.Errorf("discover trading dates via %s: %w", r.oracle, err)
	}

	seen := make(map[string]struct{}, len(bars))
	dates := make([]string, 0, len(bars))
	for _, b := range bars {
		if b.TradingDate > endDate {
			continue
		}
		if _, ok := seen[b.TradingDate]; ok {
			continue
		}
		seen[b.TradingDate] = struct{}{}
		dates = append(dates, b.TradingDate)
	}
	sort.Strings(dates)

	if len(dates) < n {
		return nil, &models.InsufficientHistoryError{EndDate: endDate, Want: n, Got: len(dates)}
	}
	return dates[len(dates)-n:], nil
}

// LookbackDays is the calendar span fetched to find n trading dates.
func LookbackDays(n int) int {
	return max(minLookbackDays, n*7/5+10)
}
