package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"

	"MoverPull/internal/domain/models"
	domrepo "MoverPull/internal/domain/repository"
	"MoverPull/pkg/logger"
)

// Mode selects which endpoint the non-oracle symbols are fetched from.
type Mode int

const (
	// ModeLatest fetches each symbol's previous-day bar.
	ModeLatest Mode = iota
	// ModeDay fetches each symbol's bar for an explicit date.
	ModeDay
)

func (m Mode) String() string {
	if m == ModeDay {
		return "day"
	}
	return "latest"
}

// AggregateResult is the outcome of one batch. Record is set only when every symbol succeeded.
type AggregateResult struct {
	Date     string
	Record   *models.MoverRecord
	Outcomes []models.SymbolOutcome
}

func (r *AggregateResult) SuccessCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Ok() {
			n++
		}
	}
	return n
}

func (r *AggregateResult) Failures() []models.SymbolFailure {
	out := []models.SymbolFailure{}
	for _, o := range r.Outcomes {
		if !o.Ok() {
			out = append(out, models.SymbolFailure{Ticker: o.Symbol, Error: o.Err.Error()})
		}
	}
	return out
}

// Bars returns the bars of the successful symbols, in watchlist order.
func (r *AggregateResult) Bars() []models.DailyBar {
	out := make([]models.DailyBar, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Ok() && o.Bar != nil {
			out = append(out, *o.Bar)
		}
	}
	return out
}

// Aggregator fetches every watchlist symbol for one date and picks the top mover.
// A batch with any failed symbol yields no record.
type Aggregator struct {
	quotes      domrepo.QuoteSource
	watchlist   []string
	stopOnFirst bool
	log         *logger.Logger
}

type AggregatorOption func(*Aggregator)

// WithStopOnFirstFailure skips the remaining symbols once one has failed.
func WithStopOnFirstFailure(stop bool) AggregatorOption {
	return func(a *Aggregator) { a.stopOnFirst = stop }
}

func WithAggregatorLogger(l *logger.Logger) AggregatorOption {
	return func(a *Aggregator) { a.log = l }
}

func NewAggregator(quotes domrepo.QuoteSource, watchlist []string, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		quotes:    quotes,
		watchlist: append([]string(nil), watchlist...),
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate builds the MoverRecord for date. seed, when given, is used as the
// oracle's bar instead of fetching it. A failed batch returns the result with
// its outcomes and an error wrapping models.ErrIncompleteBatch.
func (a *Aggregator) Aggregate(ctx context.Context, date string, mode Mode, seed *models.DailyBar) (*AggregateResult, error) {
	res := &AggregateResult{Date: date, Outcomes: make([]models.SymbolOutcome, 0, len(a.watchlist))}
	failed := 0

	for i, sym := range a.watchlist {
		var (
			bar models.DailyBar
			err error
		)
		if i == 0 && seed != nil {
			bar = *seed
		} else {
			bar, err = a.fetch(ctx, sym, date, mode)
		}
		if err != nil && ctx.Err() != nil {
			return res, fmt.Errorf("aggregate %s: %w", date, ctx.Err())
		}

		out := a.evaluate(sym, date, bar, err)
		res.Outcomes = append(res.Outcomes, out)
		if !out.Ok() {
			failed++
			a.log.Warn("symbol failed",
				logger.String("date", date),
				logger.String("symbol", sym),
				logger.Error(out.Err),
			)
			if a.stopOnFirst {
				break
			}
		}
	}

	if failed > 0 {
		return res, fmt.Errorf("%w: %d of %d symbols failed for %s", models.ErrIncompleteBatch, failed, len(a.watchlist), date)
	}

	cands := make([]models.MoverCandidate, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		cands = append(cands, *o.Candidate)
	}
	top, ok := SelectTopMover(cands)
	if !ok {
		return res, fmt.Errorf("%w: no candidates for %s", models.ErrIncompleteBatch, date)
	}
	rec := models.NewMoverRecord(date, top)
	res.Record = &rec
	return res, nil
}

func (a *Aggregator) fetch(ctx context.Context, sym, date string, mode Mode) (models.DailyBar, error) {
	if mode == ModeDay {
		return a.quotes.Day(ctx, sym, date)
	}
	return a.quotes.PrevDay(ctx, sym)
}

func (a *Aggregator) evaluate(sym, date string, bar models.DailyBar, fetchErr error) models.SymbolOutcome {
	out := models.SymbolOutcome{Symbol: sym}
	if fetchErr != nil {
		out.Err = fetchErr
		return out
	}
	if bar.TradingDate != date {
		out.Err = &models.DateMismatchError{Symbol: sym, Expected: date, Got: bar.TradingDate}
		return out
	}
	cand, err := models.NewCandidate(bar)
	if err != nil {
		out.Err = err
		return out
	}
	out.Bar = &bar
	out.Candidate = &cand
	return out
}

// SelectTopMover returns the candidate with the largest |PercentChange|.
// Only a strictly larger value replaces the current best, so ties keep the earlier symbol.
func SelectTopMover(cands []models.MoverCandidate) (models.MoverCandidate, bool) {
	if len(cands) == 0 {
		return models.MoverCandidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if math.Abs(c.PercentChange) > math.Abs(best.PercentChange) {
			best = c
		}
	}
	return best, true
}

// IsIncomplete reports whether err is an all-or-nothing rejection.
func IsIncomplete(err error) bool {
	return errors.Is(err, models.ErrIncompleteBatch)
}
