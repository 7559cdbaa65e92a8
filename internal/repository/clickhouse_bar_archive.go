package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MoverPull/internal/domain/models"
	domainrepo "MoverPull/internal/domain/repository"
	pkgch "MoverPull/pkg/clickhouse"
	applogger "MoverPull/pkg/logger"
	"MoverPull/pkg/util"
)

// CHBarArchive stores every bar of a stored batch in {db}.daily_bars.
// ReplacingMergeTree keyed on (trading_date, symbol) makes re-archiving a date harmless.
type CHBarArchive struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
	now   func() time.Time
}

var _ domainrepo.BarArchive = (*CHBarArchive)(nil)

func NewCHBarArchive(ch *pkgch.Client, l *applogger.Logger) *CHBarArchive {
	return &CHBarArchive{
		ch:    ch,
		db:    ch.DB(),
		table: ch.Database() + ".daily_bars",
		l:     l,
		now:   time.Now,
	}
}

func (a *CHBarArchive) Init(ctx context.Context) error {
	return a.ch.InitSchema(ctx, archiveSchema(a.ch.Database()))
}

func archiveSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.daily_bars (
    trading_date   Date,
    symbol         LowCardinality(String),
    open           Float64,
    close          Float64,
    percent_change Float64,
    archived_at    DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(archived_at)
ORDER BY (trading_date, symbol)`, database),
	}
}

func (a *CHBarArchive) ArchiveBars(ctx context.Context, date string, bars []models.DailyBar) error {
	q, args, err := buildBarInsert(a.table, date, bars, a.now().UTC())
	if err != nil {
		return err
	}
	if q == "" {
		return nil
	}
	if _, err := a.db.ExecContext(ctx, q, args...); err != nil {
		a.l.Error("clickhouse archive insert error",
			applogger.String("table", a.table),
			applogger.String("date", date),
			applogger.Int("rows", len(bars)),
			applogger.Error(err),
		)
		return fmt.Errorf("archive bars %s: %w", date, err)
	}
	return nil
}

// Close is a no-op; the pool belongs to pkg/clickhouse.
func (a *CHBarArchive) Close() error { return nil }

// buildBarInsert renders one multi-row INSERT. Bars with a zero open are kept with a zero percent.
func buildBarInsert(table, date string, bars []models.DailyBar, at time.Time) (string, []interface{}, error) {
	if len(bars) == 0 {
		return "", nil, nil
	}
	day, err := util.ParseDate(date)
	if err != nil {
		return "", nil, err
	}

	values := make([]string, 0, len(bars))
	args := make([]interface{}, 0, len(bars)*6)
	for _, b := range bars {
		pct := 0.0
		if b.Open != 0 {
			pct = (b.Close - b.Open) / b.Open * 100
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, day, b.Symbol, b.Open, b.Close, pct, at)
	}
	q := fmt.Sprintf("INSERT INTO %s (trading_date, symbol, open, close, percent_change, archived_at) VALUES %s",
		table, strings.Join(values, ","))
	return q, args, nil
}
