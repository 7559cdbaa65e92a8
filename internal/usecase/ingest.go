package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MoverPull/internal/domain/models"
	domrepo "MoverPull/internal/domain/repository"
	"MoverPull/pkg/logger"
	"MoverPull/pkg/metrics"
)

const (
	MessageStored         = "stored"
	MessageAlreadyStored  = "already_stored"
	MessageConflictOnSave = "conflict_on_write"
)

// Invalidator drops read caches that a new record makes stale.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Ingestor runs the latest-day flow and the backfill flow against one store.
type Ingestor struct {
	resolver *DateResolver
	agg      *Aggregator
	store    domrepo.MoverStore
	archive  domrepo.BarArchive
	events   domrepo.EventPublisher
	caches   []Invalidator
	metrics  domrepo.Metrics
	log      *logger.Logger
	maxDays  int
	now      func() time.Time
}

type IngestorOption func(*Ingestor)

// WithBarArchive archives every bar of a newly stored batch. Archive failures are logged only.
func WithBarArchive(a domrepo.BarArchive) IngestorOption {
	return func(i *Ingestor) { i.archive = a }
}

// WithEventPublisher announces newly stored records. Publish failures are logged only.
func WithEventPublisher(p domrepo.EventPublisher) IngestorOption {
	return func(i *Ingestor) { i.events = p }
}

// WithCacheInvalidation registers caches to clear after each insert.
func WithCacheInvalidation(c ...Invalidator) IngestorOption {
	return func(i *Ingestor) { i.caches = append(i.caches, c...) }
}

func WithIngestMetrics(m domrepo.Metrics) IngestorOption {
	return func(i *Ingestor) {
		if m != nil {
			i.metrics = m
		}
	}
}

func WithIngestLogger(l *logger.Logger) IngestorOption {
	return func(i *Ingestor) {
		if l != nil {
			i.log = l
		}
	}
}

func WithMaxBackfillDays(n int) IngestorOption {
	return func(i *Ingestor) {
		if n >= 1 && n <= MaxWindowDays {
			i.maxDays = n
		}
	}
}

func WithIngestClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) { i.now = now }
}

func NewIngestor(resolver *DateResolver, agg *Aggregator, store domrepo.MoverStore, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		resolver: resolver,
		agg:      agg,
		store:    store,
		metrics:  metrics.Nop{},
		log:      logger.NewNop(),
		maxDays:  MaxWindowDays,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestLatest stores the top mover of the most recent trading date.
// If the date is already stored, the stored record is returned and no other symbol is fetched.
// A batch with any failed symbol writes nothing; the returned result lists the failures.
func (i *Ingestor) IngestLatest(ctx context.Context) (*models.IngestResult, error) {
	start := time.Now()
	defer func() { i.metrics.RecordLatency("ingest_latest", time.Since(start).Seconds()) }()

	date, seed, err := i.resolver.Latest(ctx)
	if err != nil {
		i.metrics.RecordIngest("failed")
		i.metrics.RecordError("resolve")
		return nil, err
	}
	log := i.log.With(logger.String("trading_date", date))

	existing, err := i.stored(ctx, date)
	if err != nil {
		i.metrics.RecordIngest("failed")
		i.metrics.RecordError("store")
		return nil, fmt.Errorf("check stored %s: %w", date, err)
	}
	if existing != nil {
		i.metrics.RecordIngest("cached")
		log.Info("trading date already stored", logger.String("ticker", existing.Ticker))
		return cachedResult(*existing), nil
	}

	return i.ingestDate(ctx, log, date, ModeLatest, &seed)
}

// Backfill stores the top mover of each of the last days trading dates on or before endDate.
// Dates already stored are skipped. A failed date does not stop the others; the returned
// error reports how many failed.
func (i *Ingestor) Backfill(ctx context.Context, endDate string, days int) (*models.BackfillReport, error) {
	if days < 1 || days > i.maxDays {
		return nil, fmt.Errorf("days must be between 1 and %d, got %d", i.maxDays, days)
	}
	start := time.Now()
	defer func() { i.metrics.RecordLatency("backfill", time.Since(start).Seconds()) }()

	dates, err := i.resolver.Window(ctx, endDate, days)
	if err != nil {
		i.metrics.RecordError("resolve")
		return nil, err
	}
	i.log.Info("backfill window resolved",
		logger.String("end_date", endDate),
		logger.Strings("dates", dates),
	)

	report := &models.BackfillReport{EndDate: endDate, Dates: dates, Results: make([]models.IngestResult, 0, len(dates))}
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("backfill interrupted before %s: %w", date, err)
		}
		log := i.log.With(logger.String("trading_date", date))

		existing, err := i.stored(ctx, date)
		if err != nil {
			i.metrics.RecordError("store")
			report.Results = append(report.Results, models.IngestResult{
				TradingDate: date,
				Failures:    []models.SymbolFailure{},
				Error:       fmt.Sprintf("check stored: %v", err),
			})
			continue
		}
		if existing != nil {
			i.metrics.RecordIngest("cached")
			log.Info("skip stored date", logger.String("ticker", existing.Ticker))
			report.Results = append(report.Results, *cachedResult(*existing))
			continue
		}

		res, err := i.ingestDate(ctx, log, date, ModeDay, nil)
		if err != nil {
			if res == nil {
				res = &models.IngestResult{TradingDate: date, Failures: []models.SymbolFailure{}}
			}
			res.Error = err.Error()
			if ctx.Err() != nil {
				report.Results = append(report.Results, *res)
				return report, err
			}
		}
		report.Results = append(report.Results, *res)
	}

	if n := report.Failed(); n > 0 {
		return report, fmt.Errorf("%w: %d of %d dates failed", models.ErrIncompleteBatch, n, len(dates))
	}
	return report, nil
}

// stored returns the record for date, or nil when the date is not recorded yet.
// Exists is the short-circuit check; the record is read only to report it.
func (i *Ingestor) stored(ctx context.Context, date string) (*models.MoverRecord, error) {
	ok, err := i.store.Exists(ctx, date)
	if err != nil || !ok {
		return nil, err
	}
	rec, err := i.store.Get(ctx, date)
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// ingestDate aggregates one date and conditionally inserts its record.
func (i *Ingestor) ingestDate(ctx context.Context, log *logger.Logger, date string, mode Mode, seed *models.DailyBar) (*models.IngestResult, error) {
	agg, err := i.agg.Aggregate(ctx, date, mode, seed)
	res := &models.IngestResult{TradingDate: date, Failures: []models.SymbolFailure{}}
	if agg != nil {
		res.SuccessCount = agg.SuccessCount()
		res.Failures = agg.Failures()
		res.FailureCount = len(res.Failures)
	}
	if err != nil {
		i.metrics.RecordIngest("failed")
		if IsIncomplete(err) {
			i.metrics.RecordError("incomplete_batch")
		}
		log.Error("aggregation failed", logger.Int("failures", res.FailureCount), logger.Error(err))
		return res, err
	}

	rec := *agg.Record
	res.Item = models.NewItemView(rec)

	outcome, err := i.store.TryInsert(ctx, rec)
	if err != nil {
		i.metrics.RecordIngest("failed")
		i.metrics.RecordError("store")
		return res, fmt.Errorf("store %s: %w", date, err)
	}

	if outcome == models.AlreadyPresent {
		i.metrics.RecordIngest("conflict")
		res.Message = MessageConflictOnSave
		log.Warn("record written concurrently", logger.String("ticker", rec.Ticker))
		return res, nil
	}

	res.Stored = true
	res.Message = MessageStored
	i.metrics.RecordIngest("stored")
	i.metrics.RecordTopMover(rec.Ticker, rec.PercentChange.InexactFloat64())
	log.Info("top mover stored",
		logger.String("ticker", rec.Ticker),
		logger.String("percent_change", rec.PercentChange.String()),
		logger.String("closing_price", rec.ClosingPrice.String()),
	)
	i.afterInsert(ctx, log, rec, agg.Bars())
	return res, nil
}

func (i *Ingestor) afterInsert(ctx context.Context, log *logger.Logger, rec models.MoverRecord, bars []models.DailyBar) {
	for _, c := range i.caches {
		if err := c.Invalidate(ctx); err != nil {
			log.Warn("invalidate cache", logger.Error(err))
		}
	}
	if i.archive != nil {
		if err := i.archive.ArchiveBars(ctx, rec.Date, bars); err != nil {
			i.metrics.RecordError("archive")
			log.Warn("archive bars", logger.Error(err))
		}
	}
	if i.events != nil {
		if err := i.events.PublishStored(ctx, models.NewMoverStoredEvent(rec, i.now())); err != nil {
			i.metrics.RecordError("publish")
			log.Warn("publish stored event", logger.Error(err))
		}
	}
}

func cachedResult(rec models.MoverRecord) *models.IngestResult {
	return &models.IngestResult{
		Cached:      true,
		Message:     MessageAlreadyStored,
		TradingDate: rec.Date,
		Item:        models.NewItemView(rec),
		Failures:    []models.SymbolFailure{},
	}
}
