package repository

import (
	"context"
	"errors"

	"MoverPull/internal/domain/models"
)

// ErrNotFound is returned by MoverStore.Get when no record exists for the date.
var ErrNotFound = errors.New("mover record not found")

// QuoteSource reads daily bars from the upstream provider. Every call is paced.
type QuoteSource interface {
	PrevDay(ctx context.Context, symbol string) (models.DailyBar, error)
	Day(ctx context.Context, symbol, date string) (models.DailyBar, error)
	DailyRange(ctx context.Context, symbol, from, to string) ([]models.DailyBar, error)
}

// MoverStore keeps one record per trading date under the MOVERS partition.
type MoverStore interface {
	Exists(ctx context.Context, date string) (bool, error)
	Get(ctx context.Context, date string) (*models.MoverRecord, error)
	// TryInsert writes rec only if its date is absent. A lost race reports AlreadyPresent, not an error.
	TryInsert(ctx context.Context, rec models.MoverRecord) (models.InsertOutcome, error)
	// Latest returns up to n records, newest date first.
	Latest(ctx context.Context, n int) ([]models.MoverRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// BarArchive keeps every bar of a stored batch for later analysis.
type BarArchive interface {
	Init(ctx context.Context) error
	ArchiveBars(ctx context.Context, date string, bars []models.DailyBar) error
	Close() error
}

type EventPublisher interface {
	PublishStored(ctx context.Context, ev models.MoverStoredEvent) error
	Close() error
}

type CredentialProvider interface {
	APIKey(ctx context.Context) (string, error)
}

type Metrics interface {
	RecordFetch(endpoint, result string)
	RecordRetry(class string)
	RecordIngest(outcome string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordTopMover(ticker string, percent float64)
}
