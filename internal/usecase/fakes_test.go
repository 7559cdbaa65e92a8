package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"MoverPull/internal/domain/models"
	domrepo "MoverPull/internal/domain/repository"
	"MoverPull/internal/repository"
)

// fakeQuotes serves bars from memory and counts calls.
type fakeQuotes struct {
	mu     sync.Mutex
	prev   map[string]models.DailyBar
	days   map[string]map[string]models.DailyBar // symbol -> date -> bar
	errs   map[string]error
	calls  int
	ranges int
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{
		prev: map[string]models.DailyBar{},
		days: map[string]map[string]models.DailyBar{},
		errs: map[string]error{},
	}
}

func (f *fakeQuotes) setPrev(sym, date string, open, close float64) {
	f.prev[sym] = models.DailyBar{Symbol: sym, TradingDate: date, Open: open, Close: close}
}

func (f *fakeQuotes) setDay(sym, date string, open, close float64) {
	if f.days[sym] == nil {
		f.days[sym] = map[string]models.DailyBar{}
	}
	f.days[sym][date] = models.DailyBar{Symbol: sym, TradingDate: date, Open: open, Close: close}
}

func (f *fakeQuotes) PrevDay(_ context.Context, sym string) (models.DailyBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[sym]; err != nil {
		return models.DailyBar{}, err
	}
	bar, ok := f.prev[sym]
	if !ok {
		return models.DailyBar{}, fmt.Errorf("no prev bar for %s", sym)
	}
	return bar, nil
}

func (f *fakeQuotes) Day(_ context.Context, sym, date string) (models.DailyBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[sym]; err != nil {
		return models.DailyBar{}, err
	}
	bar, ok := f.days[sym][date]
	if !ok {
		return models.DailyBar{}, fmt.Errorf("no bar for %s on %s", sym, date)
	}
	return bar, nil
}

func (f *fakeQuotes) DailyRange(_ context.Context, sym, from, to string) ([]models.DailyBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ranges++
	var out []models.DailyBar
	for d, bar := range f.days[sym] {
		if d >= from && d <= to {
			out = append(out, bar)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no results")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradingDate < out[j].TradingDate })
	return out, nil
}

func (f *fakeQuotes) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchive struct {
	mu    sync.Mutex
	dates []string
	bars  int
	err   error
}

func (a *fakeArchive) Init(context.Context) error { return nil }
func (a *fakeArchive) Close() error { return nil }

func (a *fakeArchive) ArchiveBars(_ context.Context, date string, bars []models.DailyBar) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dates = append(a.dates, date)
	a.bars += len(bars)
	return a.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.MoverStoredEvent
	err    error
}

func (p *fakePublisher) PublishStored(_ context.Context, ev models.MoverStoredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

// conflictStore reports every insert as lost to a concurrent writer.
type conflictStore struct {
	*repository.MemoryMoverStore
}

func (conflictStore) TryInsert(context.Context, models.MoverRecord) (models.InsertOutcome, error) {
	return models.AlreadyPresent, nil
}

func newTestIngestor(t *testing.T, q *fakeQuotes, watch []string, store domrepo.MoverStore, opts ...IngestorOption) *Ingestor {
	t.Helper()
	r, err := NewDateResolver(q, watch)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return NewIngestor(r, NewAggregator(q, watch), store, opts...)
}

// lookupStore counts the existence checks and reads made against the store.
type lookupStore struct {
	*repository.MemoryMoverStore
	mu     sync.Mutex
	exists int
	gets   int
}

func (s *lookupStore) Exists(ctx context.Context, date string) (bool, error) {
	s.mu.Lock()
	s.exists++
	s.mu.Unlock()
	return s.MemoryMoverStore.Exists(ctx, date)
}

func (s *lookupStore) Get(ctx context.Context, date string) (*models.MoverRecord, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.MemoryMoverStore.Get(ctx, date)
}
