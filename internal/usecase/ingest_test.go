package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"MoverPull/internal/domain/models"
	"MoverPull/internal/repository"
)

var abc = []string{"A", "B", "C"}

func TestIngestLatestStoresTopMover(t *testing.T) {
	q := scenarioQuotes()
	store := repository.NewMemoryMoverStore()
	archive := &fakeArchive{}
	pub := &fakePublisher{}
	ing := newTestIngestor(t, q, abc, store, WithBarArchive(archive), WithEventPublisher(pub))

	res, err := ing.IngestLatest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Stored || res.Cached || res.Message != MessageStored {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.TradingDate != day || res.SuccessCount != 3 || res.FailureCount != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Item == nil || res.Item.Ticker != "C" || res.Item.PK != models.PartitionKey || res.Item.SK != day {
		t.Fatalf("unexpected item %+v", res.Item)
	}
	if res.Item.ClosingPrice != 10.9 {
		t.Fatalf("unexpected closing price %v", res.Item.ClosingPrice)
	}
	if q.callCount() != 3 {
		t.Fatalf("expected the oracle bar to be reused, got %d fetches", q.callCount())
	}
	if store.Len() != 1 {
		t.Fatalf("expected one record, got %d", store.Len())
	}
	if archive.bars != 3 || len(pub.events) != 1 || pub.events[0].Ticker != "C" {
		t.Fatalf("expected archive and event, got %d bars and %d events", archive.bars, len(pub.events))
	}
}

func TestIngestLatestChecksExistenceBeforeReading(t *testing.T) {
	store := &lookupStore{MemoryMoverStore: repository.NewMemoryMoverStore()}
	ing := newTestIngestor(t, scenarioQuotes(), abc, store)

	if _, err := ing.IngestLatest(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if store.exists != 1 || store.gets != 0 {
		t.Fatalf("expected one existence check and no read, got %d and %d", store.exists, store.gets)
	}

	res, err := ing.IngestLatest(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !res.Cached || store.exists != 2 || store.gets != 1 {
		t.Fatalf("expected the stored record to be read once, got cached=%v %d and %d", res.Cached, store.exists, store.gets)
	}
}

func TestIngestLatestCachedMakesNoExtraFetches(t *testing.T) {
	q := scenarioQuotes()
	store := repository.NewMemoryMoverStore()
	ing := newTestIngestor(t, q, abc, store)

	if _, err := ing.IngestLatest(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := q.callCount()

	res, err := ing.IngestLatest(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !res.Cached || res.Stored || res.Message != MessageAlreadyStored {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.SuccessCount != 0 || res.Failures == nil || len(res.Failures) != 0 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Item == nil || res.Item.Ticker != "C" {
		t.Fatalf("expected stored item, got %+v", res.Item)
	}
	if got := q.callCount() - before; got != 1 {
		t.Fatalf("expected only the oracle fetch, got %d", got)
	}
}

func TestIngestLatestWritesNothingOnFailure(t *testing.T) {
	q := scenarioQuotes()
	q.errs["B"] = errors.New("upstream 503")
	store := repository.NewMemoryMoverStore()
	archive := &fakeArchive{}
	ing := newTestIngestor(t, q, abc, store, WithBarArchive(archive))

	res, err := ing.IngestLatest(context.Background())
	if !errors.Is(err, models.ErrIncompleteBatch) {
		t.Fatalf("expected incomplete batch, got %v", err)
	}
	if res == nil || res.FailureCount != 1 || res.Failures[0].Ticker != "B" || res.Stored {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.Len() != 0 || len(archive.dates) != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestIngestLatestResolveFailure(t *testing.T) {
	q := scenarioQuotes()
	q.errs["A"] = errors.New("unauthorized")
	ing := newTestIngestor(t, q, abc, repository.NewMemoryMoverStore())

	if _, err := ing.IngestLatest(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if q.callCount() != 1 {
		t.Fatalf("expected to stop after the oracle, got %d fetches", q.callCount())
	}
}

func TestIngestLatestConflictIsNotAnError(t *testing.T) {
	q := scenarioQuotes()
	pub := &fakePublisher{}
	store := conflictStore{repository.NewMemoryMoverStore()}
	ing := newTestIngestor(t, q, abc, store, WithEventPublisher(pub))

	res, err := ing.IngestLatest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stored || res.Cached || res.Message != MessageConflictOnSave {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Item == nil || res.Item.Ticker != "C" {
		t.Fatalf("expected computed item, got %+v", res.Item)
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no event for a lost race")
	}
}

func TestIngestLatestConcurrentRunsStoreOnce(t *testing.T) {
	q := scenarioQuotes()
	store := repository.NewMemoryMoverStore()
	pub := &fakePublisher{}
	ing := newTestIngestor(t, q, abc, store, WithEventPublisher(pub))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ing.IngestLatest(context.Background())
			if err != nil {
				t.Errorf("run failed: %v", err)
				return
			}
			if res.Stored {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if stored != 1 || store.Len() != 1 || len(pub.events) != 1 {
		t.Fatalf("expected exactly one write, got %d stored, %d records, %d events", stored, store.Len(), len(pub.events))
	}
}

func TestIngestSideEffectFailuresAreIgnored(t *testing.T) {
	q := scenarioQuotes()
	archive := &fakeArchive{err: errors.New("clickhouse down")}
	pub := &fakePublisher{err: errors.New("kafka down")}
	ing := newTestIngestor(t, q, abc, repository.NewMemoryMoverStore(), WithBarArchive(archive), WithEventPublisher(pub))

	res, err := ing.IngestLatest(context.Background())
	if err != nil || !res.Stored {
		t.Fatalf("expected stored despite side effect errors, got %+v %v", res, err)
	}
}

// weekQuotes serves A, B and C for Mon 2024-10-07 through Fri 2024-10-11.
func weekQuotes() *fakeQuotes {
	q := newFakeQuotes()
	for i, d := range []string{"2024-10-07", "2024-10-08", "2024-10-09", "2024-10-10", "2024-10-11"} {
		q.setDay("A", d, 100, 101+float64(i))
		q.setDay("B", d, 100, 99)
		q.setDay("C", d, 100, 100.5)
	}
	return q
}

func TestBackfillStoresEachDate(t *testing.T) {
	q := weekQuotes()
	store := repository.NewMemoryMoverStore()
	ing := newTestIngestor(t, q, abc, store)

	report, err := ing.Backfill(context.Background(), "2024-10-11", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2024-10-09", "2024-10-10", "2024-10-11"}
	if len(report.Dates) != len(want) {
		t.Fatalf("unexpected dates %v", report.Dates)
	}
	for i, d := range want {
		if report.Dates[i] != d || report.Results[i].TradingDate != d || !report.Results[i].Stored {
			t.Fatalf("unexpected result %d: %+v", i, report.Results[i])
		}
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", store.Len())
	}
	rec, _ := store.Get(context.Background(), "2024-10-11")
	if rec.Ticker != "A" || rec.PercentChange.String() != "5" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestBackfillSkipsStoredDates(t *testing.T) {
	q := weekQuotes()
	store := repository.NewMemoryMoverStore()
	ing := newTestIngestor(t, q, abc, store)

	if _, err := ing.Backfill(context.Background(), "2024-10-10", 1); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	before := q.callCount()

	report, err := ing.Backfill(context.Background(), "2024-10-11", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Results[0].Cached || report.Results[0].Message != MessageAlreadyStored {
		t.Fatalf("expected first date cached, got %+v", report.Results[0])
	}
	if !report.Results[1].Stored {
		t.Fatalf("expected second date stored, got %+v", report.Results[1])
	}
	// one range lookup plus three day fetches for the new date
	if got := q.callCount() - before; got != 4 {
		t.Fatalf("expected 4 fetches, got %d", got)
	}
}

func TestBackfillContinuesAfterFailedDate(t *testing.T) {
	q := weekQuotes()
	delete(q.days["B"], "2024-10-10")
	store := repository.NewMemoryMoverStore()
	ing := newTestIngestor(t, q, abc, store)

	report, err := ing.Backfill(context.Background(), "2024-10-11", 3)
	if !errors.Is(err, models.ErrIncompleteBatch) {
		t.Fatalf("expected incomplete batch, got %v", err)
	}
	if report.Failed() != 1 || report.Results[1].Error == "" || report.Results[1].FailureCount != 1 {
		t.Fatalf("unexpected report %+v", report.Results)
	}
	if !report.Results[2].Stored || store.Len() != 2 {
		t.Fatalf("expected later date stored, got %d records", store.Len())
	}
}

func TestBackfillInsufficientHistory(t *testing.T) {
	ing := newTestIngestor(t, weekQuotes(), abc, repository.NewMemoryMoverStore())

	_, err := ing.Backfill(context.Background(), "2024-10-11", 6)
	var ih *models.InsufficientHistoryError
	if !errors.As(err, &ih) || ih.Got != 5 || ih.Want != 6 {
		t.Fatalf("expected insufficient history, got %v", err)
	}
}

func TestBackfillRejectsDaysOutOfRange(t *testing.T) {
	q := weekQuotes()
	ing := newTestIngestor(t, q, abc, repository.NewMemoryMoverStore(), WithMaxBackfillDays(10))

	for _, n := range []int{0, 11, 31} {
		if _, err := ing.Backfill(context.Background(), "2024-10-11", n); err == nil {
			t.Fatalf("expected error for days=%d", n)
		}
	}
	if q.callCount() != 0 {
		t.Fatalf("expected no fetches, got %d", q.callCount())
	}
}

func TestLookbackDays(t *testing.T) {
	cases := map[int]int{1: 25, 7: 25, 15: 31, 30: 52}
	for n, want := range cases {
		if got := LookbackDays(n); got != want {
			t.Fatalf("LookbackDays(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestWindowIgnoresDatesAfterEnd(t *testing.T) {
	q := weekQuotes()
	r, _ := NewDateResolver(q, abc)

	dates, err := r.Window(context.Background(), "2024-10-09", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2024-10-08" || dates[1] != "2024-10-09" {
		t.Fatalf("unexpected dates %v", dates)
	}
	if _, err := NewDateResolver(q, nil); err == nil {
		t.Fatalf("expected error for empty watchlist")
	}
}
