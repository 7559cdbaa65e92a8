package massive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apphttp "MoverPull/pkg/http"
)

type staticKey string

func (k staticKey) APIKey(context.Context) (string, error) { return string(k), nil }

type countingPacer struct{ n int }

func (p *countingPacer) Acquire(ctx context.Context) error {
	p.n++
	return ctx.Err()
}

type harness struct {
	client *Client
	pacer  *countingPacer
	sleeps []time.Duration
	hits   atomic.Int32
	srv    *httptest.Server
}

func newHarness(t *testing.T, maxAttempts int, handler func(h *harness, w http.ResponseWriter, r *http.Request)) *harness {
	t.Helper()
	h := &harness{pacer: &countingPacer{}}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		handler(h, w, r)
	}))
	t.Cleanup(h.srv.Close)

	fetcher := NewFetcher(apphttp.NewClient(apphttp.WithConnectTimeout(time.Second), apphttp.WithReadTimeout(2*time.Second)),
		FetcherConfig{
			MaxAttempts:    maxAttempts,
			Base429Backoff: 2 * time.Second,
			Base5xxBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			MaxJitter:      250 * time.Millisecond,
		},
		WithBackoffSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		}, func(time.Duration) time.Duration { return 0 }),
	)
	h.client = NewClient(h.srv.URL+"/", fetcher, h.pacer, staticKey("secret-key"))
	return h
}

func barJSON(status string, t time.Time, open, close float64) string {
	return fmt.Sprintf(`{"ticker":"X","status":%q,"resultsCount":1,"results":[{"t":%d,"o":%g,"c":%g,"h":0,"l":0,"v":1}]}`,
		status, t.UnixMilli(), open, close)
}

func TestBackoffCeilingIsCapped(t *testing.T) {
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := BackoffCeiling(i+1, 2*time.Second, 10*time.Second); got != w {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w)
		}
	}
	if got := BackoffCeiling(60, 2*time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("large attempt not capped: %s", got)
	}
}

func TestPrevDayRecoversFrom503(t *testing.T) {
	ts := time.Date(2024, 10, 10, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, 3, func(h *harness, w http.ResponseWriter, r *http.Request) {
		if h.hits.Load() == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(barJSON("OK", ts, 100, 105)))
	})

	bar, err := h.client.PrevDay(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bar.TradingDate != "2024-10-10" || bar.Open != 100 || bar.Close != 105 || bar.Symbol != "AAPL" {
		t.Fatalf("unexpected bar %+v", bar)
	}
	if h.hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", h.hits.Load())
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != 500*time.Millisecond {
		t.Fatalf("unexpected sleeps %v", h.sleeps)
	}
	if h.pacer.n != 1 {
		t.Fatalf("expected one paced call, got %d", h.pacer.n)
	}
}

func TestRateLimitedUntilExhausted(t *testing.T) {
	h := newHarness(t, 4, func(h *harness, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := h.client.PrevDay(context.Background(), "AAPL")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Permanent() || fe.Attempts != 4 || fe.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected fetch error %+v", fe)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(h.sleeps) != len(want) {
		t.Fatalf("unexpected sleeps %v", h.sleeps)
	}
	for i := range want {
		if h.sleeps[i] != want[i] {
			t.Fatalf("sleep %d: got %s want %s", i, h.sleeps[i], want[i])
		}
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("api key leaked into error: %v", err)
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	h := newHarness(t, 4, func(h *harness, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"NOT_AUTHORIZED"}`))
	})

	_, err := h.client.PrevDay(context.Background(), "AAPL")
	var fe *FetchError
	if !errors.As(err, &fe) || !fe.Permanent() {
		t.Fatalf("expected permanent FetchError, got %v", err)
	}
	if h.hits.Load() != 1 || len(h.sleeps) != 0 {
		t.Fatalf("permanent error must not retry: hits=%d sleeps=%v", h.hits.Load(), h.sleeps)
	}
}

func TestMalformedJSONIsRetried(t *testing.T) {
	ts := time.Date(2024, 10, 9, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, 4, func(h *harness, w http.ResponseWriter, r *http.Request) {
		if h.hits.Load() == 1 {
			_, _ = w.Write([]byte(`{"status":`))
			return
		}
		_, _ = w.Write([]byte(barJSON("OK", ts, 10, 11)))
	})

	if _, err := h.client.PrevDay(context.Background(), "MSFT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != 500*time.Millisecond {
		t.Fatalf("expected one 5xx-schedule sleep, got %v", h.sleeps)
	}
}

func TestPrevDayNoData(t *testing.T) {
	cases := map[string]string{
		"not ok": `{"status":"ERROR","results":[{"t":1,"o":1,"c":1}]}`,
		"empty":  `{"status":"OK","results":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, 2, func(h *harness, w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := h.client.PrevDay(context.Background(), "AAPL")
			var nd *NoDataError
			if !errors.As(err, &nd) {
				t.Fatalf("expected NoDataError, got %v", err)
			}
			if h.hits.Load() != 1 {
				t.Fatalf("no-data must not retry, hits=%d", h.hits.Load())
			}
		})
	}
}

func TestDayUsesRangeEndpointAndBarDate(t *testing.T) {
	// The bar resolves to the day before the requested date.
	ts := time.Date(2024, 10, 9, 4, 0, 0, 0, time.UTC)
	var path, query string
	h := newHarness(t, 1, func(h *harness, w http.ResponseWriter, r *http.Request) {
		path, query = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(barJSON("DELAYED", ts, 50, 49)))
	})

	bar, err := h.client.Day(context.Background(), "GOOGL", "2024-10-10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/v2/aggs/ticker/GOOGL/range/1/day/2024-10-10/2024-10-10" {
		t.Fatalf("unexpected path %s", path)
	}
	if !strings.Contains(query, "adjusted=true") || !strings.Contains(query, "apiKey=secret-key") {
		t.Fatalf("unexpected query %s", query)
	}
	if bar.TradingDate != "2024-10-09" {
		t.Fatalf("expected bar date from timestamp, got %s", bar.TradingDate)
	}
}

func TestDailyRangeReturnsAllBars(t *testing.T) {
	d1 := time.Date(2024, 10, 8, 4, 0, 0, 0, time.UTC).UnixMilli()
	d2 := time.Date(2024, 10, 9, 4, 0, 0, 0, time.UTC).UnixMilli()
	h := newHarness(t, 1, func(h *harness, w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"status":"OK","results":[{"t":%d,"o":1,"c":2},{"t":%d,"o":2,"c":3}]}`, d1, d2)
	})

	bars, err := h.client.DailyRange(context.Background(), "AAPL", "2024-09-15", "2024-10-10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 2 || bars[0].TradingDate != "2024-10-08" || bars[1].TradingDate != "2024-10-09" {
		t.Fatalf("unexpected bars %+v", bars)
	}
}

func TestBackoffAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, 4, func(h *harness, w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := h.client.PrevDay(ctx, "AAPL")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.hits.Load() != 1 {
		t.Fatalf("expected no retries after cancel, hits=%d", h.hits.Load())
	}
}
