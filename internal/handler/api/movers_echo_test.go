package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	models "MoverPull/internal/domain/models"
	"MoverPull/internal/service/ratelimit"
	xhttp "MoverPull/pkg/http"
	xlogger "MoverPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

type stubMovers struct {
	items []models.MoverItem
	gotN  int
	err   error
}

func (s *stubMovers) Latest(_ context.Context, n int) ([]models.MoverItem, error) {
	s.gotN = n
	return s.items, s.err
}

type stubIngest struct {
	res     *models.IngestResult
	report  *models.BackfillReport
	err     error
	latest  int
	backEnd string
	backN   int
}

func (s *stubIngest) IngestLatest(context.Context) (*models.IngestResult, error) {
	s.latest++
	return s.res, s.err
}

func (s *stubIngest) Backfill(_ context.Context, end string, days int) (*models.BackfillReport, error) {
	s.backEnd, s.backN = end, days
	return s.report, s.err
}

func newTestEcho(h *MoversEchoHandler) *echo.Echo {
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMoversDefaultsLimit(t *testing.T) {
	movers := &stubMovers{items: []models.MoverItem{{Date: "2024-10-11", Ticker: "NVDA", PercentChange: 4.2, ClosingPrice: 131.5}}}
	e := newTestEcho(NewMoversEchoHandler(xlogger.NewNop(), movers, &stubIngest{}, nil))

	rec := do(e, http.MethodGet, "/api/movers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if movers.gotN != 7 {
		t.Fatalf("expected default limit 7, got %d", movers.gotN)
	}

	var resp struct {
		Data struct {
			Rows  []models.MoverItem `json:"rows"`
			Total int64              `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Total != 1 || resp.Data.Rows[0].Ticker != "NVDA" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestMoversRejectsBadLimit(t *testing.T) {
	e := newTestEcho(NewMoversEchoHandler(xlogger.NewNop(), &stubMovers{}, &stubIngest{}, nil))

	for _, q := range []string{"limit=31", "limit=-1", "limit=abc"} {
		rec := do(e, http.MethodGet, "/api/movers?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestIngestLatestReturnsCreated(t *testing.T) {
	ing := &stubIngest{res: &models.IngestResult{Stored: true, TradingDate: "2024-10-11", Failures: []models.SymbolFailure{}}}
	e := newTestEcho(NewMoversEchoHandler(xlogger.NewNop(), &stubMovers{}, ing, nil))

	rec := do(e, http.MethodPost, "/api/ingest", "")
	if rec.Code != http.StatusCreated || ing.latest != 1 {
		t.Fatalf("unexpected status %d, runs %d", rec.Code, ing.latest)
	}

	ing.res = &models.IngestResult{Cached: true, TradingDate: "2024-10-11", Failures: []models.SymbolFailure{}}
	if rec := do(e, http.MethodPost, "/api/ingest", `{"mode":"latest"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for cached run, got %d", rec.Code)
	}
}

func TestIngestWindowPassesArguments(t *testing.T) {
	ing := &stubIngest{report: &models.BackfillReport{EndDate: "2024-10-11"}}
	e := newTestEcho(NewMoversEchoHandler(xlogger.NewNop(), &stubMovers{}, ing, nil))

	rec := do(e, http.MethodPost, "/api/ingest", `{"mode":"window","end_date":"2024-10-11","days":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ing.backEnd != "2024-10-11" || ing.backN != 3 {
		t.Fatalf("unexpected arguments %s %d", ing.backEnd, ing.backN)
	}

	if rec := do(e, http.MethodPost, "/api/ingest", `{"mode":"window"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without end_date, got %d", rec.Code)
	}
}

func TestIngestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", models.ErrIncompleteBatch), http.StatusBadGateway},
		{&models.InsufficientHistoryError{EndDate: "2024-10-11", Want: 7, Got: 3}, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		ing := &stubIngest{err: tt.err, res: &models.IngestResult{Failures: []models.SymbolFailure{{Ticker: "B", Error: "503"}}}}
		e := newTestEcho(NewMoversEchoHandler(xlogger.NewNop(), &stubMovers{}, ing, nil))
		rec := do(e, http.MethodPost, "/api/ingest", "")
		if rec.Code != tt.want {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.want, rec.Code)
		}
	}
}

func TestIngestIsRateLimitedPerClient(t *testing.T) {
	ing := &stubIngest{res: &models.IngestResult{Cached: true, Failures: []models.SymbolFailure{}}}
	e := newTestEcho(NewMoversEchoHandler(xlogger.NewNop(), &stubMovers{}, ing, ratelimit.New(1, 1)))

	if rec := do(e, http.MethodPost, "/api/ingest", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected first call to pass, got %d", rec.Code)
	}
	rec := do(e, http.MethodPost, "/api/ingest", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var resp xhttp.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if ing.latest != 1 {
		t.Fatalf("expected throttled call to skip the ingest, got %d runs", ing.latest)
	}
}
