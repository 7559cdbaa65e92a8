package massive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"MoverPull/internal/domain/repository"
	"MoverPull/internal/service/ratelimit"
	apphttp "MoverPull/pkg/http"
	"MoverPull/pkg/logger"
)

var errMalformedBody = errors.New("malformed json body")

// FetchError is returned when a request could not produce a JSON document.
type FetchError struct {
	URL      string // apiKey redacted
	Attempts int
	Status   int // last HTTP status, 0 for transport errors
	Err      error

	permanent bool
}

func (e *FetchError) Error() string {
	if e.permanent {
		return fmt.Sprintf("fetch %s: permanent failure (status %d): %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: failed after %d attempts (last status %d): %v", e.URL, e.Attempts, e.Status, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Permanent reports whether the failure was not retried because retrying cannot help.
func (e *FetchError) Permanent() bool { return e.permanent }

type FetcherConfig struct {
	MaxAttempts    int
	Base429Backoff time.Duration
	Base5xxBackoff time.Duration
	MaxBackoff     time.Duration
	MaxJitter      time.Duration
}

// Fetcher performs one logical GET with bounded exponential backoff.
type Fetcher struct {
	client  *apphttp.Client
	cfg     FetcherConfig
	log     *logger.Logger
	metrics repository.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

type FetcherOption func(*Fetcher)

func WithFetcherLogger(l *logger.Logger) FetcherOption {
	return func(f *Fetcher) { f.log = l }
}

func WithFetcherMetrics(m repository.Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithBackoffSleep replaces the sleep and jitter functions (tests).
func WithBackoffSleep(sleep func(ctx context.Context, d time.Duration) error, jitter func(max time.Duration) time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = sleep
		f.jitter = jitter
	}
}

func NewFetcher(client *apphttp.Client, cfg FetcherConfig, opts ...FetcherOption) *Fetcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	f := &Fetcher{
		client: client,
		cfg:    cfg,
		log:    logger.NewNop(),
		sleep:  ratelimit.Sleep,
		jitter: ratelimit.UniformJitter,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BackoffCeiling is min(max, base*2^(attempt-1)) for a 1-based attempt.
func BackoffCeiling(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max || d < 0 {
		return max
	}
	return d
}

// Fetch GETs rawURL and returns the body once it is valid JSON.
// endpoint is a low-cardinality label for logs and metrics.
func (f *Fetcher) Fetch(ctx context.Context, endpoint, rawURL string) (json.RawMessage, error) {
	safeURL := redact(rawURL)
	var (
		lastErr    error
		lastStatus int
	)

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		var body []byte
		err := f.client.SendAndParse(ctx, &apphttp.RequestOptions{
			Method:  apphttp.MethodGet,
			URL:     rawURL,
			Headers: map[string]string{"Accept": "application/json"},
		}, &body)
		f.recordLatency(endpoint, start)

		if err == nil {
			if json.Valid(body) {
				f.recordFetch(endpoint, "ok")
				return json.RawMessage(body), nil
			}
			err = errMalformedBody
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", safeURL, ctxErr)
		}

		class, base := "5xx", f.cfg.Base5xxBackoff
		var se *apphttp.StatusError
		if errors.Is(err, errMalformedBody) {
			lastStatus = http.StatusOK
			class = "malformed"
		} else if errors.As(err, &se) {
			lastStatus = se.Code
			switch {
			case se.Code == http.StatusTooManyRequests:
				class, base = "429", f.cfg.Base429Backoff
			case isRetryable5xx(se.Code):
			case se.Code >= 400 && se.Code < 500:
				f.recordFetch(endpoint, "permanent")
				return nil, &FetchError{URL: safeURL, Attempts: attempt, Status: se.Code, Err: err, permanent: true}
			}
		} else {
			lastStatus = 0
			class = "transport"
		}
		lastErr = err

		if attempt == f.cfg.MaxAttempts {
			break
		}

		wait := BackoffCeiling(attempt, base, f.cfg.MaxBackoff) + f.jitter(f.cfg.MaxJitter)
		f.recordRetry(class)
		f.log.Warn("upstream request failed, retrying",
			logger.String("endpoint", endpoint),
			logger.String("class", class),
			logger.Int("attempt", attempt),
			logger.Int("status", lastStatus),
			logger.Duration("backoff_ms", wait),
			logger.Error(err),
		)
		if err := f.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", safeURL, err)
		}
	}

	f.recordFetch(endpoint, "exhausted")
	return nil, &FetchError{URL: safeURL, Attempts: f.cfg.MaxAttempts, Status: lastStatus, Err: lastErr}
}

func isRetryable5xx(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (f *Fetcher) recordFetch(endpoint, result string) {
	if f.metrics != nil {
		f.metrics.RecordFetch(endpoint, result)
	}
}

func (f *Fetcher) recordRetry(class string) {
	if f.metrics != nil {
		f.metrics.RecordRetry(class)
	}
}

func (f *Fetcher) recordLatency(endpoint string, start time.Time) {
	if f.metrics != nil {
		f.metrics.RecordLatency("fetch_"+endpoint, time.Since(start).Seconds())
	}
}

// redact hides the apiKey query value so URLs are safe to log.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Has("apiKey") {
		q.Set("apiKey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
