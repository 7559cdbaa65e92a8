package massive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"MoverPull/internal/domain/models"
	"MoverPull/internal/domain/repository"
)

// NoDataError means the upstream answered but had no usable bar.
type NoDataError struct {
	Symbol string
	Status string
	Reason string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data for %s (status %q): %s", e.Symbol, e.Status, e.Reason)
}

// Acquirer paces outbound requests.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Client reads daily aggregate bars from the Massive REST API.
type Client struct {
	baseURL string
	fetcher *Fetcher
	pacer   Acquirer
	creds   repository.CredentialProvider
}

var _ repository.QuoteSource = (*Client)(nil)

func NewClient(baseURL string, fetcher *Fetcher, pacer Acquirer, creds repository.CredentialProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
		pacer:   pacer,
		creds:   creds,
	}
}

// PrevDay returns the most recent completed daily bar for symbol.
func (c *Client) PrevDay(ctx context.Context, symbol string) (models.DailyBar, error) {
	resp, err := c.get(ctx, "prev", symbol, "/prev")
	if err != nil {
		return models.DailyBar{}, err
	}
	if resp.Status != statusOK {
		return models.DailyBar{}, &NoDataError{Symbol: symbol, Status: resp.Status, Reason: "status is not OK"}
	}
	if len(resp.Results) == 0 {
		return models.DailyBar{}, &NoDataError{Symbol: symbol, Status: resp.Status, Reason: "empty results"}
	}
	return resp.Results[0].toDailyBar(symbol), nil
}

// Day returns the daily bar for symbol on date. The bar's own date may differ
// from the requested one, and callers must check it.
func (c *Client) Day(ctx context.Context, symbol, date string) (models.DailyBar, error) {
	bars, err := c.DailyRange(ctx, symbol, date, date)
	if err != nil {
		return models.DailyBar{}, err
	}
	return bars[0], nil
}

// DailyRange returns every daily bar for symbol between from and to inclusive.
func (c *Client) DailyRange(ctx context.Context, symbol, from, to string) ([]models.DailyBar, error) {
	resp, err := c.get(ctx, "range", symbol, fmt.Sprintf("/range/1/day/%s/%s", from, to))
	if err != nil {
		return nil, err
	}
	if resp.Status != statusOK && resp.Status != statusDelayed {
		return nil, &NoDataError{Symbol: symbol, Status: resp.Status, Reason: "unexpected status"}
	}
	if len(resp.Results) == 0 {
		return nil, &NoDataError{Symbol: symbol, Status: resp.Status, Reason: fmt.Sprintf("empty results for %s..%s", from, to)}
	}

	bars := make([]models.DailyBar, 0, len(resp.Results))
	for _, b := range resp.Results {
		bars = append(bars, b.toDailyBar(symbol))
	}
	return bars, nil
}

func (c *Client) get(ctx context.Context, endpoint, symbol, suffix string) (*aggregatesResponse, error) {
	key, err := c.creds.APIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("api key: %w", err)
	}

	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("apiKey", key)
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s%s?%s", c.baseURL, url.PathEscape(symbol), suffix, q.Encode())

	if err := c.pacer.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("pace %s: %w", symbol, err)
	}

	raw, err := c.fetcher.Fetch(ctx, endpoint, u)
	if err != nil {
		return nil, err
	}

	var resp aggregatesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &NoDataError{Symbol: symbol, Reason: fmt.Sprintf("unexpected payload: %v", err)}
	}
	return &resp, nil
}
