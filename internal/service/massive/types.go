package massive

import (
	"MoverPull/internal/domain/models"
	"MoverPull/pkg/util"
)

// barRaw is one aggregate bar as sent by the upstream.
type barRaw struct {
	Timestamp int64   `json:"t"` // epoch milliseconds
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

func (b barRaw) toDailyBar(symbol string) models.DailyBar {
	return models.DailyBar{
		Symbol:      symbol,
		TradingDate: util.DateFromMillis(b.Timestamp),
		Open:        b.Open,
		Close:       b.Close,
	}
}

// aggregatesResponse covers both the prev and the range endpoints.
type aggregatesResponse struct {
	Ticker       string   `json:"ticker"`
	Status       string   `json:"status"`
	Adjusted     bool     `json:"adjusted"`
	ResultsCount int      `json:"resultsCount"`
	Results      []barRaw `json:"results"`
	RequestID    string   `json:"request_id"`
}

const (
	statusOK      = "OK"
	statusDelayed = "DELAYED"
)
