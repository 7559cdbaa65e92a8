package models

// Payloads returned to callers of the ingest flows and the read API.

// ItemView is a stored record as returned by the ingest flows.
type ItemView struct {
	PK            string  `json:"pk"`
	SK            string  `json:"sk"`
	Date          string  `json:"Date"`
	Ticker        string  `json:"Ticker"`
	PercentChange float64 `json:"PercentChange"`
	ClosingPrice  float64 `json:"ClosingPrice"`
}

func NewItemView(rec MoverRecord) *ItemView {
	return &ItemView{
		PK:            PartitionKey,
		SK:            rec.Date,
		Date:          rec.Date,
		Ticker:        rec.Ticker,
		PercentChange: rec.PercentChange.InexactFloat64(),
		ClosingPrice:  rec.ClosingPrice.InexactFloat64(),
	}
}

// MoverItem is the public projection served by GET /api/movers.
type MoverItem struct {
	Date          string  `json:"Date"`
	Ticker        string  `json:"Ticker"`
	PercentChange float64 `json:"PercentChange"`
	ClosingPrice  float64 `json:"ClosingPrice"`
}

func NewMoverItem(rec MoverRecord) MoverItem {
	return MoverItem{
		Date:          rec.Date,
		Ticker:        rec.Ticker,
		PercentChange: rec.PercentChange.InexactFloat64(),
		ClosingPrice:  rec.ClosingPrice.InexactFloat64(),
	}
}

type SymbolFailure struct {
	Ticker string `json:"ticker"`
	Error  string `json:"error"`
}

// IngestResult is the outcome of one trading date.
type IngestResult struct {
	Stored       bool            `json:"stored"`
	Cached       bool            `json:"cached"`
	Message      string          `json:"message,omitempty"`
	TradingDate  string          `json:"tradingDate"`
	Item         *ItemView       `json:"item,omitempty"`
	SuccessCount int             `json:"successCount"`
	FailureCount int             `json:"failureCount"`
	Failures     []SymbolFailure `json:"failures"`
	Error        string          `json:"error,omitempty"`
}

type BackfillReport struct {
	EndDate string         `json:"endDate"`
	Dates   []string       `json:"dates"`
	Results []IngestResult `json:"results"`
}

// Failed returns how many dates in the report ended in an error.
func (r *BackfillReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Error != "" {
			n++
		}
	}
	return n
}

type MoversRequest struct {
	Limit int `query:"limit" json:"limit" default:"7" validate:"gte=1,lte=30"`
}

// IngestTrigger asks for an ingest run. It arrives over HTTP or Kafka.
type IngestTrigger struct {
	Mode    string `json:"mode" default:"latest" validate:"oneof=latest window"`
	EndDate string `json:"end_date" validate:"required_if=Mode window,isodate"`
	Days    int    `json:"days" default:"7" validate:"gte=1,lte=30"`
}
