package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"MoverPull/internal/domain/models"
	xhttp "MoverPull/pkg/http"
	pkgkafka "MoverPull/pkg/kafka"
	"MoverPull/pkg/logger"
)

// KafkaTriggerHandler runs an ingest for every trigger message on its topic.
// Message schema: {"mode":"latest"} or {"mode":"window","end_date":"YYYY-MM-DD","days":7}.
type KafkaTriggerHandler struct {
	topic    string
	ingestor *Ingestor
	log      *logger.Logger
}

func NewKafkaTriggerHandler(topic string, ingestor *Ingestor, l *logger.Logger) *KafkaTriggerHandler {
	if l == nil {
		l = logger.NewNop()
	}
	return &KafkaTriggerHandler{topic: topic, ingestor: ingestor, log: l.Named("ingest_trigger")}
}

func (h *KafkaTriggerHandler) Topic() string { return h.topic }

func (h *KafkaTriggerHandler) Handle(ctx context.Context, b []byte) error {
	var t models.IngestTrigger
	if len(b) > 0 {
		if err := json.Unmarshal(b, &t); err != nil {
			return fmt.Errorf("decode trigger: %w", err)
		}
	}
	if err := xhttp.ValidateStruct(&t); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}

	log := h.log.With(logger.String("trace_id", pkgkafka.TraceID(ctx)))

	if t.Mode == "window" {
		report, err := h.ingestor.Backfill(ctx, t.EndDate, t.Days)
		if report != nil {
			log.Info("backfill trigger done",
				logger.String("end_date", t.EndDate),
				logger.Int("dates", len(report.Dates)),
				logger.Int("failed", report.Failed()),
			)
		}
		return err
	}

	res, err := h.ingestor.IngestLatest(ctx)
	if err != nil {
		return err
	}
	log.Info("latest trigger done",
		logger.String("trading_date", res.TradingDate),
		logger.Bool("stored", res.Stored),
		logger.Bool("cached", res.Cached),
	)
	return nil
}
