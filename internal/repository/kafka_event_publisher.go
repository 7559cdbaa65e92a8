package repository

import (
	"context"

	"MoverPull/internal/domain/models"
	domainrepo "MoverPull/internal/domain/repository"
	pkgkafka "MoverPull/pkg/kafka"
)

// KafkaEventPublisher publishes MoverStoredEvent keyed by date, so every event
// for one date lands on the same partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domainrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishStored(ctx context.Context, ev models.MoverStoredEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Date), ev)
}

// Close is a no-op; the producer is shared and closed by the app.
func (p *KafkaEventPublisher) Close() error { return nil }
