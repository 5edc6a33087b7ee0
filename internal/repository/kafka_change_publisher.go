package repository

import (
	"context"

	"CatalystPull/internal/domain/models"
	pkgkafka "CatalystPull/pkg/kafka"
)

// KafkaChangePublisher writes change events to a topic keyed by ticker, so
// events for one ticker stay ordered within a partition.
type KafkaChangePublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaChangePublisher(producer *pkgkafka.Producer, topic string) *KafkaChangePublisher {
	return &KafkaChangePublisher{producer: producer, topic: topic}
}

func (p *KafkaChangePublisher) Publish(ctx context.Context, ev models.ChangeEvent) error {
	return p.producer.PublishRecords(ctx, p.topic, changeRecord(ev))
}

func (p *KafkaChangePublisher) PublishBatch(ctx context.Context, evs []models.ChangeEvent) error {
	if len(evs) == 0 {
		return nil
	}
	recs := make([]pkgkafka.Record, len(evs))
	for i, ev := range evs {
		recs[i] = changeRecord(ev)
	}
	return p.producer.PublishRecords(ctx, p.topic, recs...)
}

// changeRecord carries the op as a header so consumers can filter without
// decoding the body.
func changeRecord(ev models.ChangeEvent) pkgkafka.Record {
	return pkgkafka.Record{
		Key:     []byte(ev.Catalyst.Ticker),
		Value:   ev,
		Headers: map[string]string{"op": string(ev.Op)},
	}
}

func (p *KafkaChangePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
