package usecase

import (
	"context"
	"encoding/json"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	pkgkafka "CatalystPull/pkg/kafka"
	pkgmetrics "CatalystPull/pkg/metrics"
)

// ChangeSink receives change notifications, typically the websocket hub.
type ChangeSink interface {
	Broadcast(ev models.ChangeEvent)
}

// ChangeConsumer hands change events read from Kafka to the sink. It never
// fails a message: a broken payload is counted and dropped.
type ChangeConsumer struct {
	topic   string
	sink    ChangeSink
	metrics domrepo.Metrics
}

func NewChangeConsumer(topic string, sink ChangeSink, metrics domrepo.Metrics) *ChangeConsumer {
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &ChangeConsumer{topic: topic, sink: sink, metrics: metrics}
}

func (h *ChangeConsumer) Topic() string { return h.topic }

func (h *ChangeConsumer) Handle(_ context.Context, msg pkgkafka.Message) error {
	var ev models.ChangeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.metrics.RecordError("change_unmarshal")
		return nil
	}
	if op := msg.Header("op"); op != "" && models.ChangeOp(op) != ev.Op {
		h.metrics.RecordError("change_op_mismatch")
	}
	if !ev.At.IsZero() {
		h.metrics.RecordLatency("change_delivery_"+string(ev.Op), time.Since(ev.At).Seconds())
	}
	h.sink.Broadcast(ev)
	return nil
}

var _ pkgkafka.MessageHandler = (*ChangeConsumer)(nil)
