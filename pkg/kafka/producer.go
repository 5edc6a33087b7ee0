package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ProducerOption configures Producer.
type ProducerOption func(*ProducerConfig)

type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
	// Async returns from Publish before the broker acknowledges. Failures
	// are only visible in metrics.
	Async bool
	// HashByKey routes equal keys to one partition so their order holds.
	HashByKey bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithCompression accepts gzip, snappy, lz4, zstd or none.
func WithCompression(codec string) ProducerOption {
	return func(c *ProducerConfig) { c.Compression = codec }
}

// WithRequiredAcks sets acknowledgements: -1 all, 1 leader, 0 none.
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *ProducerConfig) { c.RequiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *ProducerConfig) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithBatching bounds a batch by count, bytes and linger time; zero keeps
// the default for that bound.
func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if bytes > 0 {
			c.BatchBytes = bytes
		}
		if linger > 0 {
			c.BatchTimeout = linger
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if write > 0 {
			c.WriteTimeout = write
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) { c.Async = async }
}

func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}

// Record is one message to publish. Value is JSON-encoded unless it is
// already a string or []byte.
type Record struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

// Producer writes records to Kafka.
type Producer struct {
	writer *kafka.Writer
	codec  string
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1 << 20,
		BatchTimeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: brokers are required")
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	initProducerMetrics()
	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}
	name := cfg.Compression
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     balancer,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}
	if cfg.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil && len(msgs) > 0 {
				producerErrors.WithLabelValues(msgs[0].Topic).Add(float64(len(msgs)))
			}
		}
	}
	return &Producer{writer: w, codec: name}, nil
}

// Publish sends one value under key.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishRecords(ctx, topic, Record{Key: key, Value: value})
}

// PublishMessage publishes a keyless payload. It satisfies logger.Publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.PublishRecords(ctx, topic, Record{Value: payload})
}

// PublishRecords writes records in one call. A trace id on ctx is copied
// into every record's headers.
func (p *Producer) PublishRecords(ctx context.Context, topic string, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	trace, _ := ctx.Value(CtxTraceID).(string)

	msgs := make([]kafka.Message, 0, len(records))
	var size int
	for _, r := range records {
		v, err := encodeValue(r.Value)
		if err != nil {
			return err
		}
		size += len(v)
		msgs = append(msgs, kafka.Message{
			Topic:   topic,
			Key:     r.Key,
			Value:   v,
			Headers: headers(r.Headers, trace),
			Time:    start,
		})
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	result := "ok"
	if err != nil {
		result = "error"
		producerErrors.WithLabelValues(topic).Add(float64(len(msgs)))
	}
	producerMessages.WithLabelValues(topic, result).Add(float64(len(msgs)))
	producerBytes.WithLabelValues(topic, p.codec).Add(float64(size))
	producerLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func headers(h map[string]string, trace string) []kafka.Header {
	if len(h) == 0 && trace == "" {
		return nil
	}
	out := make([]kafka.Header, 0, len(h)+1)
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	if _, set := h["trace_id"]; trace != "" && !set {
		out = append(out, kafka.Header{Key: "trace_id", Value: []byte(trace)})
	}
	return out
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return b, nil
	}
}

func parseCompression(s string) (kafka.Compression, error) {
	switch s {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("kafka producer: unknown compression %q", s)
}

var (
	producerMetricsOnce sync.Once
	producerRegisterer  prometheus.Registerer = prometheus.DefaultRegisterer

	producerMessages *prometheus.CounterVec
	producerErrors   *prometheus.CounterVec
	producerBytes    *prometheus.CounterVec
	producerLatency  *prometheus.HistogramVec
)

// SetProducerMetricsRegisterer must be called before the first NewProducer.
func SetProducerMetricsRegisterer(reg prometheus.Registerer) { producerRegisterer = reg }

func initProducerMetrics() {
	producerMetricsOnce.Do(func() {
		f := promauto.With(producerRegisterer)
		producerMessages = f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalystpull_kafka_producer_messages_total",
			Help: "Messages written to Kafka by result",
		}, []string{"topic", "result"})
		producerErrors = f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalystpull_kafka_producer_errors_total",
			Help: "Messages that failed to reach Kafka, async completions included",
		}, []string{"topic"})
		producerBytes = f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalystpull_kafka_producer_bytes_total",
			Help: "Uncompressed payload bytes written",
		}, []string{"topic", "compression"})
		producerLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalystpull_kafka_producer_publish_seconds",
			Help:    "WriteMessages latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
	})
}
