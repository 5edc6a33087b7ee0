package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/retry"
)

// Message is a consumed record with its headers flattened.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

func (m Message) Header(key string) string { return m.Headers[key] }

func fromKafka(km kafka.Message) Message {
	msg := Message{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Time:      km.Time,
	}
	if len(km.Headers) > 0 {
		msg.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}

// MessageHandler handles messages from one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, msg Message) error
}

// Delivery selects when offsets are committed relative to handling.
type Delivery int

const (
	// AtLeastOnce commits after the handler succeeds or the message is
	// dead-lettered. Failures are retried.
	AtLeastOnce Delivery = iota
	// AtMostOnce commits on read, never retries and drops messages when
	// its worker is saturated.
	AtMostOnce
)

func (d Delivery) String() string {
	if d == AtMostOnce {
		return "at-most-once"
	}
	return "at-least-once"
}

type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Workers     int
	BufferSize  int
	MinBytes    int
	MaxBytes    int
	StartLatest bool
	Delivery    Delivery
	Retry       retry.Config
	DLQTopic    string
	Logger      *applogger.Logger
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(id string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = id }
}

// WithConsumerWorkers sets how many workers handle messages. Each
// partition is pinned to one worker so its order is kept.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithConsumerBufferSize bounds each worker's queue.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if minBytes > 0 {
			c.MinBytes = minBytes
		}
		if maxBytes > 0 {
			c.MaxBytes = maxBytes
		}
	}
}

// WithConsumerStartLatest makes a new group begin at the log end instead
// of the oldest retained offset.
func WithConsumerStartLatest(latest bool) ConsumerOption {
	return func(c *ConsumerConfig) { c.StartLatest = latest }
}

func WithConsumerDelivery(d Delivery) ConsumerOption {
	return func(c *ConsumerConfig) { c.Delivery = d }
}

// WithConsumerRetry sets the per-message retry policy for at-least-once
// delivery.
func WithConsumerRetry(r retry.Config) ConsumerOption {
	return func(c *ConsumerConfig) { c.Retry = r }
}

// WithConsumerDLQ dead-letters messages that exhaust their retries.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

type job struct {
	handler MessageHandler
	km      kafka.Message
}

// Consumer reads registered topics and fans messages out to a fixed set of
// workers, sharded by partition.
type Consumer struct {
	cfg      ConsumerConfig
	log      *applogger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	shards   []chan job
	hook     Hook
	dlq      *kafka.Writer

	// ctx stops fetching; work bounds handling and is only cancelled when
	// a drain times out.
	ctx       context.Context
	cancel    context.CancelFunc
	work      context.Context
	abort     context.CancelFunc
	readersWg sync.WaitGroup
	workersWg sync.WaitGroup
	stopOnce  sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := ConsumerConfig{
		GroupID:    "default",
		Workers:    1,
		BufferSize: 64,
		MinBytes:   1,
		MaxBytes:   10e6,
		Retry:      retry.New(retry.WithMaxAttempts(3), retry.WithBackoff(50*time.Millisecond, 2, 2*time.Second)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}
	if cfg.Delivery == AtMostOnce {
		cfg.Retry.MaxAttempts = 1
	}
	initConsumerMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	work, abort := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		hook:     Chain(),
		ctx:      ctx,
		cancel:   cancel,
		work:     work,
		abort:    abort,
	}
	if cfg.DLQTopic != "" && cfg.Delivery == AtLeastOnce {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// RegisterHandler binds handler to its topic. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("kafka consumer: handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// Use installs hooks around every handler call.
func (c *Consumer) Use(hooks ...Hook) {
	c.hook = Chain(hooks...)
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}
	start := kafka.FirstOffset
	if c.cfg.StartLatest {
		start = kafka.LastOffset
	}

	c.shards = make([]chan job, c.cfg.Workers)
	for i := range c.shards {
		c.shards[i] = make(chan job, c.cfg.BufferSize)
		c.workersWg.Add(1)
		go c.runWorker(c.shards[i])
	}
	for topic, h := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: start,
		})
		c.readers[topic] = r
		c.readersWg.Add(1)
		go c.read(r, h)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("workers", c.cfg.Workers),
		applogger.Int("topics", len(c.readers)),
		applogger.String("delivery", c.cfg.Delivery.String()),
	)
	return nil
}

// Stop halts fetching, lets workers drain their queues, then closes the
// readers. If ctx expires first, in-flight handling is cancelled and the
// error says so.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.readersWg.Wait()
		for _, ch := range c.shards {
			close(ch)
		}

		done := make(chan struct{})
		go func() {
			c.workersWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.abort()
			<-done
			err = fmt.Errorf("kafka consumer: drain: %w", ctx.Err())
		}
		c.abort()

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
		if err == nil {
			c.log.Info("kafka consumer stopped")
		}
	})
	return err
}

func (c *Consumer) read(r *kafka.Reader, h MessageHandler) {
	defer c.readersWg.Done()
	topic := h.Topic()
	for {
		var (
			km  kafka.Message
			err error
		)
		if c.cfg.Delivery == AtMostOnce {
			km, err = r.ReadMessage(c.ctx)
		} else {
			km, err = r.FetchMessage(c.ctx)
		}
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka consumer: read failed", applogger.String("topic", topic), applogger.Error(err))
			if retry.SleepContext(c.ctx, 500*time.Millisecond) != nil {
				return
			}
			continue
		}

		shard := c.shards[shardFor(km.Topic, km.Partition, len(c.shards))]
		j := job{handler: h, km: km}
		if c.cfg.Delivery == AtMostOnce {
			select {
			case shard <- j:
			default:
				consumerDropped.WithLabelValues(topic).Inc()
			}
		} else {
			select {
			case shard <- j:
			case <-c.ctx.Done():
				return
			}
		}
		consumerQueueDepth.WithLabelValues(topic).Set(float64(len(shard)))
	}
}

func shardFor(topic string, partition, n int) int {
	if n <= 1 {
		return 0
	}
	return int((xxhash.Sum64String(topic) + uint64(partition)) % uint64(n))
}

func (c *Consumer) runWorker(ch <-chan job) {
	defer c.workersWg.Done()
	for j := range ch {
		c.process(j)
	}
}

func (c *Consumer) process(j job) {
	start := time.Now()
	msg := fromKafka(j.km)

	ctx, err := c.hook.Before(c.work, &msg)
	if err == nil {
		err = retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
			return safeHandle(ctx, j.handler, msg)
		})
	}
	c.hook.After(ctx, &msg, err)

	result := "ok"
	if err != nil {
		result = "error"
	}
	consumerMessages.WithLabelValues(msg.Topic, result).Inc()
	consumerHandleLatency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())

	if c.cfg.Delivery == AtMostOnce || c.work.Err() != nil {
		return
	}
	if err != nil && c.dlq != nil {
		if derr := c.deadLetter(j.km, err); derr != nil {
			c.log.Error("kafka consumer: dlq write failed", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(derr))
			return
		}
	}
	if err == nil || c.dlq != nil {
		c.commit(j.km)
	}
}

func safeHandle(ctx context.Context, h MessageHandler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, msg)
}

func (c *Consumer) deadLetter(km kafka.Message, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	headers := append([]kafka.Header{}, km.Headers...)
	headers = append(headers,
		kafka.Header{Key: "source_topic", Value: []byte(km.Topic)},
		kafka.Header{Key: "source_partition", Value: []byte(strconv.Itoa(km.Partition))},
		kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	return c.dlq.WriteMessages(ctx, kafka.Message{Key: km.Key, Value: km.Value, Headers: headers})
}

func (c *Consumer) commit(km kafka.Message) {
	r := c.readers[km.Topic]
	if r == nil {
		return
	}
	policy := retry.New(retry.WithMaxAttempts(3), retry.WithBackoff(50*time.Millisecond, 2, 500*time.Millisecond))
	err := retry.Do(context.Background(), policy, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return r.CommitMessages(ctx, km)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("kafka consumer: commit failed",
			applogger.String("topic", km.Topic),
			applogger.Int("partition", km.Partition),
			applogger.Int64("offset", km.Offset),
			applogger.Error(err),
		)
	}
}

var (
	consumerMetricsOnce sync.Once
	consumerRegisterer  prometheus.Registerer = prometheus.DefaultRegisterer

	consumerMessages      *prometheus.CounterVec
	consumerDropped       *prometheus.CounterVec
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
)

// SetConsumerMetricsRegisterer must be called before the first NewConsumer.
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetrics() {
	consumerMetricsOnce.Do(func() {
		f := promauto.With(consumerRegisterer)
		consumerMessages = f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalystpull_kafka_consumer_messages_total",
			Help: "Messages handled by result",
		}, []string{"topic", "result"})
		consumerDropped = f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalystpull_kafka_consumer_dropped_total",
			Help: "Messages dropped by at-most-once consumers with a saturated worker",
		}, []string{"topic"})
		consumerQueueDepth = f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalystpull_kafka_consumer_queue_depth",
			Help: "Messages waiting in the worker queue last written to",
		}, []string{"topic"})
		consumerHandleLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "catalystpull_kafka_consumer_handle_seconds",
			Help: "Handling time per message, retries included",
		}, []string{"topic"})
	})
}
