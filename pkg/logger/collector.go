package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// Publisher ships a batch of aggregated entries, typically to Kafka.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush period, default 30s
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Service        string // stamped on every entry
	MinLevel       string // lowest level collected, default error
	Publisher      Publisher
}

// AggregatedLogEntry is one distinct (level, message, fields, caller) tuple
// with how often it fired during the window.
type AggregatedLogEntry struct {
	Service   string                 `json:"service,omitempty"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated log lines into counted entries and publishes
// them on a timer or when the window fills up.
type LogCollector struct {
	cfg      CollectionConfig
	minLevel zerolog.Level
	now      func() time.Time

	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry

	stop     chan struct{}
	wg       sync.WaitGroup
	closeOne sync.Once
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:      *cfg,
		minLevel: zerolog.ErrorLevel,
		now:      time.Now,
		entries:  make(map[uint64]*AggregatedLogEntry),
		stop:     make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if lvl, err := zerolog.ParseLevel(c.cfg.MinLevel); err == nil && c.cfg.MinLevel != "" {
		c.minLevel = lvl
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	key := entryKey(level, message, fields, caller)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Service:   c.cfg.Service,
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	var batch []AggregatedLogEntry
	if c.cfg.CountThreshold > 0 && len(c.entries) >= c.cfg.CountThreshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		go c.publish(batch)
	}
}

// Flush publishes the current window synchronously.
func (c *LogCollector) Flush() {
	c.mu.Lock()
	batch := c.drainLocked()
	c.mu.Unlock()
	c.publish(batch)
}

// Close stops the timer and flushes the remaining entries.
func (c *LogCollector) Close() {
	c.closeOne.Do(func() {
		close(c.stop)
		c.wg.Wait()
	})
}

func (c *LogCollector) loop() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Flush()
		case <-c.stop:
			c.Flush()
			return
		}
	}
}

func (c *LogCollector) drainLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[uint64]*AggregatedLogEntry)
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

func (c *LogCollector) publish(batch []AggregatedLogEntry) {
	if len(batch) == 0 || c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		// The logger is the thing failing here; stderr is the only sink left.
		fmt.Fprintf(os.Stderr, "log collector: publish %d entries to %s: %v\n", len(batch), c.cfg.Topic, err)
	}
}

// entryKey hashes the identity of a log line. json.Marshal sorts map keys,
// so equal field sets hash equally.
func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(level)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(message)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(caller)
	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err != nil {
			b = []byte(fmt.Sprint(fields))
		}
		_, _ = h.Write(b)
	}
	return h.Sum64()
}
