package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) all() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestLoggerWritesTypedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.InfoLevel).With(String("env", "test"))

	l.Debug("hidden")
	l.Info("ingested", String("source", "filings"), Int("inserted", 3), Duration("took", 1500*time.Millisecond))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ingested", line["message"])
	assert.Equal(t, "test", line["env"])
	assert.Equal(t, "filings", line["source"])
	assert.EqualValues(t, 3, line["inserted"])
	assert.EqualValues(t, 1500, line["took"])
	assert.Contains(t, line["caller"], "logger_test.go")
}

func TestCollectorAggregatesRepeats(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	child := l.With(String("component", "ingest"))
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Service: "svc", Publisher: pub})

	for i := 0; i < 3; i++ {
		child.Error("fetch failed", Error(errors.New("timeout")))
	}
	child.Warn("below threshold")
	child.Error("other failure")
	l.RemoveCollector()

	entries := pub.all()
	require.Len(t, entries, 2)
	byMsg := map[string]AggregatedLogEntry{}
	for _, e := range entries {
		byMsg[e.Message] = e
	}
	fetch := byMsg["fetch failed"]
	assert.Equal(t, 3, fetch.Count)
	assert.Equal(t, "timeout", fetch.Fields["error"])
	assert.Equal(t, "svc", fetch.Service)
	assert.Equal(t, "error", fetch.Level)
	assert.Equal(t, 1, byMsg["other failure"].Count)
}

func TestCollectorMinLevelAndThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, MinLevel: "warn", Publisher: pub})
	assert.Equal(t, zerolog.WarnLevel, c.minLevel)

	c.AddLog("warn", "a", nil, "x.go:1")
	c.AddLog("warn", "a", map[string]interface{}{"k": 1}, "x.go:1")
	c.Flush()
	assert.Len(t, pub.all(), 2)

	c.Close()
	c.Close()
}

func TestEntryKeyIgnoresMapOrder(t *testing.T) {
	a := entryKey("error", "m", map[string]interface{}{"a": 1, "b": 2}, "c")
	b := entryKey("error", "m", map[string]interface{}{"b": 2, "a": 1}, "c")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, entryKey("warn", "m", map[string]interface{}{"a": 1, "b": 2}, "c"))
}
