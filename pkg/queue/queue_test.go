package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backfillRequest struct {
	Source   string `json:"source"`
	Inserted int    `json:"inserted"`
}

func TestDecodePayload(t *testing.T) {
	msg := Message{Type: "embedding.backfill", Payload: json.RawMessage(`{"source":"filings","inserted":4}`)}
	got, err := Decode[backfillRequest](msg)
	require.NoError(t, err)
	assert.Equal(t, backfillRequest{Source: "filings", Inserted: 4}, got)

	empty, err := Decode[backfillRequest](Message{})
	require.NoError(t, err)
	assert.Zero(t, empty)

	_, err = Decode[backfillRequest](Message{Type: "x", Payload: json.RawMessage(`[1]`)})
	assert.ErrorContains(t, err, "decode x payload")
}

func TestPublishRejectsUnknownTypeOnConsumer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	q := NewRedisQueue(client)
	noop := JobFunc{MsgType: "embedding.backfill", Fn: func(context.Context, Message) error { return nil }}
	q.Register(noop, noop)
	assert.Len(t, q.jobs, 1)

	err := q.Publish(context.Background(), "unknown", nil)
	assert.ErrorContains(t, err, `no job registered for type "unknown"`)
}

func TestKeysUsePrefix(t *testing.T) {
	q := NewRedisQueue(nil, WithKeyPrefix("cp:queue:embeddings"), WithWorkers(0))
	assert.Equal(t, "cp:queue:embeddings:ready", q.readyKey())
	assert.Equal(t, "cp:queue:embeddings:retry", q.retryKey())
	assert.Equal(t, "cp:queue:embeddings:dead", q.deadKey())
	assert.Equal(t, 1, q.workers)
}
