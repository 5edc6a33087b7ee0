package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues a message for whichever worker handles msgType.
type Publisher interface {
	Publish(ctx context.Context, msgType string, payload interface{}) error
}

// Job handles one message type.
type Job interface {
	Type() string
	Handle(ctx context.Context, msg Message) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	MsgType string
	Fn      func(ctx context.Context, msg Message) error
}

func (j JobFunc) Type() string                                  { return j.MsgType }
func (j JobFunc) Handle(ctx context.Context, msg Message) error { return j.Fn(ctx, msg) }

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Decode unmarshals the payload into T.
func Decode[T any](msg Message) (T, error) {
	var out T
	if len(msg.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return out, nil
}

// Stats counts messages by state.
type Stats struct {
	Pending  int64 `json:"pending"`
	Retrying int64 `json:"retrying"`
	Dead     int64 `json:"dead"`
}
