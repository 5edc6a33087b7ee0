package kafka

import (
	"context"
	"fmt"
	"time"

	applogger "CatalystPull/pkg/logger"
)

// Hook wraps message handling. Before may enrich the context or veto the
// message; a veto is handled like a handler failure. After always runs and
// sees the final error.
type Hook interface {
	Before(ctx context.Context, msg *Message) (context.Context, error)
	After(ctx context.Context, msg *Message, err error)
}

// HookFuncs adapts plain functions to Hook. Nil fields are no-ops.
type HookFuncs struct {
	BeforeFn func(context.Context, *Message) (context.Context, error)
	AfterFn  func(context.Context, *Message, error)
}

func (h HookFuncs) Before(ctx context.Context, msg *Message) (context.Context, error) {
	if h.BeforeFn == nil {
		return ctx, nil
	}
	return h.BeforeFn(ctx, msg)
}

func (h HookFuncs) After(ctx context.Context, msg *Message, err error) {
	if h.AfterFn != nil {
		h.AfterFn(ctx, msg, err)
	}
}

// HookError is returned when a hook vetoes or panics.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *HookError) Unwrap() error { return e.Err }

// Chain runs Before in order and After in reverse. A panicking hook is
// contained and reported as ERR_PANIC.
func Chain(hooks ...Hook) Hook {
	out := make(chain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

type chain []Hook

func (c chain) Before(ctx context.Context, msg *Message) (context.Context, error) {
	for _, h := range c {
		next, err := safeBefore(h, ctx, msg)
		if err != nil {
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

func (c chain) After(ctx context.Context, msg *Message, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		safeAfter(c[i], ctx, msg, err)
	}
}

func safeBefore(h Hook, ctx context.Context, msg *Message) (out context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ctx, &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("%v", r)}
		}
	}()
	return h.Before(ctx, msg)
}

func safeAfter(h Hook, ctx context.Context, msg *Message, err error) {
	defer func() { _ = recover() }()
	h.After(ctx, msg, err)
}

type ctxKey string

const (
	// CtxStartTime holds when handling of the current message began.
	CtxStartTime ctxKey = "kafka_start_time"
	// CtxTraceID holds a correlation id. Producers copy it into the
	// trace_id header; the logging hook restores it on the consumer side.
	CtxTraceID ctxKey = "kafka_trace_id"
)

func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, CtxTraceID, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(CtxTraceID).(string)
	return id
}

// NewLoggingHook restores the trace id from headers and logs failures with
// their latency.
func NewLoggingHook(l *applogger.Logger) Hook {
	return HookFuncs{
		BeforeFn: func(ctx context.Context, msg *Message) (context.Context, error) {
			ctx = context.WithValue(ctx, CtxStartTime, time.Now())
			return WithTraceID(ctx, msg.Header("trace_id")), nil
		},
		AfterFn: func(ctx context.Context, msg *Message, err error) {
			if err == nil {
				return
			}
			fields := []applogger.Field{
				applogger.String("topic", msg.Topic),
				applogger.Int("partition", msg.Partition),
				applogger.Int64("offset", msg.Offset),
				applogger.Error(err),
			}
			if t, ok := ctx.Value(CtxStartTime).(time.Time); ok {
				fields = append(fields, applogger.Duration("latency_ms", time.Since(t)))
			}
			if id := TraceID(ctx); id != "" {
				fields = append(fields, applogger.String("trace_id", id))
			}
			l.Error("kafka message handling failed", fields...)
		},
	}
}
