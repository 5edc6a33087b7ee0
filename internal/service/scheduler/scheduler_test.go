package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(nil)
	err := s.Add(Task{Name: "bad", Spec: "not a cron", Run: func(context.Context) error { return nil }})
	require.Error(t, err)
}

func TestAddRejectsDuplicate(t *testing.T) {
	s := New(nil)
	task := Task{Name: "regulatory", Spec: "0 */6 * * *", Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Add(task))
	require.Error(t, s.Add(task))
}

func TestEmptySpecDisablesTask(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(Task{Name: "off", Run: func(context.Context) error { return nil }}))
	_, ok := s.Next("off")
	assert.False(t, ok)
}

func TestNextAfterStart(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(Task{Name: "freshness", Spec: "0 * * * *", Run: func(context.Context) error { return nil }}))
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
	}()

	next, ok := s.Next("freshness")
	require.True(t, ok)
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestRunCancelledOnStop(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	finished := make(chan error, 1)
	task := Task{Name: "slow", Spec: "@every 1h", Timeout: time.Minute, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	}}
	go s.run(task)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled")
	}
}
