package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalystPull/internal/domain/models"
	pkgmetrics "CatalystPull/pkg/metrics"
)

type sinkPublisher struct {
	mu       sync.Mutex
	got      []models.ChangeEvent
	failures int
}

func (s *sinkPublisher) Publish(_ context.Context, ev models.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.got = append(s.got, ev)
	return nil
}

func (s *sinkPublisher) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.got))
	for _, ev := range s.got {
		out = append(out, ev.Catalyst.ID)
	}
	return out
}

func insert(id string) models.ChangeEvent {
	return models.ChangeEvent{Op: models.ChangeInsert, Catalyst: models.Catalyst{ID: id, Ticker: "MRK"}}
}

func TestNotifierForwardsInOrder(t *testing.T) {
	sink := &sinkPublisher{}
	n := NewChangeNotifier(sink, pkgmetrics.Nop{})
	n.Start(context.Background())
	defer n.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, n.Publish(context.Background(), insert(id)))
	}
	require.Eventually(t, func() bool { return len(sink.ids()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, sink.ids())
	assert.False(t, sink.got[0].At.IsZero())
}

func TestNotifierRetriesOnce(t *testing.T) {
	sink := &sinkPublisher{failures: 1}
	n := NewChangeNotifier(sink, pkgmetrics.Nop{})
	n.Start(context.Background())
	defer n.Stop()

	require.NoError(t, n.Publish(context.Background(), insert("a")))
	require.Eventually(t, func() bool { return len(sink.ids()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	sink := &sinkPublisher{}
	n := NewChangeNotifier(sink, pkgmetrics.Nop{}, WithBufferSize(2))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, n.Publish(context.Background(), insert(id)))
	}
	assert.Equal(t, 2, n.Pending())
}

func TestNotifierRejectsInvalidEvents(t *testing.T) {
	n := NewChangeNotifier(&sinkPublisher{}, pkgmetrics.Nop{})

	assert.Error(t, n.Publish(context.Background(), models.ChangeEvent{Op: "upsert", Catalyst: models.Catalyst{ID: "a", Ticker: "X"}}))
	assert.Error(t, n.Publish(context.Background(), models.ChangeEvent{Op: models.ChangeDelete}))
	assert.Zero(t, n.Pending())
}

func TestNotifierRestartsAfterStop(t *testing.T) {
	sink := &sinkPublisher{}
	n := NewChangeNotifier(sink, pkgmetrics.Nop{})

	n.Start(context.Background())
	require.NoError(t, n.Publish(context.Background(), insert("a")))
	require.Eventually(t, func() bool { return len(sink.ids()) == 1 }, time.Second, 5*time.Millisecond)
	n.Stop()
	n.Stop()

	require.NoError(t, n.Publish(context.Background(), insert("b")))
	n.Start(context.Background())
	defer n.Stop()

	require.Eventually(t, func() bool { return len(sink.ids()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, sink.ids())
}
