package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalystPull/internal/domain/models"
)

func change(id string) models.ChangeEvent {
	return models.ChangeEvent{Op: models.ChangeInsert, Catalyst: models.Catalyst{ID: id, Ticker: "AAPL"}, At: time.Now().UTC()}
}

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	h := NewHub(nil)
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelA()
	defer cancelB()
	assert.Equal(t, 2, h.Size())

	require.NoError(t, h.Publish(context.Background(), change("c1")))

	assert.Equal(t, "c1", (<-a).Catalyst.ID)
	assert.Equal(t, "c1", (<-b).Catalyst.ID)
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	h := NewHub(nil)
	slow, cancel := h.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Broadcast(change("c1"))
		h.Broadcast(change("c2"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}

	assert.Equal(t, "c1", (<-slow).Catalyst.ID)
	select {
	case ev := <-slow:
		t.Fatalf("unexpected event %s", ev.Catalyst.ID)
	default:
	}
}

func TestCancelClosesChannelOnce(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe(0)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.Size())

	// broadcasting after cancel must not panic on the closed channel
	h.Broadcast(change("c1"))
}

func TestServeStreamsJSON(t *testing.T) {
	h := NewHub(nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(r.Context(), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Size() == 1 }, time.Second, 10*time.Millisecond)
	h.Broadcast(change("c42"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.ChangeEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.ChangeInsert, got.Op)
	assert.Equal(t, "c42", got.Catalyst.ID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Size() == 0 }, 2*time.Second, 10*time.Millisecond)
}
