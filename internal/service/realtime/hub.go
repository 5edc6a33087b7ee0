package realtime

import (
	"context"
	"sync"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	svcmetrics "CatalystPull/internal/service/metrics"
	applogger "CatalystPull/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultSubscriberBuffer is the per-connection backlog before events are dropped.
	DefaultSubscriberBuffer = 64
)

type subscriber struct {
	ch   chan models.ChangeEvent
	once sync.Once
}

// Hub fans change events out to subscribers. Delivery is at most once: a
// subscriber whose buffer is full misses the event, and nothing is replayed.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *applogger.Logger
}

func NewHub(l *applogger.Logger) *Hub {
	if l == nil {
		l = applogger.Nop()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: l}
}

// Subscribe registers a subscriber with the given buffer.
func (h *Hub) Subscribe(buffer int) (<-chan models.ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	s := &subscriber{ch: make(chan models.ChangeEvent, buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	svcmetrics.Subscribers.Set(float64(n))

	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			n := len(h.subs)
			close(s.ch)
			h.mu.Unlock()
			svcmetrics.Subscribers.Set(float64(n))
		})
	}
	return s.ch, cancel
}

// Broadcast hands ev to every subscriber without blocking.
func (h *Hub) Broadcast(ev models.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			svcmetrics.ChangesDropped.WithLabelValues("subscriber").Inc()
		}
	}
}

// Publish lets the hub stand in for the Kafka publisher when Kafka is disabled.
func (h *Hub) Publish(_ context.Context, ev models.ChangeEvent) error {
	h.Broadcast(ev)
	return nil
}

// Size reports the number of live subscribers.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Serve streams change events to conn until the peer goes away or ctx ends.
// Inbound frames are read only to process control messages.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	events, cancel := h.Subscribe(DefaultSubscriberBuffer)
	defer cancel()
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	h.logger.Debug("change subscriber connected", applogger.String("remote", conn.RemoteAddr().String()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			h.logger.Debug("change subscriber left", applogger.String("remote", conn.RemoteAddr().String()))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Warn("change write failed", applogger.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var (
	_ domrepo.ChangeFeed      = (*Hub)(nil)
	_ domrepo.ChangePublisher = (*Hub)(nil)
)
