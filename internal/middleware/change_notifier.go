package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	svcmetrics "CatalystPull/internal/service/metrics"
)

// ChangeNotifier sits between the upserter and the change transport. Publish
// never blocks the write path: events are buffered and dropped when the
// buffer is full.
type ChangeNotifier struct {
	next    domrepo.ChangePublisher
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan models.ChangeEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

type NotifierOption func(*ChangeNotifier)

// WithBufferSize sets the number of pending notifications kept in memory.
func WithBufferSize(n int) NotifierOption {
	return func(p *ChangeNotifier) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func NewChangeNotifier(next domrepo.ChangePublisher, metrics domrepo.Metrics, opts ...NotifierOption) *ChangeNotifier {
	p := &ChangeNotifier{
		next:    next,
		metrics: metrics,
		bufSize: 1000,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.ChangeEvent, p.bufSize)
	return p
}

// Start launches the goroutine forwarding buffered events downstream. A
// stopped notifier can be started again; events buffered while stopped are
// forwarded then.
func (p *ChangeNotifier) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	p.stopCh, p.doneCh = stopCh, doneCh
	p.mu.Unlock()

	go func() {
		defer close(doneCh)
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case ev := <-p.bufCh:
				if err := p.next.Publish(ctx, ev); err != nil {
					// one delayed retry, then the event is gone
					p.metrics.RecordError("notifier_forward")
					if backoff < 2*time.Second {
						backoff *= 2
					}
					select {
					case <-time.After(backoff):
					case <-stopCh:
						return
					}
					if err := p.next.Publish(ctx, ev); err != nil {
						p.drop("forward")
					}
					continue
				}
				backoff = 50 * time.Millisecond
			}
		}
	}()
}

// Stop ends forwarding. Pending events stay buffered until the next Start.
func (p *ChangeNotifier) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()
	close(stopCh)
	<-doneCh
}

// Publish validates and buffers ev.
func (p *ChangeNotifier) Publish(_ context.Context, ev models.ChangeEvent) error {
	if err := validateChange(ev); err != nil {
		p.metrics.RecordError("notifier_validate")
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case p.bufCh <- ev:
		return nil
	default:
		p.drop("notifier")
		return nil
	}
}

// Pending reports the number of buffered events.
func (p *ChangeNotifier) Pending() int { return len(p.bufCh) }

func (p *ChangeNotifier) drop(stage string) {
	p.metrics.RecordError("notifier_drop")
	svcmetrics.ChangesDropped.WithLabelValues(stage).Inc()
}

func validateChange(ev models.ChangeEvent) error {
	switch ev.Op {
	case models.ChangeInsert, models.ChangeUpdate, models.ChangeDelete:
	default:
		return fmt.Errorf("unknown change op %q", ev.Op)
	}
	if ev.Catalyst.ID == "" || ev.Catalyst.Ticker == "" {
		return fmt.Errorf("change without catalyst identity")
	}
	return nil
}

var _ domrepo.ChangePublisher = (*ChangeNotifier)(nil)
