package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultMemoryTTL = 24 * time.Hour

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time
	lease    bool
}

// MemoryCache is a size-bounded LRU Service held in process memory. It backs
// single-node deployments and tests, and is the first layer of LayeredCache.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	maxSize int
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}

	mc := &MemoryCache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: cfg.MaxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go mc.sweep(cfg.CleanupInterval)
	}
	return mc
}

// Len reports the number of live entries, leases included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.order.Len()
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(&memoryEntry{key: key, value: raw, expireAt: mc.now().Add(ttl)})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	e, ok := mc.live(key)
	if !ok || e.lease {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	raw := e.value
	mc.mu.Unlock()
	return decode(raw, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		mc.remove(k)
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, held := mc.live(key); held {
		return false, nil
	}
	mc.put(&memoryEntry{key: key, expireAt: mc.now().Add(ttl), lease: true})
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if el, ok := mc.items[key]; ok && el.Value.(*memoryEntry).lease {
		mc.remove(key)
	}
	return nil
}

// Close stops the background sweep.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

// live returns the entry for key, dropping it when expired. Caller holds mu.
func (mc *MemoryCache) live(key string) (*memoryEntry, bool) {
	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memoryEntry)
	if !mc.now().Before(e.expireAt) {
		mc.remove(key)
		return nil, false
	}
	mc.order.MoveToFront(el)
	return e, true
}

func (mc *MemoryCache) put(e *memoryEntry) {
	if el, ok := mc.items[e.key]; ok {
		el.Value = e
		mc.order.MoveToFront(el)
		return
	}
	for mc.order.Len() >= mc.maxSize {
		oldest := mc.order.Back()
		if oldest == nil {
			break
		}
		mc.remove(oldest.Value.(*memoryEntry).key)
	}
	mc.items[e.key] = mc.order.PushFront(e)
}

func (mc *MemoryCache) remove(key string) {
	if el, ok := mc.items[key]; ok {
		mc.order.Remove(el)
		delete(mc.items, key)
	}
}

func (mc *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-t.C:
			mc.mu.Lock()
			now := mc.now()
			for key, el := range mc.items {
				if !now.Before(el.Value.(*memoryEntry).expireAt) {
					mc.remove(key)
				}
			}
			mc.mu.Unlock()
		}
	}
}
