package store

import (
	"context"
	"sync"
	"time"
)

type LocalStore struct {
	mu       sync.RWMutex
	counters map[string]localCounter
	blocks   map[string]localEntry
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

type localCounter struct {
	value  int64
	expiry time.Time
}

type localEntry struct {
	kind   string
	expiry time.Time
}

func (e localEntry) live(now time.Time) bool {
	return e.expiry.IsZero() || now.Before(e.expiry)
}

func NewLocalStore() *LocalStore {
	s := &LocalStore{
		counters: make(map[string]localCounter),
		blocks:   make(map[string]localEntry),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go s.cleanupLoop(time.Minute)
	return s
}

func (s *LocalStore) Increment(_ context.Context, key string, expiration time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || (!c.expiry.IsZero() && !now.Before(c.expiry)) {
		c = localCounter{}
		if expiration > 0 {
			c.expiry = now.Add(expiration)
		}
	}
	c.value++
	s.counters[key] = c
	return c.value, nil
}

func (s *LocalStore) IsBlocked(_ context.Context, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blocks[key]
	return ok && b.live(s.now())
}

func (s *LocalStore) Block(_ context.Context, key string, expiration time.Duration, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiry time.Time
	if expiration > 0 {
		expiry = s.now().Add(expiration)
	}
	s.blocks[key] = localEntry{kind: kind, expiry: expiry}
	return nil
}

func (s *LocalStore) Unblock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, key)
	return nil
}

func (s *LocalStore) ListBlocks(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	res := make(map[string]string, len(s.blocks))
	for k, v := range s.blocks {
		if v.live(now) {
			res[k] = v.kind
		}
	}
	return res, nil
}

func (s *LocalStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *LocalStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *LocalStore) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, v := range s.blocks {
		if !v.live(now) {
			delete(s.blocks, k)
		}
	}
	for k, c := range s.counters {
		if !c.expiry.IsZero() && !now.Before(c.expiry) {
			delete(s.counters, k)
		}
	}
}
