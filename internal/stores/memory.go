package stores

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Memory is a process-local challenge store split into independently locked
// shards. Expired entries are dropped when read and by Sweep.
type Memory struct {
	shards []memoryShard
	now    func() time.Time

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type memoryShard struct {
	mu    sync.Mutex
	items map[string]Record
}

// NewMemory returns an empty store with the given number of shards.
func NewMemory(shards int, now func() time.Time) *Memory {
	if shards <= 0 {
		shards = 32
	}
	if now == nil {
		now = time.Now
	}
	m := &Memory{
		shards: make([]memoryShard, shards),
		now:    now,
		stop:   make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i].items = make(map[string]Record)
	}
	return m
}

func (m *Memory) shard(key string) *memoryShard {
	return &m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func (m *Memory) Put(_ context.Context, key string, r Record) error {
	s := m.shard(key)
	s.mu.Lock()
	s.items[key] = r.clone()
	s.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Record, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if r.Expired(m.now()) {
		delete(s.items, key)
		return Record{}, ErrNotFound
	}
	return r.clone(), nil
}

func (m *Memory) DecrementAttempts(_ context.Context, key string) (int, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[key]
	if !ok {
		return 0, ErrNotFound
	}
	if r.Expired(m.now()) {
		delete(s.items, key)
		return 0, ErrNotFound
	}

	r.Attempts--
	if r.Attempts <= 0 {
		delete(s.items, key)
		return 0, nil
	}
	s.items[key] = r
	return r.Attempts, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, r := range s.items {
			if r.Expired(now) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of entries held, expired or not.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// StartSweeper runs Sweep every interval until Close. onSweep, if set,
// receives the count of each pass.
func (m *Memory) StartSweeper(interval time.Duration, onSweep func(int)) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := m.Sweep()
				if onSweep != nil {
					onSweep(n)
				}
			case <-m.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper. It is safe to call more than once.
func (m *Memory) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}
