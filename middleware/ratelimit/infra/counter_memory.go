package infra

import (
	"context"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore é o contador local (por processo) usado como fallback do Redis
// e pelos alertas do dispatcher. Consistência é por instância; é imune a clock skew
// entre nós porque só existe um relógio.
type MemoryCounterStore struct {
	shards       *shardSet[counterEntry]
	now          func() time.Time
	cleanupEvery time.Duration
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

type MemoryCounterOption func(*MemoryCounterStore)

func WithCounterClock(now func() time.Time) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func WithCounterCleanupEvery(d time.Duration) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		shards:       newShardSet[counterEntry](),
		now:          time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func windowedKey(key string, start time.Time) string {
	return key + ":" + strconv.FormatInt(start.Unix(), 10)
}

// Increment implementa domain.CounterStore.
func (s *MemoryCounterStore) Increment(_ context.Context, key string, window time.Duration) (domain.Count, error) {
	now := s.now()
	start := domain.WindowStart(now, window)
	k := windowedKey(key, start)

	sh := s.shards.pick(k)
	sh.mu.Lock()
	e, ok := sh.m[k]
	if !ok || !now.Before(e.expiresAt) {
		e = counterEntry{expiresAt: start.Add(window)}
	}
	e.count++
	sh.m[k] = e
	sh.mu.Unlock()

	return domain.Count{Value: e.count, WindowStart: start, ResetAt: e.expiresAt}, nil
}

func (s *MemoryCounterStore) Peek(_ context.Context, key string, window time.Duration) (domain.Count, error) {
	now := s.now()
	start := domain.WindowStart(now, window)
	k := windowedKey(key, start)

	sh := s.shards.pick(k)
	sh.mu.Lock()
	e, ok := sh.m[k]
	sh.mu.Unlock()

	c := domain.Count{WindowStart: start, ResetAt: start.Add(window)}
	if ok && now.Before(e.expiresAt) {
		c.Value = e.count
	}
	return c, nil
}

// Cleanup remove janelas expiradas.
func (s *MemoryCounterStore) Cleanup() int {
	now := s.now()
	return s.shards.sweep(func(e counterEntry) bool { return !now.Before(e.expiresAt) })
}

func (s *MemoryCounterStore) Len() int { return s.shards.len() }

// StartJanitor inicia uma goroutine que limpa janelas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	startJanitor(ctx, s.cleanupEvery, func() { s.Cleanup() })
}

func startJanitor(ctx context.Context, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}
