package infra

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryViolationStore guarda registros de violação por processo.
type MemoryViolationStore struct {
	shards       *shardSet[domain.ViolationRecord]
	now          func() time.Time
	ttl          time.Duration
	cleanupEvery time.Duration
}

type MemoryViolationOption func(*MemoryViolationStore)

// WithViolationTTL define por quanto tempo um registro sem penalidade ativa
// sobrevive ao último estouro.
func WithViolationTTL(d time.Duration) MemoryViolationOption {
	return func(s *MemoryViolationStore) { s.ttl = d }
}

func WithViolationClock(now func() time.Time) MemoryViolationOption {
	return func(s *MemoryViolationStore) { s.now = now }
}

func WithViolationCleanupEvery(d time.Duration) MemoryViolationOption {
	return func(s *MemoryViolationStore) { s.cleanupEvery = d }
}

func NewMemoryViolationStore(opts ...MemoryViolationOption) *MemoryViolationStore {
	s := &MemoryViolationStore{
		shards:       newShardSet[domain.ViolationRecord](),
		now:          time.Now,
		ttl:          2 * time.Hour,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryViolationStore) Get(_ context.Context, subject domain.Subject) (domain.ViolationRecord, error) {
	k := subject.String()
	sh := s.shards.pick(k)
	sh.mu.Lock()
	rec, ok := sh.m[k]
	sh.mu.Unlock()
	if !ok {
		return domain.ViolationRecord{Subject: subject}, nil
	}
	return rec, nil
}

func (s *MemoryViolationStore) Update(_ context.Context, subject domain.Subject, fn func(*domain.ViolationRecord)) (domain.ViolationRecord, error) {
	k := subject.String()
	sh := s.shards.pick(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.m[k]
	if !ok {
		rec = domain.ViolationRecord{Subject: subject}
	}
	fn(&rec)
	rec.Subject = subject
	sh.m[k] = rec
	return rec, nil
}

func (s *MemoryViolationStore) Delete(_ context.Context, subject domain.Subject) error {
	k := subject.String()
	sh := s.shards.pick(k)
	sh.mu.Lock()
	delete(sh.m, k)
	sh.mu.Unlock()
	return nil
}

// Cleanup remove registros sem penalidade ativa, sem estouro dentro do TTL e
// já fora do RetainUntil.
func (s *MemoryViolationStore) Cleanup() int {
	now := s.now()
	return s.shards.sweep(func(r domain.ViolationRecord) bool {
		return !r.Penalized(now) && !now.Before(r.LastViolationAt.Add(s.ttl)) && !now.Before(r.RetainUntil)
	})
}

func (s *MemoryViolationStore) StartJanitor(ctx context.Context) {
	startJanitor(ctx, s.cleanupEvery, func() { s.Cleanup() })
}
