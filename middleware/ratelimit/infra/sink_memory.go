package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryEventSink é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Guarda no máximo `keep` eventos (os mais recentes) e não é indicada para produção.
type MemoryEventSink struct {
	mu        sync.Mutex
	byType    map[domain.EventType]int64
	bySubject map[string]map[domain.EventType]int64
	events    []domain.Event
	keep      int

	trackSubjects bool
}

type MemoryEventOption func(*MemoryEventSink)

func WithTrackSubjects(track bool) MemoryEventOption {
	return func(s *MemoryEventSink) { s.trackSubjects = track }
}

func WithKeepEvents(n int) MemoryEventOption {
	return func(s *MemoryEventSink) { s.keep = n }
}

func NewMemoryEventSink(opts ...MemoryEventOption) *MemoryEventSink {
	s := &MemoryEventSink{
		byType:    make(map[domain.EventType]int64),
		bySubject: make(map[string]map[domain.EventType]int64),
		keep:      1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryEventSink) Record(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byType[ev.Type]++
	if s.trackSubjects && !ev.Subject.IsZero() {
		k := ev.Subject.String()
		m := s.bySubject[k]
		if m == nil {
			m = make(map[domain.EventType]int64)
			s.bySubject[k] = m
		}
		m[ev.Type]++
	}
	if s.keep > 0 {
		s.events = append(s.events, ev)
		if len(s.events) > s.keep {
			s.events = s.events[len(s.events)-s.keep:]
		}
	}
	return nil
}

func (s *MemoryEventSink) Count(t domain.EventType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byType[t]
}

func (s *MemoryEventSink) BySubject(subject domain.Subject) map[domain.EventType]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.EventType]int64, len(s.bySubject[subject.String()]))
	for k, v := range s.bySubject[subject.String()] {
		out[k] = v
	}
	return out
}

func (s *MemoryEventSink) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}
