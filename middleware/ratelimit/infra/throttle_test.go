package infra

import (
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

func TestThrottle_GetSameKeyReturnsSameLimiter(t *testing.T) {
	s := NewThrottle(60, 1)

	l1 := s.Get(domain.Key("k"))
	l2 := s.Get(domain.Key("k"))
	if l1 != l2 {
		t.Fatalf("expected same limiter pointer for same key")
	}
}

func TestThrottle_LowRateRejectsSecondImmediateAllow(t *testing.T) {
	s := NewThrottle(1, 1)

	lim := s.Get(domain.Key("k"))
	if !lim.Allow() {
		t.Fatalf("expected first Allow to be true")
	}
	if lim.Allow() {
		t.Fatalf("expected second immediate Allow to be false (burst=1)")
	}
	if !s.Get(domain.Key("other")).Allow() {
		t.Fatalf("expected independent bucket per key")
	}
}

func TestThrottle_CleanupRemovesIdleEntries(t *testing.T) {
	s := NewThrottle(60, 1, WithIdleTTL(2*time.Millisecond), WithCleanupEvery(0))

	before := s.Get(domain.Key("k"))
	time.Sleep(4 * time.Millisecond)

	s.Cleanup()

	after := s.Get(domain.Key("k"))
	if before == after {
		t.Fatalf("expected limiter to be recreated after cleanup")
	}
}

func TestThrottle_RPSFromPerMinute(t *testing.T) {
	s := NewThrottle(120, 0)
	if s.RPS() != 2 {
		t.Fatalf("expected 2 rps, got %v", s.RPS())
	}
	if s.Burst() != 1 {
		t.Fatalf("expected burst clamped to 1, got %d", s.Burst())
	}
}
