package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMemoryCounterStore_FixedWindow(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_010, 0))
	s := NewMemoryCounterStore(WithCounterClock(clock.Now), WithCounterCleanupEvery(0))
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		c, err := s.Increment(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if c.Value != i {
			t.Fatalf("expected count %d, got %d", i, c.Value)
		}
		if c.WindowStart.Unix() != 1_699_999_980 {
			t.Fatalf("expected aligned window start, got %d", c.WindowStart.Unix())
		}
		if c.Degraded {
			t.Fatalf("memory store should not flag degraded by itself")
		}
	}

	clock.Advance(30 * time.Second)
	c, _ := s.Increment(ctx, "k", time.Minute)
	if c.Value != 1 {
		t.Fatalf("expected new window to restart at 1, got %d", c.Value)
	}
	if got := c.WindowRemaining(clock.Now()); got != 60*time.Second {
		t.Fatalf("expected 60s remaining, got %s", got)
	}
}

func TestMemoryCounterStore_PeekDoesNotIncrement(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	s := NewMemoryCounterStore(WithCounterClock(clock.Now))
	ctx := context.Background()

	_, _ = s.Increment(ctx, "k", time.Minute)
	_, _ = s.Increment(ctx, "k", time.Minute)

	for i := 0; i < 3; i++ {
		c, _ := s.Peek(ctx, "k", time.Minute)
		if c.Value != 2 {
			t.Fatalf("expected peek 2, got %d", c.Value)
		}
	}
	if c, _ := s.Peek(ctx, "other", time.Minute); c.Value != 0 {
		t.Fatalf("expected 0 for unknown key, got %d", c.Value)
	}
}

func TestMemoryCounterStore_CleanupRemovesExpiredWindows(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	s := NewMemoryCounterStore(WithCounterClock(clock.Now))
	ctx := context.Background()

	_, _ = s.Increment(ctx, "a", time.Second)
	_, _ = s.Increment(ctx, "b", time.Minute)
	clock.Advance(2 * time.Second)

	if removed := s.Cleanup(); removed != 1 {
		t.Fatalf("expected 1 expired entry removed, got %d", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", s.Len())
	}
}

func TestMemoryCounterStore_NoDoubleCountingUnderConcurrency(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("count equals number of increments", prop.ForAll(
		func(workers, perWorker int) bool {
			clock := newFakeClock(time.Unix(1_700_000_000, 0))
			s := NewMemoryCounterStore(WithCounterClock(clock.Now))

			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						_, _ = s.Increment(context.Background(), "shared", time.Minute)
					}
				}()
			}
			wg.Wait()

			c, _ := s.Peek(context.Background(), "shared", time.Minute)
			return c.Value == int64(workers*perWorker)
		},
		gen.IntRange(1, 16),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
