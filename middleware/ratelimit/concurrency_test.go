package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/infra"
)

type rejectRecorder struct {
	mu      sync.Mutex
	reasons []error
}

func (r *rejectRecorder) record(reason error) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *rejectRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.reasons...)
}

func TestConcurrencyMiddleware_SharedPoolTimesOutWithReason(t *testing.T) {
	pool := infra.NewInflightPool(1)
	rejects := &rejectRecorder{}

	var seen int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = pool.InFlight()
		w.WriteHeader(http.StatusOK)
	})
	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		Pool:           pool,
		AcquireTimeout: 20 * time.Millisecond,
		OnReject:       rejects.record,
	})(next)

	// outra parte do processo segura a única vaga do pool compartilhado
	hold, ok := pool.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected to acquire the only slot")
	}

	w := serve(h, http.MethodGet, "http://example/", "10.0.0.1:1234", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a free slot, got %d", w.Code)
	}
	reasons := rejects.all()
	if len(reasons) != 1 || !errors.Is(reasons[0], context.DeadlineExceeded) {
		t.Fatalf("expected one DeadlineExceeded reject, got %v", reasons)
	}
	if got := pool.InFlight(); got != 1 {
		t.Fatalf("expected rejected request to leave in-flight at 1, got %d", got)
	}

	hold()
	w = serve(h, http.MethodGet, "http://example/", "10.0.0.1:1234", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after slot release, got %d", w.Code)
	}
	if seen != 1 {
		t.Fatalf("expected handler to run holding a slot, in-flight was %d", seen)
	}
	if got := pool.InFlight(); got != 0 {
		t.Fatalf("expected slot released after response, got in-flight %d", got)
	}
	if got := len(rejects.all()); got != 1 {
		t.Fatalf("expected no new rejects, got %d", got)
	}
}

func TestConcurrencyMiddleware_ClientCancelReportsCanceled(t *testing.T) {
	pool := infra.NewInflightPool(1)
	hold, _ := pool.Acquire(context.Background())
	defer hold()

	rejects := &rejectRecorder{}
	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:          1,
		Pool:         pool,
		RejectStatus: http.StatusTooManyRequests,
		OnReject:     rejects.record,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("handler must not run without a slot")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected custom reject status 429, got %d", w.Code)
	}
	reasons := rejects.all()
	if len(reasons) != 1 || !errors.Is(reasons[0], context.Canceled) {
		t.Fatalf("expected one Canceled reject, got %v", reasons)
	}
}

func TestConcurrencyMiddleware_DisabledPassesThrough(t *testing.T) {
	// pool cheio de propósito: com Max <= 0 ele nem é consultado
	pool := infra.NewInflightPool(1)
	hold, _ := pool.Acquire(context.Background())
	defer hold()

	rejects := &rejectRecorder{}
	calls := 0
	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:      0,
		Pool:     pool,
		OnReject: rejects.record,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		if w := serve(h, http.MethodGet, "http://example/", "10.0.0.1:1234", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 handler calls, got %d", calls)
	}
	if got := len(rejects.all()); got != 0 {
		t.Fatalf("expected no rejects, got %d", got)
	}
}

func TestConcurrencyMiddleware_DefaultPoolBoundsInflight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		AcquireTimeout: 25 * time.Millisecond,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan int, 1)
	go func() {
		done <- serve(h, http.MethodGet, "http://example/", "10.0.0.1:1234", nil).Code
	}()

	select {
	case <-started:
	case <-time.After(500 * time.Millisecond):
		close(release)
		t.Fatalf("timeout waiting first request to start")
	}

	if w := serve(h, http.MethodGet, "http://example/", "10.0.0.2:1234", nil); w.Code != http.StatusServiceUnavailable {
		close(release)
		t.Fatalf("expected default reject 503 while the slot is held, got %d", w.Code)
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", code)
	}
}
