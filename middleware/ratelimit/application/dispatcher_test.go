package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

type errSink struct{}

func (errSink) Record(context.Context, domain.Event) error { return errors.New("sink down") }

// blockingSink segura cada Record até release fechar.
type blockingSink struct {
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{}), started: make(chan struct{})}
}

func (s *blockingSink) Record(ctx context.Context, _ domain.Event) error {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func breach(subject string) domain.Event {
	return domain.Event{
		Type:     domain.EventBreach,
		Severity: domain.SeverityWarning,
		Subject:  domain.Subject{Scope: domain.ScopeIP, ID: subject},
	}
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	a := infra.NewMemoryEventSink()
	b := infra.NewMemoryEventSink()
	d := NewDispatcher([]domain.EventSink{errSink{}, a, b})

	for i := 0; i < 10; i++ {
		d.Emit(breach("192.0.2.1"))
	}
	closeDispatcher(t, d)

	if a.Count(domain.EventBreach) != 10 || b.Count(domain.EventBreach) != 10 {
		t.Fatalf("expected 10 events on each sink, got %d and %d", a.Count(domain.EventBreach), b.Count(domain.EventBreach))
	}
	for _, ev := range a.Events() {
		if ev.ID == "" || ev.At.IsZero() {
			t.Fatalf("expected id and timestamp to be filled, got %+v", ev)
		}
	}
}

func TestDispatcher_DropsWhenQueueIsFull(t *testing.T) {
	sink := newBlockingSink()
	d := NewDispatcher([]domain.EventSink{sink}, WithQueueSize(2), WithWorkers(1), WithSinkTimeout(5*time.Second))

	d.Emit(breach("a"))
	<-sink.started
	// worker preso no primeiro evento; fila comporta 2
	for i := 0; i < 5; i++ {
		d.Emit(breach("b"))
	}
	if got := d.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped, got %d", got)
	}

	close(sink.release)
	closeDispatcher(t, d)
}

func TestDispatcher_EmitAfterCloseIsDropped(t *testing.T) {
	d := NewDispatcher(nil)
	closeDispatcher(t, d)

	d.Emit(breach("a"))
	if d.Dropped() != 1 {
		t.Fatalf("expected event to be dropped after close")
	}
	// segundo Close não pode entrar em pânico
	closeDispatcher(t, d)
}

func TestDispatcher_SlowSinkIsBoundedByTimeout(t *testing.T) {
	sink := newBlockingSink()
	mem := infra.NewMemoryEventSink()
	d := NewDispatcher([]domain.EventSink{sink, mem}, WithWorkers(1), WithSinkTimeout(20*time.Millisecond))

	d.Emit(breach("a"))
	d.Emit(breach("a"))
	closeDispatcher(t, d)

	if mem.Count(domain.EventBreach) != 2 {
		t.Fatalf("expected later sink to still receive events, got %d", mem.Count(domain.EventBreach))
	}
}

func TestDispatcher_AlertFiresOnceWhenThresholdIsCrossed(t *testing.T) {
	mem := infra.NewMemoryEventSink(infra.WithTrackSubjects(true))
	d := NewDispatcher([]domain.EventSink{mem},
		WithWorkers(1),
		WithAlerts(5, time.Minute, infra.NewMemoryCounterStore(), infra.NewThrottle(1, 1)),
	)

	for i := 0; i < 12; i++ {
		d.Emit(breach("192.0.2.1"))
	}
	d.Emit(breach("192.0.2.2"))
	closeDispatcher(t, d)

	alerts := mem.BySubject(domain.Subject{Scope: domain.ScopeIP, ID: "192.0.2.1"})
	if alerts[domain.EventAlertThreshold] != 1 {
		t.Fatalf("expected exactly one alert, got %d", alerts[domain.EventAlertThreshold])
	}
	if mem.Count(domain.EventAlertThreshold) != 1 {
		t.Fatalf("subject below threshold must not alert")
	}
}

func TestDispatcher_AlertThrottleSuppressesRepeats(t *testing.T) {
	mem := infra.NewMemoryEventSink()
	throttle := infra.NewThrottle(1, 1)
	// consome o único token do sujeito
	throttle.Get(domain.Key("ip:192.0.2.1")).Allow()

	d := NewDispatcher([]domain.EventSink{mem},
		WithWorkers(1),
		WithAlerts(2, time.Minute, infra.NewMemoryCounterStore(), throttle),
	)
	for i := 0; i < 3; i++ {
		d.Emit(breach("192.0.2.1"))
	}
	closeDispatcher(t, d)

	if mem.Count(domain.EventAlertThreshold) != 0 {
		t.Fatalf("expected alert to be throttled")
	}
}

func TestDispatcher_ServesAsEngineEmitter(t *testing.T) {
	mem := infra.NewMemoryEventSink()
	d := NewDispatcher([]domain.EventSink{mem})
	clk := &testClock{now: t0}
	e := NewEngine(catalog(t, nil),
		infra.NewMemoryCounterStore(infra.WithCounterClock(clk.Now)),
		infra.NewMemoryViolationStore(),
		WithClock(clk.Now),
		WithEvents(d),
	)

	for i := 0; i < 102; i++ {
		e.Evaluate(context.Background(), domain.Request{SourceIP: "192.0.2.1"})
	}
	closeDispatcher(t, d)

	if got := mem.Count(domain.EventBreach); got != 2 {
		t.Fatalf("expected 2 breach events, got %d", got)
	}
}
