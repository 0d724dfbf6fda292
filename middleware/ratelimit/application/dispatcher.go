package application

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher entrega eventos do motor aos sinks de forma assíncrona.
//
// Emit nunca bloqueia: com a fila cheia o evento é descartado e contado em
// Dropped. Cada sink recebe um contexto com timeout próprio; um sink lento ou
// com erro não afeta os demais nem a admissão.
type Dispatcher struct {
	sinks       []domain.EventSink
	queue       chan domain.Event
	workers     int
	sinkTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string

	alerts *alertPolicy

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// alertPolicy conta estouros por sujeito numa janela fixa. Ao cruzar o limiar
// um alerta é emitido, limitado por sujeito pelo throttle.
type alertPolicy struct {
	threshold int
	window    time.Duration
	counts    domain.CounterStore
	throttle  domain.LimiterStore
}

type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan domain.Event, n)
		}
	}
}

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithSinkTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sinkTimeout = t
		}
	}
}

func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithAlerts liga os alertas: threshold estouros do mesmo sujeito dentro de
// window disparam um EventAlertThreshold. throttle pode ser nil.
func WithAlerts(threshold int, window time.Duration, counts domain.CounterStore, throttle domain.LimiterStore) DispatcherOption {
	return func(d *Dispatcher) {
		if threshold <= 0 || window <= 0 || counts == nil {
			return
		}
		d.alerts = &alertPolicy{threshold: threshold, window: window, counts: counts, throttle: throttle}
	}
}

func NewDispatcher(sinks []domain.EventSink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:       sinks,
		queue:       make(chan domain.Event, 1024),
		workers:     2,
		sinkTimeout: 500 * time.Millisecond,
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.run()
	}
	return d
}

// Emit implementa domain.EventEmitter.
func (d *Dispatcher) Emit(ev domain.Event) {
	if ev.ID == "" {
		ev.ID = d.newID()
	}
	if ev.At.IsZero() {
		ev.At = d.now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
	}
}

// Dropped devolve quantos eventos foram descartados (fila cheia ou fechada).
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Pending devolve o tamanho atual da fila.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Close para de aceitar eventos e espera a fila esvaziar (ou ctx expirar).
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
		if ev.Type == domain.EventBreach {
			d.checkAlert(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev domain.Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := s.Record(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Warn("event sink failed",
				zap.String("event_id", ev.ID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) checkAlert(ev domain.Event) {
	a := d.alerts
	if a == nil || ev.Subject.IsZero() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
	c, err := a.counts.Increment(ctx, "alerts:"+ev.Subject.String(), a.window)
	cancel()
	if err != nil {
		d.logger.Warn("alert counter failed", zap.String("subject", ev.Subject.String()), zap.Error(err))
		return
	}
	if c.Value != int64(a.threshold) {
		return
	}
	if a.throttle != nil {
		if lim := a.throttle.Get(domain.Key(ev.Subject.String())); lim != nil && !lim.Allow() {
			return
		}
	}

	d.deliver(domain.Event{
		ID:       d.newID(),
		Type:     domain.EventAlertThreshold,
		Severity: domain.SeverityCritical,
		Subject:  ev.Subject,
		Rule:     ev.Rule,
		At:       d.now(),
		Detail:   strconv.Itoa(a.threshold) + " breaches within " + a.window.String(),
	})
}
