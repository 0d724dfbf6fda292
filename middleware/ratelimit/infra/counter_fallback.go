package infra

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// FallbackCounterStore usa o primário (Redis) com timeout curto e cai para o
// secundário (memória) quando ele falha. Valores vindos do secundário saem com
// Count.Degraded=true: a garantia passa de cluster para instância e o chamador
// precisa saber disso.
type FallbackCounterStore struct {
	primary   domain.CounterStore
	secondary domain.CounterStore
	timeout   time.Duration
	breaker   *breaker
	logger    *zap.Logger
}

type FallbackOption func(*fallbackOptions)

type fallbackOptions struct {
	timeout       time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// WithTimeout limita cada chamada ao primário.
func WithTimeout(d time.Duration) FallbackOption {
	return func(o *fallbackOptions) { o.timeout = d }
}

// WithRetryInterval é quanto tempo o primário fica de fora depois de uma falha.
func WithRetryInterval(d time.Duration) FallbackOption {
	return func(o *fallbackOptions) { o.retryInterval = d }
}

func WithFallbackLogger(l *zap.Logger) FallbackOption {
	return func(o *fallbackOptions) { o.logger = l }
}

func WithFallbackClock(now func() time.Time) FallbackOption {
	return func(o *fallbackOptions) { o.now = now }
}

func buildFallbackOptions(opts []FallbackOption) fallbackOptions {
	o := fallbackOptions{
		timeout:       250 * time.Millisecond,
		retryInterval: time.Second,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewFallbackCounterStore(primary, secondary domain.CounterStore, opts ...FallbackOption) *FallbackCounterStore {
	o := buildFallbackOptions(opts)
	return &FallbackCounterStore{
		primary:   primary,
		secondary: secondary,
		timeout:   o.timeout,
		breaker:   newBreaker(o.retryInterval, o.now),
		logger:    o.logger,
	}
}

// Degraded indica se o primário está marcado como fora agora.
func (s *FallbackCounterStore) Degraded() bool { return s.breaker.open() }

func (s *FallbackCounterStore) Increment(ctx context.Context, key string, window time.Duration) (domain.Count, error) {
	return s.call(ctx, key, func(ctx context.Context, st domain.CounterStore) (domain.Count, error) {
		return st.Increment(ctx, key, window)
	})
}

func (s *FallbackCounterStore) Peek(ctx context.Context, key string, window time.Duration) (domain.Count, error) {
	return s.call(ctx, key, func(ctx context.Context, st domain.CounterStore) (domain.Count, error) {
		return st.Peek(ctx, key, window)
	})
}

func (s *FallbackCounterStore) call(ctx context.Context, key string, op func(context.Context, domain.CounterStore) (domain.Count, error)) (domain.Count, error) {
	var primaryErr error
	if s.primary != nil && s.breaker.allow() {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		c, err := op(pctx, s.primary)
		cancel()
		if err == nil {
			return c, nil
		}
		primaryErr = err
		// cancelamento do chamador não diz nada sobre a saúde do Redis
		if ctx.Err() == nil && s.breaker.trip() {
			s.logger.Warn("counter backend unavailable, using local counters",
				zap.String("key", key), zap.Error(err))
		}
	}

	if s.secondary == nil {
		return domain.Count{}, fmt.Errorf("%w: primary: %v", domain.ErrBackendUnavailable, primaryErr)
	}
	c, err := op(ctx, s.secondary)
	if err != nil {
		return domain.Count{}, fmt.Errorf("%w: primary: %v, secondary: %v", domain.ErrBackendUnavailable, primaryErr, err)
	}
	c.Degraded = true
	return c, nil
}
