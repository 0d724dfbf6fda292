package infra

import (
	"context"
	"fmt"

	"admission-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// FallbackViolationStore segue a mesma disciplina do FallbackCounterStore:
// timeout curto no primário, secundário local quando ele falha.
type FallbackViolationStore struct {
	primary   domain.ViolationStore
	secondary domain.ViolationStore
	opts      fallbackOptions
	breaker   *breaker
}

func NewFallbackViolationStore(primary, secondary domain.ViolationStore, opts ...FallbackOption) *FallbackViolationStore {
	o := buildFallbackOptions(opts)
	return &FallbackViolationStore{
		primary:   primary,
		secondary: secondary,
		opts:      o,
		breaker:   newBreaker(o.retryInterval, o.now),
	}
}

func (s *FallbackViolationStore) Degraded() bool { return s.breaker.open() }

func (s *FallbackViolationStore) Get(ctx context.Context, subject domain.Subject) (domain.ViolationRecord, error) {
	return s.call(ctx, subject, func(ctx context.Context, st domain.ViolationStore) (domain.ViolationRecord, error) {
		return st.Get(ctx, subject)
	})
}

func (s *FallbackViolationStore) Update(ctx context.Context, subject domain.Subject, fn func(*domain.ViolationRecord)) (domain.ViolationRecord, error) {
	return s.call(ctx, subject, func(ctx context.Context, st domain.ViolationStore) (domain.ViolationRecord, error) {
		return st.Update(ctx, subject, fn)
	})
}

// Delete limpa os dois lados: um registro criado durante a degradação não pode
// sobreviver a um clear administrativo. O primário é sempre tentado, mesmo com
// o breaker aberto; se ele não confirmar, o clear não vale e o erro volta.
func (s *FallbackViolationStore) Delete(ctx context.Context, subject domain.Subject) error {
	var primaryErr, secondaryErr error
	if s.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
		primaryErr = s.primary.Delete(pctx, subject)
		cancel()
	}
	if s.secondary != nil {
		secondaryErr = s.secondary.Delete(ctx, subject)
	}

	if primaryErr != nil {
		return fmt.Errorf("%w: primary: %v", domain.ErrBackendUnavailable, primaryErr)
	}
	if secondaryErr != nil {
		return fmt.Errorf("%w: secondary: %v", domain.ErrBackendUnavailable, secondaryErr)
	}
	return nil
}

func (s *FallbackViolationStore) call(ctx context.Context, subject domain.Subject, op func(context.Context, domain.ViolationStore) (domain.ViolationRecord, error)) (domain.ViolationRecord, error) {
	var primaryErr error
	if s.primary != nil && s.breaker.allow() {
		pctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
		rec, err := op(pctx, s.primary)
		cancel()
		if err == nil {
			return rec, nil
		}
		primaryErr = err
		if ctx.Err() == nil && s.breaker.trip() {
			s.opts.logger.Warn("violation backend unavailable, using local records",
				zap.String("subject", subject.String()), zap.Error(err))
		}
	}

	if s.secondary == nil {
		return domain.ViolationRecord{}, fmt.Errorf("%w: primary: %v", domain.ErrBackendUnavailable, primaryErr)
	}
	rec, err := op(ctx, s.secondary)
	if err != nil {
		return domain.ViolationRecord{}, fmt.Errorf("%w: primary: %v, secondary: %v", domain.ErrBackendUnavailable, primaryErr, err)
	}
	return rec, nil
}
