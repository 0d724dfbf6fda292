package application

import (
	"context"
	"errors"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP. É a camada de proteção de capacidade que fica na
// frente do Engine: limita requisições simultâneas, não taxa.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration

	// OnReject, se definido, recebe o motivo da recusa
	// (context.DeadlineExceeded para timeout, context.Canceled para cliente que desistiu).
	OnReject func(reason error)
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if !ok && s.OnReject != nil {
		s.OnReject(rejectReason(ctx, acqCtx))
	}
	return release, ok
}

func rejectReason(parent, acq context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if err := acq.Err(); err != nil {
		return err
	}
	return errors.New("slot pool refused")
}
