package infra

import (
	"context"
	"sync/atomic"

	"admission-gateway/middleware/ratelimit/domain"
)

// InflightPool é um semáforo baseado em channel com capacidade `max`.
// Conta as vagas ocupadas para o gauge de requisições em voo do gateway.
type InflightPool struct {
	sem      chan struct{}
	inflight atomic.Int64
}

var _ domain.SlotPool = (*InflightPool)(nil)

func NewInflightPool(max int) *InflightPool {
	return &InflightPool{sem: make(chan struct{}, max)}
}

func (p *InflightPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		p.inflight.Add(1)
		var once atomic.Bool
		return func() {
			if once.CompareAndSwap(false, true) {
				p.inflight.Add(-1)
				<-p.sem
			}
		}, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *InflightPool) InFlight() int64 { return p.inflight.Load() }

func (p *InflightPool) Cap() int { return cap(p.sem) }
