package infra

import (
	"sync/atomic"
	"time"
)

// breaker marca o store primário como fora por um intervalo depois de uma falha.
// Com Redis fora, pagamos um timeout por intervalo e não um por regra avaliada.
type breaker struct {
	interval  time.Duration
	openUntil atomic.Int64
	now       func() time.Time
}

func newBreaker(interval time.Duration, now func() time.Time) *breaker {
	if now == nil {
		now = time.Now
	}
	return &breaker{interval: interval, now: now}
}

func (b *breaker) allow() bool {
	return b.now().UnixNano() >= b.openUntil.Load()
}

// trip retorna true apenas na transição fechado -> aberto (para logar uma vez).
func (b *breaker) trip() bool {
	now := b.now()
	prev := b.openUntil.Swap(now.Add(b.interval).UnixNano())
	return prev <= now.UnixNano()
}

func (b *breaker) open() bool { return !b.allow() }
