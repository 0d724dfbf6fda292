package domain

import (
	"context"
	"time"
)

// Count é a visão de um CounterRecord após increment (ou leitura).
type Count struct {
	Value       int64
	WindowStart time.Time
	ResetAt     time.Time
	// Degraded indica que o valor veio do contador local (consistência por instância).
	Degraded bool
}

// WindowRemaining é o tempo restante até a virada da janela fixa.
func (c Count) WindowRemaining(now time.Time) time.Duration {
	if d := c.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// CounterStore mantém contadores de janela fixa alinhada:
// window_start = floor(now / window) * window.
//
// Increment precisa ser atômico entre processos: increment e expiração não podem
// competir entre si.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (Count, error)
	// Peek lê o contador da janela corrente sem incrementar (uso administrativo).
	Peek(ctx context.Context, key string, window time.Duration) (Count, error)
}

// WindowStart alinha now à janela fixa, em segundos desde a época Unix (mesma
// conta que o script Lua faz com o TIME do Redis).
func WindowStart(now time.Time, window time.Duration) time.Time {
	secs := int64(window / time.Second)
	if secs <= 0 {
		return now
	}
	unix := now.Unix()
	return time.Unix(unix-unix%secs, 0).In(now.Location())
}
