package domain

import (
	"context"
	"math"
	"time"
)

type PenaltyState string

const (
	StateClean     PenaltyState = "clean"
	StateViolating PenaltyState = "violating"
	StatePenalized PenaltyState = "penalized"
)

// ViolationRecord pertence ao PenaltyTracker; só ele altera.
type ViolationRecord struct {
	Subject          Subject
	ViolationCount   int
	FirstViolationAt time.Time
	LastViolationAt  time.Time
	PenaltyUntil     time.Time

	// RetainUntil é até quando o registro ainda importa para a política que o
	// escreveu. Os stores não devem expirá-lo antes disso.
	RetainUntil time.Time
}

// Stale indica que não houve estouro durante toda a janela de rastreio.
func (r ViolationRecord) Stale(now time.Time, window time.Duration) bool {
	return r.ViolationCount == 0 || !now.Before(r.LastViolationAt.Add(window))
}

func (r ViolationRecord) Penalized(now time.Time) bool {
	return now.Before(r.PenaltyUntil)
}

func (r ViolationRecord) State(now time.Time, window time.Duration) PenaltyState {
	switch {
	case r.Penalized(now):
		return StatePenalized
	case r.Stale(now, window):
		return StateClean
	default:
		return StateViolating
	}
}

// Effective devolve o registro como visto em now: registros vencidos voltam a zero.
func (r ViolationRecord) Effective(now time.Time, window time.Duration) ViolationRecord {
	if r.Penalized(now) || !r.Stale(now, window) {
		return r
	}
	return ViolationRecord{Subject: r.Subject}
}

// PenaltyPolicy descreve a escalada progressiva.
type PenaltyPolicy struct {
	Enabled         bool
	Base            time.Duration
	Multiplier      float64
	Max             time.Duration
	ViolationWindow time.Duration
}

// Duration = min(base * multiplier^(count-1), max). count <= 0 vale como 1.
func (p PenaltyPolicy) Duration(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(count-1))
	if p.Max > 0 && (d >= float64(p.Max) || math.IsInf(d, 1) || math.IsNaN(d)) {
		return p.Max
	}
	return time.Duration(d)
}

// RecordBreach aplica um estouro ao registro em now. Função pura; o store
// garante a atomicidade da leitura-modificação-escrita.
//
// A contagem vale dentro da janela ancorada em FirstViolationAt: vencida essa
// janela, o estouro abre uma nova (count volta a 1, first = now). A penalidade
// em curso, se houver, é preservada.
func (p PenaltyPolicy) RecordBreach(rec *ViolationRecord, now time.Time) {
	switch {
	case rec.Stale(now, p.ViolationWindow) && !rec.Penalized(now):
		*rec = ViolationRecord{Subject: rec.Subject}
	case rec.ViolationCount > 0 && !now.Before(rec.FirstViolationAt.Add(p.ViolationWindow)):
		rec.ViolationCount = 0
		rec.FirstViolationAt = time.Time{}
	}
	rec.ViolationCount++
	if rec.ViolationCount == 1 {
		rec.FirstViolationAt = now
	}
	rec.LastViolationAt = now

	until := now.Add(p.Duration(rec.ViolationCount))
	if until.After(rec.PenaltyUntil) {
		rec.PenaltyUntil = until
	}

	rec.RetainUntil = now.Add(p.ViolationWindow)
	if rec.PenaltyUntil.After(rec.RetainUntil) {
		rec.RetainUntil = rec.PenaltyUntil
	}
}

// ViolationStore guarda um ViolationRecord por sujeito.
//
// Update executa fn de forma atômica em relação a outros Update do mesmo sujeito;
// dois estouros concorrentes não podem subcontar violation_count.
type ViolationStore interface {
	Get(ctx context.Context, subject Subject) (ViolationRecord, error)
	Update(ctx context.Context, subject Subject, fn func(*ViolationRecord)) (ViolationRecord, error)
	Delete(ctx context.Context, subject Subject) error
}
