package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// PenaltyTracker é o único dono dos ViolationRecord. Ele aplica a máquina de
// estados clean -> violating -> penalized sobre um ViolationStore atômico.
type PenaltyTracker struct {
	store domain.ViolationStore
}

func NewPenaltyTracker(store domain.ViolationStore) *PenaltyTracker {
	return &PenaltyTracker{store: store}
}

// PenaltyStatus é o estado efetivo de um sujeito num instante.
type PenaltyStatus struct {
	Record     domain.ViolationRecord
	State      domain.PenaltyState
	RetryAfter time.Duration
}

func (s PenaltyStatus) Penalized() bool { return s.State == domain.StatePenalized }

func (t *PenaltyTracker) Check(ctx context.Context, subject domain.Subject, p domain.PenaltyPolicy, now time.Time) (PenaltyStatus, error) {
	rec, err := t.store.Get(ctx, subject)
	if err != nil {
		return PenaltyStatus{}, err
	}
	st := PenaltyStatus{
		Record: rec.Effective(now, p.ViolationWindow),
		State:  rec.State(now, p.ViolationWindow),
	}
	if st.Penalized() {
		st.RetryAfter = rec.PenaltyUntil.Sub(now)
	}
	return st, nil
}

// Breach registra um estouro e devolve o registro já com a nova penalidade.
func (t *PenaltyTracker) Breach(ctx context.Context, subject domain.Subject, p domain.PenaltyPolicy, now time.Time) (domain.ViolationRecord, error) {
	return t.store.Update(ctx, subject, func(rec *domain.ViolationRecord) {
		p.RecordBreach(rec, now)
	})
}

// Clear zera o registro do sujeito (uso administrativo).
func (t *PenaltyTracker) Clear(ctx context.Context, subject domain.Subject) error {
	return t.store.Delete(ctx, subject)
}
