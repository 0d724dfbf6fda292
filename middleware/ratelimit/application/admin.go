package application

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/policy"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Admin expõe inspeção e operações administrativas sobre um Engine.
// Inspect nunca consome cota: só lê (Peek).
type Admin struct {
	engine *Engine
}

func NewAdmin(e *Engine) *Admin { return &Admin{engine: e} }

// TierState é o estado corrente de uma camada aplicável à requisição.
type TierState struct {
	Rule      domain.Rule `json:"-"`
	RuleName  string      `json:"rule"`
	Subject   string      `json:"subject"`
	Limit     int         `json:"limit"`
	Count     int64       `json:"count"`
	Remaining int         `json:"remaining"`
	ResetAt   time.Time   `json:"reset_at"`
	Degraded  bool        `json:"degraded,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// SubjectPenalty é o estado de penalidade de um sujeito chamador.
type SubjectPenalty struct {
	Subject        string              `json:"subject"`
	State          domain.PenaltyState `json:"state"`
	ViolationCount int                 `json:"violation_count"`
	PenaltyUntil   time.Time           `json:"penalty_until,omitempty"`
	RetryAfter     float64             `json:"retry_after_seconds,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// Snapshot é a visão administrativa de uma requisição hipotética.
type Snapshot struct {
	Exempt       bool             `json:"exempt"`
	ExemptReason string           `json:"exempt_reason,omitempty"`
	Enabled      bool             `json:"enabled"`
	Tiers        []TierState      `json:"tiers"`
	Penalties    []SubjectPenalty `json:"penalties"`
}

// Inspect lê, sem incrementar, todos os contadores e penalidades que uma
// requisição com esse descritor tocaria.
func (a *Admin) Inspect(ctx context.Context, req domain.Request) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	e := a.engine
	cat := e.policy.Load()
	req = req.Normalize()
	now := e.now()

	snap := Snapshot{Enabled: cat.Enabled()}
	if reason, ok := cat.Exempt(req); ok {
		snap.Exempt = true
		snap.ExemptReason = reason
		return snap, nil
	}

	bindings := cat.Resolve(req)
	snap.Tiers = make([]TierState, len(bindings))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range bindings {
		g.Go(func() error {
			ts := TierState{
				Rule:     b.Rule,
				RuleName: b.Rule.Name,
				Subject:  b.Subject.String(),
				Limit:    b.Rule.Requests,
			}
			c, err := e.counters.Peek(gctx, b.CounterKey(cat.KeyPrefix()), b.Rule.Window)
			if err != nil {
				ts.Error = err.Error()
				ts.Remaining = b.Rule.Requests
				ts.ResetAt = domain.WindowStart(now, b.Rule.Window).Add(b.Rule.Window)
			} else {
				ts.Count = c.Value
				ts.Remaining = max(b.Rule.Requests-int(c.Value), 0)
				ts.ResetAt = c.ResetAt
				ts.Degraded = c.Degraded
			}
			snap.Tiers[i] = ts
			return nil
		})
	}
	_ = g.Wait()

	pen := cat.Penalties()
	for _, s := range req.Callers() {
		sp := SubjectPenalty{Subject: s.String()}
		st, err := e.penalties.Check(ctx, s, pen, now)
		if err != nil {
			sp.Error = err.Error()
		} else {
			sp.State = st.State
			sp.ViolationCount = st.Record.ViolationCount
			if st.Penalized() {
				sp.PenaltyUntil = st.Record.PenaltyUntil
				sp.RetryAfter = st.RetryAfter.Seconds()
			}
		}
		snap.Penalties = append(snap.Penalties, sp)
	}
	return snap, nil
}

// ClearViolations apaga o histórico de violações e a penalidade do sujeito.
// Só sujeitos chamadores (ip, user) carregam penalidade.
func (a *Admin) ClearViolations(ctx context.Context, subject domain.Subject) error {
	if subject.Scope != domain.ScopeIP && subject.Scope != domain.ScopeUser {
		return fmt.Errorf("%w: subject scope %q cannot carry penalties", domain.ErrInvalidRequest, subject.Scope)
	}
	if subject.ID == "" {
		return fmt.Errorf("%w: empty subject id", domain.ErrInvalidRequest)
	}
	if err := a.engine.penalties.Clear(ctx, subject); err != nil {
		return err
	}
	a.engine.logger.Info("violations cleared", zap.String("subject", subject.String()))
	return nil
}

// ReplacePolicy troca o catálogo de forma atômica. Avaliações em andamento
// terminam com o catálogo antigo; as seguintes veem só o novo.
func (a *Admin) ReplacePolicy(cat *policy.Catalog) error {
	if cat == nil {
		return &domain.ConfigurationError{Field: "policy", Reason: "nil catalog"}
	}
	a.engine.policy.Store(cat)
	a.engine.logger.Info("policy replaced",
		zap.Bool("enabled", cat.Enabled()),
		zap.Int("rules", len(cat.Rules())))
	return nil
}

func (a *Admin) Policy() *policy.Catalog { return a.engine.policy.Load() }
