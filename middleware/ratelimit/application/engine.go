package application

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/policy"

	"go.uber.org/zap"
)

// Engine concentra a regra de admissão.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna um Verdict.
// Falha de infraestrutura nunca nega: o motor admite (fail open) e emite um
// evento crítico. Uma queda do Redis não pode virar negação de serviço contra
// tráfego legítimo.
type Engine struct {
	policy    atomic.Pointer[policy.Catalog]
	counters  domain.CounterStore
	penalties *PenaltyTracker
	events    domain.EventEmitter
	logger    *zap.Logger
	now       func() time.Time
}

type EngineOption func(*Engine)

func WithEvents(em domain.EventEmitter) EngineOption {
	return func(e *Engine) { e.events = em }
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

type nopEmitter struct{}

func (nopEmitter) Emit(domain.Event) {}

func NewEngine(cat *policy.Catalog, counters domain.CounterStore, violations domain.ViolationStore, opts ...EngineOption) *Engine {
	e := &Engine{
		counters:  counters,
		penalties: NewPenaltyTracker(violations),
		events:    nopEmitter{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.policy.Store(cat)
	return e
}

// Policy devolve o catálogo corrente (imutável).
func (e *Engine) Policy() *policy.Catalog { return e.policy.Load() }

// Evaluate avalia todas as regras aplicáveis (sem curto-circuito): uma requisição
// negada ainda incrementa todas as camadas, mantendo o sinal acumulando.
func (e *Engine) Evaluate(ctx context.Context, req domain.Request) domain.Verdict {
	cat := e.policy.Load()
	if !cat.Enabled() {
		return domain.Verdict{Allowed: true}
	}

	req = req.Normalize()
	now := e.now()

	if reason, ok := cat.Exempt(req); ok {
		e.logger.Debug("request exempt",
			zap.String("reason", reason),
			zap.String("ip", req.SourceIP),
			zap.String("endpoint", req.EndpointID))
		e.events.Emit(domain.Event{
			Type:     domain.EventExempt,
			Severity: domain.SeverityInfo,
			Subject:  req.Caller(),
			At:       now,
			Detail:   reason,
		})
		return domain.Verdict{Allowed: true, Exempt: true}
	}

	bindings := cat.Resolve(req)
	pen := cat.Penalties()
	if pen.Enabled {
		if v, blocked := e.checkPenalties(ctx, req, bindings, pen, now); blocked {
			return v
		}
	}

	v := domain.Verdict{Allowed: true, Remaining: -1}
	var (
		limiting      *domain.Rule
		limitingReset time.Time
		offenders     []domain.Subject
	)

	for _, b := range bindings {
		c, err := e.counters.Increment(ctx, b.CounterKey(cat.KeyPrefix()), b.Rule.Window)
		if err != nil {
			e.failOpen("counter increment failed", b.Subject, &b.Rule, err)
			continue
		}
		if c.Degraded {
			v.Degraded = true
		}

		remaining := b.Rule.Requests - int(c.Value)
		if remaining < 0 {
			remaining = 0
		}
		if v.Remaining < 0 || remaining < v.Remaining {
			v.Remaining = remaining
			v.Limit = b.Rule.Requests
		}
		if v.ResetAt.IsZero() || c.ResetAt.Before(v.ResetAt) {
			v.ResetAt = c.ResetAt
		}

		if c.Value <= int64(b.Rule.Requests) {
			continue
		}

		v.Allowed = false
		if limiting == nil {
			r := b.Rule
			limiting = &r
			limitingReset = c.ResetAt
		}
		rule := b.Rule
		e.events.Emit(domain.Event{
			Type:     domain.EventBreach,
			Severity: domain.SeverityWarning,
			Subject:  b.Subject,
			Rule:     &rule,
			At:       now,
		})
		if !b.Offender.IsZero() && !containsSubject(offenders, b.Offender) {
			offenders = append(offenders, b.Offender)
		}
	}

	if v.Remaining < 0 {
		v.Remaining = 0
	}
	if v.Degraded {
		e.events.Emit(domain.Event{
			Type:     domain.EventDegradedMode,
			Severity: domain.SeverityWarning,
			Subject:  req.Caller(),
			At:       now,
			Detail:   "counters served by local fallback",
		})
	}
	if v.Allowed {
		return v
	}

	v.LimitingRule = limiting
	v.Limit = limiting.Requests
	v.Remaining = 0
	retry := limitingReset.Sub(now)

	if pen.Enabled {
		for _, off := range offenders {
			rec, err := e.penalties.Breach(ctx, off, pen, now)
			if err != nil {
				e.failOpen("penalty record failed", off, limiting, err)
				continue
			}
			v.Penalized = true
			if d := rec.PenaltyUntil.Sub(now); d > retry {
				retry = d
			}
			e.events.Emit(domain.Event{
				Type:     domain.EventPenalty,
				Severity: domain.SeverityWarning,
				Subject:  off,
				Rule:     limiting,
				At:       now,
				Detail:   "violations=" + strconv.Itoa(rec.ViolationCount) + " until=" + rec.PenaltyUntil.UTC().Format(time.RFC3339),
			})
		}
	}
	v.RetryAfter = ceilSeconds(retry)
	return v
}

// checkPenalties barra o chamador penalizado antes de tocar nos contadores.
// O Verdict leva o limite mais apertado entre as regras aplicáveis, para que a
// resposta tenha os mesmos headers de uma negação por cota.
func (e *Engine) checkPenalties(ctx context.Context, req domain.Request, bindings []domain.Binding, pen domain.PenaltyPolicy, now time.Time) (domain.Verdict, bool) {
	for _, s := range req.Callers() {
		st, err := e.penalties.Check(ctx, s, pen, now)
		if err != nil {
			e.failOpen("penalty check failed", s, nil, err)
			continue
		}
		if st.Penalized() {
			v := domain.Verdict{
				Allowed:    false,
				Penalized:  true,
				Remaining:  0,
				ResetAt:    st.Record.PenaltyUntil,
				RetryAfter: ceilSeconds(st.RetryAfter),
			}
			for i := range bindings {
				r := &bindings[i].Rule
				if v.LimitingRule == nil || r.Requests < v.Limit {
					v.Limit = r.Requests
					v.LimitingRule = r
				}
			}
			return v, true
		}
	}
	return domain.Verdict{}, false
}

func (e *Engine) failOpen(msg string, subject domain.Subject, rule *domain.Rule, err error) {
	fields := []zap.Field{zap.String("subject", subject.String()), zap.Error(err)}
	if rule != nil {
		fields = append(fields, zap.String("rule", rule.Name))
	}
	e.logger.Error(msg+", failing open", fields...)
	e.events.Emit(domain.Event{
		Type:     domain.EventDegradedMode,
		Severity: domain.SeverityCritical,
		Subject:  subject,
		Rule:     rule,
		At:       e.now(),
		Detail:   msg + ": " + err.Error(),
	})
}

func containsSubject(list []domain.Subject, s domain.Subject) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ceilSeconds arredonda para cima em segundos inteiros (Retry-After), mínimo 1s.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	s := d / time.Second
	if d%time.Second != 0 {
		s++
	}
	return s * time.Second
}
