package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink conta eventos por tipo/severidade/escopo/categoria.
// Sujeito não vira label (cardinalidade).
type PrometheusSink struct {
	events *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "events_total",
			Help:      "Rate limit events by type, severity, subject scope and rule category.",
		}, []string{"type", "severity", "scope", "category"}),
	}
	if reg != nil {
		if err := reg.Register(s.events); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) Record(_ context.Context, ev domain.Event) error {
	category := ""
	if ev.Rule != nil {
		category = string(ev.Rule.Category)
	}
	s.events.WithLabelValues(string(ev.Type), string(ev.Severity), string(ev.Subject.Scope), category).Inc()
	return nil
}

// Collector expõe o vetor para testes e registries customizados.
func (s *PrometheusSink) Collector() *prometheus.CounterVec { return s.events }
