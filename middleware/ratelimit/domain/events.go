package domain

import (
	"context"
	"time"
)

type EventType string

const (
	EventBreach         EventType = "breach"
	EventPenalty        EventType = "penalty"
	EventDegradedMode   EventType = "degraded-mode"
	EventAlertThreshold EventType = "alert-threshold-crossed"
	EventExempt         EventType = "exempt"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event representa algo que o motor quer contar para a observabilidade.
//
// Ele é propositalmente "agnóstico de HTTP". Cuidado com cardinalidade: Subject
// pode explodir o número de séries/chaves numa base como Redis/Prometheus.
type Event struct {
	ID       string
	Type     EventType
	Severity Severity
	Subject  Subject
	Rule     *Rule
	At       time.Time
	Detail   string
}

// EventSink é a estratégia de entrega de eventos (log, Redis, Prometheus, memória).
//
// O motor nunca espera um sink: a entrega é assíncrona e best-effort.
type EventSink interface {
	Record(ctx context.Context, ev Event) error
}

// EventEmitter é o lado do motor: fire-and-forget.
type EventEmitter interface {
	Emit(ev Event)
}
