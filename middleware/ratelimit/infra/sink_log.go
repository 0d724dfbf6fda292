package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink escreve cada evento como uma linha estruturada.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Record(_ context.Context, ev domain.Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("subject", ev.Subject.String()),
		zap.Time("at", ev.At),
	}
	if ev.Rule != nil {
		fields = append(fields,
			zap.String("rule", ev.Rule.Name),
			zap.Int("requests", ev.Rule.Requests),
			zap.Duration("window", ev.Rule.Window),
		)
	}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}

	level := zapcore.InfoLevel
	switch ev.Severity {
	case domain.SeverityWarning:
		level = zapcore.WarnLevel
	case domain.SeverityCritical:
		level = zapcore.ErrorLevel
	}
	if ce := s.logger.Check(level, "rate limit event"); ce != nil {
		ce.Write(fields...)
	}
	return nil
}
