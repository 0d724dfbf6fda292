package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func breachEvent(at time.Time) domain.Event {
	rule, _ := domain.NewRule("ip", domain.ScopeIP, domain.CategoryDefault, 100, 60)
	return domain.Event{
		ID:       "ev-1",
		Type:     domain.EventBreach,
		Severity: domain.SeverityWarning,
		Subject:  domain.Subject{Scope: domain.ScopeIP, ID: "1.2.3.4"},
		Rule:     &rule,
		At:       at,
	}
}

func TestMemoryEventSink_CountsByTypeAndSubject(t *testing.T) {
	s := NewMemoryEventSink(WithTrackSubjects(true), WithKeepEvents(2))
	ev := breachEvent(time.Now())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(context.Background(), ev))
	}
	require.NoError(t, s.Record(context.Background(), domain.Event{Type: domain.EventDegradedMode}))

	require.EqualValues(t, 3, s.Count(domain.EventBreach))
	require.EqualValues(t, 1, s.Count(domain.EventDegradedMode))
	require.EqualValues(t, 3, s.BySubject(ev.Subject)[domain.EventBreach])
	require.Len(t, s.Events(), 2)
}

func TestRedisEventSink_WritesAggregates(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisEventSink(rdb, WithEventPrefix("ev"), WithEventTrackSubjects(true), WithEventTTL(time.Hour))

	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.Record(context.Background(), breachEvent(at)))
	require.NoError(t, s.Record(context.Background(), breachEvent(at)))

	require.Equal(t, "2", mr.HGet("ev:total", "breach"))
	require.Equal(t, "2", mr.HGet("ev:minute:202610190830", "breach"))
	require.Equal(t, "2", mr.HGet("ev:rule", "ip:breach"))
	require.Equal(t, "2", mr.HGet("ev:subject:ip:1.2.3.4", "breach"))
	require.Equal(t, time.Hour, mr.TTL("ev:minute:202610190830"))
}

func TestPrometheusSink_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, s.Record(context.Background(), breachEvent(time.Now())))
	require.NoError(t, s.Record(context.Background(), breachEvent(time.Now())))

	got := testutil.ToFloat64(s.Collector().WithLabelValues("breach", "warning", "ip", "default"))
	require.Equal(t, 2.0, got)

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "registering twice on the same registry must fail")
}

func TestLogSink_UsesSeverityAsLevel(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewLogSink(zap.New(core))

	require.NoError(t, s.Record(context.Background(), breachEvent(time.Now())))
	require.NoError(t, s.Record(context.Background(), domain.Event{Type: domain.EventDegradedMode, Severity: domain.SeverityCritical}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.WarnLevel, entries[0].Level)
	require.Equal(t, "ip", entries[0].ContextMap()["rule"])
	require.Equal(t, zap.ErrorLevel, entries[1].Level)
}
