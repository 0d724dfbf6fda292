package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisEventSink agrega eventos em hashes no Redis:
//
//	<prefix>:total                  type -> n (cumulativo, não expira)
//	<prefix>:minute:<yyyymmddHHMM>  type -> n (com TTL)
//	<prefix>:rule                   <rule>:<type> -> n
//	<prefix>:subject:<scope:id>     type -> n (opcional, com TTL)
type RedisEventSink struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por sujeito.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackSubjects bool
}

type RedisEventOption func(*RedisEventSink)

func WithEventPrefix(prefix string) RedisEventOption {
	return func(s *RedisEventSink) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithEventTTL(d time.Duration) RedisEventOption {
	return func(s *RedisEventSink) { s.ttl = d }
}

func WithEventBucket(bucket string) RedisEventOption {
	return func(s *RedisEventSink) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithEventTrackSubjects(track bool) RedisEventOption {
	return func(s *RedisEventSink) { s.trackSubjects = track }
}

func NewRedisEventSink(rdb redis.UniversalClient, opts ...RedisEventOption) *RedisEventSink {
	s := &RedisEventSink{
		rdb:    rdb,
		prefix: "rl:events",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisEventSink) Record(ctx context.Context, ev domain.Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Type)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ev.Rule != nil && ev.Rule.Name != "" {
		pipe.HIncrBy(ctx, s.prefix+":rule", ev.Rule.Name+":"+field, 1)
	}

	if s.trackSubjects && !ev.Subject.IsZero() {
		subjectKey := s.prefix + ":subject:" + ev.Subject.String()
		pipe.HIncrBy(ctx, subjectKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, subjectKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
