package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 50

// RedisViolationStore guarda um hash por sujeito:
//
//	<prefix>:v:{<scope>:<id>} -> count, first, last, until (unix nano)
//
// Update usa WATCH/MULTI: se outro nó alterou o registro no meio, a transação
// falha com redis.TxFailedErr e é refeita, então nenhum estouro se perde.
type RedisViolationStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisViolationOption func(*RedisViolationStore)

func WithViolationPrefix(prefix string) RedisViolationOption {
	return func(s *RedisViolationStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithViolationKeyTTL é o TTL mínimo da chave; registros com RetainUntil
// mais distante ficam até lá.
func WithViolationKeyTTL(d time.Duration) RedisViolationOption {
	return func(s *RedisViolationStore) { s.ttl = d }
}

func NewRedisViolationStore(rdb redis.UniversalClient, opts ...RedisViolationOption) *RedisViolationStore {
	s := &RedisViolationStore{
		rdb:    rdb,
		prefix: "rl",
		ttl:    2 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisViolationStore) key(subject domain.Subject) string {
	return s.prefix + ":v:{" + subject.String() + "}"
}

func (s *RedisViolationStore) Get(ctx context.Context, subject domain.Subject) (domain.ViolationRecord, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(subject)).Result()
	if err != nil {
		return domain.ViolationRecord{}, fmt.Errorf("redis violations %s: %w", subject, err)
	}
	return decodeViolation(subject, vals), nil
}

func (s *RedisViolationStore) Update(ctx context.Context, subject domain.Subject, fn func(*domain.ViolationRecord)) (domain.ViolationRecord, error) {
	key := s.key(subject)
	var out domain.ViolationRecord

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		rec := decodeViolation(subject, vals)
		fn(&rec)
		rec.Subject = subject

		ttl := s.keyTTL(rec)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeViolation(rec))
			if ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.ViolationRecord{}, fmt.Errorf("redis violations %s: %w", subject, err)
	}
	return domain.ViolationRecord{}, fmt.Errorf("redis violations %s: too much contention", subject)
}

// keyTTL usa o TTL configurado como piso e estende até RetainUntil: uma
// política trocada em runtime com penalidade ou janela maiores não perde registros.
func (s *RedisViolationStore) keyTTL(rec domain.ViolationRecord) time.Duration {
	ttl := s.ttl
	if rec.RetainUntil.IsZero() {
		return ttl
	}
	if d := time.Until(rec.RetainUntil).Round(time.Second) + time.Second; d > ttl {
		ttl = d
	}
	return ttl
}

func (s *RedisViolationStore) Delete(ctx context.Context, subject domain.Subject) error {
	if err := s.rdb.Del(ctx, s.key(subject)).Err(); err != nil {
		return fmt.Errorf("redis violations %s: %w", subject, err)
	}
	return nil
}

func encodeViolation(r domain.ViolationRecord) map[string]any {
	return map[string]any{
		"count": r.ViolationCount,
		"first": unixNano(r.FirstViolationAt),
		"last":  unixNano(r.LastViolationAt),
		"until": unixNano(r.PenaltyUntil),
	}
}

func decodeViolation(subject domain.Subject, vals map[string]string) domain.ViolationRecord {
	rec := domain.ViolationRecord{Subject: subject}
	if len(vals) == 0 {
		return rec
	}
	rec.ViolationCount, _ = strconv.Atoi(vals["count"])
	rec.FirstViolationAt = fromUnixNano(vals["first"])
	rec.LastViolationAt = fromUnixNano(vals["last"])
	rec.PenaltyUntil = fromUnixNano(vals["until"])
	return rec
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
