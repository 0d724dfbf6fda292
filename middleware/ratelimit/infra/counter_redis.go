package infra

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// incrementScript faz increment + expiração numa operação indivisível.
//
// O relógio é o do Redis (TIME), então todos os nós concordam na janela.
// A chave janelada é derivada de KEYS[1]; como KEYS[1] carrega a hash tag
// {...}, ela cai no mesmo slot em Redis Cluster.
var incrementScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1])
local window = tonumber(ARGV[1])
local start = now - (now % window)
local key = KEYS[1] .. ':' .. start
local n = redis.call('INCR', key)
if n == 1 or redis.call('TTL', key) < 0 then
	redis.call('EXPIRE', key, start + window - now)
end
return {n, start}
`)

var peekScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1])
local window = tonumber(ARGV[1])
local start = now - (now % window)
local v = redis.call('GET', KEYS[1] .. ':' .. start)
if not v then
	v = 0
end
return {tonumber(v), start}
`)

// RedisCounterStore é a fonte de verdade dos contadores no cluster.
type RedisCounterStore struct {
	rdb redis.UniversalClient
}

func NewRedisCounterStore(rdb redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (domain.Count, error) {
	return s.run(ctx, incrementScript, key, window)
}

func (s *RedisCounterStore) Peek(ctx context.Context, key string, window time.Duration) (domain.Count, error) {
	return s.run(ctx, peekScript, key, window)
}

func (s *RedisCounterStore) run(ctx context.Context, script *redis.Script, key string, window time.Duration) (domain.Count, error) {
	secs := int64(window / time.Second)
	if secs <= 0 {
		return domain.Count{}, fmt.Errorf("redis counter: window %s shorter than 1s", window)
	}

	vals, err := script.Run(ctx, s.rdb, []string{key}, secs).Int64Slice()
	if err != nil {
		return domain.Count{}, fmt.Errorf("redis counter %s: %w", key, err)
	}
	if len(vals) != 2 {
		return domain.Count{}, fmt.Errorf("redis counter %s: unexpected reply %v", key, vals)
	}

	start := time.Unix(vals[1], 0)
	return domain.Count{
		Value:       vals[0],
		WindowStart: start,
		ResetAt:     start.Add(window),
	}, nil
}
