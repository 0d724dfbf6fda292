package infra

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// shardSet espalha chaves em mutexes independentes para que sujeitos sem
// relação não disputem o mesmo lock.
type shardSet[T any] struct {
	shards [shardCount]shard[T]
}

type shard[T any] struct {
	mu sync.Mutex
	m  map[string]T
}

func newShardSet[T any]() *shardSet[T] {
	s := &shardSet[T]{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]T)
	}
	return s
}

func (s *shardSet[T]) pick(key string) *shard[T] {
	return &s.shards[xxhash.Sum64String(key)%shardCount]
}

// sweep remove entradas para as quais drop retorna true, um shard por vez.
func (s *shardSet[T]) sweep(drop func(T) bool) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, v := range sh.m {
			if drop(v) {
				delete(sh.m, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *shardSet[T]) len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}
