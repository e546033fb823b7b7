package services

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 256

func shardIndex(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex serializes work per source key. Each key gets its own mutex for
// as long as someone holds or waits on it, so distinct keys never contend.
type KeyedMutex struct {
	locks *shardedMap[*keyLock]
}

// NewKeyedMutex creates a KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: newShardedMap[*keyLock]()}
}

// Lock acquires the exclusive section for key and returns its release func.
func (k *KeyedMutex) Lock(key string) func() {
	var l *keyLock
	k.locks.mutate(key, func(m map[string]*keyLock) {
		l = m[key]
		if l == nil {
			l = &keyLock{}
			m[key] = l
		}
		l.refs++
	})
	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.locks.mutate(key, func(m map[string]*keyLock) {
				l.refs--
				if l.refs == 0 {
					delete(m, key)
				}
			})
		})
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	return k.locks.len()
}

type mapShard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// shardedMap is a concurrency-safe map split across independently locked shards.
type shardedMap[V any] struct {
	shards [shardCount]*mapShard[V]
}

func newShardedMap[V any]() *shardedMap[V] {
	s := &shardedMap[V]{}
	for i := range s.shards {
		s.shards[i] = &mapShard[V]{m: make(map[string]V)}
	}
	return s
}

// view runs fn with the key's shard read-locked.
func (s *shardedMap[V]) view(key string, fn func(m map[string]V)) {
	sh := s.shards[shardIndex(key)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	fn(sh.m)
}

// mutate runs fn with the key's shard write-locked.
func (s *shardedMap[V]) mutate(key string, fn func(m map[string]V)) {
	sh := s.shards[shardIndex(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh.m)
}

// each runs fn on every shard in turn, write-locked.
func (s *shardedMap[V]) each(fn func(m map[string]V)) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		fn(sh.m)
		sh.mu.Unlock()
	}
}

// len counts entries across all shards.
func (s *shardedMap[V]) len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}
