// Package keylock provides context-aware mutual exclusion keyed by string.
//
// Entries are reference counted and removed once no goroutine holds or waits
// on them, so memory stays proportional to the number of active keys.
package keylock

import (
	"context"
	"hash/maphash"
	"sync"
)

const numShards = 64

type entry struct {
	ch   chan struct{}
	refs int
}

type shard struct {
	mu sync.Mutex
	m  map[string]*entry
}

// Locker serializes callers that use the same key.
type Locker struct {
	shards [numShards]shard
	seed   maphash.Seed
}

// New creates an empty Locker.
func New() *Locker {
	l := &Locker{seed: maphash.MakeSeed()}
	for i := range numShards {
		l.shards[i].m = make(map[string]*entry)
	}
	return l
}

func (l *Locker) shard(key string) *shard {
	return &l.shards[maphash.String(l.seed, key)%numShards]
}

// Lock blocks until key is free or ctx is done. On success the returned
// function releases the key and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.shard(key)

	s.mu.Lock()
	e, ok := s.m[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		s.m[key] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(s, key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(s, key, e)
		})
	}, nil
}

func (l *Locker) release(s *shard, key string, e *entry) {
	s.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(s.m, key)
	}
	s.mu.Unlock()
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	n := 0
	for i := range numShards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}
