// Package ratelimit implements a process-local fixed-window request counter.
// Buckets are ephemeral and capacity-bounded; each protected operation gets
// its own Limiter instance so quotas never bleed across endpoints.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Result is the outcome of a single Check.
type Result struct {
	Allowed      bool
	Remaining    int
	ResetSeconds int
}

type bucket struct {
	windowStart time.Time
	count       int
}

type shard struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
}

// Limiter counts requests per identifier within discrete, non-overlapping
// windows. A burst of up to 2x limit can occur across a window boundary;
// that is the accepted fixed-window approximation, preserved deliberately.
type Limiter struct {
	limit  int
	window time.Duration
	shards [shardCount]*shard

	now func() time.Time // injectable clock for tests
}

// New builds a limiter allowing limit requests per window, holding at most
// capacity buckets across all shards. Once a shard is full the bucket with
// the oldest window is evicted first.
func New(limit int, window time.Duration, capacity int) *Limiter {
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	l := &Limiter{limit: limit, window: window, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket), capacity: perShard}
	}
	return l
}

// Check records one request for the identifier and reports whether it is
// within quota. The read-increment-write runs under the shard lock, so two
// concurrent checks on the same identifier never interleave.
func (l *Limiter) Check(identifier string) Result {
	now := l.now()
	s := l.shardFor(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[identifier]
	switch {
	case !ok:
		if len(s.buckets) >= s.capacity {
			s.evictOldest()
		}
		b = &bucket{windowStart: now, count: 1}
		s.buckets[identifier] = b
	case now.Sub(b.windowStart) >= l.window:
		// Window elapsed: logically a fresh bucket.
		b.windowStart = now
		b.count = 1
	default:
		b.count++
	}

	remaining := l.limit - b.count
	if remaining < 0 {
		remaining = 0
	}
	reset := int((b.windowStart.Add(l.window).Sub(now) + time.Second - 1) / time.Second)
	if reset < 0 {
		reset = 0
	}
	return Result{
		Allowed:      b.count <= l.limit,
		Remaining:    remaining,
		ResetSeconds: reset,
	}
}

// Reset clears a single bucket. Administrative/testing use only.
func (l *Limiter) Reset(identifier string) {
	s := l.shardFor(identifier)
	s.mu.Lock()
	delete(s.buckets, identifier)
	s.mu.Unlock()
}

func (l *Limiter) shardFor(identifier string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identifier))
	return l.shards[h.Sum32()%shardCount]
}

// evictOldest drops the bucket with the oldest window start. Called with the
// shard lock held.
func (s *shard) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, b := range s.buckets {
		if first || b.windowStart.Before(oldest) {
			oldestKey, oldest, first = k, b.windowStart, false
		}
	}
	if oldestKey != "" {
		delete(s.buckets, oldestKey)
	}
}
