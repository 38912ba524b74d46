package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memorySweepThreshold is the counter count above which stale windows are pruned.
const memorySweepThreshold = 4096

type memoryCounter struct {
	slot  int64
	count int64
}

// MemoryLimiter is a process-local fixed-window limiter.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counters: make(map[string]*memoryCounter)}
}

// Allow counts one call for key in the window containing now.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true, Backend: BackendMemory}, nil
	}
	slot, reset := windowSlot(now, window)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.counters) > memorySweepThreshold {
		l.sweep(slot)
	}
	counter, ok := l.counters[key]
	if !ok {
		counter = &memoryCounter{slot: slot}
		l.counters[key] = counter
	}
	if counter.slot != slot {
		counter.slot = slot
		counter.count = 0
	}
	if counter.count < int64(limit) {
		counter.count++
		return allowed(counter.count, limit, reset, BackendMemory), nil
	}
	return allowed(int64(limit)+1, limit, reset, BackendMemory), nil
}

// sweep drops counters of windows older than slot. Callers hold l.mu.
func (l *MemoryLimiter) sweep(slot int64) {
	for key, counter := range l.counters {
		if counter.slot < slot {
			delete(l.counters, key)
		}
	}
}

// Len reports how many keys are tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
