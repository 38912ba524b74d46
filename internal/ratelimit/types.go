package ratelimit

import (
	"context"
	"time"
)

// Backend names reported in Result.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
	Backend   string
}

// Limiter counts calls against a fixed window of the given length.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// Scope indicates which dimension the rate limit applies to.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeSubscriber
	ScopeClient
)

// Decision describes the resolved rate limit and scope.
type Decision struct {
	Limit int
	Scope Scope
}

// windowSlot returns the index of the window containing now and the instant it ends.
func windowSlot(now time.Time, window time.Duration) (int64, time.Time) {
	if window <= 0 {
		window = time.Second
	}
	slot := now.UnixNano() / int64(window)
	return slot, time.Unix(0, (slot+1)*int64(window)).UTC()
}

// allowed builds the result of the count-th call in a window of limit calls.
func allowed(count int64, limit int, reset time.Time, backend string) Result {
	if count > int64(limit) {
		return Result{Allowed: false, Reset: reset, Backend: backend}
	}
	return Result{Allowed: true, Remaining: limit - int(count), Reset: reset, Backend: backend}
}
