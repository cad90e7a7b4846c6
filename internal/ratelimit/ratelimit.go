// Package ratelimit throttles API callers with a sliding window per key.
package ratelimit

import (
	"context"
	"time"
)

// Class groups endpoints that share a limit.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// Limit is a request budget over a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole seconds until the oldest counted request leaves
// the window, never less than one.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Store counts requests per key.
type Store interface {
	Allow(ctx context.Context, key string, limit Limit) (Result, error)
}

func key(class Class, subject string) string {
	return "organlink:rl:" + string(class) + ":" + subject
}
