// Package ratelimit bounds token validation attempts per (client address,
// token hash) pair with a sliding window.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultLimit  = 30
	DefaultWindow = 15 * time.Minute
)

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is the contract shared by the in-process and Redis backends.
type Limiter interface {
	Check(ctx context.Context, clientIP, tokenHash string) (Decision, error)
}

// Policy is the attempt ceiling within a window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

func key(clientIP, tokenHash string) string {
	if clientIP == "" {
		clientIP = "unknown"
	}
	return clientIP + "|" + tokenHash
}
