//go:generate go run go.uber.org/mock/mockgen -source=limiter.go -destination=mock/limiter.go -package=mock

// Package admission implements per-client sliding-window request admission
// for the synchronous write endpoints.
package admission

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultLimit is the number of admitted requests per window.
	DefaultLimit = 60
	// DefaultWindow is the length of the sliding window.
	DefaultWindow = time.Minute
)

// ErrAdmissionDenied is returned to callers that exceeded their window.
var ErrAdmissionDenied = errors.New("too many requests")

// Result describes one admission decision.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	// ResetAt is when the oldest admitted request leaves the window.
	ResetAt time.Time
	// RetryAfter is set on denials.
	RetryAfter time.Duration
}

// Err returns ErrAdmissionDenied when the request was not admitted.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return ErrAdmissionDenied
}

// Limiter decides whether the client identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Config holds the window parameters shared by every Limiter implementation.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}
