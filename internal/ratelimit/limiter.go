// Package ratelimit implements per-category fixed-window rate
// limiting with a sticky block: once an identity exceeds a category's
// limit it stays blocked for the category's block duration,
// independent of window resets.
package ratelimit

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wudi/bastion/internal/logging"
	"go.uber.org/zap"
)

// Category is a traffic class with its own limit tuple.
type Category string

const (
	CategoryAPI    Category = "api"
	CategoryLogin  Category = "login"
	CategoryAdmin  Category = "admin"
	CategoryUpload Category = "upload"
)

// pathRules maps path prefixes to categories. Evaluated in order;
// first match wins, everything else is api.
var pathRules = []struct {
	prefix   string
	category Category
}{
	{"/login", CategoryLogin},
	{"/register", CategoryLogin},
	{"/admin", CategoryAdmin},
	{"/upload", CategoryUpload},
}

// CategoryForPath classifies a request path.
func CategoryForPath(path string) Category {
	for _, rule := range pathRules {
		if strings.HasPrefix(path, rule.prefix) {
			return rule.category
		}
	}
	return CategoryAPI
}

// CategoryLimit is the (limit, window, block) tuple for one category.
type CategoryLimit struct {
	Limit         int
	Window        time.Duration
	BlockDuration time.Duration
}

// Outcome is the result of a consume call. Rejection is a value, not
// an error: RetryAfter is set whenever Allowed is false.
type Outcome struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store holds the per-key counters. Implementations must serialize
// updates per key while keeping different keys independent.
type Store interface {
	// Consume increments the counter for key under the given tuple
	// and returns the outcome. An error means the store is
	// unavailable, not that the request is rejected.
	Consume(ctx context.Context, key string, limit CategoryLimit) (Outcome, error)
	Close() error
}

// Limiter applies per-(category, identity) limits through a Store.
type Limiter struct {
	limits map[Category]CategoryLimit
	store  Store

	allowed     atomic.Int64
	rejected    atomic.Int64
	storeErrors atomic.Int64
}

// New creates a Limiter with an in-memory store.
func New(limits map[Category]CategoryLimit) *Limiter {
	return NewWithStore(limits, NewMemoryStore())
}

// NewWithStore creates a Limiter over a custom store (e.g. Redis for
// deployments that share counters across instances).
func NewWithStore(limits map[Category]CategoryLimit, store Store) *Limiter {
	return &Limiter{
		limits: limits,
		store:  store,
	}
}

// Consume spends one point for identity in category. Unknown
// categories fall back to the api tuple. A store failure fails open
// and is logged as an operational fault.
func (l *Limiter) Consume(ctx context.Context, category Category, identity string) Outcome {
	limit, ok := l.limits[category]
	if !ok {
		category = CategoryAPI
		limit = l.limits[CategoryAPI]
	}
	if limit.Limit <= 0 {
		return Outcome{Allowed: true}
	}

	out, err := l.store.Consume(ctx, string(category)+":"+identity, limit)
	if err != nil {
		l.storeErrors.Add(1)
		logging.Fault("rate limit store unavailable, failing open",
			zap.String("category", string(category)),
			zap.String("identity", identity),
			zap.Error(err),
		)
		return Outcome{Allowed: true}
	}

	if out.Allowed {
		l.allowed.Add(1)
	} else {
		l.rejected.Add(1)
		if out.RetryAfter < time.Second {
			out.RetryAfter = time.Second
		}
	}
	return out
}

// Limits returns the configured category tuples.
func (l *Limiter) Limits() map[Category]CategoryLimit {
	out := make(map[Category]CategoryLimit, len(l.limits))
	for k, v := range l.limits {
		out[k] = v
	}
	return out
}

// Stats returns a counters snapshot.
func (l *Limiter) Stats() map[string]int64 {
	return map[string]int64{
		"allowed":      l.allowed.Load(),
		"rejected":     l.rejected.Load(),
		"store_errors": l.storeErrors.Load(),
	}
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
