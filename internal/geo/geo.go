// Package geo enforces country-level access policy. Private and
// loopback clients bypass the policy entirely, and any lookup problem
// fails open: a broken geo database must not lock out legitimate users.
package geo

import (
	"context"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wudi/bastion/internal/clientip"
	"github.com/wudi/bastion/internal/logging"
	"go.uber.org/zap"
)

// Outcome is the result of a policy evaluation.
type Outcome struct {
	Allowed bool
	Country string // resolved code, empty if bypassed or unresolved
}

// Config holds the country policy.
type Config struct {
	BlockedCountries []string
	AllowedCountries []string // non-empty switches to allow-list mode
	LookupTimeout    time.Duration
}

// Engine evaluates the geo policy for client identities.
type Engine struct {
	provider      Provider
	blocked       map[string]bool
	allowed       map[string]bool
	lookupTimeout time.Duration

	evaluations  atomic.Int64
	denied       atomic.Int64
	bypassed     atomic.Int64
	lookupErrors atomic.Int64
}

// New creates an Engine over a Provider. provider may be nil, in
// which case every evaluation is allowed (no database configured).
func New(cfg Config, provider Provider) *Engine {
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}

	e := &Engine{
		provider:      provider,
		blocked:       make(map[string]bool, len(cfg.BlockedCountries)),
		allowed:       make(map[string]bool, len(cfg.AllowedCountries)),
		lookupTimeout: timeout,
	}
	for _, c := range cfg.BlockedCountries {
		e.blocked[strings.ToUpper(c)] = true
	}
	for _, c := range cfg.AllowedCountries {
		e.allowed[strings.ToUpper(c)] = true
	}
	return e
}

// Evaluate resolves the identity's country and applies the policy.
// Block list first, then allow-list mode. Lookup failure or timeout
// fails open with an operational fault log.
func (e *Engine) Evaluate(ctx context.Context, identity string) Outcome {
	e.evaluations.Add(1)

	if clientip.IsPrivate(identity) {
		e.bypassed.Add(1)
		return Outcome{Allowed: true}
	}

	if e.provider == nil || (len(e.blocked) == 0 && len(e.allowed) == 0) {
		return Outcome{Allowed: true}
	}

	// An identity that is not a literal IP (e.g. a garbage forwarded
	// header) cannot resolve to a country. Allow without a lookup.
	if _, err := netip.ParseAddr(identity); err != nil {
		e.bypassed.Add(1)
		return Outcome{Allowed: true}
	}

	country, err := e.lookup(ctx, identity)
	if err != nil {
		e.lookupErrors.Add(1)
		logging.Fault("geo lookup failed, failing open",
			zap.String("identity", identity),
			zap.Error(err),
		)
		return Outcome{Allowed: true}
	}
	if country == "" {
		// No database entry: treat like a lookup miss, allow.
		return Outcome{Allowed: true}
	}

	if e.blocked[country] {
		e.denied.Add(1)
		return Outcome{Country: country}
	}
	if len(e.allowed) > 0 && !e.allowed[country] {
		e.denied.Add(1)
		return Outcome{Country: country}
	}

	return Outcome{Allowed: true, Country: country}
}

// lookup bounds the provider call with the configured timeout. The
// provider may ignore the context, so the result is also awaited
// through a select to keep the serving path bounded.
func (e *Engine) lookup(ctx context.Context, identity string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	type result struct {
		country string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		country, err := e.provider.Lookup(ctx, identity)
		ch <- result{country, err}
	}()

	select {
	case res := <-ch:
		return res.country, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Snapshot is the admin representation of the engine state.
type Snapshot struct {
	BlockedCountries []string         `json:"blocked_countries"`
	AllowedCountries []string         `json:"allowed_countries"`
	Metrics          map[string]int64 `json:"metrics"`
}

// Status returns the admin snapshot.
func (e *Engine) Status() Snapshot {
	snap := Snapshot{
		Metrics: map[string]int64{
			"evaluations":   e.evaluations.Load(),
			"denied":        e.denied.Load(),
			"bypassed":      e.bypassed.Load(),
			"lookup_errors": e.lookupErrors.Load(),
		},
	}
	for c := range e.blocked {
		snap.BlockedCountries = append(snap.BlockedCountries, c)
	}
	for c := range e.allowed {
		snap.AllowedCountries = append(snap.AllowedCountries, c)
	}
	return snap
}

// Close releases the provider.
func (e *Engine) Close() error {
	if e.provider == nil {
		return nil
	}
	return e.provider.Close()
}
