package geo

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeProvider resolves from a fixed table.
type fakeProvider struct {
	table   map[string]string
	err     error
	delay   time.Duration
	lookups int
	closed  bool
}

func (p *fakeProvider) Lookup(ctx context.Context, ip string) (string, error) {
	p.lookups++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return p.table[ip], nil
}

func (p *fakeProvider) Close() error {
	p.closed = true
	return nil
}

func TestEvaluateBlockList(t *testing.T) {
	p := &fakeProvider{table: map[string]string{"203.0.113.7": "KP", "198.51.100.9": "DE"}}
	e := New(Config{BlockedCountries: []string{"kp"}}, p)

	if out := e.Evaluate(context.Background(), "203.0.113.7"); out.Allowed {
		t.Error("blocked country allowed")
	} else if out.Country != "KP" {
		t.Errorf("country = %q, want KP", out.Country)
	}
	if out := e.Evaluate(context.Background(), "198.51.100.9"); !out.Allowed {
		t.Error("unlisted country denied in block-list mode")
	}
}

func TestEvaluateAllowListMode(t *testing.T) {
	p := &fakeProvider{table: map[string]string{"203.0.113.7": "FR", "198.51.100.9": "US"}}
	e := New(Config{AllowedCountries: []string{"US"}}, p)

	if out := e.Evaluate(context.Background(), "198.51.100.9"); !out.Allowed {
		t.Error("allow-listed country denied")
	}
	if out := e.Evaluate(context.Background(), "203.0.113.7"); out.Allowed {
		t.Error("country outside allow list permitted")
	}
}

func TestBlockListPrecedesAllowList(t *testing.T) {
	p := &fakeProvider{table: map[string]string{"203.0.113.7": "US"}}
	e := New(Config{BlockedCountries: []string{"US"}, AllowedCountries: []string{"US"}}, p)

	if out := e.Evaluate(context.Background(), "203.0.113.7"); out.Allowed {
		t.Error("block list must take precedence when both lists name a country")
	}
}

func TestPrivateAddressesBypassLookup(t *testing.T) {
	p := &fakeProvider{table: map[string]string{}}
	e := New(Config{BlockedCountries: []string{"US"}}, p)

	for _, ip := range []string{"10.1.2.3", "192.168.0.1", "127.0.0.1", "::1", "fd00::1"} {
		if out := e.Evaluate(context.Background(), ip); !out.Allowed {
			t.Errorf("private identity %s denied", ip)
		}
	}
	if p.lookups != 0 {
		t.Errorf("private identities triggered %d lookups", p.lookups)
	}
}

func TestUnparsableIdentitySkipsLookup(t *testing.T) {
	p := &fakeProvider{table: map[string]string{}}
	e := New(Config{BlockedCountries: []string{"US"}}, p)

	for _, id := range []string{"not-an-ip", "203.0.113.7, 10.0.0.1", "example.com", ""} {
		if out := e.Evaluate(context.Background(), id); !out.Allowed {
			t.Errorf("unparsable identity %q denied", id)
		}
	}
	if p.lookups != 0 {
		t.Errorf("unparsable identities triggered %d lookups", p.lookups)
	}
	if e.Status().Metrics["lookup_errors"] != 0 {
		t.Error("unparsable identity counted as lookup error")
	}
}

func TestLookupFailureFailsOpen(t *testing.T) {
	p := &fakeProvider{err: errors.New("db corrupt")}
	e := New(Config{BlockedCountries: []string{"US"}}, p)

	if out := e.Evaluate(context.Background(), "203.0.113.7"); !out.Allowed {
		t.Error("lookup failure must fail open")
	}
	if e.Status().Metrics["lookup_errors"] != 1 {
		t.Error("lookup error not counted")
	}
}

func TestLookupTimeoutFailsOpen(t *testing.T) {
	p := &fakeProvider{table: map[string]string{"203.0.113.7": "KP"}, delay: time.Second}
	e := New(Config{BlockedCountries: []string{"KP"}, LookupTimeout: 10 * time.Millisecond}, p)

	start := time.Now()
	out := e.Evaluate(context.Background(), "203.0.113.7")
	if !out.Allowed {
		t.Error("lookup timeout must fail open")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("evaluation took %v, timeout not enforced", elapsed)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	p := &fakeProvider{table: map[string]string{"203.0.113.7": "KP"}}
	e := New(Config{BlockedCountries: []string{"KP"}}, p)

	first := e.Evaluate(context.Background(), "203.0.113.7")
	for i := 0; i < 10; i++ {
		out := e.Evaluate(context.Background(), "203.0.113.7")
		if out.Allowed != first.Allowed || out.Country != first.Country {
			t.Fatalf("iteration %d: outcome changed: %+v vs %+v", i, out, first)
		}
	}
}

func TestNoPolicySkipsLookup(t *testing.T) {
	p := &fakeProvider{table: map[string]string{"203.0.113.7": "KP"}}
	e := New(Config{}, p)

	if out := e.Evaluate(context.Background(), "203.0.113.7"); !out.Allowed {
		t.Error("empty policy must allow")
	}
	if p.lookups != 0 {
		t.Error("empty policy should not hit the provider")
	}
}

func TestNilProviderAllows(t *testing.T) {
	e := New(Config{BlockedCountries: []string{"KP"}}, nil)
	if out := e.Evaluate(context.Background(), "203.0.113.7"); !out.Allowed {
		t.Error("nil provider must allow")
	}
}

func TestCachedProvider(t *testing.T) {
	inner := &fakeProvider{table: map[string]string{"203.0.113.7": "DE"}}
	cached := NewCachedProvider(inner, 16, time.Minute)

	for i := 0; i < 5; i++ {
		country, err := cached.Lookup(context.Background(), "203.0.113.7")
		if err != nil {
			t.Fatal(err)
		}
		if country != "DE" {
			t.Fatalf("country = %q", country)
		}
	}
	if inner.lookups != 1 {
		t.Errorf("inner lookups = %d, want 1 (cached)", inner.lookups)
	}
}

func TestCachedProviderDoesNotCacheErrors(t *testing.T) {
	inner := &fakeProvider{err: errors.New("down")}
	cached := NewCachedProvider(inner, 16, time.Minute)

	cached.Lookup(context.Background(), "203.0.113.7")
	cached.Lookup(context.Background(), "203.0.113.7")
	if inner.lookups != 2 {
		t.Errorf("inner lookups = %d, want 2 (errors not cached)", inner.lookups)
	}
}

func TestCachedProviderDisabled(t *testing.T) {
	inner := &fakeProvider{}
	if p := NewCachedProvider(inner, 0, time.Minute); p != inner {
		t.Error("size 0 should return the inner provider")
	}
}
