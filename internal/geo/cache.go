package geo

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedProvider wraps a Provider with a bounded TTL cache. Only
// successful lookups are cached; failures always retry the inner
// provider so outages recover without waiting out the TTL.
type CachedProvider struct {
	inner Provider
	cache *expirable.LRU[string, string]
}

// NewCachedProvider creates a caching wrapper. size <= 0 disables the
// wrapper and returns the inner provider unchanged.
func NewCachedProvider(inner Provider, size int, ttl time.Duration) Provider {
	if size <= 0 {
		return inner
	}
	return &CachedProvider{
		inner: inner,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (p *CachedProvider) Lookup(ctx context.Context, ip string) (string, error) {
	if country, ok := p.cache.Get(ip); ok {
		return country, nil
	}
	country, err := p.inner.Lookup(ctx, ip)
	if err != nil {
		return "", err
	}
	p.cache.Add(ip, country)
	return country, nil
}

func (p *CachedProvider) Close() error {
	return p.inner.Close()
}
