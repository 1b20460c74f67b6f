package source

import (
	"context"
	"log"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

const (
	freshKey = "snapshot:fresh"
	staleKey = "snapshot:last"
)

// staleFactor sets the default stale window as a multiple of the fresh TTL.
const staleFactor = 12

// CachedProvider serves a snapshot for up to ttl before asking inner again.
// When inner fails, the last good snapshot is served instead for up to
// maxStale after it was fetched.
type CachedProvider struct {
	inner    Provider
	ttl      time.Duration
	maxStale time.Duration
	c        *cache.Cache

	// OnStale, when set, is called each time a stale snapshot is served.
	OnStale func(err error)
}

// NewCachedProvider caches inner's snapshots. A maxStale of zero or less
// keeps the fallback for twelve TTLs.
func NewCachedProvider(inner Provider, ttl, maxStale time.Duration) *CachedProvider {
	if maxStale <= 0 {
		maxStale = staleFactor * ttl
	}
	if maxStale < ttl {
		maxStale = ttl
	}
	return &CachedProvider{
		inner:    inner,
		ttl:      ttl,
		maxStale: maxStale,
		c:        cache.New(ttl, 2*ttl),
	}
}

func (p *CachedProvider) Fetch(ctx context.Context) (*gapeka.Snapshot, error) {
	if x, found := p.c.Get(freshKey); found {
		return x.(*gapeka.Snapshot), nil
	}

	snap, err := p.inner.Fetch(ctx)
	if err == nil && snap == nil {
		err = ErrNoSnapshot
	}
	if err != nil {
		if x, found := p.c.Get(staleKey); found {
			log.Printf("snapshot fetch failed, serving cached copy: %v", err)
			if p.OnStale != nil {
				p.OnStale(err)
			}
			return x.(*gapeka.Snapshot), nil
		}
		return nil, err
	}

	p.c.Set(freshKey, snap, p.ttl)
	p.c.Set(staleKey, snap, p.maxStale)
	return snap, nil
}

// Invalidate forces the next Fetch to ask inner.
func (p *CachedProvider) Invalidate() {
	p.c.Delete(freshKey)
}
