package masterdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// ErrUnavailable is returned when the backing Client cannot be reached and
// no cached snapshot exists yet to fall back on. load_masterdata (spec.md
// §4.4) treats this as fatal after retries.
var ErrUnavailable = errors.New("masterdata unavailable")

// Cache is a process-local, version-checked read-through cache over
// Client, generalized from the teacher's rollover-window TTL check in
// entitlements.Service/reconcile.Service (the same "is the cached thing
// still current" shape, regeared from usage-period expiry to snapshot
// version/TTL expiry).
type Cache struct {
	Client Client
	TTL    time.Duration
	Now    func() time.Time

	mu         sync.RWMutex
	snapshot   *model.MasterDataSnapshot
	cachedAt   time.Time
}

func NewCache(client Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		Client: client,
		TTL:    ttl,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the current snapshot, reloading when the cache is older than
// TTL or the backing service reports a newer version (spec.md §4.3).
func (c *Cache) Get(ctx context.Context) (*model.MasterDataSnapshot, error) {
	c.mu.RLock()
	snapshot := c.snapshot
	fresh := snapshot != nil && c.Now().Sub(c.cachedAt) < c.TTL
	c.mu.RUnlock()

	if c.Client == nil {
		if snapshot != nil {
			return snapshot, nil
		}
		return nil, ErrUnavailable
	}

	currentVersion, err := c.Client.CurrentVersion(ctx)
	if err != nil {
		if snapshot != nil {
			return snapshot, nil
		}
		return nil, ErrUnavailable
	}

	if fresh && snapshot.Version == currentVersion {
		return snapshot, nil
	}

	reloaded, err := c.Client.FetchSnapshot(ctx)
	if err != nil {
		if snapshot != nil {
			return snapshot, nil
		}
		return nil, ErrUnavailable
	}

	c.mu.Lock()
	c.snapshot = reloaded
	c.cachedAt = c.Now()
	c.mu.Unlock()
	return reloaded, nil
}

// Invalidate forces the next Get to reload regardless of TTL.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
