package allowlist

import (
	"context"
	"encoding/hex"
	"log"
	"strings"
	"sync"
	"time"

	apperrors "github.com/stonevault/gate/internal/platform/errors"
)

// DefaultRefreshInterval is how long a snapshot is served before the cache
// refreshes from its sources.
const DefaultRefreshInterval = 5 * time.Minute

// ApplyMode selects how an admin-submitted model is combined with the
// current policy.
type ApplyMode string

const (
	ApplyReplace ApplyMode = "replace"
	ApplyMerge   ApplyMode = "merge"
	ApplyRemove  ApplyMode = "remove"
)

// Cache is the single owner of the current allowlist snapshot. Reads are
// served from the cached snapshot while it is younger than the refresh
// interval; a stale read triggers a refresh under the writer lock, so at most
// one fetch is in flight per process and concurrent callers share its result.
//
// The cache also owns the admin runtime override. The refresher and the
// admin editor serialize on the same lock, so callers always observe a whole
// snapshot, never a partial one.
type Cache struct {
	mu       sync.RWMutex
	snapshot Snapshot
	override *Model

	loader   *Loader
	interval time.Duration
	clock    func() time.Time
}

// NewCache creates a cache around the loader. A non-positive interval falls
// back to DefaultRefreshInterval; a nil clock falls back to time.Now. The
// cache starts empty and performs its first load on first use.
func NewCache(loader *Loader, interval time.Duration, clock func() time.Time) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		snapshot: Deny(time.Time{}),
		loader:   loader,
		interval: interval,
		clock:    clock,
	}
}

// Get returns the current snapshot, refreshing first when the cached one has
// aged past the refresh interval. Absence of a usable policy fails closed:
// when every source misses the caller receives the deny-all snapshot, never
// an error.
func (c *Cache) Get(ctx context.Context) Snapshot {
	now := c.clock()

	c.mu.RLock()
	snapshot := c.snapshot
	c.mu.RUnlock()
	if snapshot.Age(now) < c.interval {
		return snapshot
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have refreshed while this one waited for the lock.
	if c.snapshot.Age(c.clock()) < c.interval {
		return c.snapshot
	}
	return c.refreshLocked(ctx)
}

// ForceRefresh bypasses the refresh interval and reloads immediately. It is
// the entry point for the webhook trigger and the file watcher.
func (c *Cache) ForceRefresh(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// refreshLocked performs the actual fetch. Callers must hold the write lock.
func (c *Cache) refreshLocked(ctx context.Context) Snapshot {
	now := c.clock()
	snapshot, err := c.loader.Load(ctx, c.override, now)
	if err != nil {
		if ctx.Err() != nil {
			// A canceled fetch must not corrupt the cache: keep the
			// previous snapshot and let the next Get retry.
			log.Printf("allowlist: refresh canceled: %v", ctx.Err())
			return c.snapshot
		}
		log.Printf("allowlist: all sources failed, serving deny-all: %v", err)
		c.snapshot = Deny(now)
		return c.snapshot
	}
	c.snapshot = snapshot
	return c.snapshot
}

// Snapshot returns the cached snapshot without triggering a refresh.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// View returns a read-only copy of the current policy model.
func (c *Cache) View() Model {
	return c.Snapshot().View()
}

// Apply combines an admin-submitted model with the current policy under the
// given mode and installs the result as the runtime override. The mutation
// is atomic: a rejected mode or model leaves the previous snapshot and
// override untouched. On success the resulting view is returned.
func (c *Cache) Apply(mode ApplyMode, incoming Model) (Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := c.overrideBaseLocked()
	var next Model
	switch mode {
	case ApplyReplace:
		next = incoming.Normalized()
	case ApplyMerge:
		next = base.Merge(incoming)
	case ApplyRemove:
		next = base.Remove(incoming)
	default:
		return Model{}, apperrors.WithMetadata(
			apperrors.CodeAdminInvalidOperation,
			"unknown apply mode",
			map[string]string{"Mode": string(mode)},
		)
	}

	c.installOverrideLocked(next)
	return c.snapshot.View(), nil
}

// SetCurrentHash installs a hash on each named target, either replacing the
// target's list or appending to it, optionally clearing every other hash
// list in the same call. The hash must be hex; targets must name at least
// one list.
func (c *Cache) SetCurrentHash(hash string, targets []string, replaceList, clearOthers bool) (Model, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" || !isHex(hash) {
		return Model{}, apperrors.New(apperrors.CodeAdminInvalidModel, "hash must be hex-encoded")
	}
	named := 0
	for _, target := range targets {
		if strings.TrimSpace(target) != "" {
			named++
		}
	}
	if named == 0 {
		return Model{}, apperrors.New(apperrors.CodeAdminInvalidModel, "at least one target is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.overrideBaseLocked().WithCurrentHash(hash, targets, replaceList, clearOthers)
	c.installOverrideLocked(next)
	return c.snapshot.View(), nil
}

// ClearOverride removes the runtime override so the next refresh falls back
// to the file and remote sources.
func (c *Cache) ClearOverride(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = nil
	return c.refreshLocked(ctx)
}

// overrideBaseLocked returns the model admin operations build on: the
// current override when one is installed, otherwise the current snapshot's
// model. Callers must hold the write lock.
func (c *Cache) overrideBaseLocked() Model {
	if c.override != nil {
		return c.override.Clone()
	}
	return c.snapshot.View()
}

// installOverrideLocked records the override and swaps in the corresponding
// snapshot. Callers must hold the write lock.
func (c *Cache) installOverrideLocked(next Model) {
	c.override = &next
	c.snapshot = NewSnapshot(next, SourceRuntimeOverride, c.clock())
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
