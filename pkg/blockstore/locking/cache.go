package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/log"
	"github.com/cuemby/vaultfs/pkg/metrics"
	"github.com/cuemby/vaultfs/pkg/types"
)

const (
	// evictionIdle is how long an entry must go untouched before the
	// pruner may evict it.
	evictionIdle = 1 * time.Second

	// pruneInterval is how often the pruner scans for idle entries.
	pruneInterval = 500 * time.Millisecond
)

// blockCache is the per-id-locked write-back cache behind
// LockingBlockStore. It owns all cache entries; access to an entry
// requires holding that id's guard.
type blockCache struct {
	base  blockstore.BlockStore
	locks *lockMap

	mu           sync.Mutex
	entries      map[types.BlockId]*cacheEntry
	numNotInBase uint64
	flushErrs    map[types.BlockId]error
	closed       bool

	stopPrune chan struct{}
	pruneDone chan struct{}
}

func newBlockCache(base blockstore.BlockStore) *blockCache {
	c := &blockCache{
		base:      base,
		locks:     newLockMap(),
		entries:   make(map[types.BlockId]*cacheEntry),
		flushErrs: make(map[types.BlockId]error),
		stopPrune: make(chan struct{}),
		pruneDone: make(chan struct{}),
	}
	go c.pruneLoop()
	return c
}

// asyncLock waits for exclusive access to the id and returns its guard.
func (c *blockCache) asyncLock(ctx context.Context, id types.BlockId) (*entryGuard, error) {
	if err := c.locks.lock(ctx, id); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if e := c.entries[id]; e != nil {
		e.touch()
	}
	c.mu.Unlock()
	return &entryGuard{cache: c, id: id}, nil
}

// getEntry returns the id's entry. Caller must hold the id's guard.
func (c *blockCache) getEntry(id types.BlockId) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id]
}

// setEntry installs a fresh entry under the guard. The id must not have an
// entry yet.
func (c *blockCache) setEntry(g *entryGuard, d *data.Data, state entryState, baseState baseStoreState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[g.id] != nil {
		panic("blockCache: setEntry over existing entry for block " + g.id.String())
	}
	c.entries[g.id] = &cacheEntry{
		data:       d,
		state:      state,
		baseState:  baseState,
		lastAccess: time.Now(),
	}
	if baseState == doesntExistInBaseStore {
		c.numNotInBase++
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// setOrOverwriteEntryEvenIfDirty replaces the id's entry with a new
// payload, discarding any unpersisted previous contents. The base store
// state is kept from the previous entry when one exists and computed via
// computeBaseState otherwise.
func (c *blockCache) setOrOverwriteEntryEvenIfDirty(
	ctx context.Context,
	g *entryGuard,
	d *data.Data,
	state entryState,
	computeBaseState func(context.Context) (baseStoreState, error),
) error {
	c.mu.Lock()
	old := c.entries[g.id]
	c.mu.Unlock()

	baseState := doesntExistInBaseStore
	if old != nil {
		baseState = old.baseState
	} else {
		var err error
		baseState, err = computeBaseState(ctx)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[g.id] = &cacheEntry{
		data:       d,
		state:      state,
		baseState:  baseState,
		lastAccess: time.Now(),
	}
	if old == nil && baseState == doesntExistInBaseStore {
		c.numNotInBase++
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return nil
}

// deleteEntryFromCacheEvenIfDirty drops the id's entry without touching
// the base store.
func (c *blockCache) deleteEntryFromCacheEvenIfDirty(g *entryGuard) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[g.id]
	if e == nil {
		return
	}
	if e.baseState == doesntExistInBaseStore {
		c.numNotInBase--
	}
	delete(c.entries, g.id)
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// markDirty flags the id's entry as diverging from the base store. Caller
// must hold the guard and the entry must exist.
func (c *blockCache) markDirty(id types.BlockId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[id]
	if e == nil {
		panic("blockCache: markDirty without entry for block " + id.String())
	}
	e.state = stateDirty
	e.touch()
}

// flushEntry writes the id's entry to the base store if dirty. Caller must
// hold the guard.
func (c *blockCache) flushEntry(ctx context.Context, id types.BlockId) error {
	c.mu.Lock()
	e := c.entries[id]
	if e == nil {
		c.mu.Unlock()
		panic("blockCache: flushEntry without entry for block " + id.String())
	}
	if e.state == stateClean {
		c.mu.Unlock()
		return nil
	}
	payload := e.data
	c.mu.Unlock()

	timer := metrics.NewTimer()
	if err := c.base.Store(ctx, id, payload); err != nil {
		metrics.CacheFlushErrors.Inc()
		return fmt.Errorf("failed to flush block %s: %w", id, err)
	}
	timer.ObserveDuration(metrics.FlushDuration)
	metrics.CacheFlushes.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	e.state = stateClean
	if e.baseState == doesntExistInBaseStore {
		e.baseState = existsInBaseStore
		c.numNotInBase--
	}
	return nil
}

// keys returns a snapshot of all cached ids.
func (c *blockCache) keys() []types.BlockId {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]types.BlockId, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// numBlocksInCacheButNotInBaseStore counts cached blocks the base store
// does not hold.
func (c *blockCache) numBlocksInCacheButNotInBaseStore() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numNotInBase
}

// takeLatchedError pops a deferred flush error for the id, if any.
func (c *blockCache) takeLatchedError(id types.BlockId) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.flushErrs[id]
	if err != nil {
		delete(c.flushErrs, id)
	}
	return err
}

func (c *blockCache) latchFlushError(id types.BlockId, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Keep the first error per id; later ones usually repeat the cause.
	if _, ok := c.flushErrs[id]; !ok {
		c.flushErrs[id] = err
	}
}

func (c *blockCache) pruneLoop() {
	defer close(c.pruneDone)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopPrune:
			return
		case <-ticker.C:
			c.pruneOnce()
		}
	}
}

// pruneOnce evicts entries that have been idle for longer than
// evictionIdle, flushing dirty ones first. Eviction uses the same per-id
// locks as user operations, so it cannot race with them.
func (c *blockCache) pruneOnce() {
	for _, id := range c.keys() {
		if !c.locks.tryLock(id) {
			continue
		}

		c.mu.Lock()
		e := c.entries[id]
		idle := e != nil && time.Since(e.lastAccess) >= evictionIdle
		dirty := e != nil && e.state == stateDirty
		c.mu.Unlock()

		if !idle {
			c.locks.unlock(id)
			continue
		}

		if dirty {
			if err := c.flushEntry(context.Background(), id); err != nil {
				c.latchFlushError(id, err)
				logger := log.WithComponent("blockcache")
				logger.Error().Err(err).Str("block_id", id.String()).Msg("eviction flush failed, error latched")
				c.locks.unlock(id)
				continue
			}
		}

		// Entry is clean now; dropping it loses nothing.
		g := &entryGuard{cache: c, id: id}
		c.deleteEntryFromCacheEvenIfDirty(g)
		metrics.CacheEvictions.Inc()
		c.locks.unlock(id)
	}
}

// close flushes every dirty entry and drops the cache. Latched flush
// errors and flush failures during teardown are joined into the returned
// error.
func (c *blockCache) close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("block cache closed twice")
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopPrune)
	<-c.pruneDone

	var errs []error
	for _, id := range c.keys() {
		if err := c.locks.lock(ctx, id); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.takeLatchedError(id); err != nil {
			errs = append(errs, err)
		}
		if c.getEntry(id) != nil {
			if err := c.flushEntry(ctx, id); err != nil {
				errs = append(errs, err)
				c.locks.unlock(id)
				continue
			}
			g := &entryGuard{cache: c, id: id}
			c.deleteEntryFromCacheEvenIfDirty(g)
		}
		c.locks.unlock(id)
	}

	// Latched errors for ids that no longer have entries.
	c.mu.Lock()
	for id, err := range c.flushErrs {
		errs = append(errs, fmt.Errorf("block %s: %w", id, err))
		delete(c.flushErrs, id)
	}
	c.mu.Unlock()

	return errors.Join(errs...)
}
