package locking

import (
	"context"
	"errors"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/log"
	"github.com/cuemby/vaultfs/pkg/metrics"
	"github.com/cuemby/vaultfs/pkg/types"
)

// LockingBlockStore is the user-facing block store. It serializes access
// per BlockId and caches blocks with write-back semantics. See the package
// documentation for the full contract.
type LockingBlockStore struct {
	base  blockstore.BlockStore
	cache *blockCache
}

// New creates a LockingBlockStore over the given base store. The returned
// store must be shut down with Close.
func New(base blockstore.BlockStore) *LockingBlockStore {
	return &LockingBlockStore{
		base:  base,
		cache: newBlockCache(base),
	}
}

// Load returns a handle on the block with the given id, or
// blockstore.ErrBlockNotFound. The handle keeps the id locked; release it
// promptly.
func (s *LockingBlockStore) Load(ctx context.Context, id types.BlockId) (*Block, error) {
	g, err := s.cache.asyncLock(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.takeLatchedError(id); err != nil {
		g.Release()
		return nil, err
	}

	if s.cache.getEntry(id) != nil {
		metrics.CacheHits.Inc()
		return &Block{cache: s.cache, guard: g}, nil
	}
	metrics.CacheMisses.Inc()

	loaded, err := s.base.Load(ctx, id)
	if err != nil {
		g.Release()
		return nil, err
	}
	s.cache.setEntry(g, loaded, stateClean, existsInBaseStore)
	return &Block{cache: s.cache, guard: g}, nil
}

// TryCreate stores the payload under the given id unless a block with that
// id exists in the cache or the base store. The bool reports creation.
func (s *LockingBlockStore) TryCreate(ctx context.Context, id types.BlockId, d *data.Data) (bool, error) {
	g, err := s.cache.asyncLock(ctx, id)
	if err != nil {
		return false, err
	}
	defer g.Release()

	if err := s.cache.takeLatchedError(id); err != nil {
		return false, err
	}
	if s.cache.getEntry(id) != nil {
		return false, nil
	}
	exists, err := s.base.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	s.cache.setEntry(g, d.Copy(), stateDirty, doesntExistInBaseStore)
	metrics.BlocksCreated.Inc()
	return true, nil
}

// Create stores the payload under a fresh random id and returns that id.
// It retries on the (negligible-probability) id collision.
func (s *LockingBlockStore) Create(ctx context.Context, d *data.Data) (types.BlockId, error) {
	for {
		id := types.NewRandomBlockId()
		created, err := s.TryCreate(ctx, id, d)
		if err != nil {
			return types.BlockId{}, err
		}
		if created {
			return id, nil
		}
	}
}

// Overwrite stores the payload under the given id, creating the block if
// necessary. A dirty cached payload for the id is discarded.
func (s *LockingBlockStore) Overwrite(ctx context.Context, id types.BlockId, d *data.Data) error {
	g, err := s.cache.asyncLock(ctx, id)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := s.cache.takeLatchedError(id); err != nil {
		return err
	}

	return s.cache.setOrOverwriteEntryEvenIfDirty(ctx, g, d.Copy(), stateDirty, func(ctx context.Context) (baseStoreState, error) {
		exists, err := s.base.Exists(ctx, id)
		if err != nil {
			return existsInBaseStore, err
		}
		if exists {
			return existsInBaseStore, nil
		}
		return doesntExistInBaseStore, nil
	})
}

// Remove deletes the block with the given id from cache and base store.
// The bool reports whether anything was removed.
func (s *LockingBlockStore) Remove(ctx context.Context, id types.BlockId) (bool, error) {
	g, err := s.cache.asyncLock(ctx, id)
	if err != nil {
		return false, err
	}
	defer g.Release()

	if err := s.cache.takeLatchedError(id); err != nil {
		return false, err
	}

	removedFromCache := false
	shouldRemoveFromBase := true
	if e := s.cache.getEntry(id); e != nil {
		shouldRemoveFromBase = e.baseState == existsInBaseStore
		s.cache.deleteEntryFromCacheEvenIfDirty(g)
		removedFromCache = true
	}

	removedFromBase := false
	if shouldRemoveFromBase {
		// The guard stays held across the base-store delete so no
		// concurrent create can slip in between.
		removedFromBase, err = s.base.Remove(ctx, id)
		if err != nil {
			return false, err
		}
	}

	removed := removedFromCache || removedFromBase
	if removed {
		metrics.BlocksRemoved.Inc()
	}
	return removed, nil
}

// NumBlocks counts all blocks, cached-only ones included. Blocks created
// or removed concurrently may or may not be counted.
func (s *LockingBlockStore) NumBlocks(ctx context.Context) (uint64, error) {
	base, err := s.base.NumBlocks(ctx)
	if err != nil {
		return 0, err
	}
	return base + s.cache.numBlocksInCacheButNotInBaseStore(), nil
}

// EstimateNumFreeBytes forwards the base store's estimate.
func (s *LockingBlockStore) EstimateNumFreeBytes() (uint64, error) {
	return s.base.EstimateNumFreeBytes()
}

// BlockSizeFromPhysicalBlockSize forwards the base store's arithmetic.
func (s *LockingBlockStore) BlockSizeFromPhysicalBlockSize(physicalBlockSize uint64) (uint64, error) {
	return s.base.BlockSizeFromPhysicalBlockSize(physicalBlockSize)
}

// Allocate returns a payload buffer with the base stack's reservations.
func (s *LockingBlockStore) Allocate(size int) *data.Data {
	return s.base.Allocate(size)
}

// AllBlocks emits the ids of all blocks: the cached ids first, then the
// base store's, deduplicated. No ordering guarantee; blocks created or
// removed during iteration may or may not appear.
func (s *LockingBlockStore) AllBlocks(ctx context.Context) (<-chan types.BlockId, error) {
	cached := s.cache.keys()
	baseCh, err := s.base.AllBlocks(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[types.BlockId]bool, len(cached))
	for _, id := range cached {
		seen[id] = true
	}

	out := make(chan types.BlockId)
	go func() {
		defer close(out)
		for _, id := range cached {
			select {
			case out <- id:
			case <-ctx.Done():
				return
			}
		}
		for id := range baseCh {
			if seen[id] {
				continue
			}
			select {
			case out <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Flush writes the block with the given id through to the base store if it
// is cached dirty.
func (s *LockingBlockStore) Flush(ctx context.Context, id types.BlockId) error {
	g, err := s.cache.asyncLock(ctx, id)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := s.cache.takeLatchedError(id); err != nil {
		return err
	}
	if s.cache.getEntry(id) == nil {
		return nil
	}
	return s.cache.flushEntry(ctx, id)
}

// Close flushes all dirty entries and shuts the store down. Using the
// store after Close is a programmer error.
func (s *LockingBlockStore) Close(ctx context.Context) error {
	if err := s.cache.close(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		logger := log.WithComponent("lockingblockstore")
		logger.Error().Err(err).Msg("teardown flush failed")
		return err
	}
	return nil
}
