/*
Package locking provides the high-level, user-facing block store.

LockingBlockStore layers two things over a low-level blockstore.BlockStore:

  - A per-BlockId lock map. At most one operation per id is in flight at
    any instant; logically conflicting operations on the same block cannot
    race. A Block handle returned by Load keeps the id locked until it is
    released.

  - A write-back cache. Creates and overwrites land in the cache as dirty
    entries and are written to the base store when the idle pruner evicts
    them, when the caller flushes explicitly, or at Close. Each cache
    entry tracks whether a matching block exists in the base store, which
    drives delete-through decisions and keeps NumBlocks exact.

Flush errors discovered during background eviction are never dropped: they
are latched per id and returned to the next operation covering that id, or
from Close.

# Teardown

A LockingBlockStore must be shut down with Close, which flushes all dirty
entries. Discarding a store without Close loses unflushed writes; the store
does not detect or report this.

# Usage

	store := locking.New(base)
	defer store.Close(ctx)

	id, err := store.Create(ctx, payload)
	blk, err := store.Load(ctx, id)
	if err == nil {
		copy(blk.DataMut(), newContent)
		err = blk.Flush(ctx)
		blk.Release()
	}
*/
package locking
