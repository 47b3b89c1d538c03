package locking

import (
	"context"

	"github.com/cuemby/vaultfs/pkg/types"
)

// Block is a handle on one loaded block. It holds the per-id lock; other
// operations on the same id wait until the handle is released. Dropping a
// handle without Flush is legal, the cache writes the block back on
// eviction; call Flush when an external observer must see the data.
type Block struct {
	cache *blockCache
	guard *entryGuard
}

// BlockId returns the id of the block.
func (b *Block) BlockId() types.BlockId {
	return b.guard.Key()
}

// Size returns the current payload length.
func (b *Block) Size() int {
	return b.entry().data.Len()
}

// Data returns the payload for reading. The slice is only valid until the
// handle is released; do not write through it, use DataMut.
func (b *Block) Data() []byte {
	return b.entry().data.Bytes()
}

// DataMut returns the payload for writing and marks the block dirty.
func (b *Block) DataMut() []byte {
	b.cache.markDirty(b.guard.Key())
	return b.entry().data.Bytes()
}

// Resize grows or shrinks the in-cache payload to newSize bytes, zero
// filling on growth, and marks the block dirty.
func (b *Block) Resize(newSize int) {
	b.entry().data.Resize(newSize)
	b.cache.markDirty(b.guard.Key())
}

// Flush writes the block through to the base store if dirty.
func (b *Block) Flush(ctx context.Context) error {
	return b.cache.flushEntry(ctx, b.guard.Key())
}

// Release gives up the handle and unblocks other operations on this id.
// The handle must not be used afterwards.
func (b *Block) Release() {
	b.guard.Release()
}

func (b *Block) entry() *cacheEntry {
	e := b.cache.getEntry(b.guard.Key())
	if e == nil {
		panic("locking: block handle without cache entry for block " + b.guard.Key().String())
	}
	return e
}
