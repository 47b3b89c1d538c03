package locking

import (
	"time"

	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/types"
)

// entryState tracks whether a cached payload diverges from the base store.
type entryState int

const (
	stateClean entryState = iota
	stateDirty
)

// baseStoreState tracks whether a block with the entry's id currently
// exists in the base store.
type baseStoreState int

const (
	existsInBaseStore baseStoreState = iota
	doesntExistInBaseStore
)

// cacheEntry is the cached copy of one block. Invariant: an entry is never
// both clean and absent from the base store; cleanliness means the base
// store holds the same payload.
type cacheEntry struct {
	data       *data.Data
	state      entryState
	baseState  baseStoreState
	lastAccess time.Time
}

func (e *cacheEntry) touch() {
	e.lastAccess = time.Now()
}

// entryGuard is a scoped exclusive lease on one BlockId. While a guard is
// alive no other operation can touch that id's cache entry. Guards must be
// released on every path.
type entryGuard struct {
	cache    *blockCache
	id       types.BlockId
	released bool
}

// Key returns the BlockId this guard covers.
func (g *entryGuard) Key() types.BlockId {
	return g.id
}

// Release gives up the per-id lock. Safe to call once only.
func (g *entryGuard) Release() {
	if g.released {
		panic("entryGuard: double release for block " + g.id.String())
	}
	g.released = true
	g.cache.locks.unlock(g.id)
}
