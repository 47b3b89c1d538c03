package blockstore

import (
	"context"
	"errors"

	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/types"
)

// ErrBlockNotFound is returned by Load when no block with the requested id
// exists. It is an expected condition, not a failure of the store.
var ErrBlockNotFound = errors.New("block not found")

// ErrOutOfSpace is returned by writes when the backing storage cannot
// accept a new block.
var ErrOutOfSpace = errors.New("block store out of space")

// Reader is the read capability of a block store.
type Reader interface {
	// Load returns the payload of the block with the given id, or
	// ErrBlockNotFound.
	Load(ctx context.Context, id types.BlockId) (*data.Data, error)

	// Exists reports whether a block with the given id is present.
	Exists(ctx context.Context, id types.BlockId) (bool, error)

	// NumBlocks returns the number of blocks currently stored.
	NumBlocks(ctx context.Context) (uint64, error)

	// EstimateNumFreeBytes estimates how many more payload bytes the
	// backing storage can hold. Best effort.
	EstimateNumFreeBytes() (uint64, error)

	// BlockSizeFromPhysicalBlockSize returns the usable payload size of a
	// block when the physical block size is the given value. Layers that
	// add headers subtract their overhead; fails if the physical size
	// cannot even hold the headers.
	BlockSizeFromPhysicalBlockSize(physicalBlockSize uint64) (uint64, error)

	// AllBlocks returns a channel over the ids of all stored blocks. The
	// channel is closed when iteration finishes or ctx is done. Blocks
	// created or removed during iteration may or may not be included.
	AllBlocks(ctx context.Context) (<-chan types.BlockId, error)
}

// Deleter is the delete capability of a block store.
type Deleter interface {
	// Remove deletes the block with the given id. The bool reports
	// whether a block existed and was removed.
	Remove(ctx context.Context, id types.BlockId) (bool, error)
}

// Writer is the write capability of a block store.
type Writer interface {
	// TryCreate stores the payload under the given id if no block with
	// that id exists yet. The bool reports whether the block was created;
	// false means the id was already taken.
	TryCreate(ctx context.Context, id types.BlockId, d *data.Data) (bool, error)

	// Store stores the payload under the given id, overwriting any
	// existing block.
	Store(ctx context.Context, id types.BlockId, d *data.Data) error
}

// OptimizedWriter allocates payload buffers carrying the prefix and suffix
// reservations this store stack needs, so that layers can prepend their
// headers without copying.
type OptimizedWriter interface {
	// Allocate returns a zeroed payload buffer of the given size whose
	// reserved capacity covers every header the store stack below will
	// add.
	Allocate(size int) *data.Data
}

// BlockStore is the full low-level surface.
type BlockStore interface {
	Reader
	Deleter
	Writer
	OptimizedWriter
}
