package blobstore

import (
	"context"

	"github.com/cuemby/vaultfs/pkg/datanode"
	"github.com/cuemby/vaultfs/pkg/datatree"
	"github.com/cuemby/vaultfs/pkg/types"
)

// Blob is one stored byte sequence.
type Blob struct {
	tree *datatree.Tree
}

// Id returns the blob's identity.
func (b *Blob) Id() types.BlobId {
	return types.BlobId{Root: b.tree.RootId()}
}

// NumBytes returns the blob's logical length.
func (b *Blob) NumBytes(ctx context.Context) (uint64, error) {
	return b.tree.NumBytes(ctx)
}

// NumNodes returns how many node blocks this blob occupies.
func (b *Blob) NumNodes(ctx context.Context) (uint64, error) {
	return b.tree.NumNodes(ctx)
}

// ReadAt copies up to len(p) bytes starting at offset into p. Reads past
// the end of the blob are short reads.
func (b *Blob) ReadAt(ctx context.Context, p []byte, offset uint64) (int, error) {
	return b.tree.ReadAt(ctx, p, offset)
}

// WriteAt writes p at offset, growing the blob as needed. The gap between
// the old end and offset reads as zero.
func (b *Blob) WriteAt(ctx context.Context, p []byte, offset uint64) error {
	return b.tree.WriteAt(ctx, p, offset)
}

// Resize changes the blob's length. Growth zero fills, shrinking drops
// the tail.
func (b *Blob) Resize(ctx context.Context, newNumBytes uint64) error {
	return b.tree.Resize(ctx, newNumBytes)
}

// AllLeaves invokes onLeaf for every data leaf of the blob, concurrently
// and in no particular order.
func (b *Blob) AllLeaves(ctx context.Context, onLeaf func(ctx context.Context, leaf *datanode.LeafNode) error) error {
	return b.tree.AllLeaves(ctx, onLeaf)
}

// Remove deletes the blob and all its blocks.
func (b *Blob) Remove(ctx context.Context) error {
	return b.tree.Remove(ctx)
}
