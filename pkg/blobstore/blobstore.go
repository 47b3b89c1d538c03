package blobstore

import (
	"context"

	"github.com/cuemby/vaultfs/pkg/datatree"
	"github.com/cuemby/vaultfs/pkg/types"
)

// BlobStore creates, loads and removes blobs over a tree store.
type BlobStore struct {
	trees *datatree.TreeStore
}

// New creates a BlobStore over trees.
func New(trees *datatree.TreeStore) *BlobStore {
	return &BlobStore{trees: trees}
}

// Create creates a new empty blob.
func (s *BlobStore) Create(ctx context.Context) (*Blob, error) {
	tree, err := s.trees.CreateTree(ctx)
	if err != nil {
		return nil, err
	}
	return &Blob{tree: tree}, nil
}

// Load returns the blob with the given id, or
// blockstore.ErrBlockNotFound if it does not exist.
func (s *BlobStore) Load(ctx context.Context, id types.BlobId) (*Blob, error) {
	tree, err := s.trees.LoadTree(ctx, id.Root)
	if err != nil {
		return nil, err
	}
	return &Blob{tree: tree}, nil
}

// RemoveById deletes the blob with the given id and all its blocks. The
// bool reports whether the blob existed.
func (s *BlobStore) RemoveById(ctx context.Context, id types.BlobId) (bool, error) {
	return s.trees.RemoveTreeById(ctx, id.Root)
}

// NumNodes counts the node blocks of all blobs in the store.
func (s *BlobStore) NumNodes(ctx context.Context) (uint64, error) {
	return s.trees.NumNodes(ctx)
}

// EstimateSpaceForNumBlocksLeft estimates how many more node blocks the
// underlying storage can hold.
func (s *BlobStore) EstimateSpaceForNumBlocksLeft() (uint64, error) {
	return s.trees.EstimateSpaceForNumBlocksLeft()
}

// VirtualBlockSizeBytes returns the payload bytes one tree leaf holds.
// Blobs grow in steps of this size.
func (s *BlobStore) VirtualBlockSizeBytes() uint32 {
	return s.trees.VirtualBlockSizeBytes()
}
