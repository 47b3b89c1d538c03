package datatree

import (
	"context"
	"math"

	"github.com/cuemby/vaultfs/pkg/datanode"
	"github.com/cuemby/vaultfs/pkg/types"
)

// TreeStore creates, loads and removes block trees over a NodeStore.
type TreeStore struct {
	nodes *datanode.NodeStore
}

// NewStore creates a TreeStore over nodes.
func NewStore(nodes *datanode.NodeStore) *TreeStore {
	return &TreeStore{nodes: nodes}
}

// CreateTree creates a new empty tree (a single zero-length leaf) and
// returns it.
func (s *TreeStore) CreateTree(ctx context.Context) (*Tree, error) {
	leaf, err := s.nodes.CreateNewLeaf(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tree{store: s, rootId: leaf.BlockId()}, nil
}

// LoadTree returns the tree rooted at rootId, or
// blockstore.ErrBlockNotFound if no such node exists.
func (s *TreeStore) LoadTree(ctx context.Context, rootId types.BlockId) (*Tree, error) {
	// Probe the root so a dangling id fails here, not on first use.
	if _, err := s.nodes.Load(ctx, rootId); err != nil {
		return nil, err
	}
	return &Tree{store: s, rootId: rootId}, nil
}

// RemoveTreeById deletes the tree rooted at rootId with all its nodes.
// The bool reports whether the tree existed.
func (s *TreeStore) RemoveTreeById(ctx context.Context, rootId types.BlockId) (bool, error) {
	tree, err := s.LoadTree(ctx, rootId)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := tree.Remove(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// NumNodes counts all node blocks in the underlying store, across all
// trees.
func (s *TreeStore) NumNodes(ctx context.Context) (uint64, error) {
	return s.nodes.NumNodes(ctx)
}

// EstimateSpaceForNumBlocksLeft estimates how many more node blocks the
// underlying storage can hold.
func (s *TreeStore) EstimateSpaceForNumBlocksLeft() (uint64, error) {
	return s.nodes.EstimateSpaceForNumBlocksLeft()
}

// VirtualBlockSizeBytes returns the per-leaf payload capacity.
func (s *TreeStore) VirtualBlockSizeBytes() uint32 {
	return s.nodes.VirtualBlockSizeBytes()
}

// leavesPerSubtree returns how many leaves a full subtree of the given
// depth holds, saturating instead of overflowing.
func (s *TreeStore) leavesPerSubtree(depth uint8) uint64 {
	k := uint64(s.nodes.MaxFanout())
	result := uint64(1)
	for i := uint8(0); i < depth; i++ {
		if result > math.MaxUint64/k {
			return math.MaxUint64
		}
		result *= k
	}
	return result
}
