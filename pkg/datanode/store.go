package datanode

import (
	"context"
	"fmt"

	"github.com/cuemby/vaultfs/pkg/blockstore/locking"
	"github.com/cuemby/vaultfs/pkg/types"
)

// NodeStore reads and writes tree nodes over a LockingBlockStore.
type NodeStore struct {
	blocks            *locking.LockingBlockStore
	physicalBlockSize uint64
	blockSize         uint32
	maxLeafPayload    uint32
	maxFanout         uint32
}

// New creates a NodeStore over blocks, for the given physical block size.
// The plaintext block size is derived through the store stack; it must
// leave room for the node header, at least one byte of leaf payload and at
// least two child ids.
func New(blocks *locking.LockingBlockStore, physicalBlockSize uint64) (*NodeStore, error) {
	blockSize, err := blocks.BlockSizeFromPhysicalBlockSize(physicalBlockSize)
	if err != nil {
		return nil, err
	}
	if blockSize < headerLen+2*types.BlockIdSize {
		return nil, fmt.Errorf("block size %d too small for tree nodes, need at least %d", blockSize, headerLen+2*types.BlockIdSize)
	}

	return &NodeStore{
		blocks:            blocks,
		physicalBlockSize: physicalBlockSize,
		blockSize:         uint32(blockSize),
		maxLeafPayload:    uint32(blockSize) - headerLen,
		maxFanout:         (uint32(blockSize) - headerLen) / types.BlockIdSize,
	}, nil
}

// MaxLeafPayload returns the maximum number of data bytes per leaf.
func (s *NodeStore) MaxLeafPayload() uint32 { return s.maxLeafPayload }

// MaxFanout returns the maximum number of children per inner node.
func (s *NodeStore) MaxFanout() uint32 { return s.maxFanout }

// VirtualBlockSizeBytes returns the blob-visible block size, the maximum
// leaf payload.
func (s *NodeStore) VirtualBlockSizeBytes() uint32 { return s.maxLeafPayload }

// CreateNewLeaf writes a fresh leaf holding payload and returns it.
func (s *NodeStore) CreateNewLeaf(ctx context.Context, payload []byte) (*LeafNode, error) {
	if uint32(len(payload)) > s.maxLeafPayload {
		return nil, fmt.Errorf("leaf payload of %d bytes exceeds maximum %d", len(payload), s.maxLeafPayload)
	}
	buf := s.blocks.Allocate(int(s.blockSize))
	serializeLeaf(buf.Bytes(), payload)
	id, err := s.blocks.Create(ctx, buf)
	if err != nil {
		return nil, err
	}
	return &LeafNode{id: id, data: append([]byte(nil), payload...)}, nil
}

// CreateNewInner writes a fresh inner node with the given depth and
// children and returns it.
func (s *NodeStore) CreateNewInner(ctx context.Context, depth uint8, children []types.BlockId) (*InnerNode, error) {
	if err := s.validateInner(depth, children); err != nil {
		return nil, err
	}
	buf := s.blocks.Allocate(int(s.blockSize))
	serializeInner(buf.Bytes(), depth, children)
	id, err := s.blocks.Create(ctx, buf)
	if err != nil {
		return nil, err
	}
	return &InnerNode{id: id, depth: depth, children: append([]types.BlockId(nil), children...)}, nil
}

// OverwriteWithLeaf replaces the node at id with a leaf holding payload.
func (s *NodeStore) OverwriteWithLeaf(ctx context.Context, id types.BlockId, payload []byte) (*LeafNode, error) {
	if uint32(len(payload)) > s.maxLeafPayload {
		return nil, fmt.Errorf("leaf payload of %d bytes exceeds maximum %d", len(payload), s.maxLeafPayload)
	}
	buf := s.blocks.Allocate(int(s.blockSize))
	serializeLeaf(buf.Bytes(), payload)
	if err := s.blocks.Overwrite(ctx, id, buf); err != nil {
		return nil, err
	}
	return &LeafNode{id: id, data: append([]byte(nil), payload...)}, nil
}

// OverwriteWithInner replaces the node at id with an inner node.
func (s *NodeStore) OverwriteWithInner(ctx context.Context, id types.BlockId, depth uint8, children []types.BlockId) (*InnerNode, error) {
	if err := s.validateInner(depth, children); err != nil {
		return nil, err
	}
	buf := s.blocks.Allocate(int(s.blockSize))
	serializeInner(buf.Bytes(), depth, children)
	if err := s.blocks.Overwrite(ctx, id, buf); err != nil {
		return nil, err
	}
	return &InnerNode{id: id, depth: depth, children: append([]types.BlockId(nil), children...)}, nil
}

func (s *NodeStore) validateInner(depth uint8, children []types.BlockId) error {
	if depth < 1 {
		return fmt.Errorf("inner node depth must be at least 1, got %d", depth)
	}
	if len(children) == 0 || uint32(len(children)) > s.maxFanout {
		return fmt.Errorf("inner node must have between 1 and %d children, got %d", s.maxFanout, len(children))
	}
	return nil
}

// Load reads and decodes the node at id. Returns
// blockstore.ErrBlockNotFound if no such block exists and ErrNodeFormat if
// the block does not parse as a node.
func (s *NodeStore) Load(ctx context.Context, id types.BlockId) (DataNode, error) {
	blk, err := s.blocks.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	defer blk.Release()
	return parseNode(id, blk.Data(), s.maxLeafPayload, s.maxFanout)
}

// Remove deletes the node's block. The bool reports whether it existed.
func (s *NodeStore) Remove(ctx context.Context, id types.BlockId) (bool, error) {
	return s.blocks.Remove(ctx, id)
}

// NumNodes counts all node blocks in the store.
func (s *NodeStore) NumNodes(ctx context.Context) (uint64, error) {
	return s.blocks.NumBlocks(ctx)
}

// AllNodes emits the block ids of all nodes.
func (s *NodeStore) AllNodes(ctx context.Context) (<-chan types.BlockId, error) {
	return s.blocks.AllBlocks(ctx)
}

// EstimateSpaceForNumBlocksLeft estimates how many more node blocks the
// underlying storage can hold.
func (s *NodeStore) EstimateSpaceForNumBlocksLeft() (uint64, error) {
	freeBytes, err := s.blocks.EstimateNumFreeBytes()
	if err != nil {
		return 0, err
	}
	return freeBytes / s.physicalBlockSize, nil
}
