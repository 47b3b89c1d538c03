package datatree

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/datanode"
	"github.com/cuemby/vaultfs/pkg/types"
)

// Tree is one block tree. It carries no cached state; every operation
// reads what it needs through the node store, which hits the block cache.
type Tree struct {
	store  *TreeStore
	rootId types.BlockId
}

// RootId returns the id of the root node, the identity of this tree.
func (t *Tree) RootId() types.BlockId {
	return t.rootId
}

func (t *Tree) nodes() *datanode.NodeStore {
	return t.store.nodes
}

func isNotFound(err error) bool {
	return errors.Is(err, blockstore.ErrBlockNotFound)
}

// loadNode loads any node, mapping a missing block to a structure error:
// inside a tree, every referenced child must exist.
func (t *Tree) loadNode(ctx context.Context, id types.BlockId) (datanode.DataNode, error) {
	node, err := t.nodes().Load(ctx, id)
	if isNotFound(err) {
		return nil, fmt.Errorf("tree %s references missing node %s: %w", t.rootId, id, datanode.ErrNodeFormat)
	}
	return node, err
}

func (t *Tree) loadInner(ctx context.Context, id types.BlockId) (*datanode.InnerNode, error) {
	node, err := t.loadNode(ctx, id)
	if err != nil {
		return nil, err
	}
	inner, ok := node.(*datanode.InnerNode)
	if !ok {
		return nil, fmt.Errorf("expected inner node at %s but found leaf: %w", id, datanode.ErrNodeFormat)
	}
	return inner, nil
}

func (t *Tree) loadLeaf(ctx context.Context, id types.BlockId) (*datanode.LeafNode, error) {
	node, err := t.loadNode(ctx, id)
	if err != nil {
		return nil, err
	}
	leaf, ok := node.(*datanode.LeafNode)
	if !ok {
		return nil, fmt.Errorf("expected leaf node at %s but found inner node: %w", id, datanode.ErrNodeFormat)
	}
	return leaf, nil
}

// shape describes the tree's current extent, derived from the rightmost
// spine in O(depth) node loads.
type shape struct {
	depth        uint8
	numLeaves    uint64
	lastLeafId   types.BlockId
	lastLeafSize uint32
}

func (t *Tree) readShape(ctx context.Context) (shape, error) {
	var sh shape

	node, err := t.loadNode(ctx, t.rootId)
	if err != nil {
		return sh, err
	}
	sh.depth = node.Depth()
	sh.numLeaves = 1

	for {
		switch n := node.(type) {
		case *datanode.LeafNode:
			sh.lastLeafId = n.BlockId()
			sh.lastLeafSize = n.NumBytes()
			return sh, nil
		case *datanode.InnerNode:
			childLeaves := t.store.leavesPerSubtree(n.Depth() - 1)
			sh.numLeaves += uint64(n.NumChildren()-1) * childLeaves
			node, err = t.loadNode(ctx, n.LastChild())
			if err != nil {
				return sh, err
			}
			if node.Depth() != n.Depth()-1 {
				return sh, fmt.Errorf("node %s has depth %d under parent of depth %d: %w",
					node.BlockId(), node.Depth(), n.Depth(), datanode.ErrNodeFormat)
			}
		}
	}
}

func (t *Tree) maxLeafPayload() uint64 {
	return uint64(t.nodes().MaxLeafPayload())
}

// NumBytes returns the logical length of the stored byte sequence.
func (t *Tree) NumBytes(ctx context.Context) (uint64, error) {
	sh, err := t.readShape(ctx)
	if err != nil {
		return 0, err
	}
	return (sh.numLeaves-1)*t.maxLeafPayload() + uint64(sh.lastLeafSize), nil
}

// NumLeaves returns the number of leaves in the tree.
func (t *Tree) NumLeaves(ctx context.Context) (uint64, error) {
	sh, err := t.readShape(ctx)
	if err != nil {
		return 0, err
	}
	return sh.numLeaves, nil
}

// NumNodes returns the total node count of this tree, derived from its
// shape without visiting every node.
func (t *Tree) NumNodes(ctx context.Context) (uint64, error) {
	sh, err := t.readShape(ctx)
	if err != nil {
		return 0, err
	}
	k := uint64(t.nodes().MaxFanout())
	total := uint64(0)
	levelNodes := sh.numLeaves
	for {
		total += levelNodes
		if levelNodes == 1 {
			return total, nil
		}
		levelNodes = (levelNodes + k - 1) / k
	}
}

// Depth returns the current tree depth (0 for a single leaf).
func (t *Tree) Depth(ctx context.Context) (uint8, error) {
	node, err := t.loadNode(ctx, t.rootId)
	if err != nil {
		return 0, err
	}
	return node.Depth(), nil
}

// leafIdByIndex descends from the root to leaf number index. The tree is
// left-packed, so the path is determined by the base-fanout digits of the
// index.
func (t *Tree) leafIdByIndex(ctx context.Context, index uint64) (types.BlockId, error) {
	id := t.rootId
	node, err := t.loadNode(ctx, id)
	if err != nil {
		return types.BlockId{}, err
	}
	for {
		inner, ok := node.(*datanode.InnerNode)
		if !ok {
			if index != 0 {
				return types.BlockId{}, fmt.Errorf("leaf index %d out of range: %w", index, datanode.ErrNodeFormat)
			}
			return node.BlockId(), nil
		}
		childLeaves := t.store.leavesPerSubtree(inner.Depth() - 1)
		childIdx := index / childLeaves
		if childIdx >= uint64(inner.NumChildren()) {
			return types.BlockId{}, fmt.Errorf("leaf index beyond subtree of node %s: %w", inner.BlockId(), datanode.ErrNodeFormat)
		}
		id = inner.Children()[childIdx]
		index -= childIdx * childLeaves
		node, err = t.loadNode(ctx, id)
		if err != nil {
			return types.BlockId{}, err
		}
	}
}

// ReadAt copies up to len(p) bytes starting at offset into p and returns
// how many bytes were read. Reading past the end of the tree is a short
// read, not an error.
func (t *Tree) ReadAt(ctx context.Context, p []byte, offset uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	size, err := t.NumBytes(ctx)
	if err != nil {
		return 0, err
	}
	if offset >= size {
		return 0, nil
	}
	end := offset + uint64(len(p))
	if end > size {
		end = size
	}

	m := t.maxLeafPayload()
	firstLeaf := offset / m
	lastLeaf := (end - 1) / m

	g, gctx := errgroup.WithContext(ctx)
	for leafIdx := firstLeaf; leafIdx <= lastLeaf; leafIdx++ {
		leafIdx := leafIdx
		g.Go(func() error {
			leafStart := leafIdx * m
			readStart := max64(offset, leafStart)
			readEnd := min64(end, leafStart+m)

			id, err := t.leafIdByIndex(gctx, leafIdx)
			if err != nil {
				return err
			}
			leaf, err := t.loadLeaf(gctx, id)
			if err != nil {
				return err
			}
			if uint64(leaf.NumBytes()) < readEnd-leafStart {
				return fmt.Errorf("leaf %s holds %d bytes, expected at least %d: %w",
					id, leaf.NumBytes(), readEnd-leafStart, datanode.ErrNodeFormat)
			}
			copy(p[readStart-offset:readEnd-offset], leaf.Data()[readStart-leafStart:readEnd-leafStart])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(end - offset), nil
}

// WriteAt writes p at offset, growing the tree first when the write
// reaches past the current end. Writes to non-overlapping leaves may
// proceed concurrently.
func (t *Tree) WriteAt(ctx context.Context, p []byte, offset uint64) error {
	if len(p) == 0 {
		return nil
	}
	size, err := t.NumBytes(ctx)
	if err != nil {
		return err
	}
	end := offset + uint64(len(p))
	if end > size {
		if err := t.Resize(ctx, end); err != nil {
			return err
		}
		size = end
	}

	m := t.maxLeafPayload()
	numLeaves := (size + m - 1) / m
	if size == 0 {
		numLeaves = 1
	}

	firstLeaf := offset / m
	lastLeaf := (end - 1) / m

	g, gctx := errgroup.WithContext(ctx)
	for leafIdx := firstLeaf; leafIdx <= lastLeaf; leafIdx++ {
		leafIdx := leafIdx
		g.Go(func() error {
			leafStart := leafIdx * m
			writeStart := max64(offset, leafStart)
			writeEnd := min64(end, leafStart+m)

			// Size of this leaf: full except for the rightmost one.
			leafSize := m
			if leafIdx == numLeaves-1 {
				leafSize = size - leafStart
			}

			id, err := t.leafIdByIndex(gctx, leafIdx)
			if err != nil {
				return err
			}

			if writeStart == leafStart && writeEnd == leafStart+leafSize {
				// Fully covered, no need to read the old payload.
				_, err := t.nodes().OverwriteWithLeaf(gctx, id, p[writeStart-offset:writeEnd-offset])
				return err
			}

			leaf, err := t.loadLeaf(gctx, id)
			if err != nil {
				return err
			}
			if uint64(leaf.NumBytes()) != leafSize {
				return fmt.Errorf("leaf %s holds %d bytes, expected %d: %w",
					id, leaf.NumBytes(), leafSize, datanode.ErrNodeFormat)
			}
			payload := append([]byte(nil), leaf.Data()...)
			copy(payload[writeStart-leafStart:writeEnd-leafStart], p[writeStart-offset:writeEnd-offset])
			_, err = t.nodes().OverwriteWithLeaf(gctx, id, payload)
			return err
		})
	}
	return g.Wait()
}

// AllLeaves invokes onLeaf for every leaf of the tree, in no particular
// order and concurrently. The first error cancels the remaining
// traversal.
func (t *Tree) AllLeaves(ctx context.Context, onLeaf func(ctx context.Context, leaf *datanode.LeafNode) error) error {
	g, gctx := errgroup.WithContext(ctx)
	t.allLeavesUnder(gctx, g, t.rootId, onLeaf)
	return g.Wait()
}

func (t *Tree) allLeavesUnder(ctx context.Context, g *errgroup.Group, id types.BlockId, onLeaf func(ctx context.Context, leaf *datanode.LeafNode) error) {
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, err := t.loadNode(ctx, id)
		if err != nil {
			return err
		}
		switch n := node.(type) {
		case *datanode.LeafNode:
			return onLeaf(ctx, n)
		case *datanode.InnerNode:
			for _, child := range n.Children() {
				t.allLeavesUnder(ctx, g, child, onLeaf)
			}
		}
		return nil
	})
}

// Remove deletes every node of the tree from the block store.
func (t *Tree) Remove(ctx context.Context) error {
	return t.removeSubtree(ctx, t.rootId)
}

// removeSubtree deletes the node at id and everything under it. Children
// are removed concurrently.
func (t *Tree) removeSubtree(ctx context.Context, id types.BlockId) error {
	node, err := t.loadNode(ctx, id)
	if err != nil {
		return err
	}
	if inner, ok := node.(*datanode.InnerNode); ok {
		g, gctx := errgroup.WithContext(ctx)
		for _, child := range inner.Children() {
			child := child
			g.Go(func() error {
				return t.removeSubtree(gctx, child)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	if _, err := t.nodes().Remove(ctx, id); err != nil {
		return err
	}
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
