package datatree

import (
	"context"
	"fmt"

	"github.com/cuemby/vaultfs/pkg/datanode"
	"github.com/cuemby/vaultfs/pkg/metrics"
	"github.com/cuemby/vaultfs/pkg/types"
)

// Resize changes the tree's logical length to newNumBytes. Growth zero
// fills; new leaves are appended along the rightmost path and a new level
// is introduced when the current depth is exhausted. Shrinking removes
// trailing leaves, contracts the rightmost spine and collapses
// single-child roots. The root id never changes; all removed nodes are
// deleted from the block store.
func (t *Tree) Resize(ctx context.Context, newNumBytes uint64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TreeResizeDuration)

	m := t.maxLeafPayload()

	newNumLeaves := (newNumBytes + m - 1) / m
	if newNumLeaves == 0 {
		newNumLeaves = 1
	}
	newLastLeafSize := newNumBytes - (newNumLeaves-1)*m

	sh, err := t.readShape(ctx)
	if err != nil {
		return err
	}

	switch {
	case newNumLeaves == sh.numLeaves:
		return t.resizeLastLeaf(ctx, sh.lastLeafId, newLastLeafSize)
	case newNumLeaves > sh.numLeaves:
		return t.grow(ctx, sh, newNumLeaves, newLastLeafSize)
	default:
		return t.shrink(ctx, sh, newNumLeaves, newLastLeafSize)
	}
}

// resizeLastLeaf truncates or zero-extends the leaf at id to size bytes.
func (t *Tree) resizeLastLeaf(ctx context.Context, id types.BlockId, size uint64) error {
	leaf, err := t.loadLeaf(ctx, id)
	if err != nil {
		return err
	}
	if uint64(leaf.NumBytes()) == size {
		return nil
	}
	payload := make([]byte, size)
	copy(payload, leaf.Data())
	_, err = t.nodes().OverwriteWithLeaf(ctx, id, payload)
	return err
}

// grow extends the tree to newNumLeaves leaves, all new bytes zero.
func (t *Tree) grow(ctx context.Context, sh shape, newNumLeaves, newLastLeafSize uint64) error {
	m := t.maxLeafPayload()

	// The old last leaf becomes an interior leaf; pad it to capacity.
	if err := t.resizeLastLeaf(ctx, sh.lastLeafId, m); err != nil {
		return err
	}

	// Introduce new levels until the depth can hold the target leaf count.
	depth := sh.depth
	for t.store.leavesPerSubtree(depth) < newNumLeaves {
		if err := t.growDepth(ctx, depth); err != nil {
			return err
		}
		depth++
	}

	// Append the missing leaves along the rightmost path.
	if _, err := t.fillSubtree(ctx, t.rootId, depth, sh.numLeaves, newNumLeaves); err != nil {
		return err
	}

	// The overall last leaf carries the tail size.
	lastId, err := t.leafIdByIndex(ctx, newNumLeaves-1)
	if err != nil {
		return err
	}
	return t.resizeLastLeaf(ctx, lastId, newLastLeafSize)
}

// growDepth adds one level: the root's contents move into a fresh block
// that becomes the single child of the rewritten root, keeping the root id
// stable.
func (t *Tree) growDepth(ctx context.Context, depth uint8) error {
	node, err := t.loadNode(ctx, t.rootId)
	if err != nil {
		return err
	}

	var copyId types.BlockId
	switch n := node.(type) {
	case *datanode.LeafNode:
		leafCopy, err := t.nodes().CreateNewLeaf(ctx, n.Data())
		if err != nil {
			return err
		}
		copyId = leafCopy.BlockId()
	case *datanode.InnerNode:
		innerCopy, err := t.nodes().CreateNewInner(ctx, n.Depth(), n.Children())
		if err != nil {
			return err
		}
		copyId = innerCopy.BlockId()
	}

	_, err = t.nodes().OverwriteWithInner(ctx, t.rootId, depth+1, []types.BlockId{copyId})
	return err
}

// fillSubtree grows the subtree rooted at id (at the given depth, holding
// currentLeaves left-packed leaves) to targetLeaves leaves. All appended
// leaves are created at full capacity with zero bytes. Returns the number
// of leaves now under the subtree.
func (t *Tree) fillSubtree(ctx context.Context, id types.BlockId, depth uint8, currentLeaves, targetLeaves uint64) (uint64, error) {
	if targetLeaves <= currentLeaves {
		return currentLeaves, nil
	}
	if depth == 0 {
		// A single leaf cannot hold more than one leaf; the caller's
		// arithmetic guarantees this branch is never taken.
		return 0, fmt.Errorf("cannot grow leaf %s to %d leaves: %w", id, targetLeaves, datanode.ErrNodeFormat)
	}

	inner, err := t.loadInner(ctx, id)
	if err != nil {
		return 0, err
	}
	children := append([]types.BlockId(nil), inner.Children()...)
	childCap := t.store.leavesPerSubtree(depth - 1)

	// Fill the current rightmost child first.
	leavesBeforeLast := uint64(len(children)-1) * childCap
	lastChildLeaves := currentLeaves - leavesBeforeLast
	lastChildTarget := min64(childCap, targetLeaves-leavesBeforeLast)
	if lastChildTarget > lastChildLeaves {
		if _, err := t.fillSubtree(ctx, children[len(children)-1], depth-1, lastChildLeaves, lastChildTarget); err != nil {
			return 0, err
		}
	}

	// Append fresh sibling subtrees for the rest.
	remaining := targetLeaves - leavesBeforeLast - lastChildTarget
	for remaining > 0 {
		take := min64(childCap, remaining)
		childId, err := t.createSubtree(ctx, depth-1, take)
		if err != nil {
			return 0, err
		}
		children = append(children, childId)
		remaining -= take
	}

	if len(children) != int(inner.NumChildren()) {
		if _, err := t.nodes().OverwriteWithInner(ctx, id, depth, children); err != nil {
			return 0, err
		}
	}
	return targetLeaves, nil
}

// createSubtree creates a fresh left-packed subtree of the given depth
// holding numLeaves zero-filled full leaves and returns its root id.
func (t *Tree) createSubtree(ctx context.Context, depth uint8, numLeaves uint64) (types.BlockId, error) {
	if depth == 0 {
		leaf, err := t.nodes().CreateNewLeaf(ctx, make([]byte, t.maxLeafPayload()))
		if err != nil {
			return types.BlockId{}, err
		}
		return leaf.BlockId(), nil
	}

	childCap := t.store.leavesPerSubtree(depth - 1)
	var children []types.BlockId
	for numLeaves > 0 {
		take := min64(childCap, numLeaves)
		childId, err := t.createSubtree(ctx, depth-1, take)
		if err != nil {
			return types.BlockId{}, err
		}
		children = append(children, childId)
		numLeaves -= take
	}
	inner, err := t.nodes().CreateNewInner(ctx, depth, children)
	if err != nil {
		return types.BlockId{}, err
	}
	return inner.BlockId(), nil
}

// shrink contracts the tree to newNumLeaves leaves.
func (t *Tree) shrink(ctx context.Context, sh shape, newNumLeaves, newLastLeafSize uint64) error {
	if err := t.pruneSubtree(ctx, t.rootId, sh.depth, sh.numLeaves, newNumLeaves); err != nil {
		return err
	}
	if err := t.collapseRoot(ctx); err != nil {
		return err
	}

	lastId, err := t.leafIdByIndex(ctx, newNumLeaves-1)
	if err != nil {
		return err
	}
	return t.resizeLastLeaf(ctx, lastId, newLastLeafSize)
}

// pruneSubtree removes trailing leaves from the subtree at id until only
// targetLeaves remain. Excess children are deleted whole; the new
// rightmost child is pruned recursively.
func (t *Tree) pruneSubtree(ctx context.Context, id types.BlockId, depth uint8, currentLeaves, targetLeaves uint64) error {
	if depth == 0 {
		return nil
	}

	inner, err := t.loadInner(ctx, id)
	if err != nil {
		return err
	}
	children := inner.Children()
	childCap := t.store.leavesPerSubtree(depth - 1)

	keepChildren := (targetLeaves + childCap - 1) / childCap
	for i := keepChildren; i < uint64(len(children)); i++ {
		if err := t.removeSubtree(ctx, children[i]); err != nil {
			return err
		}
	}
	if keepChildren != uint64(len(children)) {
		if _, err := t.nodes().OverwriteWithInner(ctx, id, depth, children[:keepChildren]); err != nil {
			return err
		}
	}

	lastIdx := keepChildren - 1
	leavesBefore := lastIdx * childCap
	lastCurrent := min64(childCap, currentLeaves-leavesBefore)
	lastTarget := targetLeaves - leavesBefore
	return t.pruneSubtree(ctx, children[lastIdx], depth-1, lastCurrent, lastTarget)
}

// collapseRoot pulls a single child's contents into the root while the
// root has exactly one child, decreasing the depth without changing the
// root id.
func (t *Tree) collapseRoot(ctx context.Context) error {
	for {
		node, err := t.loadNode(ctx, t.rootId)
		if err != nil {
			return err
		}
		inner, ok := node.(*datanode.InnerNode)
		if !ok || inner.NumChildren() != 1 {
			return nil
		}

		childId := inner.Children()[0]
		child, err := t.loadNode(ctx, childId)
		if err != nil {
			return err
		}
		switch c := child.(type) {
		case *datanode.LeafNode:
			if _, err := t.nodes().OverwriteWithLeaf(ctx, t.rootId, c.Data()); err != nil {
				return err
			}
		case *datanode.InnerNode:
			if _, err := t.nodes().OverwriteWithInner(ctx, t.rootId, c.Depth(), c.Children()); err != nil {
				return err
			}
		}
		if _, err := t.nodes().Remove(ctx, childId); err != nil {
			return err
		}
	}
}
