package datatree

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vaultfs/pkg/blockstore/inmemory"
	"github.com/cuemby/vaultfs/pkg/blockstore/locking"
	"github.com/cuemby/vaultfs/pkg/datanode"
	"github.com/cuemby/vaultfs/pkg/types"
)

// Small geometry so depth changes happen with little data: a 72-byte
// block yields 64 payload bytes per leaf and 4 children per inner node.
const (
	testPhysicalBlockSize = 72
	testLeafPayload       = testPhysicalBlockSize - 8
	testFanout            = (testPhysicalBlockSize - 8) / 16
)

type testEnv struct {
	blocks *locking.LockingBlockStore
	nodes  *datanode.NodeStore
	store  *TreeStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	blocks := locking.New(inmemory.New())
	t.Cleanup(func() {
		_ = blocks.Close(context.Background())
	})
	nodes, err := datanode.New(blocks, testPhysicalBlockSize)
	require.NoError(t, err)
	require.Equal(t, uint32(testLeafPayload), nodes.MaxLeafPayload())
	require.Equal(t, uint32(testFanout), nodes.MaxFanout())
	return &testEnv{
		blocks: blocks,
		nodes:  nodes,
		store:  NewStore(nodes),
	}
}

func (e *testEnv) numBlocks(t *testing.T) uint64 {
	t.Helper()
	n, err := e.blocks.NumBlocks(context.Background())
	require.NoError(t, err)
	return n
}

// checkTreeInvariants walks the whole tree and asserts equal leaf depth
// and left packing.
func checkTreeInvariants(t *testing.T, env *testEnv, tree *Tree) {
	t.Helper()
	ctx := context.Background()

	var walk func(id interface{ String() string }, node datanode.DataNode, depth uint8, rightmost bool)
	walk = func(id interface{ String() string }, node datanode.DataNode, depth uint8, rightmost bool) {
		require.Equal(t, depth, node.Depth(), "node %s at wrong depth", id.String())
		inner, ok := node.(*datanode.InnerNode)
		if !ok {
			leaf := node.(*datanode.LeafNode)
			if !rightmost {
				assert.Equal(t, uint32(testLeafPayload), leaf.NumBytes(), "non-rightmost leaf %s not full", id.String())
			}
			return
		}
		require.GreaterOrEqual(t, inner.NumChildren(), uint32(1))
		require.LessOrEqual(t, inner.NumChildren(), uint32(testFanout))
		if !rightmost {
			assert.Equal(t, uint32(testFanout), inner.NumChildren(), "non-rightmost inner node %s not full", id.String())
		}
		for i, childId := range inner.Children() {
			child, err := env.nodes.Load(ctx, childId)
			require.NoError(t, err)
			childRightmost := rightmost && i == len(inner.Children())-1
			if !childRightmost {
				// Children left of the rightmost path head full subtrees.
				subtreeLeaves := env.store.leavesPerSubtree(depth - 1)
				n := countLeaves(t, env, child)
				assert.Equal(t, subtreeLeaves, n, "child %d of %s not full", i, id.String())
			}
			walk(childId, child, depth-1, childRightmost)
		}
	}

	root, err := env.nodes.Load(ctx, tree.RootId())
	require.NoError(t, err)
	walk(tree.RootId(), root, root.Depth(), true)
}

func countLeaves(t *testing.T, env *testEnv, node datanode.DataNode) uint64 {
	t.Helper()
	inner, ok := node.(*datanode.InnerNode)
	if !ok {
		return 1
	}
	var total uint64
	for _, childId := range inner.Children() {
		child, err := env.nodes.Load(context.Background(), childId)
		require.NoError(t, err)
		total += countLeaves(t, env, child)
	}
	return total
}

func TestEmptyTreeRoundtrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)

	size, err := tree.NumBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)

	buf := make([]byte, 10)
	n, err := tree.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Reopen by id, same result.
	reopened, err := env.store.LoadTree(ctx, tree.RootId())
	require.NoError(t, err)
	size, err = reopened.NumBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}

func TestLoadTreeNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.store.LoadTree(ctx, types.NewRandomBlockId())
	assert.Error(t, err)
}

func TestSingleLeafWriteRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)

	// Write at an offset into the empty tree: leading bytes are zero.
	require.NoError(t, tree.WriteAt(ctx, []byte("hello world"), 5))

	size, err := tree.NumBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), size)

	depth, err := tree.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), depth)

	buf := make([]byte, 16)
	n, err := tree.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, append(make([]byte, 5), []byte("hello world")...), buf)

	checkTreeInvariants(t, env, tree)
}

func TestGrowthAcrossDepthBoundary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)

	// 8 full leaves: more than one depth-1 subtree (4 leaves) can hold.
	payload := bytes.Repeat([]byte{0xAB}, 8*testLeafPayload)
	require.NoError(t, tree.WriteAt(ctx, payload, 0))

	depth, err := tree.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), depth)

	numLeaves, err := tree.NumLeaves(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), numLeaves)

	size, err := tree.NumBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8*testLeafPayload), size)

	root, err := env.nodes.Load(ctx, tree.RootId())
	require.NoError(t, err)
	inner := root.(*datanode.InnerNode)
	assert.Equal(t, uint32(2), inner.NumChildren())

	got := make([]byte, 8*testLeafPayload)
	n, err := tree.ReadAt(ctx, got, 0)
	require.NoError(t, err)
	assert.Equal(t, 8*testLeafPayload, n)
	assert.Equal(t, payload, got)

	numNodes, err := tree.NumNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), numNodes) // 8 leaves + 2 inner + root

	checkTreeInvariants(t, env, tree)
}

func TestShrinkWithRootCollapse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)
	require.NoError(t, tree.WriteAt(ctx, bytes.Repeat([]byte{0xAB}, 8*testLeafPayload), 0))

	before := env.numBlocks(t)

	require.NoError(t, tree.Resize(ctx, testLeafPayload))

	depth, err := tree.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), depth)

	size, err := tree.NumBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(testLeafPayload), size)

	// 11 nodes down to 1: exactly 10 blocks freed.
	assert.Equal(t, before-10, env.numBlocks(t))

	got := make([]byte, testLeafPayload)
	n, err := tree.ReadAt(ctx, got, 0)
	require.NoError(t, err)
	assert.Equal(t, testLeafPayload, n)
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, testLeafPayload), got)

	checkTreeInvariants(t, env, tree)
}

func TestResizePreservesPrefix(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)

	original := make([]byte, 100)
	for i := range original {
		original[i] = byte(i)
	}
	require.NoError(t, tree.WriteAt(ctx, original, 0))

	// Shrink then grow: the common prefix survives, the regrown tail is
	// zero.
	require.NoError(t, tree.Resize(ctx, 40))
	require.NoError(t, tree.Resize(ctx, 200))

	size, err := tree.NumBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), size)

	got := make([]byte, 200)
	n, err := tree.ReadAt(ctx, got, 0)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, original[:40], got[:40])
	assert.Equal(t, make([]byte, 160), got[40:])

	checkTreeInvariants(t, env, tree)
}

func TestWriteReadRandomAccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)

	// A reference byte slice mirrors every write.
	var ref []byte
	writeBoth := func(p []byte, offset uint64) {
		require.NoError(t, tree.WriteAt(ctx, p, offset))
		if int(offset)+len(p) > len(ref) {
			grown := make([]byte, int(offset)+len(p))
			copy(grown, ref)
			ref = grown
		}
		copy(ref[offset:], p)
	}

	writeBoth(bytes.Repeat([]byte{1}, 100), 0)
	writeBoth(bytes.Repeat([]byte{2}, 50), 90)  // overlapping
	writeBoth(bytes.Repeat([]byte{3}, 40), 250) // past current end
	writeBoth(bytes.Repeat([]byte{4}, 10), 60)  // straddles a leaf boundary
	writeBoth(bytes.Repeat([]byte{5}, 64), 128) // exactly one aligned leaf

	size, err := tree.NumBytes(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(len(ref)), size)

	got := make([]byte, len(ref))
	n, err := tree.ReadAt(ctx, got, 0)
	require.NoError(t, err)
	require.Equal(t, len(ref), n)
	assert.Equal(t, ref, got)

	// Unaligned partial reads.
	for _, window := range []struct{ off, size uint64 }{{0, 1}, {63, 3}, {95, 64}, {255, 100}} {
		buf := make([]byte, window.size)
		n, err := tree.ReadAt(ctx, buf, window.off)
		require.NoError(t, err)
		end := window.off + uint64(n)
		assert.Equal(t, ref[window.off:end], buf[:n], "window at %d", window.off)
	}

	checkTreeInvariants(t, env, tree)
}

func TestReadPastEndShortReads(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)
	require.NoError(t, tree.WriteAt(ctx, []byte("0123456789"), 0))

	buf := make([]byte, 20)
	n, err := tree.ReadAt(ctx, buf, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("56789"), buf[:n])

	n, err = tree.ReadAt(ctx, buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestResizeToZero(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)
	require.NoError(t, tree.WriteAt(ctx, bytes.Repeat([]byte{7}, 200), 0))

	require.NoError(t, tree.Resize(ctx, 0))

	size, err := tree.NumBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)

	numNodes, err := tree.NumNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), numNodes)

	checkTreeInvariants(t, env, tree)
}

func TestAllLeavesVisitsEveryLeaf(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)
	require.NoError(t, tree.WriteAt(ctx, bytes.Repeat([]byte{9}, 7*testLeafPayload+3), 0))

	var mu sync.Mutex
	var leaves int
	var totalBytes uint64
	err = tree.AllLeaves(ctx, func(ctx context.Context, leaf *datanode.LeafNode) error {
		mu.Lock()
		defer mu.Unlock()
		leaves++
		totalBytes += uint64(leaf.NumBytes())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 8, leaves)
	assert.Equal(t, uint64(7*testLeafPayload+3), totalBytes)
}

func TestAllLeavesPropagatesError(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)
	require.NoError(t, tree.WriteAt(ctx, make([]byte, 10*testLeafPayload), 0))

	wantErr := assert.AnError
	err = tree.AllLeaves(ctx, func(ctx context.Context, leaf *datanode.LeafNode) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestRemoveDeletesAllNodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)
	require.NoError(t, tree.WriteAt(ctx, make([]byte, 300), 0))
	require.NotZero(t, env.numBlocks(t))

	removed, err := env.store.RemoveTreeById(ctx, tree.RootId())
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, uint64(0), env.numBlocks(t))

	removed, err = env.store.RemoveTreeById(ctx, tree.RootId())
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRootIdStableAcrossResizes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tree, err := env.store.CreateTree(ctx)
	require.NoError(t, err)
	rootId := tree.RootId()

	for _, size := range []uint64{10, 500, 33, 4000, 0, 129} {
		require.NoError(t, tree.Resize(ctx, size))
		assert.Equal(t, rootId, tree.RootId())

		reopened, err := env.store.LoadTree(ctx, rootId)
		require.NoError(t, err)
		got, err := reopened.NumBytes(ctx)
		require.NoError(t, err)
		assert.Equal(t, size, got)

		checkTreeInvariants(t, env, tree)
	}
}
