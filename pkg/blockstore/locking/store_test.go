package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/blockstore/inmemory"
	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/types"
)

// countingStore wraps a base store and counts Load and Store calls.
type countingStore struct {
	blockstore.BlockStore
	loads  atomic.Int64
	stores atomic.Int64
}

func (s *countingStore) Load(ctx context.Context, id types.BlockId) (*data.Data, error) {
	s.loads.Add(1)
	return s.BlockStore.Load(ctx, id)
}

func (s *countingStore) Store(ctx context.Context, id types.BlockId, d *data.Data) error {
	s.stores.Add(1)
	return s.BlockStore.Store(ctx, id, d)
}

// failingStore fails every Store call.
type failingStore struct {
	blockstore.BlockStore
}

var errDiskGone = errors.New("disk gone")

func (s *failingStore) Store(ctx context.Context, id types.BlockId, d *data.Data) error {
	return errDiskGone
}

func newTestStore(t *testing.T) (*LockingBlockStore, *countingStore) {
	t.Helper()
	base := &countingStore{BlockStore: inmemory.New()}
	store := New(base)
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})
	return store, base
}

func TestCreateLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	payload := []byte("hello block")
	id, err := store.Create(ctx, data.FromBytes(payload))
	require.NoError(t, err)

	blk, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, blk.BlockId())
	assert.Equal(t, payload, blk.Data())
	blk.Release()
}

func TestLoadNotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Load(ctx, types.NewRandomBlockId())
	assert.ErrorIs(t, err, blockstore.ErrBlockNotFound)
}

func TestTryCreateRejectsExisting(t *testing.T) {
	ctx := context.Background()
	store, base := newTestStore(t)

	id := types.NewRandomBlockId()
	created, err := store.TryCreate(ctx, id, data.FromBytes([]byte("one")))
	require.NoError(t, err)
	require.True(t, created)

	// Rejected while the block is only in the cache.
	created, err = store.TryCreate(ctx, id, data.FromBytes([]byte("two")))
	require.NoError(t, err)
	assert.False(t, created)

	// Rejected when the block only exists in the base store.
	require.NoError(t, store.Flush(ctx, id))
	otherId := types.NewRandomBlockId()
	require.NoError(t, base.BlockStore.Store(ctx, otherId, data.FromBytes([]byte("pre-existing"))))
	created, err = store.TryCreate(ctx, otherId, data.FromBytes([]byte("clash")))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestOverwriteDiscardsDirtyData(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	id, err := store.Create(ctx, data.FromBytes([]byte("first")))
	require.NoError(t, err)

	require.NoError(t, store.Overwrite(ctx, id, data.FromBytes([]byte("second"))))

	blk, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), blk.Data())
	blk.Release()

	// Overwriting a completely unknown id creates it.
	fresh := types.NewRandomBlockId()
	require.NoError(t, store.Overwrite(ctx, fresh, data.FromBytes([]byte("new"))))
	num, err := store.NumBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), num)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("cached only", func(t *testing.T) {
		store, base := newTestStore(t)
		id, err := store.Create(ctx, data.FromBytes([]byte("x")))
		require.NoError(t, err)

		removed, err := store.Remove(ctx, id)
		require.NoError(t, err)
		assert.True(t, removed)

		// Never flushed, so the base store was never written.
		assert.Equal(t, int64(0), base.stores.Load())

		num, err := store.NumBlocks(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), num)
	})

	t.Run("flushed to base", func(t *testing.T) {
		store, _ := newTestStore(t)
		id, err := store.Create(ctx, data.FromBytes([]byte("x")))
		require.NoError(t, err)
		require.NoError(t, store.Flush(ctx, id))

		removed, err := store.Remove(ctx, id)
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = store.Load(ctx, id)
		assert.ErrorIs(t, err, blockstore.ErrBlockNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		store, _ := newTestStore(t)
		removed, err := store.Remove(ctx, types.NewRandomBlockId())
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestNumBlocksCountsCacheAndBase(t *testing.T) {
	ctx := context.Background()
	store, base := newTestStore(t)

	// One block straight in the base store, one dirty in the cache.
	preExisting := types.NewRandomBlockId()
	require.NoError(t, base.BlockStore.Store(ctx, preExisting, data.FromBytes([]byte("base"))))

	id, err := store.Create(ctx, data.FromBytes([]byte("cached")))
	require.NoError(t, err)

	num, err := store.NumBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), num)

	// Flushing must not double count.
	require.NoError(t, store.Flush(ctx, id))
	num, err = store.NumBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), num)
}

func TestAllBlocksDeduplicates(t *testing.T) {
	ctx := context.Background()
	store, base := newTestStore(t)

	idCached, err := store.Create(ctx, data.FromBytes([]byte("a")))
	require.NoError(t, err)
	idFlushed, err := store.Create(ctx, data.FromBytes([]byte("b")))
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, idFlushed))
	idBase := types.NewRandomBlockId()
	require.NoError(t, base.BlockStore.Store(ctx, idBase, data.FromBytes([]byte("c"))))

	ch, err := store.AllBlocks(ctx)
	require.NoError(t, err)

	seen := make(map[types.BlockId]int)
	for id := range ch {
		seen[id]++
	}
	assert.Len(t, seen, 3)
	for id, count := range seen {
		assert.Equal(t, 1, count, "id %s emitted %d times", id, count)
	}
	assert.Contains(t, seen, idCached)
	assert.Contains(t, seen, idFlushed)
	assert.Contains(t, seen, idBase)
}

func TestConcurrentLoadHitsBaseOnce(t *testing.T) {
	ctx := context.Background()
	store, base := newTestStore(t)

	id, err := store.Create(ctx, data.FromBytes([]byte("shared")))
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, id))

	// Drop the cache entry so both loads start cold.
	g, err := store.cache.asyncLock(ctx, id)
	require.NoError(t, err)
	store.cache.deleteEntryFromCacheEvenIfDirty(g)
	g.Release()
	base.loads.Store(0)

	const tasks = 2
	results := make([][]byte, tasks)
	var wg sync.WaitGroup
	wg.Add(tasks)
	for i := 0; i < tasks; i++ {
		go func(i int) {
			defer wg.Done()
			blk, err := store.Load(ctx, id)
			if err != nil {
				t.Errorf("Load() error = %v", err)
				return
			}
			results[i] = append([]byte(nil), blk.Data()...)
			blk.Release()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), base.loads.Load(), "base store Load must be called exactly once")
	for i := range results {
		assert.Equal(t, []byte("shared"), results[i])
	}
}

func TestLoadBlocksWhileHandleHeld(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	id, err := store.Create(ctx, data.FromBytes([]byte("x")))
	require.NoError(t, err)

	blk, err := store.Load(ctx, id)
	require.NoError(t, err)

	loadCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = store.Load(loadCtx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	blk.Release()
	blk2, err := store.Load(ctx, id)
	require.NoError(t, err)
	blk2.Release()
}

func TestDataMutMarksDirtyAndFlushes(t *testing.T) {
	ctx := context.Background()
	store, base := newTestStore(t)

	id, err := store.Create(ctx, data.FromBytes([]byte("aaaa")))
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, id))

	blk, err := store.Load(ctx, id)
	require.NoError(t, err)
	copy(blk.DataMut(), []byte("bbbb"))
	require.NoError(t, blk.Flush(ctx))
	blk.Release()

	loaded, err := base.BlockStore.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("bbbb"), loaded.Bytes())
}

func TestBlockResize(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	id, err := store.Create(ctx, data.FromBytes([]byte("abc")))
	require.NoError(t, err)

	blk, err := store.Load(ctx, id)
	require.NoError(t, err)
	blk.Resize(5)
	assert.Equal(t, 5, blk.Size())
	assert.Equal(t, []byte("abc\x00\x00"), blk.Data())
	blk.Resize(2)
	assert.Equal(t, []byte("ab"), blk.Data())
	blk.Release()
}

func TestIdleEvictionFlushes(t *testing.T) {
	ctx := context.Background()
	base := &countingStore{BlockStore: inmemory.New()}
	store := New(base)
	defer store.Close(ctx)

	id, err := store.Create(ctx, data.FromBytes([]byte("evict me")))
	require.NoError(t, err)

	// Wait for the pruner to notice the idle dirty entry.
	require.Eventually(t, func() bool {
		return base.stores.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond, "idle eviction never flushed the block")

	// A store built fresh over the same base sees the block.
	store2 := New(base.BlockStore)
	defer store2.Close(ctx)
	blk, err := store2.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("evict me"), blk.Data())
	blk.Release()
}

func TestCloseFlushesDirtyEntries(t *testing.T) {
	ctx := context.Background()
	base := inmemory.New()
	store := New(base)

	id, err := store.Create(ctx, data.FromBytes([]byte("persist")))
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx))

	loaded, err := base.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist"), loaded.Bytes())
}

func TestEvictionFlushErrorIsLatched(t *testing.T) {
	ctx := context.Background()
	base := &failingStore{BlockStore: inmemory.New()}
	store := New(base)

	id, err := store.Create(ctx, data.FromBytes([]byte("doomed")))
	require.NoError(t, err)

	// Explicit flush reports the error straight away.
	err = store.Flush(ctx, id)
	require.ErrorIs(t, err, errDiskGone)

	// Background eviction latches the error for the next caller.
	require.Eventually(t, func() bool {
		store.cache.mu.Lock()
		defer store.cache.mu.Unlock()
		return len(store.cache.flushErrs) > 0
	}, 5*time.Second, 50*time.Millisecond, "eviction never latched the flush error")

	_, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, errDiskGone)

	// Teardown also reports any remaining failures.
	err = store.Close(ctx)
	assert.ErrorIs(t, err, errDiskGone)
}

func TestCloseTwiceFails(t *testing.T) {
	ctx := context.Background()
	store := New(inmemory.New())
	require.NoError(t, store.Close(ctx))
	assert.Error(t, store.Close(ctx))
}
