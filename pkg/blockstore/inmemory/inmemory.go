package inmemory

import (
	"context"
	"math"
	"sync"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/types"
)

// Store implements blockstore.BlockStore backed by an in-process map.
type Store struct {
	mu     sync.RWMutex
	blocks map[types.BlockId]*data.Data
}

var _ blockstore.BlockStore = (*Store)(nil)

// New creates an empty in-memory block store.
func New() *Store {
	return &Store{
		blocks: make(map[types.BlockId]*data.Data),
	}
}

func (s *Store) Load(ctx context.Context, id types.BlockId) (*data.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.blocks[id]
	if !ok {
		return nil, blockstore.ErrBlockNotFound
	}
	return d.Copy(), nil
}

func (s *Store) Exists(ctx context.Context, id types.BlockId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blocks[id]
	return ok, nil
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.blocks)), nil
}

func (s *Store) EstimateNumFreeBytes() (uint64, error) {
	// Memory-backed, no meaningful limit to report.
	return math.MaxInt64, nil
}

func (s *Store) BlockSizeFromPhysicalBlockSize(physicalBlockSize uint64) (uint64, error) {
	return physicalBlockSize, nil
}

func (s *Store) AllBlocks(ctx context.Context) (<-chan types.BlockId, error) {
	s.mu.RLock()
	ids := make([]types.BlockId, 0, len(s.blocks))
	for id := range s.blocks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	ch := make(chan types.BlockId)
	go func() {
		defer close(ch)
		for _, id := range ids {
			select {
			case ch <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *Store) Remove(ctx context.Context, id types.BlockId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; !ok {
		return false, nil
	}
	delete(s.blocks, id)
	return true, nil
}

func (s *Store) TryCreate(ctx context.Context, id types.BlockId, d *data.Data) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; ok {
		return false, nil
	}
	s.blocks[id] = d.Copy()
	return true, nil
}

func (s *Store) Store(ctx context.Context, id types.BlockId, d *data.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[id] = d.Copy()
	return nil
}

func (s *Store) Allocate(size int) *data.Data {
	return data.New(size)
}
