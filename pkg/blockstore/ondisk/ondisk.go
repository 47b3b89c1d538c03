package ondisk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/log"
	"github.com/cuemby/vaultfs/pkg/types"
)

const lockFileName = "vaultfs.lock"

// Store implements blockstore.BlockStore with one file per block under a
// base directory.
type Store struct {
	baseDir string
	lock    *flock.Flock
}

var _ blockstore.BlockStore = (*Store)(nil)

// New opens (creating if necessary) an on-disk block store rooted at
// baseDir. The store holds a file lock for its lifetime; a second open of
// the same directory fails. Close releases the lock.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create block dir: %w", err)
	}

	lock := flock.New(filepath.Join(baseDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock block dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("block dir %s is locked by another process", baseDir)
	}

	return &Store{baseDir: baseDir, lock: lock}, nil
}

// Close releases the directory lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// blockPath maps an id to <base>/<first 2 hex chars>/<remaining hex chars>.
func (s *Store) blockPath(id types.BlockId) string {
	hex := id.String()
	return filepath.Join(s.baseDir, hex[:2], hex[2:])
}

func (s *Store) Load(ctx context.Context, id types.BlockId) (*data.Data, error) {
	b, err := os.ReadFile(s.blockPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, blockstore.ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", id, err)
	}
	return data.FromBytes(b), nil
}

func (s *Store) Exists(ctx context.Context, id types.BlockId) (bool, error) {
	_, err := os.Stat(s.blockPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat block %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.forEachBlockFile(func(id types.BlockId) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) EstimateNumFreeBytes() (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.baseDir, &stat); err != nil {
		return 0, fmt.Errorf("failed to statfs %s: %w", s.baseDir, err)
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}

func (s *Store) BlockSizeFromPhysicalBlockSize(physicalBlockSize uint64) (uint64, error) {
	return physicalBlockSize, nil
}

func (s *Store) AllBlocks(ctx context.Context) (<-chan types.BlockId, error) {
	ch := make(chan types.BlockId)
	go func() {
		defer close(ch)
		err := s.forEachBlockFile(func(id types.BlockId) error {
			select {
			case ch <- id:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger := log.WithComponent("ondisk")
			logger.Error().Err(err).Msg("block iteration failed")
		}
	}()
	return ch, nil
}

// forEachBlockFile walks the shard directories and invokes fn for every
// file whose name parses as a block id. Foreign files are skipped.
func (s *Store) forEachBlockFile(fn func(types.BlockId) error) error {
	shards, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to read block dir: %w", err)
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.baseDir, shard.Name()))
		if err != nil {
			return fmt.Errorf("failed to read shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			id, err := types.BlockIdFromString(shard.Name() + f.Name())
			if err != nil {
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id types.BlockId) (bool, error) {
	err := os.Remove(s.blockPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove block %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) TryCreate(ctx context.Context, id types.BlockId, d *data.Data) (bool, error) {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Store(ctx, id, d); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Store(ctx context.Context, id types.BlockId, d *data.Data) error {
	path := s.blockPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create shard dir: %w", err)
	}

	// Write-then-rename so a crash never leaves a partial block.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, d.Bytes(), 0600); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("failed to write block %s: %w", id, blockstore.ErrOutOfSpace)
		}
		return fmt.Errorf("failed to write block %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit block %s: %w", id, err)
	}
	return nil
}

func (s *Store) Allocate(size int) *data.Data {
	return data.New(size)
}
