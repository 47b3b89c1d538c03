package boltdb

import (
	"context"
	"fmt"
	"path/filepath"
	"syscall"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/log"
	"github.com/cuemby/vaultfs/pkg/types"
)

var bucketBlocks = []byte("blocks")

// Store implements blockstore.BlockStore on top of a BoltDB file.
type Store struct {
	db      *bolt.DB
	baseDir string
}

var _ blockstore.BlockStore = (*Store)(nil)

// New opens (creating if necessary) a BoltDB-backed block store in dataDir.
func New(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "blocks.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlocks); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketBlocks, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, baseDir: dataDir}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, id types.BlockId) (*data.Data, error) {
	var d *data.Data
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		v := b.Get(id[:])
		if v == nil {
			return blockstore.ErrBlockNotFound
		}
		// Copy out: bolt values are only valid during the transaction.
		d = data.FromBytes(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) Exists(ctx context.Context, id types.BlockId) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketBlocks).Get(id[:]) != nil
		return nil
	})
	return exists, err
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		count = uint64(tx.Bucket(bucketBlocks).Stats().KeyN)
		return nil
	})
	return count, err
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
	// Snapshot ids inside one view transaction, then stream them out.
	var ids []types.BlockId
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, v []byte) error {
			id, err := types.BlockIdFromBytes(k)
			if err != nil {
				logger := log.WithComponent("boltdb")
				logger.Warn().Str("key", fmt.Sprintf("%x", k)).Msg("skipping malformed block key")
				return nil
			}
			ids = append(ids, id)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

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
	var removed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b.Get(id[:]) == nil {
			return nil
		}
		if err := b.Delete(id[:]); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove block %s: %w", id, err)
	}
	return removed, nil
}

func (s *Store) TryCreate(ctx context.Context, id types.BlockId, d *data.Data) (bool, error) {
	var created bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b.Get(id[:]) != nil {
			return nil
		}
		if err := b.Put(id[:], d.Bytes()); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to create block %s: %w", id, err)
	}
	return created, nil
}

func (s *Store) Store(ctx context.Context, id types.BlockId, d *data.Data) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(id[:], d.Bytes())
	})
	if err != nil {
		return fmt.Errorf("failed to store block %s: %w", id, err)
	}
	return nil
}

func (s *Store) Allocate(size int) *data.Data {
	return data.New(size)
}
