package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/vaultfs/pkg/blobstore"
	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/blockstore/boltdb"
	"github.com/cuemby/vaultfs/pkg/blockstore/encrypted"
	"github.com/cuemby/vaultfs/pkg/blockstore/inmemory"
	"github.com/cuemby/vaultfs/pkg/blockstore/locking"
	"github.com/cuemby/vaultfs/pkg/blockstore/ondisk"
	"github.com/cuemby/vaultfs/pkg/cipher"
	"github.com/cuemby/vaultfs/pkg/config"
	"github.com/cuemby/vaultfs/pkg/datanode"
	"github.com/cuemby/vaultfs/pkg/datatree"
	"github.com/cuemby/vaultfs/pkg/log"
)

const configFileName = "vaultfs.yaml"

// Engine is one opened vaultfs store.
type Engine struct {
	cfg    config.Config
	dir    string
	base   blockstore.BlockStore
	closer func() error // backend close, if the backend has one
	Blocks *locking.LockingBlockStore
	Blobs  *blobstore.BlobStore
}

// Init creates a new store in dir: the config file and a fresh random
// key. Fails if dir already contains a store.
func Init(dir string, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}

	cfgPath := filepath.Join(dir, configFileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("store already initialized at %s", dir)
	}

	key, err := cipher.NewRandomKey()
	if err != nil {
		return err
	}
	keyPath := filepath.Join(dir, cfg.KeyFile)
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key[:])+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	if err := cfg.Save(cfgPath); err != nil {
		return err
	}
	logger := log.WithComponent("engine")
	logger.Info().Str("dir", dir).Str("backend", cfg.Backend).Msg("store initialized")
	return nil
}

// Open opens the store in dir.
func Open(dir string) (*Engine, error) {
	cfg, err := config.Load(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, err
	}

	keyHex, err := os.ReadFile(filepath.Join(dir, cfg.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	rawKey, err := hex.DecodeString(strings.TrimSpace(string(keyHex)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	key, err := cipher.KeyFromBytes(rawKey)
	if err != nil {
		return nil, err
	}
	c, err := cipher.New(cfg.Cipher, key)
	if err != nil {
		return nil, err
	}

	var base blockstore.BlockStore
	var closer func() error
	switch cfg.Backend {
	case config.BackendOnDisk:
		s, err := ondisk.New(filepath.Join(dir, "blocks"))
		if err != nil {
			return nil, err
		}
		base, closer = s, s.Close
	case config.BackendBoltDB:
		s, err := boltdb.New(dir)
		if err != nil {
			return nil, err
		}
		base, closer = s, s.Close
	case config.BackendInMemory:
		base = inmemory.New()
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	blocks := locking.New(encrypted.New(base, c))
	nodes, err := datanode.New(blocks, cfg.PhysicalBlockSize)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}

	return &Engine{
		cfg:    cfg,
		dir:    dir,
		base:   base,
		closer: closer,
		Blocks: blocks,
		Blobs:  blobstore.New(datatree.NewStore(nodes)),
	}, nil
}

// Config returns the store's configuration.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Close flushes the cache and releases the backend.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Blocks.Close(ctx)
	if e.closer != nil {
		if cerr := e.closer(); err == nil {
			err = cerr
		}
	}
	return err
}
