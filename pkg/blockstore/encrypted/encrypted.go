package encrypted

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/cipher"
	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/types"
)

// FormatVersionHeaderLen is the length of the format version header
// prepended to every ciphertext.
const FormatVersionHeaderLen = 2

// formatVersion is the current on-disk format, stored little-endian.
const formatVersion uint16 = 1

// Store is a blockstore.BlockStore layer that encrypts payloads with a
// Cipher before forwarding them to the inner store.
type Store struct {
	inner     blockstore.BlockStore
	cipher    cipher.Cipher
	cipherSem *semaphore.Weighted
}

var _ blockstore.BlockStore = (*Store)(nil)

// New wraps inner with transparent encryption under c.
func New(inner blockstore.BlockStore, c cipher.Cipher) *Store {
	return &Store{
		inner:     inner,
		cipher:    c,
		cipherSem: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

func (s *Store) Load(ctx context.Context, id types.BlockId) (*data.Data, error) {
	loaded, err := s.inner.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decrypt(ctx, loaded)
}

func (s *Store) Exists(ctx context.Context, id types.BlockId) (bool, error) {
	return s.inner.Exists(ctx, id)
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	return s.inner.NumBlocks(ctx)
}

func (s *Store) EstimateNumFreeBytes() (uint64, error) {
	return s.inner.EstimateNumFreeBytes()
}

func (s *Store) BlockSizeFromPhysicalBlockSize(physicalBlockSize uint64) (uint64, error) {
	innerSize, err := s.inner.BlockSizeFromPhysicalBlockSize(physicalBlockSize)
	if err != nil {
		return 0, err
	}
	overhead := uint64(FormatVersionHeaderLen + s.cipher.CiphertextOverhead())
	if innerSize < overhead {
		return 0, fmt.Errorf("physical block size %d too small: need at least %d bytes for encryption headers", physicalBlockSize, overhead)
	}
	return innerSize - overhead, nil
}

func (s *Store) AllBlocks(ctx context.Context) (<-chan types.BlockId, error) {
	return s.inner.AllBlocks(ctx)
}

func (s *Store) Remove(ctx context.Context, id types.BlockId) (bool, error) {
	return s.inner.Remove(ctx, id)
}

func (s *Store) TryCreate(ctx context.Context, id types.BlockId, d *data.Data) (bool, error) {
	ct, err := s.encrypt(ctx, d)
	if err != nil {
		return false, err
	}
	return s.inner.TryCreate(ctx, id, ct)
}

func (s *Store) Store(ctx context.Context, id types.BlockId, d *data.Data) error {
	ct, err := s.encrypt(ctx, d)
	if err != nil {
		return err
	}
	return s.inner.Store(ctx, id, ct)
}

// Allocate reserves room for the format header and ciphertext overhead in
// front of the payload. encrypt does not use this reservation: it seals
// into a newly allocated buffer.
func (s *Store) Allocate(size int) *data.Data {
	d := s.inner.Allocate(FormatVersionHeaderLen + s.cipher.CiphertextOverhead() + size)
	d.ShrinkToSubregion(FormatVersionHeaderLen+s.cipher.CiphertextOverhead(), d.Len())
	return d
}

// encrypt seals the plaintext and prepends the format version header.
func (s *Store) encrypt(ctx context.Context, plaintext *data.Data) (*data.Data, error) {
	if err := s.cipherSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	ct, err := s.cipher.Encrypt(plaintext.Bytes())
	s.cipherSem.Release(1)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt block: %w", err)
	}

	out := data.Allocate(len(ct), FormatVersionHeaderLen, 0)
	copy(out.Bytes(), ct)
	if err := out.GrowRegion(FormatVersionHeaderLen, 0); err != nil {
		return nil, fmt.Errorf("failed to prepend format header: %w", err)
	}
	binary.LittleEndian.PutUint16(out.Bytes()[:FormatVersionHeaderLen], formatVersion)
	return out, nil
}

// decrypt verifies and strips the format version header, then opens the
// ciphertext.
func (s *Store) decrypt(ctx context.Context, ciphertext *data.Data) (*data.Data, error) {
	if ciphertext.Len() < FormatVersionHeaderLen {
		return nil, fmt.Errorf("block of %d bytes too short for format header: %w", ciphertext.Len(), cipher.ErrDecryptionFailed)
	}
	version := binary.LittleEndian.Uint16(ciphertext.Bytes()[:FormatVersionHeaderLen])
	if version != formatVersion {
		return nil, fmt.Errorf("unexpected format version header %d, expected %d: %w", version, formatVersion, cipher.ErrDecryptionFailed)
	}
	ciphertext.ShrinkToSubregion(FormatVersionHeaderLen, ciphertext.Len())

	if err := s.cipherSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	pt, err := s.cipher.Decrypt(ciphertext.Bytes())
	s.cipherSem.Release(1)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt block: %w", err)
	}
	return data.FromBytes(pt), nil
}
