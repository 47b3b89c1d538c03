package encrypted

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/cuemby/vaultfs/pkg/blockstore"
	"github.com/cuemby/vaultfs/pkg/blockstore/inmemory"
	"github.com/cuemby/vaultfs/pkg/cipher"
	"github.com/cuemby/vaultfs/pkg/data"
	"github.com/cuemby/vaultfs/pkg/types"
)

func testCipher(t *testing.T) cipher.Cipher {
	t.Helper()
	key, err := cipher.KeyFromBytes(bytes.Repeat([]byte{0x77}, cipher.KeySize))
	if err != nil {
		t.Fatalf("KeyFromBytes() error = %v", err)
	}
	c, err := cipher.NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM() error = %v", err)
	}
	return c
}

func TestStoreLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	base := inmemory.New()
	store := New(base, testCipher(t))

	plaintexts := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "text", data: []byte("some plaintext payload")},
		{name: "binary", data: bytes.Repeat([]byte{0x00, 0xFF}, 512)},
	}

	for _, tt := range plaintexts {
		t.Run(tt.name, func(t *testing.T) {
			id := types.NewRandomBlockId()
			if err := store.Store(ctx, id, data.FromBytes(tt.data)); err != nil {
				t.Fatalf("Store() error = %v", err)
			}

			loaded, err := store.Load(ctx, id)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !bytes.Equal(loaded.Bytes(), tt.data) {
				t.Errorf("Load() = %v, want %v", loaded.Bytes(), tt.data)
			}
		})
	}
}

func TestCiphertextIsNotPlaintext(t *testing.T) {
	ctx := context.Background()
	base := inmemory.New()
	store := New(base, testCipher(t))

	id := types.NewRandomBlockId()
	plaintext := []byte("confidential block content")
	if err := store.Store(ctx, id, data.FromBytes(plaintext)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	raw, err := base.Load(ctx, id)
	if err != nil {
		t.Fatalf("base Load() error = %v", err)
	}
	if bytes.Contains(raw.Bytes(), plaintext) {
		t.Error("underlying store holds the plaintext")
	}
	wantLen := len(plaintext) + FormatVersionHeaderLen + testCipher(t).CiphertextOverhead()
	if raw.Len() != wantLen {
		t.Errorf("stored block length = %d, want %d", raw.Len(), wantLen)
	}
	// Format version header is the first two bytes, little-endian 1.
	if raw.Bytes()[0] != 1 || raw.Bytes()[1] != 0 {
		t.Errorf("format header = %v, want [1 0]", raw.Bytes()[:2])
	}
}

func TestLoadTamperedBlock(t *testing.T) {
	ctx := context.Background()
	base := inmemory.New()
	store := New(base, testCipher(t))

	id := types.NewRandomBlockId()
	if err := store.Store(ctx, id, data.FromBytes([]byte("intact"))); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	// Flip one ciphertext byte in the underlying store.
	raw, err := base.Load(ctx, id)
	if err != nil {
		t.Fatalf("base Load() error = %v", err)
	}
	tampered := data.FromBytes(raw.Bytes())
	tampered.Bytes()[raw.Len()-1] ^= 0x01
	if err := base.Store(ctx, id, tampered); err != nil {
		t.Fatalf("base Store() error = %v", err)
	}

	_, err = store.Load(ctx, id)
	if !errors.Is(err, cipher.ErrDecryptionFailed) {
		t.Errorf("Load(tampered) error = %v, want ErrDecryptionFailed", err)
	}
	if errors.Is(err, blockstore.ErrBlockNotFound) {
		t.Error("tampering must not surface as a missing block")
	}
}

func TestLoadBadFormatHeader(t *testing.T) {
	ctx := context.Background()
	base := inmemory.New()
	store := New(base, testCipher(t))

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "wrong version", raw: []byte{2, 0, 1, 2, 3, 4, 5, 6, 7, 8}},
		{name: "too short", raw: []byte{1}},
		{name: "empty", raw: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := types.NewRandomBlockId()
			if err := base.Store(ctx, id, data.FromBytes(tt.raw)); err != nil {
				t.Fatalf("base Store() error = %v", err)
			}
			if _, err := store.Load(ctx, id); !errors.Is(err, cipher.ErrDecryptionFailed) {
				t.Errorf("Load() error = %v, want ErrDecryptionFailed", err)
			}
		})
	}
}

func TestLoadNotFoundPassesThrough(t *testing.T) {
	ctx := context.Background()
	store := New(inmemory.New(), testCipher(t))

	if _, err := store.Load(ctx, types.NewRandomBlockId()); !errors.Is(err, blockstore.ErrBlockNotFound) {
		t.Errorf("Load() error = %v, want ErrBlockNotFound", err)
	}
}

func TestBlockSizeArithmetic(t *testing.T) {
	c := testCipher(t)
	store := New(inmemory.New(), c)
	overhead := uint64(FormatVersionHeaderLen + c.CiphertextOverhead())

	tests := []struct {
		name     string
		physical uint64
		want     uint64
		wantErr  bool
	}{
		{name: "plenty of room", physical: 4096, want: 4096 - overhead},
		{name: "exactly headers", physical: overhead, want: 0},
		{name: "one byte short", physical: overhead - 1, wantErr: true},
		{name: "zero", physical: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.BlockSizeFromPhysicalBlockSize(tt.physical)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BlockSizeFromPhysicalBlockSize(%d) error = %v, wantErr %v", tt.physical, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("BlockSizeFromPhysicalBlockSize(%d) = %d, want %d", tt.physical, got, tt.want)
			}
		})
	}
}

func TestTryCreateEncrypts(t *testing.T) {
	ctx := context.Background()
	base := inmemory.New()
	store := New(base, testCipher(t))

	id := types.NewRandomBlockId()
	created, err := store.TryCreate(ctx, id, data.FromBytes([]byte("x")))
	if err != nil {
		t.Fatalf("TryCreate() error = %v", err)
	}
	if !created {
		t.Fatal("TryCreate() = false, want true")
	}

	created, err = store.TryCreate(ctx, id, data.FromBytes([]byte("y")))
	if err != nil {
		t.Fatalf("second TryCreate() error = %v", err)
	}
	if created {
		t.Error("second TryCreate() = true, want false")
	}
}

func TestAllocateReservesHeaderRoom(t *testing.T) {
	c := testCipher(t)
	store := New(inmemory.New(), c)

	d := store.Allocate(100)
	if d.Len() != 100 {
		t.Errorf("Allocate(100).Len() = %d, want 100", d.Len())
	}
	want := FormatVersionHeaderLen + c.CiphertextOverhead()
	if d.AvailablePrefixBytes() != want {
		t.Errorf("AvailablePrefixBytes() = %d, want %d", d.AvailablePrefixBytes(), want)
	}
}
