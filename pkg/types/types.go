package types

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// BlockIdSize is the length of a BlockId in bytes.
const BlockIdSize = 16

// BlockId is the opaque 16-byte identifier of a block. Equality and hashing
// are byte-wise, so BlockId is usable as a map key.
type BlockId [BlockIdSize]byte

// NewRandomBlockId returns a fresh BlockId taken from a random version-4
// UUID: 122 of its 128 bits are random, the version and variant bits are
// fixed.
func NewRandomBlockId() BlockId {
	return BlockId(uuid.New())
}

// BlockIdFromBytes builds a BlockId from a 16-byte slice.
func BlockIdFromBytes(b []byte) (BlockId, error) {
	var id BlockId
	if len(b) != BlockIdSize {
		return id, fmt.Errorf("block id must be %d bytes, got %d", BlockIdSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// BlockIdFromString parses the hex form produced by String.
func BlockIdFromString(s string) (BlockId, error) {
	var id BlockId
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid block id %q: %w", s, err)
	}
	return BlockIdFromBytes(b)
}

// Bytes returns the id as a fresh byte slice.
func (id BlockId) Bytes() []byte {
	b := make([]byte, BlockIdSize)
	copy(b, id[:])
	return b
}

// String returns the lowercase hex form of the id.
func (id BlockId) String() string {
	return hex.EncodeToString(id[:])
}

// BlobId identifies a blob. It is the BlockId of the root node of the
// blob's block tree.
type BlobId struct {
	Root BlockId
}

// NewRandomBlobId draws a fresh random BlobId.
func NewRandomBlobId() BlobId {
	return BlobId{Root: NewRandomBlockId()}
}

// BlobIdFromString parses the hex form produced by String.
func BlobIdFromString(s string) (BlobId, error) {
	root, err := BlockIdFromString(s)
	if err != nil {
		return BlobId{}, err
	}
	return BlobId{Root: root}, nil
}

// String returns the lowercase hex form of the id.
func (id BlobId) String() string {
	return id.Root.String()
}
