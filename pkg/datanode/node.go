package datanode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cuemby/vaultfs/pkg/types"
)

// ErrNodeFormat is returned when a block does not parse as a tree node.
// It is fatal for the affected tree; the block is corrupted or foreign.
var ErrNodeFormat = errors.New("invalid node format")

const (
	headerLen = 8

	nodeFormatVersion uint16 = 1

	kindLeaf  uint8 = 0
	kindInner uint8 = 1
)

// DataNode is a decoded tree node, either a *LeafNode or an *InnerNode.
type DataNode interface {
	BlockId() types.BlockId
	Depth() uint8
}

// LeafNode is a depth-0 node holding a slice of blob data.
type LeafNode struct {
	id   types.BlockId
	data []byte
}

func (n *LeafNode) BlockId() types.BlockId { return n.id }
func (n *LeafNode) Depth() uint8           { return 0 }

// Data returns the leaf payload.
func (n *LeafNode) Data() []byte { return n.data }

// NumBytes returns the payload length.
func (n *LeafNode) NumBytes() uint32 { return uint32(len(n.data)) }

// InnerNode is a depth>0 node holding the ids of its children.
type InnerNode struct {
	id       types.BlockId
	depth    uint8
	children []types.BlockId
}

func (n *InnerNode) BlockId() types.BlockId { return n.id }
func (n *InnerNode) Depth() uint8           { return n.depth }

// Children returns the child block ids in order.
func (n *InnerNode) Children() []types.BlockId { return n.children }

// NumChildren returns the child count.
func (n *InnerNode) NumChildren() uint32 { return uint32(len(n.children)) }

// LastChild returns the id of the rightmost child.
func (n *InnerNode) LastChild() types.BlockId {
	return n.children[len(n.children)-1]
}

// serializeLeaf encodes a leaf into a zeroed buffer of full block size.
func serializeLeaf(buf []byte, payload []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], nodeFormatVersion)
	buf[2] = kindLeaf
	buf[3] = 0
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[headerLen:], payload)
}

// serializeInner encodes an inner node into a zeroed buffer of full block
// size.
func serializeInner(buf []byte, depth uint8, children []types.BlockId) {
	binary.LittleEndian.PutUint16(buf[0:2], nodeFormatVersion)
	buf[2] = kindInner
	buf[3] = depth
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(children)))
	off := headerLen
	for _, child := range children {
		copy(buf[off:off+types.BlockIdSize], child[:])
		off += types.BlockIdSize
	}
}

// parseNode decodes a node block. maxLeafPayload and maxFanout bound the
// size field per kind.
func parseNode(id types.BlockId, buf []byte, maxLeafPayload, maxFanout uint32) (DataNode, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("node block of %d bytes too short for header: %w", len(buf), ErrNodeFormat)
	}
	version := binary.LittleEndian.Uint16(buf[0:2])
	if version != nodeFormatVersion {
		return nil, fmt.Errorf("unknown node format version %d: %w", version, ErrNodeFormat)
	}
	kind := buf[2]
	depth := buf[3]
	size := binary.LittleEndian.Uint32(buf[4:8])

	switch kind {
	case kindLeaf:
		if depth != 0 {
			return nil, fmt.Errorf("leaf node with depth %d: %w", depth, ErrNodeFormat)
		}
		if size > maxLeafPayload || int(headerLen+size) > len(buf) {
			return nil, fmt.Errorf("leaf payload of %d bytes exceeds limit %d: %w", size, maxLeafPayload, ErrNodeFormat)
		}
		payload := make([]byte, size)
		copy(payload, buf[headerLen:headerLen+int(size)])
		return &LeafNode{id: id, data: payload}, nil

	case kindInner:
		if depth == 0 {
			return nil, fmt.Errorf("inner node with depth 0: %w", ErrNodeFormat)
		}
		if size == 0 || size > maxFanout || headerLen+int(size)*types.BlockIdSize > len(buf) {
			return nil, fmt.Errorf("inner node with %d children exceeds fanout %d: %w", size, maxFanout, ErrNodeFormat)
		}
		children := make([]types.BlockId, size)
		off := headerLen
		for i := range children {
			copy(children[i][:], buf[off:off+types.BlockIdSize])
			off += types.BlockIdSize
		}
		return &InnerNode{id: id, depth: depth, children: children}, nil

	default:
		return nil, fmt.Errorf("unknown node kind %d: %w", kind, ErrNodeFormat)
	}
}
