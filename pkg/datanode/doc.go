/*
Package datanode imposes the tree-node schema on block payloads.

Every node block starts with an 8-byte header:

	offset 0..2  format version (uint16 little-endian, currently 1)
	offset 2..3  node kind (0 = leaf, 1 = inner)
	offset 3..4  depth (0 for leaves, >0 for inner nodes)
	offset 4..8  size (uint32 little-endian)

For a leaf the size field is the payload length and the payload follows the
header; for an inner node it is the child count and the 16-byte child block
ids follow. The rest of the block is zero padding, so all node blocks have
the same physical size.

The maximum leaf payload and the maximum fanout both derive from the
plaintext block size and are exposed by the NodeStore; the layers above
never hardcode them.
*/
package datanode
