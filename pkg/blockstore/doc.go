/*
Package blockstore defines the low-level block store contract.

A low-level block store holds opaque fixed-size payloads addressed by
16-byte BlockIds. The surface is split into capability interfaces so that
composition layers implement exactly what they offer:

  - Reader: Load, Exists, NumBlocks, AllBlocks, free-space and block-size
    arithmetic
  - Deleter: Remove
  - Writer: TryCreate, Store
  - OptimizedWriter: Allocate, for payload buffers with header reservations

BlockStore combines all four. Layers wrap an inner BlockStore and forward
what they do not change; the encrypted layer is the canonical example.

# Backends and layers

	inmemory.New()                       map-backed, for tests and tooling
	ondisk.New(dir)                      file per block, sharded directories
	boltdb.New(dir)                      single bbolt database file
	encrypted.New(inner, cipher)         transparent encryption layer
	locking.New(inner)                   write-back cache + per-id locking

# See Also

  - pkg/blockstore/locking for the high-level user-facing store
  - pkg/datanode and pkg/datatree for the structured layers above
*/
package blockstore
