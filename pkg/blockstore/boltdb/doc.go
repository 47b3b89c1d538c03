/*
Package boltdb provides a low-level block store backed by a single BoltDB
database file.

Blocks live in one bucket keyed by the raw 16-byte BlockId. BoltDB gives
atomic per-block writes with fsync on commit, so a block is either fully
present or absent after a crash. Compared to the file-per-block store this
trades write latency for a single-file layout.
*/
package boltdb
