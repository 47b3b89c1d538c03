/*
Package datatree stores arbitrary-length byte sequences as balanced trees
of fixed-size node blocks.

A tree is identified by the block id of its root and obeys two structural
invariants at every observable state:

  - All leaves sit at the same depth.
  - The tree is left-packed: every subtree left of the rightmost path is
    completely full, so only the rightmost inner nodes may have fewer than
    the maximum children and only the rightmost leaf may hold fewer than
    the maximum payload bytes.

Left packing makes the tree positional: leaf i is found by descending from
the root along the base-k digits of i, where k is the fanout. Byte count
and node count derive from the rightmost spine alone, touching O(depth)
blocks.

The root id is stable for the lifetime of the tree. Growing past the
current depth copies the old root into a new block and rewrites the root
in place as a new top-level inner node; shrinking collapses a single-child
root by pulling the child's contents up and deleting the child.

Reads, writes and whole-tree traversal fan out over leaves concurrently;
the block cache below provides the effective concurrency limit.
*/
package datatree
