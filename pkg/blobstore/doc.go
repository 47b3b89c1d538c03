/*
Package blobstore exposes blobs, arbitrary-length byte sequences stored as
block trees.

BlobStore is the surface higher layers build on: create a blob, load one
by id, remove one by id. A Blob supports random-access reads and writes,
resizing and concurrent leaf traversal; it is a thin view over its tree.
A BlobId is the block id of the tree root.

# Usage

	blobs := blobstore.New(treeStore)

	blob, err := blobs.Create(ctx)
	err = blob.WriteAt(ctx, payload, 0)
	n, err := blob.ReadAt(ctx, buf, 4096)
	_, err = blobs.RemoveById(ctx, blob.Id())
*/
package blobstore
