/*
Package types defines the identifier types shared across vaultfs.

A BlockId names one fixed-size block in a block store. A BlobId names one
blob and is structurally the BlockId of the blob's tree root. Both are
16-byte values with a hex textual form; new ids are random version-4
UUIDs, with 122 random bits and fixed version and variant bits.

# See Also

  - pkg/blockstore for the stores addressed by BlockId
  - pkg/blobstore for the blob layer addressed by BlobId
*/
package types
