/*
Package engine assembles a complete vaultfs store from a store directory.

Opening a store reads vaultfs.yaml and the key file, constructs the
configured backend, wraps it with the encryption layer and the locking
cache, and builds the node, tree and blob stores on top. The Engine owns
the whole stack and tears it down in order on Close.
*/
package engine
