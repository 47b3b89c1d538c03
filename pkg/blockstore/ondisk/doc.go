/*
Package ondisk provides a file-per-block low-level block store.

Each block lives in its own file under the store's base directory. File
names derive from the hex form of the BlockId: the first two hex characters
select a shard directory and the remaining characters name the file inside
it, which keeps directory sizes reasonable for typical filesystems:

	<base>/ab/cdef0123456789abcdef0123456789

The base directory is protected by a lock file so that only one process
opens the store at a time. Writes go through a temp file and rename so a
crash never leaves a partial block visible.
*/
package ondisk
