/*
Package encrypted provides the encrypting block store layer.

It wraps any inner blockstore.BlockStore and transparently encrypts block
payloads on the way down and decrypts them on the way up. On disk a block
is laid out as

	offset 0..2   format version header (uint16 little-endian, currently 1)
	offset 2..    ciphertext (nonce + sealed payload + auth tag)

so the usable plaintext size of a block is the inner store's block size
minus two header bytes minus the cipher's ciphertext overhead.

A wrong or missing format header and a failing auth tag both surface as
cipher.ErrDecryptionFailed; a block is never silently passed through as
plaintext. Cipher work is CPU bound and runs under a semaphore so that a
burst of block operations cannot monopolize every scheduler thread.
*/
package encrypted
