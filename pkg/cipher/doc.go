/*
Package cipher provides the symmetric ciphers used to encrypt block
payloads.

A Cipher seals a plaintext into nonce-prefixed authenticated ciphertext and
opens it again. Every implementation reports a fixed CiphertextOverhead, the
number of bytes (nonce plus auth tag) a ciphertext is larger than its
plaintext; block size arithmetic in the encrypted store builds on that
constant.

Two ciphers are provided, both taking a 32-byte key:

  - AES-256-GCM (NewAESGCM)
  - XChaCha20-Poly1305 (NewXChaCha20Poly1305)

Keys are handed in by the caller. DeriveKey offers scrypt-based derivation
from a passphrase for tooling that starts from a password instead of a key
file.

# Usage

	key, err := cipher.KeyFromBytes(raw)
	c, err := cipher.NewAESGCM(key)
	ct, err := c.Encrypt(plaintext)
	pt, err := c.Decrypt(ct)
*/
package cipher
