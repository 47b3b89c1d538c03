package cipher

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// xchacha implements Cipher using XChaCha20-Poly1305 with a random 24-byte
// nonce prepended to every ciphertext.
type xchacha struct {
	aead stdcipher.AEAD
}

// NewXChaCha20Poly1305 creates an XChaCha20-Poly1305 cipher from a
// 32-byte key.
func NewXChaCha20Poly1305(key EncryptionKey) (Cipher, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
	}
	return &xchacha{aead: aead}, nil
}

func (c *xchacha) CiphertextOverhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

func (c *xchacha) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *xchacha) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext of %d bytes too short: %w", len(ciphertext), ErrDecryptionFailed)
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
