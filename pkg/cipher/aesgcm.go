package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// aesGCM implements Cipher using AES-256-GCM with a random 12-byte nonce
// prepended to every ciphertext.
type aesGCM struct {
	aead stdcipher.AEAD
}

// NewAESGCM creates an AES-256-GCM cipher from a 32-byte key.
func NewAESGCM(key EncryptionKey) (Cipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &aesGCM{aead: aead}, nil
}

func (c *aesGCM) CiphertextOverhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

func (c *aesGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *aesGCM) Decrypt(ciphertext []byte) ([]byte, error) {
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
