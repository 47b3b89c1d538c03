package cipher

import (
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters for passphrase-derived keys.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// DeriveKey derives an EncryptionKey from a passphrase and salt using
// scrypt. The salt must be stored alongside the config so the key can be
// re-derived; it is not secret.
func DeriveKey(passphrase string, salt []byte) (EncryptionKey, error) {
	var key EncryptionKey
	if passphrase == "" {
		return key, fmt.Errorf("passphrase cannot be empty")
	}
	raw, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return key, fmt.Errorf("failed to derive key: %w", err)
	}
	copy(key[:], raw)
	return key, nil
}
