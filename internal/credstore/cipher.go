package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"

	"github.com/permitportal/storageops/internal/secure"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// DeriveKey derives the 32-byte store encryption key from the configured
// passphrase and wraps it in a protected enclave.
func DeriveKey(passphrase string) *secure.Key {
	sum := sha256.Sum256([]byte(passphrase))
	return secure.NewKey(sum[:])
}

// encryptField seals a secret column value with AES-GCM and returns it as
// lowercase hex (nonce prepended to the ciphertext).
func encryptField(key *secure.Key, plaintext string) (string, error) {
	var out string
	err := key.Use(func(k []byte) error {
		block, err := aes.NewCipher(k)
		if err != nil {
			return fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return fmt.Errorf("failed to create GCM: %w", err)
		}

		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return fmt.Errorf("nonce generation failed: %w", err)
		}

		sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
		out = hex.EncodeToString(sealed)
		return nil
	})
	return out, err
}

// decryptField reverses encryptField. Rows written before the hex format was
// settled may carry a leading \x marker, which is tolerated and stripped.
func decryptField(key *secure.Key, encoded string) (string, error) {
	if len(encoded) > 2 && encoded[:2] == `\x` {
		encoded = encoded[2:]
	}
	if !hexPattern.MatchString(encoded) {
		return "", fmt.Errorf("encrypted field is not valid hex")
	}

	sealed, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted field: %w", err)
	}

	var out string
	err = key.Use(func(k []byte) error {
		block, err := aes.NewCipher(k)
		if err != nil {
			return fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return fmt.Errorf("failed to create GCM: %w", err)
		}

		if len(sealed) < gcm.NonceSize() {
			return fmt.Errorf("encrypted field too short")
		}

		nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
		plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return fmt.Errorf("failed to decrypt field: %w", err)
		}
		out = string(plaintext)
		return nil
	})
	return out, err
}
