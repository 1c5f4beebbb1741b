// Package crypto seals trigger webhook secrets before they are written to
// the database, so a database dump does not expose the HMAC keys used to
// authenticate incoming events.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// SecretCipher seals and opens trigger secrets with AES-256-GCM. The zero
// key yields a passthrough cipher that stores secrets as plaintext, which
// keeps single-node deployments working without key management.
type SecretCipher struct {
	aead cipher.AEAD
}

// NewSecretCipher builds a SecretCipher from a 32-byte key. An empty key
// returns the passthrough cipher.
func NewSecretCipher(key []byte) (*SecretCipher, error) {
	if len(key) == 0 {
		return &SecretCipher{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret cipher: %w", err)
	}
	return &SecretCipher{aead: aead}, nil
}

// Encrypt seals a secret for storage. Each call uses a fresh nonce, so the
// same secret never produces the same stored form twice.
func (c *SecretCipher) Encrypt(secret string) (string, error) {
	if c.aead == nil {
		return secret, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored secret. Tampered or truncated values fail, as does
// a value sealed under a different key.
func (c *SecretCipher) Decrypt(stored string) (string, error) {
	if c.aead == nil {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("open secret: stored value too short")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	secret, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return string(secret), nil
}
