// Package tokencrypt encrypts token payloads before they reach any store.
// Vault backends call through here so ciphertext, not credentials, is what
// lands in Mongo or Redis.
package tokencrypt

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens token payloads with XChaCha20-Poly1305. The
// connection id is bound as associated data so a record copied under a
// different id fails to open.
type Cipher struct {
	key []byte
}

// NewCipher derives a cipher from the base64-encoded vault key. The decoded
// key must be exactly 32 bytes.
func NewCipher(encodedKey string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault key must decode to %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Cipher{key: key}, nil
}

// Seal encrypts plaintext bound to connectionID and returns a self-contained
// base64 record (nonce prepended to the ciphertext).
func (c *Cipher) Seal(connectionID string, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(connectionID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a record produced by Seal for the same connectionID.
func (c *Cipher) Open(connectionID, record string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(record)
	if err != nil {
		return nil, fmt.Errorf("decoding token record: %w", err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("token record too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(connectionID))
	if err != nil {
		return nil, fmt.Errorf("opening token record: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh base64-encoded vault key, for provisioning.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating vault key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
