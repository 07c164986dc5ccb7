// Package crypto seals secrets at rest (OAuth tokens) with AES-256-GCM.
// Sealed values are base64 text of nonce || ciphertext || tag so they fit in
// TEXT columns.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmpty is returned when sealing or opening an empty value.
var ErrEmpty = errors.New("crypto: empty value")

// Box seals and opens values with one key.
type Box struct {
	aead  cipher.AEAD
	keyID string
}

// New builds a Box from a base64-encoded 32-byte key (openssl rand -base64 32).
func New(base64Key string) (*Box, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &Box{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID is a short fingerprint of the key, stored next to sealed values so a
// rotated key can be detected.
func (b *Box) KeyID() string { return b.keyID }

// Seal encrypts plaintext with a fresh random nonce.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmpty
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open authenticates and decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", ErrEmpty
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	n := b.aead.NonceSize()
	if len(raw) < n+b.aead.Overhead() {
		return "", fmt.Errorf("sealed value too short: %d bytes", len(raw))
	}
	plain, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	return string(plain), nil
}
