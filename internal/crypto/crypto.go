package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrTokenMismatch means a sealed token was opened under a different binding
// than it was sealed with, or was tampered with.
var ErrTokenMismatch = errors.New("sealed token does not match its binding")

// Sealer protects a token and ties it to a binding value (the broadcaster
// user id), so a sealed token copied into another session will not open.
type Sealer interface {
	Seal(token, binding string) (string, error)
	Open(sealed, binding string) (string, error)
}

// Plain passes tokens through without encryption.
type Plain struct{}

func (Plain) Seal(token, _ string) (string, error)  { return token, nil }
func (Plain) Open(sealed, _ string) (string, error) { return sealed, nil }

// AESGCM seals tokens with AES-256-GCM. Output is
// base64url(nonce || ciphertext || tag); the binding is authenticated data.
type AESGCM struct {
	gcm cipher.AEAD
}

// NewAESGCM expects a 64-character hex key (32 bytes).
func NewAESGCM(hexKey string) (*AESGCM, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCM{gcm: gcm}, nil
}

func (a *AESGCM) Seal(token, binding string) (string, error) {
	nonce := make([]byte, a.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := a.gcm.Seal(nonce, nonce, []byte(token), []byte(binding))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (a *AESGCM) Open(sealed, binding string) (string, error) {
	buffer, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed token: %w", err)
	}

	nonceSize := a.gcm.NonceSize()
	if len(buffer) < nonceSize+a.gcm.Overhead() {
		return "", errors.New("sealed token too short")
	}

	nonce, cipherBytes := buffer[:nonceSize], buffer[nonceSize:]
	plain, err := a.gcm.Open(nil, nonce, cipherBytes, []byte(binding))
	if err != nil {
		return "", ErrTokenMismatch
	}
	return string(plain), nil
}

// New returns AESGCM for a non-empty key and Plain otherwise.
func New(hexKey string) (Sealer, error) {
	if hexKey == "" {
		return Plain{}, nil
	}
	return NewAESGCM(hexKey)
}
