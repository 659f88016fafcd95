// Package crypto encrypts connection secrets at rest.
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
	"strings"
)

// sealedPrefix marks values produced by Seal. Values without it are
// treated as plaintext written before a key was configured.
const sealedPrefix = "enc:v1:"

// ErrNoKey is returned when opening a sealed value without a key.
var ErrNoKey = errors.New("sealed secret but no encryption key configured")

// Encryptor seals secrets with AES-256-GCM. The tenant id is bound as
// additional data, so a ciphertext copied to another tenant's row does
// not open.
type Encryptor struct {
	gcm cipher.AEAD
}

// ParseKey decodes a 64-character hex key. An empty string yields a nil
// key, which selects plaintext mode.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return key, nil
}

// NewEncryptor creates an Encryptor with the given 32-byte key.
// If the key is empty, a no-op encryptor is returned that stores values as plaintext.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Encryptor{gcm: gcm}, nil
}

// Enabled reports whether secrets are actually encrypted.
func (e *Encryptor) Enabled() bool { return e.gcm != nil }

// Seal encrypts a tenant's secret.
func (e *Encryptor) Seal(tenantID, plaintext string) (string, error) {
	if e.gcm == nil || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(tenantID))
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal for the same tenant.
func (e *Encryptor) Open(tenantID, value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return value, nil
	}
	if e.gcm == nil {
		return "", ErrNoKey
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ct, []byte(tenantID))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
