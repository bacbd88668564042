// Package crypto seals exchange API credentials at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	prefixFormat = "ENC[v%d]:"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Sealer encrypts with a single key version. Output is
// ENC[vN]:base64(nonce || ciphertext || tag).
type Sealer struct {
	aead    cipher.AEAD
	version int
}

var randRead = rand.Read

func NewSealer(key []byte, version int) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{aead: aead, version: version}, nil
}

// Version is the key version stamped on sealed values.
func (s *Sealer) Version() int { return s.version }

func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := randRead(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf(prefixFormat, s.version) + base64.StdEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	v, payload, ok := split(sealed)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	if v != s.version {
		return "", fmt.Errorf("%w: sealed with v%d, key is v%d", ErrDecryptionFailed, v, s.version)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// ParseVersion returns the key version of a sealed value, or 0.
func ParseVersion(sealed string) int {
	v, _, ok := split(sealed)
	if !ok {
		return 0
	}
	return v
}

func split(sealed string) (int, string, bool) {
	if !strings.HasPrefix(sealed, "ENC[v") {
		return 0, "", false
	}
	end := strings.Index(sealed, "]:")
	if end < 0 {
		return 0, "", false
	}
	var v int
	if _, err := fmt.Sscanf(sealed[:end+2], prefixFormat, &v); err != nil || v <= 0 {
		return 0, "", false
	}
	return v, sealed[end+2:], true
}
