package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

var ErrNoKeys = errors.New("no master encryption key configured")

const hkdfInfo = "tradex-core credentials"

// Keyring holds every configured key version. New values are sealed with
// the newest one; values sealed with older versions still open, which is
// what makes rotation possible.
type Keyring struct {
	mu      sync.RWMutex
	current int
	sealers map[int]*Sealer
}

// NewKeyring builds versions 1..n from secrets in order. A secret that is
// base64 for exactly 32 bytes is used as-is; anything else is stretched
// with HKDF-SHA256. Empty secrets are skipped but keep their version slot.
func NewKeyring(secrets ...string) (*Keyring, error) {
	kr := &Keyring{sealers: make(map[int]*Sealer)}
	for i, secret := range secrets {
		if secret == "" {
			continue
		}
		key, err := DeriveKey(secret)
		if err != nil {
			return nil, fmt.Errorf("key v%d: %w", i+1, err)
		}
		s, err := NewSealer(key, i+1)
		if err != nil {
			return nil, fmt.Errorf("key v%d: %w", i+1, err)
		}
		kr.sealers[i+1] = s
		kr.current = i + 1
	}
	if kr.current == 0 {
		return nil, ErrNoKeys
	}
	return kr, nil
}

// DeriveKey turns a configured secret into an AES-256 key.
func DeriveKey(secret string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == KeySize {
		return raw, nil
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals with the newest key.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	k.mu.RLock()
	s := k.sealers[k.current]
	k.mu.RUnlock()
	return s.Seal(plaintext)
}

// Decrypt opens a value sealed with any loaded version.
func (k *Keyring) Decrypt(sealed string) (string, error) {
	v := ParseVersion(sealed)
	if v == 0 {
		return "", ErrInvalidCiphertext
	}
	k.mu.RLock()
	s, ok := k.sealers[v]
	k.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: key version %d not loaded", ErrDecryptionFailed, v)
	}
	return s.Open(sealed)
}

// ReEncrypt moves a sealed value to the newest key.
func (k *Keyring) ReEncrypt(sealed string) (string, error) {
	plain, err := k.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return k.Encrypt(plain)
}

func (k *Keyring) CurrentVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// GenerateKey returns a random base64 key for MASTER_ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := randRead(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
