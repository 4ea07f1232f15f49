// Package secrets seals access tokens before they are written to the
// account database. The key is derived once from a passphrase with scrypt;
// each value is encrypted with AES-256-GCM under a fresh nonce.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// SealedPrefix marks a sealed value. Values without it are plaintext.
	SealedPrefix = "enc:v1:"
	// SaltSize is the length of the per-database salt.
	SaltSize = 16
)

var (
	// ErrWrongPassphrase means the value was sealed under another key.
	ErrWrongPassphrase = errors.New("wrong passphrase")
	// ErrMalformed means the value is not a well-formed sealed value.
	ErrMalformed = errors.New("malformed sealed value")
	// ErrLocked means a sealed value was read but no passphrase is configured.
	ErrLocked = errors.New("sealed value but no passphrase configured")
)

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Sealer encrypts and decrypts individual strings. A nil *Sealer passes
// plaintext through and refuses sealed input.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer derives the key for passphrase and salt.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("salt too short: %d bytes", len(salt))
	}

	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts value. Empty values stay empty.
func (s *Sealer) Seal(value string) (string, error) {
	if s == nil || value == "" {
		return value, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.gcm.Seal(nonce, nonce, []byte(value), nil)
	return SealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Plaintext input is returned as is,
// so databases written before a passphrase was configured stay readable.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if s == nil {
		return "", ErrLocked
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := s.gcm.NonceSize()
	if len(raw) < n+s.gcm.Overhead() {
		return "", ErrMalformed
	}
	plain, err := s.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrWrongPassphrase
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}
