// Package cryptox seals persisted credentials at rest.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the sealing key. The salt is fixed so the
// same master key always yields the same sealing key across restarts.
const (
	kdfIterations  = 1
	kdfMemory      = 64 * 1024
	kdfParallelism = 4
	kdfKeyLength   = 32
)

var kdfSalt = []byte("oltmanager/credstore/v1")

// MasterKeyEnv is consulted when no master key file is configured.
const MasterKeyEnv = "OLT_MASTER_KEY"

var (
	ErrNoMasterKey        = errors.New("cryptox: no master key configured")
	ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")
)

// Sealer performs authenticated encryption with AES-256-GCM.
// The output format is: [12-byte nonce][encrypted data][16-byte auth tag]
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte key from secret with argon2id.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, ErrNoMasterKey
	}

	key := argon2.IDKey(secret, kdfSalt, kdfIterations, kdfMemory, kdfParallelism, kdfKeyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// LoadSealer reads key material from path, falling back to the
// OLT_MASTER_KEY environment variable. It returns ErrNoMasterKey when
// neither is set, which callers treat as "store credentials unsealed".
func LoadSealer(path string) (*Sealer, error) {
	var material []byte

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		material = []byte(strings.TrimSpace(string(data)))
	} else if env := os.Getenv(MasterKeyEnv); env != "" {
		material = []byte(env)
	}

	return NewSealer(material)
}

// Seal encrypts and authenticates plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal, failing if the data was tampered with.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
