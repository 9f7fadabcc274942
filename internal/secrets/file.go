// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/sidekik/sidekik-cli/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// KeySize is the size of the AES-256 key (32 bytes).
	KeySize = 32

	// SaltSize is the size of the key-derivation salt (32 bytes).
	SaltSize = 32

	// NonceSize is the size of the AES-GCM nonce (12 bytes).
	NonceSize = 12

	// PBKDF2Iterations is the iteration count for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000
)

// ErrCorruptStore indicates the store file could not be decrypted, either
// because it was tampered with or the key file changed.
var ErrCorruptStore = errors.New("secret store corrupt or key mismatch")

// ZeroBytes zeros sensitive byte slices after use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore is an encrypted, file-backed Store. All secrets live in one JSON
// document encrypted as a whole; every mutation rewrites the file atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
	aead cipher.AEAD
}

// NewFileStore opens (or creates) an encrypted store at path. The cipher key
// is derived from a key file next to the store, created with 0600
// permissions on first use.
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	key, err := loadOrCreateKey(path + ".key")
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &FileStore{path: path, aead: aead}, nil
}

// Get implements Store.
func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

// Delete implements Store.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

// load reads and decrypts the store document. A missing file is an empty
// store.
func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret store: %w", err)
	}

	if len(data) < NonceSize {
		return nil, ErrCorruptStore
	}
	nonce, ciphertext := data[:NonceSize], data[NonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCorruptStore
	}
	defer ZeroBytes(plaintext)

	values := make(map[string]string)
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, ErrCorruptStore
	}
	return values, nil
}

// save encrypts and atomically writes the store document.
func (s *FileStore) save(values map[string]string) error {
	plaintext, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode secret store: %w", err)
	}
	defer ZeroBytes(plaintext)

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)
	return util.AtomicWriteFile(s.path, append(nonce, ciphertext...), 0600)
}

// =============================================================================
// KEY FILE
// =============================================================================

// loadOrCreateKey reads the key file, creating it with fresh random material
// on first use, and derives the cipher key with PBKDF2-SHA-256.
func loadOrCreateKey(path string) ([]byte, error) {
	material, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		material = make([]byte, KeySize+SaltSize)
		if _, err := io.ReadFull(rand.Reader, material); err != nil {
			return nil, fmt.Errorf("failed to generate key material: %w", err)
		}
		if err := util.AtomicWriteFile(path, material, 0600); err != nil {
			return nil, fmt.Errorf("failed to write key file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	if len(material) < KeySize+SaltSize {
		return nil, ErrCorruptStore
	}
	secret, salt := material[:KeySize], material[KeySize:KeySize+SaltSize]
	key := pbkdf2.Key(secret, salt, PBKDF2Iterations, KeySize, sha256.New)
	ZeroBytes(material)
	return key, nil
}
