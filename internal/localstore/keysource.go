package localstore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyBytes = 32

// KeySource produces the store's data-encryption key. The production source
// is the OS keyring; tests inject a static key.
type KeySource interface {
	Key() ([]byte, error)
}

// KeyringKeySource holds the encryption key in the platform keyring
// (Keychain, Secret Service, or Credential Manager), the user-scoped
// protection facility the store delegates to. The key is generated on first
// use and never written to the store's own directory.
type KeyringKeySource struct {
	Service string
	Account string
}

// NewKeyringKeySource creates a key source under the given keyring service
// name, e.g. "lockbox".
func NewKeyringKeySource(service string) *KeyringKeySource {
	return &KeyringKeySource{Service: service, Account: "store-key"}
}

// Key returns the existing key, generating and storing a fresh one if the
// keyring has no entry yet.
func (k *KeyringKeySource) Key() ([]byte, error) {
	encoded, err := keyring.Get(k.Service, k.Account)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil || len(key) != keyBytes {
			return nil, fmt.Errorf("keyring entry %s/%s does not contain a valid store key", k.Service, k.Account)
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read store key from keyring: %w", err)
	}

	key := make([]byte, keyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate store key: %w", err)
	}
	if err := keyring.Set(k.Service, k.Account, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store key in keyring: %w", err)
	}
	return key, nil
}

// StaticKeySource returns a fixed key. For tests and headless environments
// where no keyring is available.
type StaticKeySource []byte

// Key returns the fixed key.
func (s StaticKeySource) Key() ([]byte, error) {
	if len(s) != keyBytes {
		return nil, fmt.Errorf("static key must be %d bytes, got %d", keyBytes, len(s))
	}
	return []byte(s), nil
}

// NewRandomKeySource generates a throwaway in-memory key. Secrets sealed
// with it do not survive the process; useful for tests.
func NewRandomKeySource() (StaticKeySource, error) {
	key := make([]byte, keyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return StaticKeySource(key), nil
}
