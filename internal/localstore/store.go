// Package localstore implements the built-in, always-registered vault:
// encrypted-at-rest secret storage plus a private namespace for extension
// vault connection parameters.
//
// The whole store is one sealed document on disk. The data-encryption key
// lives in the platform keyring, so encryption at rest is delegated to the
// user-scoped protection facility rather than any scheme of our own.
// Decryption happens only transiently while producing a value to return.
//
// Concurrency follows single-writer/multiple-reader discipline: reads share
// an RWMutex read lock; writes hold the write lock plus an advisory lock
// file next to the backing storage, so read-modify-write cycles such as
// add-if-absent cannot lose updates even across processes.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/systmms/lockbox/internal/wildcard"
	"github.com/systmms/lockbox/pkg/secrettype"
	"github.com/systmms/lockbox/pkg/vault"
)

const (
	storeFile = "store.enc"
	lockFile  = "store.lock"

	docVersion = 1
)

// document is the plaintext form of the sealed store file.
type document struct {
	Version int                            `json:"version"`
	Secrets map[string]secrettype.Envelope `json:"secrets"`

	// Params is keyed by owning vault name. It is never reachable through
	// the four-operation contract; only the registry/proxy paths touch it.
	Params map[string]map[string]secrettype.Envelope `json:"parameters"`
}

func emptyDocument() *document {
	return &document{
		Version: docVersion,
		Secrets: make(map[string]secrettype.Envelope),
		Params:  make(map[string]map[string]secrettype.Envelope),
	}
}

// Store is the built-in local vault.
type Store struct {
	dir  string
	keys KeySource
	mu   sync.RWMutex
}

// New opens (or prepares to create) the store under dir. The backing file is
// created lazily on first write.
func New(dir string, keys KeySource) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{dir: dir, keys: keys}, nil
}

// Name returns the reserved built-in vault name.
func (s *Store) Name() string { return vault.BuiltInName }

var _ vault.Vault = (*Store)(nil)
var _ vault.Adder = (*Store)(nil)

func (s *Store) path() string     { return filepath.Join(s.dir, storeFile) }
func (s *Store) lockPath() string { return filepath.Join(s.dir, lockFile) }

// load reads and decrypts the backing file. Callers hold at least a read
// lock. A missing file is an empty store, not an error.
func (s *Store) load() (*document, error) {
	sealed, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		return nil, vault.StorageCorruptionError{Path: s.path(), Err: err}
	}

	key, err := s.keys.Key()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain store key: %w", err)
	}

	plaintext, err := open(key, sealed)
	if err != nil {
		return nil, vault.StorageCorruptionError{Path: s.path(), Err: err}
	}

	var doc document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, vault.StorageCorruptionError{Path: s.path(), Err: err}
	}
	if doc.Secrets == nil {
		doc.Secrets = make(map[string]secrettype.Envelope)
	}
	if doc.Params == nil {
		doc.Params = make(map[string]map[string]secrettype.Envelope)
	}
	return &doc, nil
}

// persist seals the document and writes it atomically: temp file in the same
// directory, then rename over the old file.
func (s *Store) persist(doc *document) error {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode store document: %w", err)
	}

	key, err := s.keys.Key()
	if err != nil {
		return fmt.Errorf("failed to obtain store key: %w", err)
	}

	sealed, err := seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal store document: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, storeFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// update runs a read-modify-write cycle under the write lock and the
// advisory lock file.
func (s *Store) update(mutate func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := acquireFileLock(s.lockPath())
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := mutate(doc); err != nil {
		return err
	}
	return s.persist(doc)
}

// Get retrieves and decrypts a secret.
func (s *Store) Get(ctx context.Context, name string, params vault.Params) (secrettype.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	env, ok := doc.Secrets[name]
	if !ok {
		return nil, vault.NotFoundError{Vault: s.Name(), Name: name}
	}
	return secrettype.Unmarshal(env)
}

// GetInfo enumerates secrets matching the glob filter.
func (s *Store) GetInfo(ctx context.Context, filter string, params vault.Params) ([]vault.SecretInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	infos := make([]vault.SecretInfo, 0, len(doc.Secrets))
	for name, env := range doc.Secrets {
		if !wildcard.Match(filter, name) {
			continue
		}
		infos = append(infos, vault.SecretInfo{Name: name, Type: env.Type, Vault: s.Name()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Set stores a secret, overwriting any existing value under the name.
func (s *Store) Set(ctx context.Context, name string, value secrettype.Value, params vault.Params) error {
	env, err := secrettype.Marshal(value)
	if err != nil {
		return err
	}
	return s.update(func(doc *document) error {
		doc.Secrets[name] = env
		return nil
	})
}

// Add stores a secret only if the name is not already taken. The existence
// check and the write happen inside one locked cycle.
func (s *Store) Add(ctx context.Context, name string, value secrettype.Value, params vault.Params) error {
	env, err := secrettype.Marshal(value)
	if err != nil {
		return err
	}
	return s.update(func(doc *document) error {
		if _, exists := doc.Secrets[name]; exists {
			return vault.DuplicateNameError{Vault: s.Name(), Name: name}
		}
		doc.Secrets[name] = env
		return nil
	})
}

// Remove deletes a secret.
func (s *Store) Remove(ctx context.Context, name string, params vault.Params) error {
	return s.update(func(doc *document) error {
		if _, exists := doc.Secrets[name]; !exists {
			return vault.NotFoundError{Vault: s.Name(), Name: name}
		}
		delete(doc.Secrets, name)
		return nil
	})
}

// SetParams stores an extension vault's connection parameters in the private
// namespace, replacing any previous set.
func (s *Store) SetParams(ctx context.Context, vaultName string, params map[string]secrettype.Value) error {
	envs := make(map[string]secrettype.Envelope, len(params))
	for k, v := range params {
		env, err := secrettype.Marshal(v)
		if err != nil {
			return fmt.Errorf("invalid parameter %q: %w", k, err)
		}
		envs[k] = env
	}
	return s.update(func(doc *document) error {
		doc.Params[vaultName] = envs
		return nil
	})
}

// GetParams fetches an extension vault's connection parameters in wire form.
// Called fresh on every proxy invocation so parameter rotation takes effect
// immediately. A vault with no stored parameters gets an empty set.
func (s *Store) GetParams(ctx context.Context, vaultName string) (map[string]secrettype.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	stored := doc.Params[vaultName]
	envs := make(map[string]secrettype.Envelope, len(stored))
	for k, v := range stored {
		envs[k] = v
	}
	return envs, nil
}

// PurgeParams deletes an extension vault's parameter set. Called when the
// owning registration is removed; a missing set is not an error.
func (s *Store) PurgeParams(ctx context.Context, vaultName string) error {
	return s.update(func(doc *document) error {
		delete(doc.Params, vaultName)
		return nil
	})
}
