// Package vaultregistry keeps the durable mapping of vault name to extension
// implementation locator. Connection parameters are never stored here, since
// they may themselves be secrets; only a reference into the local store's
// private parameter namespace.
//
// The registry file is rewritten atomically (temp file, then rename) after
// every mutating operation, so a crash mid-write never leaves a corrupt
// registry. State is loaded once at construction and flushed synchronously;
// there is no implicit ambient registration state.
package vaultregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/systmms/lockbox/pkg/vault"
)

const fileVersion = 1

// Registration is one vault name → implementation binding.
type Registration struct {
	Name    string `json:"name"`
	Locator string `json:"locator"`

	// ParamsRef points into the local store's parameter namespace. The
	// parameters themselves are deleted together with the registration.
	ParamsRef string `json:"parametersRef,omitempty"`

	IsDefault bool `json:"isDefault,omitempty"`
}

type registryFile struct {
	Version int            `json:"version"`
	Vaults  []Registration `json:"vaults"`
}

// ParamPurger removes a vault's stored parameter set. Satisfied by the local
// store.
type ParamPurger interface {
	PurgeParams(ctx context.Context, vaultName string) error
}

// Registry is the process-scoped registration state with durable backing.
type Registry struct {
	path   string
	purger ParamPurger

	mu     sync.RWMutex
	vaults []Registration // registration order
}

// New loads the registry from path, treating a missing file as empty.
func New(path string, purger ParamPurger) (*Registry, error) {
	r := &Registry{path: path, purger: purger}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read vault registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("vault registry %s is corrupt: %w", path, err)
	}
	r.vaults = file.Vaults
	return r, nil
}

// Register adds a registration. An existing registration under the same name
// (ignoring case) fails with DuplicateNameError unless force is set, in
// which case it is replaced in place, keeping its position in registration
// order. Marking a registration default clears any previous default.
func (r *Registry) Register(ctx context.Context, reg Registration, force bool) error {
	if strings.TrimSpace(reg.Name) == "" {
		return fmt.Errorf("vault name is required")
	}
	if strings.EqualFold(reg.Name, vault.BuiltInName) {
		return vault.ReservedNameError{Name: reg.Name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(reg.Name)
	if idx >= 0 && !force {
		return vault.DuplicateNameError{Vault: reg.Name}
	}

	// Mutate a copy; memory is updated only once the file write succeeds, so
	// a failed persist never leaves in-memory state diverging from disk.
	vaults := make([]Registration, len(r.vaults), len(r.vaults)+1)
	copy(vaults, r.vaults)
	if reg.IsDefault {
		for i := range vaults {
			vaults[i].IsDefault = false
		}
	}
	if idx >= 0 {
		vaults[idx] = reg
	} else {
		vaults = append(vaults, reg)
	}
	if err := r.persist(vaults); err != nil {
		return err
	}
	r.vaults = vaults
	return nil
}

// Get looks up a registration by name, ignoring case.
func (r *Registry) Get(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if idx := r.indexOf(name); idx >= 0 {
		return r.vaults[idx], nil
	}
	return Registration{}, vault.NotFoundError{Vault: name}
}

// List returns all registrations in registration order.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, len(r.vaults))
	copy(out, r.vaults)
	return out
}

// Default returns the registration flagged as default, if any.
func (r *Registry) Default() (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.vaults {
		if reg.IsDefault {
			return reg, true
		}
	}
	return Registration{}, false
}

// Unregister removes a registration and purges its parameter set from the
// local store. The built-in vault name is reserved and cannot be removed.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	if strings.EqualFold(name, vault.BuiltInName) {
		return vault.ReservedNameError{Name: name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(name)
	if idx < 0 {
		return vault.NotFoundError{Vault: name}
	}
	removed := r.vaults[idx]
	vaults := make([]Registration, 0, len(r.vaults)-1)
	vaults = append(vaults, r.vaults[:idx]...)
	vaults = append(vaults, r.vaults[idx+1:]...)
	if err := r.persist(vaults); err != nil {
		return err
	}
	r.vaults = vaults

	if r.purger != nil {
		if err := r.purger.PurgeParams(ctx, removed.Name); err != nil {
			return fmt.Errorf("unregistered %q but failed to purge its parameters: %w", removed.Name, err)
		}
	}
	return nil
}

// indexOf finds a registration by case-insensitive name. Callers hold the
// lock.
func (r *Registry) indexOf(name string) int {
	for i, reg := range r.vaults {
		if strings.EqualFold(reg.Name, name) {
			return i
		}
	}
	return -1
}

// persist writes the given registration set atomically. Callers hold the
// write lock and swap the set into memory only after persist succeeds.
func (r *Registry) persist(vaults []Registration) error {
	data, err := json.MarshalIndent(registryFile{Version: fileVersion, Vaults: vaults}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode vault registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp registry file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace registry file: %w", err)
	}
	return nil
}
