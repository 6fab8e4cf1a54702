// Package vault defines the four-operation contract every secret vault
// implements, the metadata projection returned by enumeration, and the typed
// errors shared across the broker, the built-in store, and extension vaults.
//
// A vault is a named backend capable of storing and retrieving secrets. The
// built-in local store and every registered extension are normalized behind
// the same Vault interface, so callers of the broker never learn which
// backend actually holds a secret.
package vault

import (
	"context"
	"fmt"

	"github.com/systmms/lockbox/pkg/secrettype"
)

// BuiltInName is the reserved name of the always-present local vault. It is
// never a user registration and cannot be unregistered.
const BuiltInName = "local"

// Params carries caller-supplied additional parameters for a single call.
// For extension vaults these are merged with the vault's stored connection
// parameters, fetched fresh from the local store on every invocation.
type Params map[string]secrettype.Value

// SecretInfo is the metadata-only projection of a stored secret. It never
// carries the value.
type SecretInfo struct {
	Name  string
	Type  secrettype.Kind
	Vault string
}

// Vault is the uniform operation contract. Implementations may block
// arbitrarily (a remote round trip, an OS keychain prompt); no timeout is
// imposed here. Every call runs to completion or returns a definitive error.
type Vault interface {
	// Name returns the vault's registered name.
	Name() string

	// Get retrieves the secret stored under name.
	// Returns NotFoundError if the vault holds no such secret.
	Get(ctx context.Context, name string, params Params) (secrettype.Value, error)

	// GetInfo enumerates secrets whose names match the glob filter. The
	// filter is a hint: the broker re-filters results locally, so match
	// semantics never depend on a given implementation's filtering.
	GetInfo(ctx context.Context, filter string, params Params) ([]SecretInfo, error)

	// Set stores value under name, overwriting any existing secret.
	Set(ctx context.Context, name string, value secrettype.Value, params Params) error

	// Remove deletes the secret stored under name.
	// Returns NotFoundError if the vault holds no such secret.
	Remove(ctx context.Context, name string, params Params) error
}

// Adder is the optional add-if-absent capability. The built-in store
// implements it atomically under its write lock; vaults without it get a
// check-then-set approximation from the broker.
type Adder interface {
	Add(ctx context.Context, name string, value secrettype.Value, params Params) error
}

// NotFoundError indicates an absent vault or secret.
type NotFoundError struct {
	Vault string
	Name  string
}

func (e NotFoundError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("vault %q is not registered", e.Vault)
	}
	return fmt.Sprintf("secret %q not found in vault %q", e.Name, e.Vault)
}

// DuplicateNameError indicates a name collision: a vault registration under
// an already-registered name, or an add-if-absent against an existing secret.
type DuplicateNameError struct {
	Vault string
	Name  string
}

func (e DuplicateNameError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("vault %q is already registered", e.Vault)
	}
	return fmt.Sprintf("secret %q already exists in vault %q", e.Name, e.Vault)
}

// ReservedNameError indicates an attempt to register or unregister the
// built-in vault name.
type ReservedNameError struct {
	Name string
}

func (e ReservedNameError) Error() string {
	return fmt.Sprintf("vault name %q is reserved for the built-in store", e.Name)
}

// OperationNotSupportedError indicates the target implementation declares or
// implements only a subset of the four operations. Reportable, never fatal
// to the process.
type OperationNotSupportedError struct {
	Vault     string
	Operation string
}

func (e OperationNotSupportedError) Error() string {
	return fmt.Sprintf("vault %q does not support operation %q", e.Vault, e.Operation)
}

// ContractViolationError indicates an implementation's output did not match
// the documented shape: more, fewer, or wrong-typed results. The anomalous
// output never reaches the caller.
type ContractViolationError struct {
	Vault     string
	Operation string
	Detail    string
}

func (e ContractViolationError) Error() string {
	return fmt.Sprintf("vault %q violated the %s contract: %s", e.Vault, e.Operation, e.Detail)
}

// InvocationError wraps a failure reported by a vault implementation,
// preserving its message and adding vault context.
type InvocationError struct {
	Vault     string
	Operation string
	Err       error
}

func (e InvocationError) Error() string {
	return fmt.Sprintf("vault %q failed during %s: %v", e.Vault, e.Operation, e.Err)
}

func (e InvocationError) Unwrap() error { return e.Err }

// StorageCorruptionError indicates the local store's backing storage is
// unreadable or undecryptable. Never retried.
type StorageCorruptionError struct {
	Path string
	Err  error
}

func (e StorageCorruptionError) Error() string {
	return fmt.Sprintf("local store %s is corrupt or undecryptable: %v", e.Path, e.Err)
}

func (e StorageCorruptionError) Unwrap() error { return e.Err }
