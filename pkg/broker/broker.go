// Package broker is the top-level facade over the built-in local vault and
// every registered extension vault. It resolves the target vault, validates
// and marshals secret types at the boundary, dispatches operations, merges
// cross-vault enumeration, and normalizes errors.
//
// Single-item operations (add, get, remove) with no vault name route
// strictly to the default-flagged registration, or to the built-in vault if
// none is flagged; they never search. Only GetSecretInfo fans out across
// vaults.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/systmms/lockbox/internal/extension"
	"github.com/systmms/lockbox/internal/localstore"
	"github.com/systmms/lockbox/internal/logging"
	"github.com/systmms/lockbox/internal/metrics"
	"github.com/systmms/lockbox/internal/vaultregistry"
	"github.com/systmms/lockbox/internal/wildcard"
	"github.com/systmms/lockbox/pkg/secrettype"
	"github.com/systmms/lockbox/pkg/vault"
)

// Options configures a Broker.
type Options struct {
	// StoreDir is the directory holding the encrypted local store.
	StoreDir string

	// RegistryPath is the vault registry file.
	RegistryPath string

	// KeySource overrides the store's key source. Defaults to the OS
	// keyring under the "lockbox" service.
	KeySource localstore.KeySource

	// Logger defaults to a non-debug stderr logger.
	Logger *logging.Logger

	// EnableMetrics turns on prometheus operation counters.
	EnableMetrics bool
}

// Broker is the secret broker facade. Safe for concurrent use; no lock is
// held across an extension-vault call, so operations against different
// vaults (or the same extension vault) proceed independently.
type Broker struct {
	registry *vaultregistry.Registry
	local    *localstore.Store
	resolver *extension.Registry
	logger   *logging.Logger
	metrics  bool
}

// New loads the registry and opens the local store.
func New(opts Options) (*Broker, error) {
	if opts.StoreDir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if opts.RegistryPath == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	keys := opts.KeySource
	if keys == nil {
		keys = localstore.NewKeyringKeySource("lockbox")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(false, false)
	}

	local, err := localstore.New(opts.StoreDir, keys)
	if err != nil {
		return nil, err
	}
	registry, err := vaultregistry.New(opts.RegistryPath, local)
	if err != nil {
		return nil, err
	}

	return &Broker{
		registry: registry,
		local:    local,
		resolver: extension.NewRegistry(),
		logger:   logger,
		metrics:  opts.EnableMetrics,
	}, nil
}

// RegisterCompiledVaultType makes a compiled implementation available under
// "compiled:<typeName>" locators.
func (b *Broker) RegisterCompiledVaultType(typeName string, factory vault.ImplementationFactory) error {
	return b.resolver.RegisterCompiled(typeName, factory)
}

// RegisterVaultOptions describes a vault registration request.
type RegisterVaultOptions struct {
	Name    string
	Locator string

	// Parameters are stored in the local store's private namespace, never in
	// the registry itself, because they may contain secrets.
	Parameters map[string]secrettype.Value

	MakeDefault bool

	// Force replaces an existing registration under the same name.
	Force bool
}

// RegisterVault registers an extension vault and stashes its parameters.
func (b *Broker) RegisterVault(ctx context.Context, opts RegisterVaultOptions) error {
	for k, v := range opts.Parameters {
		if err := secrettype.Validate(v); err != nil {
			return fmt.Errorf("invalid parameter %q: %w", k, err)
		}
	}

	reg := vaultregistry.Registration{
		Name:      opts.Name,
		Locator:   opts.Locator,
		ParamsRef: opts.Name,
		IsDefault: opts.MakeDefault,
	}
	if err := b.registry.Register(ctx, reg, opts.Force); err != nil {
		return err
	}

	if err := b.local.SetParams(ctx, opts.Name, opts.Parameters); err != nil {
		// Keep the registry and parameter namespace consistent: a
		// registration without its parameters is worse than no registration.
		if rbErr := b.registry.Unregister(ctx, opts.Name); rbErr != nil {
			b.logger.Error("failed to roll back registration of %q: %v", opts.Name, rbErr)
		}
		return fmt.Errorf("failed to store parameters for vault %q: %w", opts.Name, err)
	}

	b.logger.Info("registered vault %q (%s)", opts.Name, opts.Locator)
	return nil
}

// UnregisterVault removes a registration and purges its parameter set.
// Secrets held by other vaults, including the built-in one, are untouched.
func (b *Broker) UnregisterVault(ctx context.Context, name string) error {
	if err := b.registry.Unregister(ctx, name); err != nil {
		return err
	}
	b.logger.Info("unregistered vault %q", name)
	return nil
}

// VaultInfo is the metadata shown for one registered vault. It never carries
// parameters.
type VaultInfo struct {
	Name      string
	Locator   string
	IsDefault bool
}

// ListVaults returns the built-in vault followed by every registration in
// registration order.
func (b *Broker) ListVaults() []VaultInfo {
	regs := b.registry.List()
	infos := make([]VaultInfo, 0, len(regs)+1)
	infos = append(infos, VaultInfo{Name: vault.BuiltInName, Locator: "built-in"})
	for _, reg := range regs {
		infos = append(infos, VaultInfo{Name: reg.Name, Locator: reg.Locator, IsDefault: reg.IsDefault})
	}
	return infos
}

// resolveVault maps an optional vault name to a live vault. An empty name
// resolves to the default-flagged registration, else the built-in store.
func (b *Broker) resolveVault(name string) (vault.Vault, error) {
	if name == "" {
		if reg, ok := b.registry.Default(); ok {
			return b.resolver.Resolve(reg.Name, reg.Locator, b.local)
		}
		return b.local, nil
	}
	if strings.EqualFold(name, vault.BuiltInName) {
		return b.local, nil
	}
	reg, err := b.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return b.resolver.Resolve(reg.Name, reg.Locator, b.local)
}

// AddOptions modifies AddSecret behavior.
type AddOptions struct {
	// NoClobber fails with DuplicateNameError instead of overwriting. The
	// built-in store enforces this atomically; extension vaults get a
	// check-then-set approximation.
	NoClobber bool
}

// AddSecret validates the value against the closed type set and stores it.
// The type check happens before any vault is contacted, so an unsupported
// value can never be mis-stored by a third-party implementation.
func (b *Broker) AddSecret(ctx context.Context, vaultName, name string, value secrettype.Value, params vault.Params, opts AddOptions) error {
	op := "set"
	if err := secrettype.Validate(value); err != nil {
		b.recordError(op, err)
		return err
	}

	v, err := b.resolveVault(vaultName)
	if err != nil {
		b.recordError(op, err)
		return err
	}
	b.record(op, v.Name())

	if opts.NoClobber {
		if adder, ok := v.(vault.Adder); ok {
			err := adder.Add(ctx, name, value, params)
			b.recordError(op, err)
			return err
		}
		infos, err := v.GetInfo(ctx, wildcard.Escape(name), params)
		if err != nil && !isOperationUnsupported(err) {
			b.recordError(op, err)
			return err
		}
		for _, info := range infos {
			if info.Name == name {
				dup := vault.DuplicateNameError{Vault: v.Name(), Name: name}
				b.recordError(op, dup)
				return dup
			}
		}
	}

	if err := v.Set(ctx, name, value, params); err != nil {
		b.recordError(op, err)
		return err
	}
	b.logger.Debug("stored secret %q in vault %q", name, v.Name())
	return nil
}

// GetSecret retrieves one secret from the resolved vault; it never searches
// other vaults for the name.
func (b *Broker) GetSecret(ctx context.Context, vaultName, name string, params vault.Params) (secrettype.Value, error) {
	const op = "get"
	v, err := b.resolveVault(vaultName)
	if err != nil {
		b.recordError(op, err)
		return nil, err
	}
	b.record(op, v.Name())

	value, err := v.Get(ctx, name, params)
	if err != nil {
		b.recordError(op, err)
		return nil, err
	}
	return value, nil
}

// RemoveSecret deletes one secret from the resolved vault.
func (b *Broker) RemoveSecret(ctx context.Context, vaultName, name string, params vault.Params) error {
	const op = "remove"
	v, err := b.resolveVault(vaultName)
	if err != nil {
		b.recordError(op, err)
		return err
	}
	b.record(op, v.Name())

	if err := v.Remove(ctx, name, params); err != nil {
		b.recordError(op, err)
		return err
	}
	b.logger.Debug("removed secret %q from vault %q", name, v.Name())
	return nil
}

// GetSecretInfo enumerates secret metadata. With a vault name it queries
// that vault alone; with none it fans out to every vault, including the
// built-in one, merging results tagged by source vault. Name collisions
// across vaults stay separate entries, never merged or deduplicated.
//
// Per-vault failures are collected and returned alongside whatever results
// the remaining vaults produced; no failure is silently swallowed.
func (b *Broker) GetSecretInfo(ctx context.Context, vaultName, filter string, params vault.Params) ([]vault.SecretInfo, error) {
	const op = "getinfo"
	if vaultName != "" {
		v, err := b.resolveVault(vaultName)
		if err != nil {
			b.recordError(op, err)
			return nil, err
		}
		b.record(op, v.Name())
		infos, err := v.GetInfo(ctx, filter, params)
		if err != nil {
			b.recordError(op, err)
			return nil, err
		}
		return b.refilter(v.Name(), filter, infos), nil
	}

	type target struct {
		name string
		v    vault.Vault
	}
	targets := []target{{name: vault.BuiltInName, v: b.local}}
	for _, reg := range b.registry.List() {
		v, err := b.resolver.Resolve(reg.Name, reg.Locator, b.local)
		if err != nil {
			// Resolution failures are reported alongside invocation failures.
			targets = append(targets, target{name: reg.Name, v: failingVault{name: reg.Name, err: err}})
			continue
		}
		targets = append(targets, target{name: reg.Name, v: v})
	}

	results := make([][]vault.SecretInfo, len(targets))
	var (
		mu       sync.Mutex
		failures error
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			b.record(op, t.name)
			infos, err := t.v.GetInfo(gctx, filter, params)
			if err != nil {
				b.recordError(op, err)
				mu.Lock()
				failures = multierror.Append(failures, fmt.Errorf("vault %q: %w", t.name, err))
				mu.Unlock()
				return nil
			}
			results[i] = b.refilter(t.name, filter, infos)
			return nil
		})
	}
	_ = g.Wait() // goroutines report through failures, never abort the group

	merged := make([]vault.SecretInfo, 0)
	for _, infos := range results {
		merged = append(merged, infos...)
	}
	return merged, failures
}

// refilter applies the broker's own glob matching to a vault's results, so
// match semantics never depend on the vault's filtering, and stamps the
// source vault on every entry.
func (b *Broker) refilter(vaultName, filter string, infos []vault.SecretInfo) []vault.SecretInfo {
	out := make([]vault.SecretInfo, 0, len(infos))
	for _, info := range infos {
		if !wildcard.Match(filter, info.Name) {
			continue
		}
		info.Vault = vaultName
		out = append(out, info)
	}
	return out
}

// failingVault defers a resolution failure to call time so the fan-out can
// report it uniformly with invocation failures.
type failingVault struct {
	name string
	err  error
}

func (f failingVault) Name() string { return f.name }
func (f failingVault) Get(context.Context, string, vault.Params) (secrettype.Value, error) {
	return nil, f.err
}
func (f failingVault) GetInfo(context.Context, string, vault.Params) ([]vault.SecretInfo, error) {
	return nil, f.err
}
func (f failingVault) Set(context.Context, string, secrettype.Value, vault.Params) error {
	return f.err
}
func (f failingVault) Remove(context.Context, string, vault.Params) error { return f.err }

func (b *Broker) record(operation, vaultName string) {
	if b.metrics {
		metrics.RecordOperation(operation, vaultName)
	}
}

func (b *Broker) recordError(operation string, err error) {
	if err == nil || !b.metrics {
		return
	}
	metrics.RecordError(operation, errorKind(err))
}

// errorKind maps an error to its taxonomy label.
func errorKind(err error) string {
	var (
		notFound    vault.NotFoundError
		duplicate   vault.DuplicateNameError
		reserved    vault.ReservedNameError
		unsupported vault.OperationNotSupportedError
		violation   vault.ContractViolationError
		invocation  vault.InvocationError
		corruption  vault.StorageCorruptionError
		badType     secrettype.UnsupportedTypeError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &duplicate):
		return "duplicate_name"
	case errors.As(err, &reserved):
		return "reserved_name"
	case errors.As(err, &badType):
		return "unsupported_secret_type"
	case errors.As(err, &unsupported):
		return "operation_not_supported"
	case errors.As(err, &violation):
		return "contract_violation"
	case errors.As(err, &corruption):
		return "storage_corruption"
	case errors.As(err, &invocation):
		return "vault_invocation"
	default:
		return "other"
	}
}

func isOperationUnsupported(err error) bool {
	var unsupported vault.OperationNotSupportedError
	return errors.As(err, &unsupported)
}
