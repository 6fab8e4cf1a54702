// Package extension resolves a vault registration's implementation locator
// to a concrete implementation and exposes both implementation styles behind
// the uniform four-operation contract.
//
// Two styles exist:
//
//   - compiled: an in-process Go type registered with the factory registry,
//     addressed by "compiled:<type>" locators. Every call has an explicit
//     error return next to its primary result.
//   - scripted: an external executable described by a YAML manifest,
//     addressed by "script:<manifest path>" locators. The manifest's exports
//     list declares which of the four operations the implementation
//     provides; omission means unsupported, not "implemented as no-op".
//
// Both styles are untrusted: every output is validated against the
// documented shape before anything reaches the caller.
package extension

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/systmms/lockbox/pkg/secrettype"
	"github.com/systmms/lockbox/pkg/vault"
)

// Operation names as they appear in manifests and on scripted invocations.
const (
	OpGet     = "get"
	OpGetInfo = "getinfo"
	OpSet     = "set"
	OpRemove  = "remove"
)

const (
	locatorCompiledPrefix = "compiled:"
	locatorScriptPrefix   = "script:"
)

// invoker is the one internal interface both styles are normalized to.
type invoker interface {
	supports(op string) bool
	getSecret(ctx context.Context, req vault.Request) (secrettype.Envelope, error)
	getSecretInfo(ctx context.Context, req vault.Request) ([]vault.InfoEntry, error)
	setSecret(ctx context.Context, req vault.Request) (bool, error)
	removeSecret(ctx context.Context, req vault.Request) (bool, error)
}

// ParamSource supplies a vault's stored connection parameters. Satisfied by
// the local store; the proxy calls it fresh on every invocation.
type ParamSource interface {
	GetParams(ctx context.Context, vaultName string) (map[string]secrettype.Envelope, error)
}

// Registry resolves locators. Compiled factories are registered explicitly;
// scripted vaults need no registration beyond their manifest on disk.
type Registry struct {
	mu       sync.RWMutex
	compiled map[string]vault.ImplementationFactory
	runner   CommandRunner
}

// NewRegistry creates a resolver registry using the real command runner for
// scripted vaults.
func NewRegistry() *Registry {
	return &Registry{
		compiled: make(map[string]vault.ImplementationFactory),
		runner:   &execRunner{},
	}
}

// SetCommandRunner replaces the scripted-vault command runner. Tests inject
// fakes here.
func (r *Registry) SetCommandRunner(runner CommandRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runner = runner
}

// RegisterCompiled registers a compiled implementation factory under a type
// name, addressable as "compiled:<type>".
func (r *Registry) RegisterCompiled(typeName string, factory vault.ImplementationFactory) error {
	if strings.TrimSpace(typeName) == "" || factory == nil {
		return fmt.Errorf("invalid compiled vault registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.compiled[typeName]; exists {
		return fmt.Errorf("compiled vault type %q already registered", typeName)
	}
	r.compiled[typeName] = factory
	return nil
}

// CompiledTypes returns the registered compiled type names.
func (r *Registry) CompiledTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.compiled))
	for t := range r.compiled {
		types = append(types, t)
	}
	return types
}

// Resolve turns a registration into a live vault proxy. The locator decides
// the style; anything else is an error at resolution time, before any
// operation is attempted.
func (r *Registry) Resolve(vaultName, locator string, params ParamSource) (*Proxy, error) {
	switch {
	case strings.HasPrefix(locator, locatorCompiledPrefix):
		typeName := strings.TrimPrefix(locator, locatorCompiledPrefix)
		r.mu.RLock()
		factory, ok := r.compiled[typeName]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("vault %q: unknown compiled vault type %q", vaultName, typeName)
		}
		impl, err := factory(vaultName)
		if err != nil {
			return nil, fmt.Errorf("vault %q: failed to construct implementation: %w", vaultName, err)
		}
		return newProxy(vaultName, &compiledInvoker{impl: impl}, params), nil

	case strings.HasPrefix(locator, locatorScriptPrefix):
		manifestPath := strings.TrimPrefix(locator, locatorScriptPrefix)
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("vault %q: %w", vaultName, err)
		}
		r.mu.RLock()
		runner := r.runner
		r.mu.RUnlock()
		return newProxy(vaultName, &scriptedInvoker{vaultName: vaultName, manifest: manifest, runner: runner}, params), nil
	}

	return nil, fmt.Errorf("vault %q: unrecognized implementation locator %q", vaultName, locator)
}
