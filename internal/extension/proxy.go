package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/lockbox/pkg/secrettype"
	"github.com/systmms/lockbox/pkg/vault"
)

// Proxy exposes a resolved extension implementation as a vault. It fetches
// the vault's stored connection parameters fresh from the local store on
// every call, never cached, so rotating a vault's parameters takes effect
// immediately without re-registration.
type Proxy struct {
	name   string
	inv    invoker
	params ParamSource
}

func newProxy(name string, inv invoker, params ParamSource) *Proxy {
	return &Proxy{name: name, inv: inv, params: params}
}

var _ vault.Vault = (*Proxy)(nil)

// Name returns the registration name this proxy serves.
func (p *Proxy) Name() string { return p.name }

// buildRequest merges freshly fetched stored parameters with caller-supplied
// ones, the caller's taking precedence, all marshaled to wire envelopes.
func (p *Proxy) buildRequest(ctx context.Context, callerParams vault.Params) (map[string]secrettype.Envelope, error) {
	merged, err := p.params.GetParams(ctx, p.name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch parameters for vault %q: %w", p.name, err)
	}
	for k, v := range callerParams {
		env, err := secrettype.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid additional parameter %q: %w", k, err)
		}
		merged[k] = env
	}
	return merged, nil
}

// wrap normalizes an implementation error: already-typed broker errors pass
// through unchanged in kind; anything else becomes an InvocationError with
// vault context, the underlying message preserved.
func (p *Proxy) wrap(op string, err error) error {
	var (
		notFound    vault.NotFoundError
		duplicate   vault.DuplicateNameError
		unsupported vault.OperationNotSupportedError
		violation   vault.ContractViolationError
	)
	if errors.As(err, &notFound) || errors.As(err, &duplicate) ||
		errors.As(err, &unsupported) || errors.As(err, &violation) {
		return err
	}
	return vault.InvocationError{Vault: p.name, Operation: op, Err: err}
}

func (p *Proxy) violation(op, detail string) error {
	return vault.ContractViolationError{Vault: p.name, Operation: op, Detail: detail}
}

// Get retrieves a secret through the implementation and validates the
// returned envelope before unmarshaling it.
func (p *Proxy) Get(ctx context.Context, name string, params vault.Params) (secrettype.Value, error) {
	if !p.inv.supports(OpGet) {
		return nil, vault.OperationNotSupportedError{Vault: p.name, Operation: OpGet}
	}
	merged, err := p.buildRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	env, err := p.inv.getSecret(ctx, vault.Request{Name: name, Parameters: merged})
	if err != nil {
		return nil, p.wrap(OpGet, err)
	}

	if _, err := secrettype.ParseKind(string(env.Type)); err != nil {
		return nil, p.violation(OpGet, fmt.Sprintf("returned unknown secret type %q", env.Type))
	}
	if len(env.Payload) == 0 {
		return nil, p.violation(OpGet, "returned an envelope with no payload")
	}
	value, err := secrettype.Unmarshal(env)
	if err != nil {
		return nil, p.violation(OpGet, fmt.Sprintf("returned a malformed %s payload", env.Type))
	}
	return value, nil
}

// GetInfo enumerates the implementation's secrets. The filter is passed
// through as a hint; the broker re-filters the merged results.
func (p *Proxy) GetInfo(ctx context.Context, filter string, params vault.Params) ([]vault.SecretInfo, error) {
	if !p.inv.supports(OpGetInfo) {
		return nil, vault.OperationNotSupportedError{Vault: p.name, Operation: OpGetInfo}
	}
	merged, err := p.buildRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	entries, err := p.inv.getSecretInfo(ctx, vault.Request{Filter: filter, Parameters: merged})
	if err != nil {
		return nil, p.wrap(OpGetInfo, err)
	}

	infos := make([]vault.SecretInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "" {
			return nil, p.violation(OpGetInfo, "returned a metadata entry with no name")
		}
		if _, err := secrettype.ParseKind(string(entry.Type)); err != nil {
			return nil, p.violation(OpGetInfo, fmt.Sprintf("returned unknown secret type %q for %q", entry.Type, entry.Name))
		}
		infos = append(infos, vault.SecretInfo{Name: entry.Name, Type: entry.Type, Vault: p.name})
	}
	return infos, nil
}

// Set stores a secret through the implementation. A success boolean of false
// alongside a nil error contradicts the contract and is surfaced as a
// violation, never as a silent success or unexplained failure.
func (p *Proxy) Set(ctx context.Context, name string, value secrettype.Value, params vault.Params) error {
	if !p.inv.supports(OpSet) {
		return vault.OperationNotSupportedError{Vault: p.name, Operation: OpSet}
	}
	env, err := secrettype.Marshal(value)
	if err != nil {
		return err
	}
	merged, err := p.buildRequest(ctx, params)
	if err != nil {
		return err
	}

	ok, err := p.inv.setSecret(ctx, vault.Request{Name: name, Value: &env, Parameters: merged})
	if err != nil {
		return p.wrap(OpSet, err)
	}
	if !ok {
		return p.violation(OpSet, "reported failure without an error")
	}
	return nil
}

// Remove deletes a secret through the implementation.
func (p *Proxy) Remove(ctx context.Context, name string, params vault.Params) error {
	if !p.inv.supports(OpRemove) {
		return vault.OperationNotSupportedError{Vault: p.name, Operation: OpRemove}
	}
	merged, err := p.buildRequest(ctx, params)
	if err != nil {
		return err
	}

	ok, err := p.inv.removeSecret(ctx, vault.Request{Name: name, Parameters: merged})
	if err != nil {
		return p.wrap(OpRemove, err)
	}
	if !ok {
		return p.violation(OpRemove, "reported failure without an error")
	}
	return nil
}
