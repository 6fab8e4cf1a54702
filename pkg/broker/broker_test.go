package broker

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/lockbox/internal/localstore"
	"github.com/systmms/lockbox/internal/logging"
	"github.com/systmms/lockbox/pkg/secrettype"
	"github.com/systmms/lockbox/pkg/vault"
)

// memImpl is an in-memory compiled implementation. Calls are recorded so
// tests can assert what reached the vault and what never did.
type memImpl struct {
	secrets map[string]secrettype.Envelope
	calls   []string

	getInfoErr error
}

func newMemImpl() *memImpl {
	return &memImpl{secrets: make(map[string]secrettype.Envelope)}
}

func (m *memImpl) GetSecret(ctx context.Context, req vault.Request) (secrettype.Envelope, error) {
	m.calls = append(m.calls, "get")
	env, ok := m.secrets[req.Name]
	if !ok {
		return secrettype.Envelope{}, vault.NotFoundError{Name: req.Name}
	}
	return env, nil
}

func (m *memImpl) GetSecretInfo(ctx context.Context, req vault.Request) ([]vault.InfoEntry, error) {
	m.calls = append(m.calls, "getinfo")
	if m.getInfoErr != nil {
		return nil, m.getInfoErr
	}
	names := make([]string, 0, len(m.secrets))
	for name := range m.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	// Deliberately ignores req.Filter: filtering correctness must not depend
	// on the implementation honoring the hint.
	entries := make([]vault.InfoEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, vault.InfoEntry{Name: name, Type: m.secrets[name].Type})
	}
	return entries, nil
}

func (m *memImpl) SetSecret(ctx context.Context, req vault.Request) (bool, error) {
	m.calls = append(m.calls, "set")
	m.secrets[req.Name] = *req.Value
	return true, nil
}

func (m *memImpl) RemoveSecret(ctx context.Context, req vault.Request) (bool, error) {
	m.calls = append(m.calls, "remove")
	if _, ok := m.secrets[req.Name]; !ok {
		return false, vault.NotFoundError{Name: req.Name}
	}
	delete(m.secrets, req.Name)
	return true, nil
}

func (m *memImpl) put(t *testing.T, name string, v secrettype.Value) {
	t.Helper()
	env, err := secrettype.Marshal(v)
	require.NoError(t, err)
	m.secrets[name] = env
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	keys, err := localstore.NewRandomKeySource()
	require.NoError(t, err)
	dir := t.TempDir()
	b, err := New(Options{
		StoreDir:     filepath.Join(dir, "store"),
		RegistryPath: filepath.Join(dir, "registry.json"),
		KeySource:    keys,
		Logger:       logging.NewWithWriter(io.Discard, false, true),
	})
	require.NoError(t, err)
	return b
}

// registerMem registers a compiled type backed by impl and a vault using it.
func registerMem(t *testing.T, b *Broker, impl *memImpl, opts RegisterVaultOptions) {
	t.Helper()
	require.NoError(t, b.RegisterCompiledVaultType(opts.Name+"-type", func(string) (vault.Implementation, error) {
		return impl, nil
	}))
	opts.Locator = "compiled:" + opts.Name + "-type"
	require.NoError(t, b.RegisterVault(context.Background(), opts))
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	require.NoError(t, b.AddSecret(ctx, "", "api-key", secrettype.String("v"), nil, AddOptions{}))

	got, err := b.GetSecret(ctx, "", "api-key", nil)
	require.NoError(t, err)
	assert.Equal(t, secrettype.String("v"), got)

	infos, err := b.GetSecretInfo(ctx, "", "", nil)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, vault.BuiltInName, infos[0].Vault)

	require.NoError(t, b.RemoveSecret(ctx, "", "api-key", nil))
	_, err = b.GetSecret(ctx, "", "api-key", nil)
	var notFound vault.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestTypeValidationPrecedesDispatch(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	impl := newMemImpl()
	registerMem(t, b, impl, RegisterVaultOptions{Name: "remote1", MakeDefault: true})

	nested := secrettype.Map{Entries: []secrettype.MapEntry{
		{Key: "inner", Value: secrettype.Map{}},
	}}
	err := b.AddSecret(ctx, "", "bad", nested, nil, AddOptions{})

	var unsupported secrettype.UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Empty(t, impl.calls, "no vault may be contacted with an invalid value")
}

func TestDefaultVaultResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("no default falls back to the built-in store", func(t *testing.T) {
		b := newTestBroker(t)
		impl := newMemImpl()
		registerMem(t, b, impl, RegisterVaultOptions{Name: "remote1"})

		require.NoError(t, b.AddSecret(ctx, "", "k", secrettype.String("v"), nil, AddOptions{}))
		assert.Empty(t, impl.calls)

		got, err := b.GetSecret(ctx, vault.BuiltInName, "k", nil)
		require.NoError(t, err)
		assert.Equal(t, secrettype.String("v"), got)
	})

	t.Run("default-flagged vault wins", func(t *testing.T) {
		b := newTestBroker(t)
		impl := newMemImpl()
		registerMem(t, b, impl, RegisterVaultOptions{Name: "remote1", MakeDefault: true})

		require.NoError(t, b.AddSecret(ctx, "", "k", secrettype.String("v"), nil, AddOptions{}))
		assert.Equal(t, []string{"set"}, impl.calls)

		// The built-in store must not have been touched.
		_, err := b.GetSecret(ctx, vault.BuiltInName, "k", nil)
		var notFound vault.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("singular get never searches other vaults", func(t *testing.T) {
		b := newTestBroker(t)
		impl := newMemImpl()
		impl.put(t, "only-here", secrettype.String("v"))
		registerMem(t, b, impl, RegisterVaultOptions{Name: "remote1"})

		// The name exists in remote1, but with no default the lookup routes
		// to the built-in store and fails there.
		_, err := b.GetSecret(ctx, "", "only-here", nil)
		var notFound vault.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Empty(t, impl.calls)
	})

	t.Run("built-in name is case-insensitive", func(t *testing.T) {
		b := newTestBroker(t)
		require.NoError(t, b.AddSecret(ctx, "LOCAL", "k", secrettype.String("v"), nil, AddOptions{}))
		got, err := b.GetSecret(ctx, "Local", "k", nil)
		require.NoError(t, err)
		assert.Equal(t, secrettype.String("v"), got)
	})

	t.Run("unknown vault name", func(t *testing.T) {
		b := newTestBroker(t)
		_, err := b.GetSecret(ctx, "ghost", "k", nil)
		var notFound vault.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestNoClobber(t *testing.T) {
	ctx := context.Background()

	t.Run("built-in store rejects duplicates atomically", func(t *testing.T) {
		b := newTestBroker(t)
		require.NoError(t, b.AddSecret(ctx, "", "k", secrettype.String("1"), nil, AddOptions{NoClobber: true}))

		err := b.AddSecret(ctx, "", "k", secrettype.String("2"), nil, AddOptions{NoClobber: true})
		var dup vault.DuplicateNameError
		require.ErrorAs(t, err, &dup)

		got, err := b.GetSecret(ctx, "", "k", nil)
		require.NoError(t, err)
		assert.Equal(t, secrettype.String("1"), got)
	})

	t.Run("without no-clobber overwrites", func(t *testing.T) {
		b := newTestBroker(t)
		require.NoError(t, b.AddSecret(ctx, "", "k", secrettype.String("1"), nil, AddOptions{}))
		require.NoError(t, b.AddSecret(ctx, "", "k", secrettype.String("2"), nil, AddOptions{}))

		got, err := b.GetSecret(ctx, "", "k", nil)
		require.NoError(t, err)
		assert.Equal(t, secrettype.String("2"), got)
	})

	t.Run("extension vault gets a check-then-set", func(t *testing.T) {
		b := newTestBroker(t)
		impl := newMemImpl()
		impl.put(t, "taken", secrettype.String("old"))
		registerMem(t, b, impl, RegisterVaultOptions{Name: "remote1"})

		err := b.AddSecret(ctx, "remote1", "taken", secrettype.String("new"), nil, AddOptions{NoClobber: true})
		var dup vault.DuplicateNameError
		require.ErrorAs(t, err, &dup)
		assert.NotContains(t, impl.calls, "set")

		require.NoError(t, b.AddSecret(ctx, "remote1", "fresh", secrettype.String("v"), nil, AddOptions{NoClobber: true}))
		assert.Contains(t, impl.calls, "set")
	})
}

func TestGetSecretInfoFanOut(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Broker, *memImpl) {
		b := newTestBroker(t)
		impl := newMemImpl()
		impl.put(t, "alpha-remote", secrettype.Bytes{1})
		impl.put(t, "shared", secrettype.String("remote"))
		registerMem(t, b, impl, RegisterVaultOptions{Name: "remote1"})
		require.NoError(t, b.AddSecret(ctx, vault.BuiltInName, "alpha-local", secrettype.String("v"), nil, AddOptions{}))
		require.NoError(t, b.AddSecret(ctx, vault.BuiltInName, "shared", secrettype.String("local"), nil, AddOptions{}))
		return b, impl
	}

	t.Run("merges across vaults with source tags", func(t *testing.T) {
		b, _ := setup(t)
		infos, err := b.GetSecretInfo(ctx, "", "", nil)
		require.NoError(t, err)
		require.Len(t, infos, 4)

		byVault := map[string][]string{}
		for _, info := range infos {
			byVault[info.Vault] = append(byVault[info.Vault], info.Name)
		}
		assert.ElementsMatch(t, []string{"alpha-local", "shared"}, byVault[vault.BuiltInName])
		assert.ElementsMatch(t, []string{"alpha-remote", "shared"}, byVault["remote1"])
	})

	t.Run("collisions stay separate entries", func(t *testing.T) {
		b, _ := setup(t)
		infos, err := b.GetSecretInfo(ctx, "", "shared", nil)
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.NotEqual(t, infos[0].Vault, infos[1].Vault)
	})

	t.Run("broker re-filters results the vault did not filter", func(t *testing.T) {
		b, _ := setup(t)
		// memImpl ignores the filter hint entirely; only the broker's own
		// matching keeps "shared" out.
		infos, err := b.GetSecretInfo(ctx, "", "alpha-*", nil)
		require.NoError(t, err)
		names := make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name)
		}
		assert.ElementsMatch(t, []string{"alpha-local", "alpha-remote"}, names)
	})

	t.Run("single-vault query also re-filters", func(t *testing.T) {
		b, _ := setup(t)
		infos, err := b.GetSecretInfo(ctx, "remote1", "alpha-*", nil)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "alpha-remote", infos[0].Name)
	})

	t.Run("a failing vault does not hide the others", func(t *testing.T) {
		b, impl := setup(t)
		impl.getInfoErr = assert.AnError

		infos, err := b.GetSecretInfo(ctx, "", "", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remote1")
		require.Len(t, infos, 2, "the built-in results must survive")
		for _, info := range infos {
			assert.Equal(t, vault.BuiltInName, info.Vault)
		}
	})

	t.Run("resolution failure is reported like an invocation failure", func(t *testing.T) {
		b := newTestBroker(t)
		require.NoError(t, b.AddSecret(ctx, "", "k", secrettype.String("v"), nil, AddOptions{}))
		// Registered against a compiled type nobody provides.
		require.NoError(t, b.RegisterVault(ctx, RegisterVaultOptions{Name: "orphan", Locator: "compiled:ghost"}))

		infos, err := b.GetSecretInfo(ctx, "", "", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "orphan")
		require.Len(t, infos, 1)
	})
}

func TestVaultLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("reserved name", func(t *testing.T) {
		b := newTestBroker(t)
		err := b.RegisterVault(ctx, RegisterVaultOptions{Name: "local", Locator: "compiled:x"})
		var reserved vault.ReservedNameError
		assert.ErrorAs(t, err, &reserved)
	})

	t.Run("duplicate needs force", func(t *testing.T) {
		b := newTestBroker(t)
		require.NoError(t, b.RegisterVault(ctx, RegisterVaultOptions{Name: "remote1", Locator: "compiled:a"}))

		var dup vault.DuplicateNameError
		err := b.RegisterVault(ctx, RegisterVaultOptions{Name: "remote1", Locator: "compiled:b"})
		require.ErrorAs(t, err, &dup)

		require.NoError(t, b.RegisterVault(ctx, RegisterVaultOptions{Name: "remote1", Locator: "compiled:b", Force: true}))
	})

	t.Run("invalid parameters rejected up front", func(t *testing.T) {
		b := newTestBroker(t)
		err := b.RegisterVault(ctx, RegisterVaultOptions{
			Name: "remote1", Locator: "compiled:x",
			Parameters: map[string]secrettype.Value{"bad": nil},
		})
		var unsupported secrettype.UnsupportedTypeError
		assert.ErrorAs(t, err, &unsupported)
	})

	t.Run("list puts the built-in vault first", func(t *testing.T) {
		b := newTestBroker(t)
		require.NoError(t, b.RegisterVault(ctx, RegisterVaultOptions{Name: "remote1", Locator: "compiled:a", MakeDefault: true}))

		infos := b.ListVaults()
		require.Len(t, infos, 2)
		assert.Equal(t, vault.BuiltInName, infos[0].Name)
		assert.False(t, infos[0].IsDefault)
		assert.Equal(t, "remote1", infos[1].Name)
		assert.True(t, infos[1].IsDefault)
	})

	t.Run("unregister leaves other vaults' secrets alone", func(t *testing.T) {
		b := newTestBroker(t)
		impl := newMemImpl()
		registerMem(t, b, impl, RegisterVaultOptions{Name: "remote1",
			Parameters: map[string]secrettype.Value{"endpoint": secrettype.String("https://kv")}})
		require.NoError(t, b.AddSecret(ctx, "", "kept", secrettype.String("v"), nil, AddOptions{}))

		require.NoError(t, b.UnregisterVault(ctx, "remote1"))

		got, err := b.GetSecret(ctx, "", "kept", nil)
		require.NoError(t, err)
		assert.Equal(t, secrettype.String("v"), got)

		_, err = b.GetSecret(ctx, "remote1", "anything", nil)
		var notFound vault.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{vault.NotFoundError{Vault: "v", Name: "n"}, "not_found"},
		{vault.DuplicateNameError{Vault: "v", Name: "n"}, "duplicate_name"},
		{vault.ReservedNameError{Name: "local"}, "reserved_name"},
		{vault.OperationNotSupportedError{Vault: "v", Operation: "set"}, "operation_not_supported"},
		{vault.ContractViolationError{Vault: "v", Operation: "get"}, "contract_violation"},
		{vault.InvocationError{Vault: "v", Operation: "get", Err: assert.AnError}, "vault_invocation"},
		{vault.StorageCorruptionError{Path: "p", Err: assert.AnError}, "storage_corruption"},
		{secrettype.UnsupportedTypeError{Tag: "pickle"}, "unsupported_secret_type"},
		{assert.AnError, "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorKind(tt.err), "%T", tt.err)
	}
}
