package extension

import (
	"context"

	"github.com/systmms/lockbox/pkg/secrettype"
	"github.com/systmms/lockbox/pkg/vault"
)

// compiledInvoker adapts an in-process implementation to the internal
// invoker interface. The compiled style exposes all four operations by
// construction; the type system is its export list.
type compiledInvoker struct {
	impl vault.Implementation
}

func (c *compiledInvoker) supports(op string) bool {
	switch op {
	case OpGet, OpGetInfo, OpSet, OpRemove:
		return true
	}
	return false
}

func (c *compiledInvoker) getSecret(ctx context.Context, req vault.Request) (secrettype.Envelope, error) {
	return c.impl.GetSecret(ctx, req)
}

func (c *compiledInvoker) getSecretInfo(ctx context.Context, req vault.Request) ([]vault.InfoEntry, error) {
	return c.impl.GetSecretInfo(ctx, req)
}

func (c *compiledInvoker) setSecret(ctx context.Context, req vault.Request) (bool, error) {
	return c.impl.SetSecret(ctx, req)
}

func (c *compiledInvoker) removeSecret(ctx context.Context, req vault.Request) (bool, error) {
	return c.impl.RemoveSecret(ctx, req)
}
