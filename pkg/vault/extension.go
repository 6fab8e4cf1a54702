package vault

import (
	"context"

	"github.com/systmms/lockbox/pkg/secrettype"
)

// Request is the wire-level call an extension implementation receives. The
// same shape is passed to compiled implementations directly and serialized
// as JSON on stdin for scripted ones.
//
// Parameters holds the vault's stored connection parameters merged with any
// caller-supplied additional parameters, already marshaled to envelopes.
type Request struct {
	Name       string                         `json:"name,omitempty"`
	Filter     string                         `json:"filter,omitempty"`
	Value      *secrettype.Envelope           `json:"value,omitempty"`
	Parameters map[string]secrettype.Envelope `json:"parameters,omitempty"`
}

// InfoEntry is one enumeration result from an extension implementation.
type InfoEntry struct {
	Name string          `json:"name"`
	Type secrettype.Kind `json:"type"`
}

// Implementation is the compiled extension style: an in-process type
// exposing all four operations, each with an explicit error channel
// alongside its primary return.
//
// The proxy validates every return against the documented shape. Set and
// Remove report success through the boolean; returning (false, nil) is a
// contract violation, not a soft failure.
type Implementation interface {
	GetSecret(ctx context.Context, req Request) (secrettype.Envelope, error)
	GetSecretInfo(ctx context.Context, req Request) ([]InfoEntry, error)
	SetSecret(ctx context.Context, req Request) (bool, error)
	RemoveSecret(ctx context.Context, req Request) (bool, error)
}

// ImplementationFactory builds a compiled implementation for a registered
// vault. The vault name is the registration name, letting one factory serve
// several registrations with distinct parameter sets.
type ImplementationFactory func(vaultName string) (Implementation, error)
