// Package secrettype defines the closed set of secret value types understood
// by the broker and every vault, together with the tagged wire form used at
// the broker/vault boundary.
//
// The five supported kinds are:
//
//   - Bytes: a raw byte sequence
//   - String: a plain text string
//   - SecureString: an in-memory-only protected string
//   - Credential: a username plus a protected secret value
//   - Map: an ordered keyed mapping of string to any of the preceding four
//
// Maps may not nest inside maps. Any value outside this set is rejected with
// UnsupportedTypeError before it reaches a vault implementation.
package secrettype

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// Kind is the wire tag identifying a secret value's type.
type Kind string

const (
	KindBytes        Kind = "bytes"
	KindString       Kind = "string"
	KindSecureString Kind = "securestring"
	KindCredential   Kind = "credential"
	KindMap          Kind = "map"
)

// Kinds returns the closed set of supported kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindBytes, KindString, KindSecureString, KindCredential, KindMap}
}

// ParseKind validates a wire tag against the closed set.
func ParseKind(tag string) (Kind, error) {
	switch Kind(tag) {
	case KindBytes, KindString, KindSecureString, KindCredential, KindMap:
		return Kind(tag), nil
	}
	return "", UnsupportedTypeError{Tag: tag}
}

// Value is a secret value of one of the five supported kinds.
//
// The concrete types are Bytes, String, *SecureString, Credential and Map.
// Implementations outside this package are not part of the closed set and
// are rejected by Validate.
type Value interface {
	Kind() Kind
}

// UnsupportedTypeError indicates a value or wire tag outside the closed
// type set. It is returned before any vault is contacted, so an unsupported
// value can never be mis-stored by a third-party implementation.
type UnsupportedTypeError struct {
	Tag string
}

func (e UnsupportedTypeError) Error() string {
	if e.Tag == "" {
		return "unsupported secret type"
	}
	return fmt.Sprintf("unsupported secret type %q", e.Tag)
}

// Bytes is a raw byte sequence secret.
type Bytes []byte

func (Bytes) Kind() Kind { return KindBytes }

// String is a plain text secret.
type String string

func (String) Kind() Kind { return KindString }

// SecureString is an in-memory-only protected string. The plaintext lives in
// a memguard enclave: encrypted at rest in memory, wiped on destruction, and
// never exposed through fmt, JSON, or logging. The only way to reach the
// plaintext is Reveal, which scopes it to a callback.
type SecureString struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewSecureString seals plaintext into a protected string. The input buffer
// is wiped by memguard as part of sealing; callers must not reuse it.
func NewSecureString(plaintext []byte) *SecureString {
	return &SecureString{enclave: memguard.NewEnclave(plaintext)}
}

// NewSecureStringFromString seals a Go string. The string itself is
// immutable and cannot be wiped; prefer NewSecureString with a byte slice
// when the plaintext originates from I/O.
func NewSecureStringFromString(s string) *SecureString {
	return NewSecureString([]byte(s))
}

func (*SecureString) Kind() Kind { return KindSecureString }

// Reveal decrypts the plaintext into a locked buffer and passes it to f.
// The buffer is wiped when f returns; f must not retain the slice.
func (s *SecureString) Reveal(f func(plaintext []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.enclave == nil {
		return errors.New("secure string has been destroyed")
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open secure string: %w", err)
	}
	defer locked.Destroy()

	return f(locked.Bytes())
}

// Destroy releases the enclave and prevents further use. Idempotent.
func (s *SecureString) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}

// String implements fmt.Stringer and always redacts.
func (s *SecureString) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer for %#v formatting.
func (s *SecureString) GoString() string { return "[REDACTED]" }

// MarshalJSON refuses: a secure string has no implicit persistable form.
// The wire envelope produced by Marshal is the only sanctioned serialization.
func (s *SecureString) MarshalJSON() ([]byte, error) {
	return nil, errors.New("refusing to serialize secure string")
}

// Credential is a username paired with a protected secret value.
type Credential struct {
	Username string
	Password *SecureString
}

func (Credential) Kind() Kind { return KindCredential }

// MapEntry is one ordered entry of a Map.
type MapEntry struct {
	Key   string
	Value Value
}

// Map is an ordered keyed mapping of string to secret values. Entries keep
// registration order. Values must not themselves be Maps.
type Map struct {
	Entries []MapEntry
}

func (Map) Kind() Kind { return KindMap }

// Get returns the value for key and whether it is present.
func (m Map) Get(key string) (Value, bool) {
	for _, e := range m.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Validate checks that v belongs to the closed type set. Maps are checked
// entry by entry: nil values, duplicate keys, and nested maps all fail.
func Validate(v Value) error {
	if v == nil {
		return UnsupportedTypeError{}
	}
	switch val := v.(type) {
	case Bytes, String, Credential:
		return nil
	case *SecureString:
		return nil
	case Map:
		seen := make(map[string]struct{}, len(val.Entries))
		for _, e := range val.Entries {
			if e.Value == nil {
				return UnsupportedTypeError{}
			}
			if e.Value.Kind() == KindMap {
				return UnsupportedTypeError{Tag: string(KindMap) + " inside " + string(KindMap)}
			}
			if err := Validate(e.Value); err != nil {
				return err
			}
			if _, dup := seen[e.Key]; dup {
				return fmt.Errorf("duplicate map key %q", e.Key)
			}
			seen[e.Key] = struct{}{}
		}
		return nil
	default:
		return UnsupportedTypeError{Tag: string(v.Kind())}
	}
}
