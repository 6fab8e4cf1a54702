package secrettype

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the tagged (type, payload) pair crossing the broker/vault
// boundary. The payload encoding is per kind:
//
//   - bytes: base64 JSON string
//   - string, securestring: JSON string
//   - credential: {"username": ..., "password": ...}
//   - map: ordered array of {"key": ..., "value": <envelope>}
//
// An envelope is a transient boundary value. For a secure string or
// credential it carries the plaintext, so envelopes must never be logged and
// exist only on their way into encrypted storage or an implementation call.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type credentialPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type mapEntryPayload struct {
	Key   string   `json:"key"`
	Value Envelope `json:"value"`
}

// Marshal canonicalizes a secret value into its wire envelope. The value is
// validated against the closed set first; anything else fails with
// UnsupportedTypeError.
func Marshal(v Value) (Envelope, error) {
	if err := Validate(v); err != nil {
		return Envelope{}, err
	}

	switch val := v.(type) {
	case Bytes:
		b := []byte(val)
		if b == nil {
			// A nil slice would encode as JSON null, which Unmarshal rejects.
			b = []byte{}
		}
		payload, err := json.Marshal(b)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode byte payload: %w", err)
		}
		return Envelope{Type: KindBytes, Payload: payload}, nil

	case String:
		payload, err := json.Marshal(string(val))
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode string payload: %w", err)
		}
		return Envelope{Type: KindString, Payload: payload}, nil

	case *SecureString:
		var payload []byte
		err := val.Reveal(func(plaintext []byte) error {
			var encErr error
			payload, encErr = json.Marshal(string(plaintext))
			return encErr
		})
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode secure string payload: %w", err)
		}
		return Envelope{Type: KindSecureString, Payload: payload}, nil

	case Credential:
		cp := credentialPayload{Username: val.Username}
		if val.Password != nil {
			err := val.Password.Reveal(func(plaintext []byte) error {
				cp.Password = string(plaintext)
				return nil
			})
			if err != nil {
				return Envelope{}, fmt.Errorf("failed to encode credential payload: %w", err)
			}
		}
		payload, err := json.Marshal(cp)
		cp.Password = ""
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode credential payload: %w", err)
		}
		return Envelope{Type: KindCredential, Payload: payload}, nil

	case Map:
		entries := make([]mapEntryPayload, 0, len(val.Entries))
		for _, e := range val.Entries {
			inner, err := Marshal(e.Value)
			if err != nil {
				return Envelope{}, fmt.Errorf("failed to encode map entry %q: %w", e.Key, err)
			}
			entries = append(entries, mapEntryPayload{Key: e.Key, Value: inner})
		}
		payload, err := json.Marshal(entries)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode map payload: %w", err)
		}
		return Envelope{Type: KindMap, Payload: payload}, nil
	}

	return Envelope{}, UnsupportedTypeError{Tag: string(v.Kind())}
}

// Unmarshal reconstructs a secret value from its wire envelope. Tags outside
// the closed set fail with UnsupportedTypeError; there is no best-effort
// coercion. A missing or JSON-null payload is malformed for every kind, so a
// misbehaving implementation cannot smuggle in a zero value.
func Unmarshal(env Envelope) (Value, error) {
	if _, err := ParseKind(string(env.Type)); err != nil {
		return nil, err
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return nil, fmt.Errorf("missing %s payload", env.Type)
	}

	switch env.Type {
	case KindBytes:
		var b []byte
		if err := json.Unmarshal(env.Payload, &b); err != nil {
			return nil, fmt.Errorf("malformed byte payload: %w", err)
		}
		return Bytes(b), nil

	case KindString:
		var s string
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, fmt.Errorf("malformed string payload: %w", err)
		}
		return String(s), nil

	case KindSecureString:
		var s string
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, fmt.Errorf("malformed secure string payload: %w", err)
		}
		return NewSecureString([]byte(s)), nil

	case KindCredential:
		var cp credentialPayload
		if err := json.Unmarshal(env.Payload, &cp); err != nil {
			return nil, fmt.Errorf("malformed credential payload: %w", err)
		}
		cred := Credential{
			Username: cp.Username,
			Password: NewSecureString([]byte(cp.Password)),
		}
		cp.Password = ""
		return cred, nil

	case KindMap:
		var entries []mapEntryPayload
		if err := json.Unmarshal(env.Payload, &entries); err != nil {
			return nil, fmt.Errorf("malformed map payload: %w", err)
		}
		m := Map{Entries: make([]MapEntry, 0, len(entries))}
		seen := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			if _, dup := seen[e.Key]; dup {
				return nil, fmt.Errorf("duplicate map key %q", e.Key)
			}
			seen[e.Key] = struct{}{}
			if e.Value.Type == KindMap {
				return nil, UnsupportedTypeError{Tag: string(KindMap) + " inside " + string(KindMap)}
			}
			inner, err := Unmarshal(e.Value)
			if err != nil {
				return nil, fmt.Errorf("malformed map entry %q: %w", e.Key, err)
			}
			m.Entries = append(m.Entries, MapEntry{Key: e.Key, Value: inner})
		}
		return m, nil
	}

	return nil, UnsupportedTypeError{Tag: string(env.Type)}
}
