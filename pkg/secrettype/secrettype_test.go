package secrettype

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func revealString(t *testing.T, s *SecureString) string {
	t.Helper()
	var out string
	require.NoError(t, s.Reveal(func(plaintext []byte) error {
		out = string(plaintext)
		return nil
	}))
	return out
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		env, err := Marshal(Bytes{0x00, 0x01, 0xff})
		require.NoError(t, err)
		assert.Equal(t, KindBytes, env.Type)

		v, err := Unmarshal(env)
		require.NoError(t, err)
		assert.Equal(t, Bytes{0x00, 0x01, 0xff}, v)
	})

	t.Run("string", func(t *testing.T) {
		env, err := Marshal(String("hello"))
		require.NoError(t, err)

		v, err := Unmarshal(env)
		require.NoError(t, err)
		assert.Equal(t, String("hello"), v)
	})

	t.Run("securestring", func(t *testing.T) {
		env, err := Marshal(NewSecureStringFromString("s3cret"))
		require.NoError(t, err)
		assert.Equal(t, KindSecureString, env.Type)

		v, err := Unmarshal(env)
		require.NoError(t, err)
		ss, ok := v.(*SecureString)
		require.True(t, ok)
		assert.Equal(t, "s3cret", revealString(t, ss))
	})

	t.Run("credential", func(t *testing.T) {
		cred := Credential{Username: "admin", Password: NewSecureStringFromString("pw")}
		env, err := Marshal(cred)
		require.NoError(t, err)

		v, err := Unmarshal(env)
		require.NoError(t, err)
		got, ok := v.(Credential)
		require.True(t, ok)
		assert.Equal(t, "admin", got.Username)
		assert.Equal(t, "pw", revealString(t, got.Password))
	})

	t.Run("nil bytes become an empty sequence", func(t *testing.T) {
		env, err := Marshal(Bytes(nil))
		require.NoError(t, err)

		v, err := Unmarshal(env)
		require.NoError(t, err)
		assert.Equal(t, Bytes{}, v)
	})

	t.Run("map preserves order", func(t *testing.T) {
		m := Map{Entries: []MapEntry{
			{Key: "z", Value: String("last")},
			{Key: "a", Value: Bytes{1, 2}},
			{Key: "m", Value: NewSecureStringFromString("mid")},
		}}
		env, err := Marshal(m)
		require.NoError(t, err)

		v, err := Unmarshal(env)
		require.NoError(t, err)
		got, ok := v.(Map)
		require.True(t, ok)
		require.Len(t, got.Entries, 3)
		assert.Equal(t, "z", got.Entries[0].Key)
		assert.Equal(t, "a", got.Entries[1].Key)
		assert.Equal(t, "m", got.Entries[2].Key)
		assert.Equal(t, Bytes{1, 2}, got.Entries[1].Value)
	})
}

func TestUnmarshalRejectsUnknownTag(t *testing.T) {
	_, err := Unmarshal(Envelope{Type: Kind("pickle"), Payload: json.RawMessage(`"x"`)})
	require.Error(t, err)

	var unsupported UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "pickle", unsupported.Tag)
}

func TestUnmarshalRejectsNullPayload(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			_, err := Unmarshal(Envelope{Type: kind, Payload: json.RawMessage("null")})
			require.Error(t, err, "JSON null must not decode to a zero value")

			_, err = Unmarshal(Envelope{Type: kind})
			require.Error(t, err, "an absent payload must not decode either")
		})
	}
}

func TestUnmarshalRejectsDuplicateMapKeys(t *testing.T) {
	entry, err := Marshal(String("v"))
	require.NoError(t, err)
	payload, err := json.Marshal([]mapEntryPayload{
		{Key: "k", Value: entry},
		{Key: "k", Value: entry},
	})
	require.NoError(t, err)

	_, err = Unmarshal(Envelope{Type: KindMap, Payload: payload})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate map key "k"`)
}

func TestValidate(t *testing.T) {
	t.Run("nil value", func(t *testing.T) {
		var unsupported UnsupportedTypeError
		assert.ErrorAs(t, Validate(nil), &unsupported)
	})

	t.Run("nested map", func(t *testing.T) {
		nested := Map{Entries: []MapEntry{
			{Key: "inner", Value: Map{Entries: []MapEntry{{Key: "k", Value: String("v")}}}},
		}}
		var unsupported UnsupportedTypeError
		assert.ErrorAs(t, Validate(nested), &unsupported)

		_, err := Marshal(nested)
		assert.ErrorAs(t, err, &unsupported)
	})

	t.Run("duplicate map keys", func(t *testing.T) {
		m := Map{Entries: []MapEntry{
			{Key: "k", Value: String("a")},
			{Key: "k", Value: String("b")},
		}}
		assert.Error(t, Validate(m))
	})

	t.Run("wire nested map rejected", func(t *testing.T) {
		inner, err := json.Marshal([]mapEntryPayload{})
		require.NoError(t, err)
		payload, err := json.Marshal([]mapEntryPayload{
			{Key: "inner", Value: Envelope{Type: KindMap, Payload: inner}},
		})
		require.NoError(t, err)

		var unsupported UnsupportedTypeError
		_, uErr := Unmarshal(Envelope{Type: KindMap, Payload: payload})
		assert.ErrorAs(t, uErr, &unsupported)
	})
}

func TestSecureStringNeverLeaks(t *testing.T) {
	ss := NewSecureStringFromString("super-secret")

	assert.Equal(t, "[REDACTED]", ss.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", ss))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", ss))
	assert.NotContains(t, fmt.Sprintf("%+v", ss), "super-secret")

	_, err := json.Marshal(ss)
	assert.Error(t, err, "secure strings must not serialize implicitly")
}

func TestSecureStringDestroy(t *testing.T) {
	ss := NewSecureStringFromString("gone")
	ss.Destroy()
	ss.Destroy() // idempotent

	err := ss.Reveal(func([]byte) error { return nil })
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for _, kind := range Kinds() {
		parsed, err := ParseKind(string(kind))
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}

	_, err := ParseKind("object")
	var unsupported UnsupportedTypeError
	assert.ErrorAs(t, err, &unsupported)
}
