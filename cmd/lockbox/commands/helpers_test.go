package commands

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/lockbox/pkg/secrettype"
)

func TestParseValue(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		v, err := parseValue("string", "hello", "")
		require.NoError(t, err)
		assert.Equal(t, secrettype.String("hello"), v)
	})

	t.Run("securestring", func(t *testing.T) {
		v, err := parseValue("securestring", "s3cret", "")
		require.NoError(t, err)
		ss, ok := v.(*secrettype.SecureString)
		require.True(t, ok)
		assert.Equal(t, "[REDACTED]", ss.String())
	})

	t.Run("bytes", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
		v, err := parseValue("bytes", encoded, "")
		require.NoError(t, err)
		assert.Equal(t, secrettype.Bytes{1, 2, 3}, v)

		_, err = parseValue("bytes", "!!not-base64!!", "")
		assert.Error(t, err)
	})

	t.Run("credential", func(t *testing.T) {
		v, err := parseValue("credential", "pw", "admin")
		require.NoError(t, err)
		cred, ok := v.(secrettype.Credential)
		require.True(t, ok)
		assert.Equal(t, "admin", cred.Username)

		_, err = parseValue("credential", "pw", "")
		assert.Error(t, err, "credential needs --username")
	})

	t.Run("map sorts keys", func(t *testing.T) {
		v, err := parseValue("map", `{"z": "1", "a": "2"}`, "")
		require.NoError(t, err)
		m, ok := v.(secrettype.Map)
		require.True(t, ok)
		require.Len(t, m.Entries, 2)
		assert.Equal(t, "a", m.Entries[0].Key)
		assert.Equal(t, "z", m.Entries[1].Key)

		_, err = parseValue("map", `["not", "an", "object"]`, "")
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := parseValue("object", "x", "")
		assert.Error(t, err)
	})
}

func TestRenderValue(t *testing.T) {
	t.Run("protected values stay redacted by default", func(t *testing.T) {
		out, err := renderValue(secrettype.NewSecureStringFromString("s3cret"), false)
		require.NoError(t, err)
		assert.Equal(t, "[REDACTED]", out)

		out, err = renderValue(secrettype.Credential{
			Username: "admin",
			Password: secrettype.NewSecureStringFromString("pw"),
		}, false)
		require.NoError(t, err)
		assert.Equal(t, "admin:[REDACTED]", out)
	})

	t.Run("reveal prints clear form", func(t *testing.T) {
		out, err := renderValue(secrettype.NewSecureStringFromString("s3cret"), true)
		require.NoError(t, err)
		assert.Equal(t, "s3cret", out)

		out, err = renderValue(secrettype.Credential{
			Username: "admin",
			Password: secrettype.NewSecureStringFromString("pw"),
		}, true)
		require.NoError(t, err)
		assert.Equal(t, "admin:pw", out)
	})

	t.Run("bytes render as base64", func(t *testing.T) {
		out, err := renderValue(secrettype.Bytes{1, 2, 3}, false)
		require.NoError(t, err)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), out)
	})

	t.Run("map renders entries in order", func(t *testing.T) {
		m := secrettype.Map{Entries: []secrettype.MapEntry{
			{Key: "user", Value: secrettype.String("admin")},
			{Key: "pass", Value: secrettype.NewSecureStringFromString("pw")},
		}}
		out, err := renderValue(m, false)
		require.NoError(t, err)
		assert.Equal(t, "user=admin\npass=[REDACTED]", out)
	})
}

func TestSplitParam(t *testing.T) {
	k, v, err := splitParam("endpoint=https://kv.example.com")
	require.NoError(t, err)
	assert.Equal(t, "endpoint", k)
	assert.Equal(t, "https://kv.example.com", v)

	k, v, err = splitParam("token=a=b")
	require.NoError(t, err)
	assert.Equal(t, "token", k)
	assert.Equal(t, "a=b", v)

	_, _, err = splitParam("no-equals")
	assert.Error(t, err)
	_, _, err = splitParam("=value")
	assert.Error(t, err)
}
