package commands

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/systmms/lockbox/internal/config"
	"github.com/systmms/lockbox/pkg/broker"
	"github.com/systmms/lockbox/pkg/secrettype"
)

// newBroker builds a broker from resolved configuration.
func newBroker(cfg *config.Config) (*broker.Broker, error) {
	return broker.New(broker.Options{
		StoreDir:      cfg.StoreDir,
		RegistryPath:  cfg.RegistryPath,
		Logger:        cfg.Logger,
		EnableMetrics: cfg.EnableMetrics,
	})
}

// parseValue turns CLI input into a typed secret value.
//
//	string:       the raw input
//	securestring: the raw input, sealed in memory
//	bytes:        base64 input
//	credential:   input is the password, username comes from --username
//	map:          input is a flat JSON object of string values
func parseValue(typeTag, input, username string) (secrettype.Value, error) {
	switch strings.ToLower(typeTag) {
	case "string":
		return secrettype.String(input), nil
	case "securestring":
		return secrettype.NewSecureStringFromString(input), nil
	case "bytes":
		raw, err := base64.StdEncoding.DecodeString(input)
		if err != nil {
			return nil, fmt.Errorf("bytes value must be base64: %w", err)
		}
		return secrettype.Bytes(raw), nil
	case "credential":
		if username == "" {
			return nil, fmt.Errorf("credential values require --username")
		}
		return secrettype.Credential{
			Username: username,
			Password: secrettype.NewSecureStringFromString(input),
		}, nil
	case "map":
		var fields map[string]string
		if err := json.Unmarshal([]byte(input), &fields); err != nil {
			return nil, fmt.Errorf("map value must be a flat JSON object: %w", err)
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		// JSON objects are unordered; store entries sorted for stable output.
		sort.Strings(keys)
		m := secrettype.Map{}
		for _, k := range keys {
			m.Entries = append(m.Entries, secrettype.MapEntry{Key: k, Value: secrettype.String(fields[k])})
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown secret type %q (want string, securestring, bytes, credential, or map)", typeTag)
}

// renderValue formats a retrieved value for output. Protected values stay
// redacted unless reveal is set.
func renderValue(v secrettype.Value, reveal bool) (string, error) {
	switch val := v.(type) {
	case secrettype.String:
		return string(val), nil
	case secrettype.Bytes:
		return base64.StdEncoding.EncodeToString(val), nil
	case *secrettype.SecureString:
		if !reveal {
			return val.String(), nil
		}
		var out string
		err := val.Reveal(func(plaintext []byte) error {
			out = string(plaintext)
			return nil
		})
		return out, err
	case secrettype.Credential:
		if !reveal {
			return fmt.Sprintf("%s:%s", val.Username, val.Password), nil
		}
		var password string
		if val.Password != nil {
			if err := val.Password.Reveal(func(plaintext []byte) error {
				password = string(plaintext)
				return nil
			}); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%s:%s", val.Username, password), nil
	case secrettype.Map:
		var sb strings.Builder
		for i, entry := range val.Entries {
			rendered, err := renderValue(entry.Value, reveal)
			if err != nil {
				return "", err
			}
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%s=%s", entry.Key, rendered)
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("unknown secret type %q", v.Kind())
}
