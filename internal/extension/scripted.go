package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/lockbox/pkg/secrettype"
	"github.com/systmms/lockbox/pkg/vault"
)

// Manifest describes a scripted vault implementation: the command to run and
// the operations its author declares as exported. An operation missing from
// exports is unsupported and is never invoked.
type Manifest struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Exports []string          `yaml:"exports"`
}

// LoadManifest reads and validates a scripted vault manifest.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read vault manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse vault manifest %s: %w", path, err)
	}
	if strings.TrimSpace(m.Command) == "" {
		return Manifest{}, fmt.Errorf("vault manifest %s declares no command", path)
	}
	for _, export := range m.Exports {
		switch strings.ToLower(export) {
		case OpGet, OpGetInfo, OpSet, OpRemove:
		default:
			return Manifest{}, fmt.Errorf("vault manifest %s exports unknown operation %q", path, export)
		}
	}
	return m, nil
}

// exports reports whether the manifest declares op.
func (m Manifest) exports(op string) bool {
	for _, export := range m.Exports {
		if strings.EqualFold(export, op) {
			return true
		}
	}
	return false
}

// CommandRunner executes a scripted vault's process. Tests inject fakes to
// simulate well-behaved and misbehaving implementations.
type CommandRunner interface {
	// Run executes name with args, writing stdin to the process and
	// returning its stdout and stderr. env entries (KEY=VALUE) are appended
	// to the inherited environment.
	Run(ctx context.Context, stdin []byte, env []string, name string, args ...string) (stdout, stderr []byte, err error)
}

// execRunner is the production runner backed by os/exec.
type execRunner struct{}

func (*execRunner) Run(ctx context.Context, stdin []byte, env []string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// response is the single JSON document a scripted implementation must emit:
// exactly a result of the operation's shape, or exactly an error message,
// optionally tagged with a code from the error taxonomy.
type response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Error codes a scripted implementation may attach to an error response so a
// condition like a missing secret surfaces as its typed error rather than an
// opaque invocation failure.
const (
	codeNotFound              = "not_found"
	codeDuplicateName         = "duplicate_name"
	codeOperationNotSupported = "operation_not_supported"
)

const envelopeSchemaFragment = `{
	"type": "object",
	"required": ["type", "payload"],
	"properties": {"type": {"type": "string"}, "payload": {}},
	"additionalProperties": false
}`

const infoSchemaFragment = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name", "type"],
		"properties": {"name": {"type": "string", "minLength": 1}, "type": {"type": "string"}},
		"additionalProperties": false
	}
}`

var responseSchemas = map[string]*gojsonschema.Schema{
	OpGet:     mustSchema(envelopeSchemaFragment),
	OpGetInfo: mustSchema(infoSchemaFragment),
	OpSet:     mustSchema(`{"type": "boolean"}`),
	OpRemove:  mustSchema(`{"type": "boolean"}`),
}

func mustSchema(resultFragment string) *gojsonschema.Schema {
	doc := fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"result": %s,
			"error": {"type": "string", "minLength": 1},
			"code": {"type": "string", "enum": ["not_found", "duplicate_name", "operation_not_supported"]}
		},
		"additionalProperties": false,
		"dependencies": {"code": ["error"]},
		"oneOf": [{"required": ["result"]}, {"required": ["error"]}]
	}`, resultFragment)

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid response schema: %v", err))
	}
	return schema
}

// scriptedInvoker invokes a manifest-declared executable, one process per
// operation, JSON request on stdin and a single JSON response on stdout.
type scriptedInvoker struct {
	vaultName string
	manifest  Manifest
	runner    CommandRunner
}

func (s *scriptedInvoker) supports(op string) bool {
	return s.manifest.exports(op)
}

func (s *scriptedInvoker) environ() []string {
	env := make([]string, 0, len(s.manifest.Env))
	for k, v := range s.manifest.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// call runs one operation and validates the response shape. Anything other
// than exactly one well-formed response document is a contract violation;
// the anomalous output is discarded, never surfaced as a result.
func (s *scriptedInvoker) call(ctx context.Context, op string, req vault.Request) (json.RawMessage, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	args := append(append([]string{}, s.manifest.Args...), op)
	stdout, stderr, runErr := s.runner.Run(ctx, input, s.environ(), s.manifest.Command, args...)

	dec := json.NewDecoder(bytes.NewReader(stdout))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if runErr != nil {
			return nil, s.processFailure(runErr, stderr)
		}
		return nil, s.violation(op, "output is not a JSON document")
	}
	var extra json.RawMessage
	switch err := dec.Decode(&extra); {
	case err == nil:
		return nil, s.violation(op, "emitted more than one response document")
	case !errors.Is(err, io.EOF):
		return nil, s.violation(op, "trailing data after response document")
	}

	result, err := responseSchemas[op].Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, s.violation(op, "response is not valid JSON")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, s.violation(op, "response does not match the documented shape: "+strings.Join(details, "; "))
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, s.violation(op, "response does not match the documented shape")
	}
	if resp.Error != "" {
		return nil, s.typedError(op, req, resp)
	}
	if runErr != nil {
		return nil, s.processFailure(runErr, stderr)
	}
	return resp.Result, nil
}

// typedError maps an implementation-reported failure onto the error
// taxonomy. Without a code the message is preserved verbatim as an opaque
// failure; the schema rejects codes outside the known set.
func (s *scriptedInvoker) typedError(op string, req vault.Request, resp response) error {
	switch resp.Code {
	case codeNotFound:
		return vault.NotFoundError{Vault: s.vaultName, Name: req.Name}
	case codeDuplicateName:
		return vault.DuplicateNameError{Vault: s.vaultName, Name: req.Name}
	case codeOperationNotSupported:
		return vault.OperationNotSupportedError{Vault: s.vaultName, Operation: op}
	}
	return errors.New(resp.Error)
}

func (s *scriptedInvoker) processFailure(runErr error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return fmt.Errorf("implementation process failed: %w", runErr)
	}
	return fmt.Errorf("implementation process failed: %s: %w", msg, runErr)
}

func (s *scriptedInvoker) violation(op, detail string) error {
	return vault.ContractViolationError{Vault: s.vaultName, Operation: op, Detail: detail}
}

func (s *scriptedInvoker) getSecret(ctx context.Context, req vault.Request) (secrettype.Envelope, error) {
	raw, err := s.call(ctx, OpGet, req)
	if err != nil {
		return secrettype.Envelope{}, err
	}
	var env secrettype.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return secrettype.Envelope{}, s.violation(OpGet, "result is not a secret envelope")
	}
	return env, nil
}

func (s *scriptedInvoker) getSecretInfo(ctx context.Context, req vault.Request) ([]vault.InfoEntry, error) {
	raw, err := s.call(ctx, OpGetInfo, req)
	if err != nil {
		return nil, err
	}
	var entries []vault.InfoEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, s.violation(OpGetInfo, "result is not a metadata list")
	}
	return entries, nil
}

func (s *scriptedInvoker) setSecret(ctx context.Context, req vault.Request) (bool, error) {
	return s.callBool(ctx, OpSet, req)
}

func (s *scriptedInvoker) removeSecret(ctx context.Context, req vault.Request) (bool, error) {
	return s.callBool(ctx, OpRemove, req)
}

func (s *scriptedInvoker) callBool(ctx context.Context, op string, req vault.Request) (bool, error) {
	raw, err := s.call(ctx, op, req)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, s.violation(op, "result is not a success boolean")
	}
	return ok, nil
}
