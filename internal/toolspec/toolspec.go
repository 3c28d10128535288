// Package toolspec describes the tool boundary: the metadata, JSON-schema
// validation, and typed-argument decoding a harness needs before it can
// hand a tool call to internal/toolcall for execution.
//
// Modeled on goa-ai's runtime/agent/tools package (Ident, ToolSpec,
// idempotency tagging), trimmed to the fields the tool-call manager's
// contract actually needs.
package toolspec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Ident is a globally unique tool identifier, conventionally
// "toolset.tool".
type Ident string

// ErrorClass classifies a tool invocation failure for the tool-call
// manager's retry logic.
type ErrorClass string

const (
	// ClassTransient errors (timeouts, explicit transient signals) are
	// retried up to the manager's retry budget.
	ClassTransient ErrorClass = "transient"
	// ClassNonTransient errors (permission denied by the tool itself,
	// malformed arguments) are recorded and failed without retry.
	ClassNonTransient ErrorClass = "non_transient"
)

// ErrMalformedArguments is returned by ValidateArguments when the call's argument
// map fails JSON-schema validation. It always classifies as
// ClassNonTransient.
var ErrMalformedArguments = errors.New("toolspec: malformed arguments")

// Tool is the boundary a harness invokes to run a tool call: it
// classifies the errors it returns and knows how to run itself given
// validated arguments.
type Tool interface {
	Ident() Ident
	Invoke(ctx context.Context, args map[string]any) (result any, err error)
	// Classify maps an error returned by Invoke to a retry classification.
	// Implementations typically inspect sentinel errors or a custom
	// "transient" marker interface.
	Classify(err error) ErrorClass
}

// Spec carries the static metadata and JSON schema for a tool, independent
// of its runtime Invoke implementation.
type Spec struct {
	ID          Ident
	Description string
	// PermittedAgents is the set of agent names allowed to call this
	// tool. An empty set means no agent may call it.
	PermittedAgents map[string]struct{}
	// Schema is the compiled JSON schema used to validate call arguments
	// before dispatch. Nil means no schema validation is performed.
	Schema *jsonschema.Schema
}

// Registry indexes tool specs and runtime implementations by Ident, and
// answers the tool-call manager's permission check.
type Registry struct {
	specs map[Ident]*Spec
	tools map[Ident]Tool
}

// NewRegistry constructs an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[Ident]*Spec), tools: make(map[Ident]Tool)}
}

// Register adds a tool and its spec to the registry.
func (r *Registry) Register(spec *Spec, tool Tool) {
	r.specs[spec.ID] = spec
	r.tools[spec.ID] = tool
}

// Lookup returns the spec and tool implementation for id.
func (r *Registry) Lookup(id Ident) (*Spec, Tool, bool) {
	spec, ok := r.specs[id]
	if !ok {
		return nil, nil, false
	}
	return spec, r.tools[id], true
}

// Permitted reports whether agentName may call the tool identified by id.
// An unknown tool is never permitted.
func (r *Registry) Permitted(id Ident, agentName string) bool {
	spec, ok := r.specs[id]
	if !ok {
		return false
	}
	_, ok = spec.PermittedAgents[agentName]
	return ok
}

// ValidateArguments checks args against spec's JSON schema, if any, and
// wraps any violation in ErrMalformedArguments so callers can classify it
// as non-transient without inspecting schema-library error types.
func (spec *Spec) ValidateArguments(args map[string]any) error {
	if spec.Schema == nil {
		return nil
	}
	// jsonschema validates against decoded JSON values (map[string]any,
	// []any, etc.), so round-trip through encoding/json to normalize
	// numeric types the same way a wire-decoded payload would be.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	if err := spec.Schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	return nil
}

// Decode decodes a validated argument map into a typed struct using
// mapstructure, so tool implementations can work with Go types instead of
// map[string]any.
func Decode(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}

// CompileSchema compiles a JSON schema document for use in a Spec.
func CompileSchema(id string, document []byte) (*jsonschema.Schema, error) {
	var raw any
	if err := json.Unmarshal(document, &raw); err != nil {
		return nil, fmt.Errorf("toolspec: invalid schema document for %q: %w", id, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(id, raw); err != nil {
		return nil, fmt.Errorf("toolspec: add schema resource %q: %w", id, err)
	}
	return c.Compile(id)
}
