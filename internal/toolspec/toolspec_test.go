package toolspec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubTool struct{ id Ident }

func (s stubTool) Ident() Ident { return s.id }
func (s stubTool) Invoke(context.Context, map[string]any) (any, error) { return "ok", nil }
func (s stubTool) Classify(error) ErrorClass { return ClassTransient }

func TestRegistryPermitted(t *testing.T) {
	r := NewRegistry()
	r.Register(&Spec{
		ID:              "search.web",
		PermittedAgents: map[string]struct{}{"MARS": {}},
	}, stubTool{id: "search.web"})

	require.True(t, r.Permitted("search.web", "MARS"))
	require.False(t, r.Permitted("search.web", "VENUS"))
	require.False(t, r.Permitted("unknown.tool", "MARS"))
}

func TestValidateArgumentsRejectsSchemaViolation(t *testing.T) {
	schema, err := CompileSchema("search.web", []byte(`{
		"type": "object",
		"required": ["query"],
		"properties": {"query": {"type": "string"}}
	}`))
	require.NoError(t, err)

	spec := &Spec{ID: "search.web", Schema: schema}
	require.NoError(t, spec.ValidateArguments(map[string]any{"query": "weather"}))

	err = spec.ValidateArguments(map[string]any{"query": 5})
	require.ErrorIs(t, err, ErrMalformedArguments)
}

func TestDecodeIntoTypedStruct(t *testing.T) {
	type args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	var out args
	require.NoError(t, Decode(map[string]any{"query": "weather", "limit": "5"}, &out))
	require.Equal(t, "weather", out.Query)
	require.Equal(t, 5, out.Limit)
}
