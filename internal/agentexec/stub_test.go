package agentexec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/harness/internal/agentexec"
)

func TestStubEchoesInput(t *testing.T) {
	s := agentexec.Stub{}
	out, snapshot, err := s.Run(context.Background(), agentexec.PromptContext{Input: "hello"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", out.Result)
	require.Nil(t, snapshot)
}

func TestStubWithFixedResult(t *testing.T) {
	s := agentexec.Stub{Result: "done"}
	out, _, err := s.Run(context.Background(), agentexec.PromptContext{Input: "ignored"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "done", out.Result)
}
