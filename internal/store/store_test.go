package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/harness/internal/store"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := store.State{
		HarnessID: "h1",
		AgentName: "MARS",
		Status:    store.StatusRunning,
		Plan: &store.PlanState{
			Steps: []store.StepState{{ID: "A", Description: "a", Status: "completed"}},
		},
		CheckpointCount: 4,
	}
	data, err := store.Marshal(want)
	require.NoError(t, err)

	got, err := store.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, want.HarnessID, got.HarnessID)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.CheckpointCount, got.CheckpointCount)
	require.Len(t, got.Plan.Steps, 1)
}

func TestUnmarshalRejectsUnknownSchemaVersion(t *testing.T) {
	_, err := store.Unmarshal([]byte(`{"schemaVersion": 99, "harnessId": "h1"}`))
	require.ErrorIs(t, err, store.ErrSchemaVersionMismatch)
}
