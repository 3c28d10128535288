package mongostore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/kestrel-systems/harness/internal/store"
)

var errNoDocuments = mongodriver.ErrNoDocuments

type fakeClient struct {
	docs map[string]bson.M
	up   error
	find error
}

func newFakeClient() *fakeClient { return &fakeClient{docs: make(map[string]bson.M)} }

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) UpsertState(_ context.Context, id string, doc bson.M) error {
	if f.up != nil {
		return f.up
	}
	f.docs[id] = doc
	return nil
}

func (f *fakeClient) FindState(_ context.Context, id string) (bson.M, error) {
	if f.find != nil {
		return nil, f.find
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, errNoDocuments
	}
	return doc, nil
}

func (f *fakeClient) DeleteState(_ context.Context, id string) error {
	delete(f.docs, id)
	return nil
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	client := newFakeClient()
	s, err := NewStore(client)
	require.NoError(t, err)

	want := store.State{HarnessID: "h1", AgentName: "MARS", Status: store.StatusRunning, CheckpointCount: 3}
	require.NoError(t, s.Persist(context.Background(), "h1", want))

	got, err := s.Restore(context.Background(), "h1")
	require.NoError(t, err)
	require.Equal(t, want.HarnessID, got.HarnessID)
	require.Equal(t, want.AgentName, got.AgentName)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.CheckpointCount, got.CheckpointCount)
}

func TestRestoreMissingReturnsNotFound(t *testing.T) {
	s, err := NewStore(newFakeClient())
	require.NoError(t, err)
	_, err = s.Restore(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
