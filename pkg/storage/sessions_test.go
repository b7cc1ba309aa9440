package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/convoy/pkg/coordinator"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "convoy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestImplementsSessionStore(t *testing.T) {
	var _ coordinator.SessionStore = (*Store)(nil)
}

func TestSchemaVersion(t *testing.T) {
	store := testStore(t)
	version, err := store.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestSessionLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "s1", "ship the release", map[string]any{"workers": 4}))

	session, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "ship the release", session.Goal)
	assert.Empty(t, session.Outcome)
	assert.Nil(t, session.FinishedAt)
	assert.EqualValues(t, 4, session.Info["workers"])

	require.NoError(t, store.FinishSession(ctx, "s1", "completed"))
	session, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", session.Outcome)
	require.NotNil(t, session.FinishedAt)
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "s1", "first", nil))
	require.NoError(t, store.CreateSession(ctx, "s1", "second", nil))

	session, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "second", session.Goal)
}

func TestGetSessionMissing(t *testing.T) {
	store := testStore(t)
	_, err := store.GetSession(context.Background(), "nope")
	assert.Error(t, err)
}

func TestAgentLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "s1", "goal", nil))
	require.NoError(t, store.CreateAgent(ctx, "s1:review", "s1", "review", map[string]any{"role": "code-review"}))
	require.NoError(t, store.CreateAgent(ctx, "s1:deploy", "s1", "deploy", nil))

	state := "WORKING"
	task := "apply migrations"
	progress := 50
	require.NoError(t, store.UpdateAgent(ctx, "s1:review", coordinator.AgentPatch{
		State:       &state,
		CurrentTask: &task,
		Progress:    &progress,
	}))

	agents, err := store.GetSessionAgents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, agents, 2)

	byName := map[string]coordinator.AgentRecord{}
	for _, a := range agents {
		byName[a.Name] = a
	}
	assert.Equal(t, "WORKING", byName["review"].State)
	assert.Equal(t, "apply migrations", byName["review"].CurrentTask)
	assert.Equal(t, 50, byName["review"].Progress)
	assert.Equal(t, "IDLE", byName["deploy"].State)
}

func TestUpdateAgentPartialPatch(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "s1", "goal", nil))
	require.NoError(t, store.CreateAgent(ctx, "s1:a", "s1", "a", nil))

	progress := 30
	require.NoError(t, store.UpdateAgent(ctx, "s1:a", coordinator.AgentPatch{Progress: &progress}))

	agents, err := store.GetSessionAgents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	// Untouched fields keep their defaults.
	assert.Equal(t, "IDLE", agents[0].State)
	assert.Equal(t, 30, agents[0].Progress)
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "s1", "one", nil))
	require.NoError(t, store.CreateSession(ctx, "s2", "two", nil))

	sessions, err := store.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	limited, err := store.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestInMemoryDSN(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateSession(context.Background(), "s1", "goal", nil))
}
