package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndLatest(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Append(Record{WorkflowID: "wf-1", StepName: "analyze", CreatedAt: time.Now()}))
	require.NoError(t, store.Append(Record{WorkflowID: "wf-1", StepName: "design", CreatedAt: time.Now()}))

	latest, found, err := store.Latest("wf-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "design", latest.StepName)
}

func TestLatestMissingWorkflow(t *testing.T) {
	store := openTestStore(t)
	_, found, err := store.Latest("does-not-exist")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHistoryOrdered(t *testing.T) {
	store := openTestStore(t)
	steps := []string{"analyze", "design", "implement", "test", "document"}
	for _, step := range steps {
		require.NoError(t, store.Append(Record{WorkflowID: "wf-2", StepName: step, CreatedAt: time.Now()}))
	}

	history, err := store.History("wf-2")
	require.NoError(t, err)
	require.Len(t, history, len(steps))
	for i, step := range steps {
		assert.Equal(t, step, history[i].StepName)
	}
}

func TestWorkflowsAreIndependentBuckets(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Append(Record{WorkflowID: "wf-a", StepName: "a1"}))
	require.NoError(t, store.Append(Record{WorkflowID: "wf-b", StepName: "b1"}))

	latestA, _, err := store.Latest("wf-a")
	require.NoError(t, err)
	assert.Equal(t, "a1", latestA.StepName)

	latestB, _, err := store.Latest("wf-b")
	require.NoError(t, err)
	assert.Equal(t, "b1", latestB.StepName)
}
