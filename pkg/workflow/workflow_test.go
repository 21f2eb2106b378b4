package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/taskgraph"
)

func TestNewAssignsTimeOrderedID(t *testing.T) {
	s1, err := New("feature-development", "do a thing", nil)
	require.NoError(t, err)
	s2, err := New("feature-development", "do another thing", nil)
	require.NoError(t, err)
	assert.NotEqual(t, s1.WorkflowID, s2.WorkflowID)
	assert.Less(t, s1.WorkflowID, s2.WorkflowID)
	assert.Equal(t, Running, s1.Status)
}

func TestRecordStepDeduplicatesFiles(t *testing.T) {
	s, err := New("feature-development", "req", nil)
	require.NoError(t, err)

	s.RecordStep("implement", taskgraph.RoleDeveloper, taskgraph.Result{FilesWritten: []string{"a.go", "b.go"}})
	s.RecordStep("test", taskgraph.RoleTester, taskgraph.Result{FilesWritten: []string{"b.go", "c.go"}})

	assert.Equal(t, []string{"implement", "test"}, s.CompletedSteps)
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, s.FilesCreated)
	assert.Len(t, s.PerRoleOutputs[taskgraph.RoleDeveloper], 1)
	assert.Len(t, s.PerRoleOutputs[taskgraph.RoleTester], 1)
}

func TestRecordErrorFatalForcesFailed(t *testing.T) {
	s, err := New("bug-fix", "req", nil)
	require.NoError(t, err)
	s.RecordError("fix", "FATAL", "workspace not writable")
	assert.Equal(t, Failed, s.Status)
}
