package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/checkpoint"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/config"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/templates"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/workflow"
)

// fixedSSE returns a chat-completion stream that always emits the same
// fenced-file content, regardless of the request body.
func fixedSSE(path, content string) string {
	return fmt.Sprintf(
		"data: {\"choices\":[{\"delta\":{\"content\":\"File: %s\\n```go\\n%s\\n```\\n\"}}]}\n"+
			"data: [DONE]\n",
		path, content,
	)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fixedSSE("out.go", "package main"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, apiBase string) *config.Config {
	t.Helper()
	workspace := t.TempDir()
	cfg := &config.Config{
		APIBase:             apiBase,
		Model:               "gpt-4",
		MaxConcurrentAgents: 5,
		Workspace:           workspace,
		OutputDir:           filepath.Join(workspace, "output"),
		CheckpointPath:      filepath.Join(workspace, "checkpoints.db"),
	}
	cfg.SetDefaults()
	cfg.Retry.MaxAttempts = 1
	return cfg
}

func TestRunExecutesFreshWorkflowToCompletion(t *testing.T) {
	srv := newTestServer(t)
	cfg := testConfig(t, srv.URL)

	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	req := Request{WorkflowType: templates.BugFix, Requirement: "fix the crash"}
	state, err := Run(context.Background(), cfg, req, store, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.Completed, state.Status)
	assert.Len(t, state.CompletedSteps, 4)
}

func TestRunDisabledRoleLeavesItsTaskUnexecutable(t *testing.T) {
	srv := newTestServer(t)
	cfg := testConfig(t, srv.URL)
	disabled := false
	cfg.Roles = map[string]config.RoleConfig{"writer": {Enabled: &disabled}}

	req := Request{WorkflowType: templates.Documentation, Requirement: "document the API"}
	state, err := Run(context.Background(), cfg, req, nil, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, workflow.Failed, state.Status)
	assert.NotEmpty(t, state.Errors)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	srv := newTestServer(t)
	cfg := testConfig(t, srv.URL)

	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	req := Request{WorkflowType: templates.BugFix, Requirement: "fix the crash"}
	first, err := Run(context.Background(), cfg, req, store, nil, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.Completed, first.Status)

	resumed, err := Run(context.Background(), cfg, Request{ResumeID: first.WorkflowID}, store, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.Completed, resumed.Status)
	assert.Equal(t, first.WorkflowID, resumed.WorkflowID)
}

func TestRunResumeWithoutCheckpointStoreFails(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	_, err := Run(context.Background(), cfg, Request{ResumeID: "missing"}, nil, nil, nil)
	assert.Error(t, err)
}
