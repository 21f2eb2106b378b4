package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/resilience"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/taskgraph"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/transport"
)

func fastWrapper(role string) *resilience.Wrapper {
	return resilience.New(role, resilience.Config{
		MaxAttempts:  2,
		InitialDelay: 0,
		MaxDelay:     0,
	}, resilience.Metrics{})
}

func streamingServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, e := range events {
			fmt.Fprint(w, e)
			flusher.Flush()
		}
	}))
}

func TestExecuteWritesArtifactsAndSummary(t *testing.T) {
	srv := streamingServer(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"Implemented the thing.\\n\\nFile: main.go\\n\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"```go\\npackage main\\n```\\n\"}}]}\n",
		"data: [DONE]\n",
	)
	defer srv.Close()

	workspace := t.TempDir()
	w := New(taskgraph.RoleDeveloper, transport.New(srv.URL), fastWrapper("developer"), Config{
		Model:         "gpt-4",
		WorkspaceRoot: workspace,
	})

	task := &taskgraph.Task{ID: "impl", Role: taskgraph.RoleDeveloper, Prompt: "implement the feature"}
	result := w.Execute(context.Background(), task, nil)

	require.Empty(t, result.ErrorKind)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "main.go", result.Artifacts[0].Path)
	assert.Contains(t, result.Summary, "Implemented the thing")
	assert.Equal(t, []string{"main.go"}, result.FilesWritten)

	data, err := os.ReadFile(filepath.Join(workspace, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
}

func TestExecuteReturnsFailureResultOnPersistentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	workspace := t.TempDir()
	w := New(taskgraph.RoleDeveloper, transport.New(srv.URL), fastWrapper("developer"), Config{
		Model:         "gpt-4",
		WorkspaceRoot: workspace,
	})

	task := &taskgraph.Task{ID: "impl", Role: taskgraph.RoleDeveloper, Prompt: "implement the feature"}
	result := w.Execute(context.Background(), task, nil)

	assert.Equal(t, "HTTP_5XX", result.ErrorKind)
	assert.NotEmpty(t, result.Message)
	assert.Nil(t, result.Artifacts)
}

func TestExecuteIncludesPredecessorSummaryAndArtifacts(t *testing.T) {
	var capturedBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		capturedBody = string(buf)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	workspace := t.TempDir()
	w := New(taskgraph.RoleTester, transport.New(srv.URL), fastWrapper("tester"), Config{
		Model:         "gpt-4",
		WorkspaceRoot: workspace,
	})

	predecessors := []taskgraph.Result{
		{Summary: "built the widget", Artifacts: []taskgraph.Artifact{{Path: "widget.go", Content: "package widget"}}},
	}
	task := &taskgraph.Task{ID: "test", Role: taskgraph.RoleTester, Prompt: "write tests"}
	w.Execute(context.Background(), task, predecessors)

	assert.Contains(t, capturedBody, "built the widget")
	assert.Contains(t, capturedBody, "widget.go")
}

func TestSummarizeTakesFirstNonEmptyParagraph(t *testing.T) {
	text := "\n\nFirst paragraph here.\n\nSecond paragraph ignored."
	assert.Equal(t, "First paragraph here.", summarize(text, 500))
}

func TestSummarizeTruncatesToMaxChars(t *testing.T) {
	text := "0123456789"
	assert.Equal(t, "01234", summarize(text, 5))
}
