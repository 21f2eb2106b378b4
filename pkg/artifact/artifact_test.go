package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractExplicitPathMarker(t *testing.T) {
	s := "File: src/a.txt\n\n```\nhello\n```\n"
	result := Extract(s)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "src/a.txt", result.Artifacts[0].Path)
	assert.Equal(t, "hello\n", result.Artifacts[0].Content)
}

func TestExtractPathOnTagLine(t *testing.T) {
	s := "```go cmd/main.go\npackage main\n```\n"
	result := Extract(s)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "cmd/main.go", result.Artifacts[0].Path)
	assert.Equal(t, "package main\n", result.Artifacts[0].Content)
}

func TestExtractDuplicatePathFirstWins(t *testing.T) {
	s := "File: a.txt\n\n```\nfirst\n```\n\nFile: a.txt\n\n```\nsecond\n```\n"
	result := Extract(s)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "first\n", result.Artifacts[0].Content)
	assert.Equal(t, 1, result.Duplicates)
}

func TestExtractUnterminatedFence(t *testing.T) {
	s := "File: a.txt\n\n```\nno closing fence here\n"
	result := Extract(s)
	assert.Empty(t, result.Artifacts)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "PARSE", result.Warnings[0].Kind)
}

func TestExtractPathEscapeDropped(t *testing.T) {
	s := "File: ../etc/passwd\n\n```\nbad\n```\n"
	result := Extract(s)
	assert.Empty(t, result.Artifacts)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "POLICY", result.Warnings[0].Kind)
}

func TestExtractFirstLineCommentMarksPath(t *testing.T) {
	s := "```\n// path/to/file.go\npackage foo\n```\n"
	result := Extract(s)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "path/to/file.go", result.Artifacts[0].Path)
}

func TestExtractSaveAsDirective(t *testing.T) {
	s := "Please save the following file as config/app.yaml\n\n```\nkey: value\n```\n"
	result := Extract(s)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "config/app.yaml", result.Artifacts[0].Path)
}

func TestExtractNoArtifactsIsNotAnError(t *testing.T) {
	result := Extract("just some prose, no fences at all")
	assert.Empty(t, result.Artifacts)
	assert.Empty(t, result.Warnings)
}

func TestExtractOrderedMultipleArtifacts(t *testing.T) {
	s := "File: one.txt\n\n```\n1\n```\n\nFile: two.txt\n\n```\n2\n```\n"
	result := Extract(s)
	require.Len(t, result.Artifacts, 2)
	assert.Equal(t, "one.txt", result.Artifacts[0].Path)
	assert.Equal(t, "two.txt", result.Artifacts[1].Path)
}
