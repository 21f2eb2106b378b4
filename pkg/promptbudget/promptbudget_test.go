package promptbudget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountMessagesIncludesOverhead(t *testing.T) {
	c := NewCounter("gpt-4")
	n := c.CountMessages([]Message{{Role: "user", Content: "hello"}})
	assert.Greater(t, n, c.Count("hello"))
}

func TestFitReturnsUnchangedWhenWithinBudget(t *testing.T) {
	c := NewCounter("gpt-4")
	messages := []Message{{Role: "system", Content: "you are an assistant"}, {Role: "user", Content: "hi"}}
	fitted := c.Fit(messages, 1000)
	assert.Equal(t, messages, fitted)
}

func TestFitDropsOldestNonSystemFirst(t *testing.T) {
	c := NewCounter("gpt-4")
	messages := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "oldest message padding padding padding"},
		{Role: "assistant", Content: "newest message"},
	}
	budget := c.CountMessages(messages) - 1
	fitted := c.Fit(messages, budget)
	require.Len(t, fitted, 2)
	assert.Equal(t, "system", fitted[0].Role)
	assert.Equal(t, "newest message", fitted[1].Content)
}

func TestFitTruncatesLastMessageWhenNothingElseToDrop(t *testing.T) {
	c := NewCounter("gpt-4")
	long := strings.Repeat("x", 500)
	messages := []Message{{Role: "user", Content: long}}
	fitted := c.Fit(messages, 5)
	require.Len(t, fitted, 1)
	assert.Less(t, len(fitted[0].Content), len(long))
}

func TestFitKeepsSystemMessagesAlways(t *testing.T) {
	c := NewCounter("gpt-4")
	messages := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: strings.Repeat("y", 1000)},
	}
	fitted := c.Fit(messages, 1)
	assert.Equal(t, "system", fitted[0].Role)
}
