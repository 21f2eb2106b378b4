// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker executes a single Task: it composes a role-specific
// prompt (budgeting curated predecessor output against a token ceiling),
// invokes the LLM under the resilience wrapper, extracts artifacts from
// the raw completion, and writes them into the workspace.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/artifact"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/errs"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/promptbudget"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/resilience"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/taskgraph"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/transport"
)

// SystemPrompts holds the default role-specific system prompt text, one
// entry per taskgraph.Role.
var SystemPrompts = map[taskgraph.Role]string{
	taskgraph.RoleAnalyst: "You are a requirements analyst. Read the request and prior " +
		"artifacts, then produce a clear, numbered breakdown of what must be built.",
	taskgraph.RoleDeveloper: "You are a software engineer. Implement the requested change. " +
		"Emit every file you create or modify as a fenced code block, each preceded by " +
		"a line of the form \"File: <path>\".",
	taskgraph.RoleTester: "You are a test engineer. Write tests that exercise the " +
		"implementation you were given. Emit every test file as a fenced code block " +
		"preceded by \"File: <path>\".",
	taskgraph.RoleOperator: "You are an infrastructure engineer. Produce the deployment, " +
		"CI, or operational configuration the request calls for, as fenced code blocks " +
		"each preceded by \"File: <path>\".",
	taskgraph.RoleWriter: "You are a technical writer. Produce documentation in Markdown, " +
		"as a fenced code block preceded by \"File: <path>\".",
}

// Config tunes one Worker's resource limits.
type Config struct {
	Model string
	// PromptTokenBudget bounds the composed message list before it is sent;
	// predecessor messages are dropped oldest-first, then the task prompt is
	// truncated if it still does not fit.
	PromptTokenBudget int
	// WorkspaceRoot is the directory artifact paths are resolved against.
	WorkspaceRoot string
	// SummaryMaxChars bounds the length of the first-paragraph summary.
	SummaryMaxChars int
}

func (c Config) withDefaults() Config {
	if c.PromptTokenBudget == 0 {
		c.PromptTokenBudget = 6000
	}
	if c.SummaryMaxChars == 0 {
		c.SummaryMaxChars = 500
	}
	return c
}

// Worker executes Tasks of a single Role.
type Worker struct {
	role         taskgraph.Role
	systemPrompt string
	cfg          Config
	transport    *transport.Client
	wrapper      *resilience.Wrapper
	counter      *promptbudget.Counter
}

// New returns a Worker for role, using transportClient to reach the LLM
// endpoint under wrapper's retry/breaker policy.
func New(role taskgraph.Role, transportClient *transport.Client, wrapper *resilience.Wrapper, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		role:         role,
		systemPrompt: SystemPrompts[role],
		cfg:          cfg,
		transport:    transportClient,
		wrapper:      wrapper,
		counter:      promptbudget.NewCounter(cfg.Model),
	}
}

// WithSystemPrompt overrides the role's default system prompt, for the
// per-role "system_prompt" configuration override.
func (w *Worker) WithSystemPrompt(prompt string) *Worker {
	if prompt != "" {
		w.systemPrompt = prompt
	}
	return w
}

// Execute runs task to completion. It never returns an error: every
// failure mode is represented in the returned taskgraph.Result so the
// Scheduler can record it and decide whether to continue or halt.
func (w *Worker) Execute(ctx context.Context, task *taskgraph.Task, predecessorResults []taskgraph.Result) taskgraph.Result {
	messages := w.composeMessages(task, predecessorResults)

	call := func(ctx context.Context) (string, error) {
		return w.invoke(ctx, messages)
	}
	shrink := func() resilience.Call {
		messages = w.shrinkMessages(messages)
		return func(ctx context.Context) (string, error) {
			return w.invoke(ctx, messages)
		}
	}

	callResult, err := w.wrapper.Do(ctx, call, shrink)
	if err != nil {
		kind, _ := errs.KindOf(err)
		return taskgraph.Result{
			ErrorKind: string(kind),
			Message:   err.Error(),
			Attempts:  callResult.Attempts,
			Metrics: taskgraph.Metrics{
				Attempts:      callResult.Attempts,
				ContextShrink: callResult.ContextShrink,
				TotalLatency:  callResult.TotalLatency,
			},
		}
	}

	extraction := artifact.Extract(callResult.Text)
	written, err := w.writeArtifacts(extraction.Artifacts)
	if err != nil {
		return taskgraph.Result{
			ErrorKind: string(errs.IO),
			Message:   err.Error(),
			Attempts:  callResult.Attempts,
		}
	}

	artifacts := make([]taskgraph.Artifact, 0, len(extraction.Artifacts))
	for _, a := range extraction.Artifacts {
		artifacts = append(artifacts, taskgraph.Artifact{Path: a.Path, Content: a.Content})
	}

	return taskgraph.Result{
		Summary:      summarize(callResult.Text, w.cfg.SummaryMaxChars),
		Artifacts:    artifacts,
		FilesWritten: written,
		RawText:      callResult.Text,
		Metrics: taskgraph.Metrics{
			Attempts:      callResult.Attempts,
			ContextShrink: callResult.ContextShrink,
			TotalLatency:  callResult.TotalLatency,
		},
	}
}

// composeMessages builds the system+predecessor+task message list, fit to
// the worker's token budget. Each predecessor's summary message precedes
// its artifact messages, and the task prompt comes last. Fit drops
// non-system messages oldest-first, so an earlier predecessor's summary is
// dropped before its own artifacts, and the task prompt is the message
// kept (and truncated if it alone does not fit).
func (w *Worker) composeMessages(task *taskgraph.Task, predecessorResults []taskgraph.Result) []promptbudget.Message {
	messages := []promptbudget.Message{
		{Role: "system", Content: w.systemPrompt},
	}
	for _, pred := range predecessorResults {
		if pred.Summary != "" {
			messages = append(messages, promptbudget.Message{Role: "user", Content: "Prior result summary: " + pred.Summary})
		}
		for _, a := range pred.Artifacts {
			messages = append(messages, promptbudget.Message{
				Role:    "user",
				Content: "Prior artifact " + a.Path + ":\n" + a.Content,
			})
		}
	}
	messages = append(messages, promptbudget.Message{Role: "user", Content: task.Prompt})

	return w.counter.Fit(messages, w.cfg.PromptTokenBudget)
}

// shrinkMessages is the single-shot CONTEXT_OVERFLOW recovery path: it
// halves the effective budget and refits.
func (w *Worker) shrinkMessages(messages []promptbudget.Message) []promptbudget.Message {
	return w.counter.Fit(messages, w.cfg.PromptTokenBudget/2)
}

func (w *Worker) invoke(ctx context.Context, messages []promptbudget.Message) (string, error) {
	req := transport.Request{Model: w.cfg.Model}
	for _, m := range messages {
		req.Messages = append(req.Messages, transport.Message{Role: m.Role, Content: m.Content})
	}

	var text strings.Builder
	chunks, err := w.transport.InvokeStream(ctx, req, nil)
	if err != nil {
		return "", err
	}
	for chunk := range chunks {
		if chunk.Done {
			break
		}
		text.WriteString(chunk.Text)
	}
	return text.String(), nil
}

// writeArtifacts writes each artifact under cfg.WorkspaceRoot, creating
// parent directories as needed, and returns the list of paths written in
// extraction order.
func (w *Worker) writeArtifacts(artifacts []artifact.Artifact) ([]string, error) {
	written := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		full := filepath.Join(w.cfg.WorkspaceRoot, a.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(full, []byte(a.Content), 0o644); err != nil {
			return written, err
		}
		written = append(written, a.Path)
	}
	return written, nil
}

// summarize returns the first non-empty paragraph of text, truncated to
// at most maxChars runes.
func summarize(text string, maxChars int) string {
	for _, para := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			continue
		}
		runes := []rune(trimmed)
		if len(runes) > maxChars {
			return string(runes[:maxChars])
		}
		return trimmed
	}
	return ""
}
