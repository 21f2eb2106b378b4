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

// Command orchestrator runs one multi-agent workflow to completion.
//
// Usage:
//
//	orchestrator --config config.yaml --workflow feature-development --requirement "add a health check endpoint"
//	orchestrator --config config.yaml --resume 018f2d3a-...
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/checkpoint"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/config"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/orchestrator"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/telemetry"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/templates"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Config      string            `short:"c" help:"Path to YAML configuration file." type:"path" required:""`
	Workflow    string            `short:"w" help:"Workflow template to run." default:"feature-development" enum:"feature-development,bug-fix,infrastructure,documentation,analysis"`
	Requirement string            `short:"r" help:"Natural-language requirement text for the workflow."`
	Context     map[string]string `help:"Additional key=value context passed to the workflow template." mapsep:","`
	Resume      string            `help:"Resume a previously checkpointed workflow by its workflow_id, instead of starting a new one."`
	LogLevel    string            `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("orchestrator"),
		kong.Description("Runs DAG-scheduled multi-agent LLM workflows."),
		kong.UsageOnError(),
	)

	logger := newLogger(cli.LogLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		kctx.FatalIfErrorf(fmt.Errorf("loading configuration: %w", err))
	}
	if cfg.StructuredLogging {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelFor(cli.LogLevel)}))
		slog.SetDefault(logger)
	}

	if cli.Resume == "" && cli.Requirement == "" {
		kctx.FatalIfErrorf(fmt.Errorf("one of --requirement or --resume must be given"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("orchestrator: received shutdown signal, cancelling workflow")
		cancel()
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.CheckpointPath), 0o755); err != nil {
		kctx.FatalIfErrorf(fmt.Errorf("creating checkpoint directory: %w", err))
	}
	store, err := checkpoint.Open(cfg.CheckpointPath)
	if err != nil {
		kctx.FatalIfErrorf(fmt.Errorf("opening checkpoint store: %w", err))
	}
	defer store.Close()

	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.New()
	}

	req := orchestrator.Request{
		WorkflowType: templates.Name(cli.Workflow),
		Requirement:  cli.Requirement,
		Context:      cli.Context,
		ResumeID:     cli.Resume,
	}

	state, runErr := orchestrator.Run(ctx, cfg, req, store, metrics, logger)
	if state == nil {
		kctx.FatalIfErrorf(runErr)
	}

	if writeErr := writeState(cfg.OutputDir, state); writeErr != nil {
		logger.Error("orchestrator: writing workflow state", "error", writeErr)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
	}
	os.Exit(exitCode(state))
}

// exitCode maps a workflow's terminal status to a process exit status:
// 0 only for a fully completed workflow.
func exitCode(state *workflow.State) int {
	if state.Status == workflow.Completed {
		return 0
	}
	return 1
}

// writeState persists the final WorkflowState as
// "<output_dir>/<workflow_id>.json".
func writeState(outputDir string, state *workflow.State) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling workflow state: %w", err)
	}
	path := filepath.Join(outputDir, state.WorkflowID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelFor(level)}))
}

func levelFor(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
