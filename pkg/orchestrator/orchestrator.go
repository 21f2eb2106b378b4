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

// Package orchestrator wires configuration, per-role workers, the task
// graph, and the scheduler together into a single programmatic entry
// point, so cmd/orchestrator stays a thin flag-parsing shell.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/checkpoint"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/clientpool"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/config"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/resilience"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/scheduler"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/taskgraph"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/telemetry"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/templates"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/transport"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/worker"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/workflow"
)

// roles lists every role a Worker may be built for, in the order
// SystemPrompts/RoleConfig are expected to name them.
var roles = []taskgraph.Role{
	taskgraph.RoleAnalyst,
	taskgraph.RoleDeveloper,
	taskgraph.RoleTester,
	taskgraph.RoleOperator,
	taskgraph.RoleWriter,
}

// Request describes one workflow run: either a fresh one (ResumeID
// empty) or a resume of a previously checkpointed workflow.
type Request struct {
	WorkflowType templates.Name
	Requirement  string
	Context      map[string]string
	ResumeID     string
}

// Run builds the worker pool, the task graph, and the scheduler from cfg
// and drives the requested workflow to completion (or cancellation).
// store and metrics may be nil (no checkpointing / no measurement).
func Run(ctx context.Context, cfg *config.Config, req Request, store *checkpoint.Store, metrics *telemetry.Metrics, logger *slog.Logger) (*workflow.State, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool := clientpool.New(clientpool.Config{
		MaxAge:           time.Duration(cfg.Pool.MaxAge) * time.Second,
		FailureThreshold: cfg.Pool.FailureThreshold,
		NewClient: func(endpoint string) *transport.Client {
			opts := []transport.Option{transport.WithTimeout(time.Duration(cfg.LLMTimeout) * time.Second)}
			if cfg.APIKey != "" {
				opts = append(opts, transport.WithAPIKey(cfg.APIKey))
			}
			return transport.New(endpoint, opts...)
		},
	})

	workers := buildWorkers(cfg, pool, metrics)

	var graph *taskgraph.Graph
	var state *workflow.State
	var err error

	if req.ResumeID != "" {
		state, err = resumeState(store, req.ResumeID)
		if err != nil {
			return nil, err
		}
		graph, err = templates.Build(templates.Name(state.WorkflowType), state.Requirement, state.Context)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: rebuilding graph for resumed workflow: %w", err)
		}
		if err := scheduler.Replay(graph, state); err != nil {
			return nil, fmt.Errorf("orchestrator: replaying checkpoint: %w", err)
		}
	} else {
		graph, err = templates.Build(req.WorkflowType, req.Requirement, req.Context)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: building workflow graph: %w", err)
		}
		state, err = workflow.New(string(req.WorkflowType), req.Requirement, req.Context)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: allocating workflow state: %w", err)
		}
	}

	sched := scheduler.New(scheduler.Config{Concurrency: cfg.MaxConcurrentAgents}, workers, store, metrics, logger)

	logger.Info("orchestrator: starting workflow", "workflow_id", state.WorkflowID, "workflow_type", state.WorkflowType)
	runErr := sched.Run(ctx, graph, state)
	if runErr != nil && ctx.Err() == nil {
		return state, fmt.Errorf("orchestrator: running workflow: %w", runErr)
	}
	return state, nil
}

func resumeState(store *checkpoint.Store, workflowID string) (*workflow.State, error) {
	if store == nil {
		return nil, fmt.Errorf("orchestrator: resume requested for %q but no checkpoint store is configured", workflowID)
	}
	state, found, err := scheduler.LoadCheckpoint(store, workflowID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: loading checkpoint for %q: %w", workflowID, err)
	}
	if !found {
		return nil, fmt.Errorf("orchestrator: no checkpoint found for workflow %q", workflowID)
	}
	return state, nil
}

// buildWorkers constructs one Worker per enabled role, sharing a single
// pooled transport.Client per API endpoint across roles.
func buildWorkers(cfg *config.Config, pool *clientpool.Pool, metrics *telemetry.Metrics) map[taskgraph.Role]*worker.Worker {
	workers := make(map[taskgraph.Role]*worker.Worker, len(roles))
	for _, role := range roles {
		name := string(role)
		if !cfg.RoleEnabled(name) {
			continue
		}

		client := pool.Borrow(cfg.APIBase)
		wrapper := resilience.New(name, resilience.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialDelay:   time.Duration(cfg.Retry.InitialDelay) * time.Second,
			MaxDelay:       time.Duration(cfg.Retry.MaxDelay) * time.Second,
			Jitter:         cfg.Retry.Jitter,
			FailureThresh:  uint32(cfg.Breaker.FailureThreshold),
			RecoveryPeriod: time.Duration(cfg.Breaker.RecoveryTimeout) * time.Second,
		}, resilienceMetrics(name, metrics))

		w := worker.New(role, client, wrapper, worker.Config{
			Model:         cfg.Model,
			WorkspaceRoot: cfg.Workspace,
		})
		if rc, ok := cfg.Roles[name]; ok {
			w = w.WithSystemPrompt(rc.SystemPrompt)
		}
		workers[role] = w
	}
	return workers
}

// resilienceMetrics adapts telemetry.Metrics's recording methods into the
// synchronous callbacks resilience.Wrapper invokes per attempt.
func resilienceMetrics(role string, metrics *telemetry.Metrics) resilience.Metrics {
	if metrics == nil {
		return resilience.Metrics{}
	}
	return resilience.Metrics{
		OnAttempt: func(role string, attempt int) {
			if attempt > 1 {
				metrics.RecordRetry(role)
			}
		},
		OnBreakerChange: func(role string, from, to string) {
			metrics.RecordBreakerTransition(role, to)
		},
	}
}
