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

// Package scheduler topologically executes a Task Graph, fanning out
// ready nodes up to a concurrency cap, honoring conditional routing, and
// checkpointing WorkflowState after every completed task.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/checkpoint"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/taskgraph"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/telemetry"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/workflow"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/worker"
)

// Config tunes the Scheduler's concurrency cap.
type Config struct {
	// Concurrency is P, the maximum number of tasks running at once
	// across the whole workflow.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = 5
	}
	return c
}

// Scheduler executes a Task Graph against a registry of per-role Workers.
type Scheduler struct {
	cfg        Config
	workers    map[taskgraph.Role]*worker.Worker
	checkpoint *checkpoint.Store
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// New returns a Scheduler. checkpointStore and metrics may be nil (no
// durability / no measurement, respectively); logger defaults to
// slog.Default().
func New(cfg Config, workers map[taskgraph.Role]*worker.Worker, checkpointStore *checkpoint.Store, metrics *telemetry.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg.withDefaults(), workers: workers, checkpoint: checkpointStore, metrics: metrics, logger: logger}
}

// Replay reconstructs graph state from a previously persisted
// WorkflowState: every step in state.CompletedSteps is marked COMPLETED
// using the Result recovered from state.PerRoleOutputs, so Run resumes
// from the first task not yet completed rather than re-running it.
func Replay(graph *taskgraph.Graph, state *workflow.State) error {
	results := make(map[string]taskgraph.Result, len(state.CompletedSteps))
	for _, outputs := range state.PerRoleOutputs {
		for _, out := range outputs {
			results[out.TaskID] = out.Result
		}
	}
	for _, stepID := range state.CompletedSteps {
		result, ok := results[stepID]
		if !ok {
			return fmt.Errorf("scheduler: checkpoint references step %q with no recorded result", stepID)
		}
		if err := graph.MarkCompleted(stepID, &result); err != nil {
			return err
		}
	}
	return nil
}

// LoadCheckpoint reads the latest durable WorkflowState snapshot for
// workflowID, if any.
func LoadCheckpoint(store *checkpoint.Store, workflowID string) (*workflow.State, bool, error) {
	record, found, err := store.Latest(workflowID)
	if err != nil || !found {
		return nil, found, err
	}
	var state workflow.State
	if err := json.Unmarshal(record.StateSnapshot, &state); err != nil {
		return nil, false, fmt.Errorf("scheduler: decoding checkpoint snapshot: %w", err)
	}
	return &state, true, nil
}

// Run drives graph to completion, recording every task's outcome into
// state and, if a Store is configured, checkpointing state after each
// task. It returns when every task has reached a terminal status, or
// when ctx is cancelled (in which case all non-terminal tasks are marked
// CANCELLED and state.Status becomes CANCELLED).
func (s *Scheduler) Run(ctx context.Context, graph *taskgraph.Graph, state *workflow.State) error {
	var mu sync.Mutex
	sem := make(chan struct{}, s.cfg.Concurrency)
	done := make(chan struct{}, len(graph.Tasks()))
	var eg errgroup.Group
	var cancelled bool

	if graph.AllTerminal() {
		finishWorkflow(graph, state)
		return nil
	}

	dispatch := func() {
		mu.Lock()
		var toRun []*taskgraph.Task
		for _, t := range graph.ReadyTasks() {
			select {
			case sem <- struct{}{}:
				_ = graph.MarkStarted(t.ID)
				toRun = append(toRun, t)
			default:
			}
		}
		mu.Unlock()

		for _, t := range toRun {
			t := t
			eg.Go(func() error {
				defer func() { <-sem }()
				s.runTask(ctx, graph, state, &mu, t)
				done <- struct{}{}
				return nil
			})
		}
	}

	dispatch()

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if !cancelled {
				cancelled = true
				for _, t := range graph.Tasks() {
					switch t.Status {
					case taskgraph.Pending, taskgraph.Ready:
						_ = graph.MarkCancelled(t.ID)
					}
				}
			}
			mu.Unlock()
			_ = eg.Wait()
			state.Finish(workflow.Cancelled)
			return ctx.Err()

		case <-done:
			mu.Lock()
			allTerminal := graph.AllTerminal()
			mu.Unlock()
			if allTerminal {
				_ = eg.Wait()
				finishWorkflow(graph, state)
				return nil
			}
			dispatch()
		}
	}
}

func finishWorkflow(graph *taskgraph.Graph, state *workflow.State) {
	for _, t := range graph.Tasks() {
		if t.Status == taskgraph.Failed {
			state.Finish(workflow.Failed)
			return
		}
	}
	state.Finish(workflow.Completed)
}

// runTask executes one task's worker call and, under mu, applies its
// result to both graph and state, evaluates any registered conditional
// routing, and appends a checkpoint — all before returning, so a
// checkpoint append for T happens-before any successor of T is
// dispatched.
func (s *Scheduler) runTask(ctx context.Context, graph *taskgraph.Graph, state *workflow.State, mu *sync.Mutex, t *taskgraph.Task) {
	result := s.execute(ctx, graph, mu, t)

	mu.Lock()
	defer mu.Unlock()

	if result.ErrorKind == cancelledMarker {
		_ = graph.MarkCancelled(t.ID)
		return
	}

	if result.ErrorKind != "" {
		_ = graph.MarkFailed(t.ID, &result)
		state.RecordError(t.ID, result.ErrorKind, result.Message)
		cascadeSkip(graph, t.ID)
	} else {
		_ = graph.MarkCompleted(t.ID, &result)
		state.RecordStep(t.ID, t.Role, result)
	}

	if s.metrics != nil {
		outcome := "success"
		if result.ErrorKind != "" {
			outcome = "failure"
		}
		s.metrics.RecordTask(string(t.Role), outcome, result.Metrics.TotalLatency)
		s.metrics.RecordArtifacts(string(t.Role), len(result.Artifacts))
	}

	if cond, ok := graph.Conditional(t.ID); ok && cond.Predicate(&result) {
		for _, skipID := range cond.SkipIDs {
			if skipTask, ok := graph.Task(skipID); ok && skipTask.Status == taskgraph.Pending {
				_ = graph.MarkSkipped(skipID)
			}
		}
	}

	if s.checkpoint != nil {
		snapshot, err := json.Marshal(state)
		if err != nil {
			s.logger.Error("scheduler: marshaling checkpoint snapshot", "task_id", t.ID, "error", err)
			return
		}
		if err := s.checkpoint.Append(checkpoint.Record{
			WorkflowID:    state.WorkflowID,
			StepName:      t.ID,
			CreatedAt:     time.Now(),
			StateSnapshot: snapshot,
		}); err != nil {
			s.logger.Error("scheduler: appending checkpoint", "task_id", t.ID, "error", err)
		}
	}
}

// cascadeSkip marks every PENDING task reachable from a failed task as
// SKIPPED, so a downstream failure can never leave the graph stuck with
// tasks that will never satisfy their predecessors. It does not cross
// into a task whose OptionalSkip flag is set: that task has its own
// route to readiness (typically a registered Conditional) and is left
// for that mechanism to resolve.
func cascadeSkip(graph *taskgraph.Graph, failedID string) {
	queue := graph.Successors(failedID)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		t, ok := graph.Task(id)
		if !ok || t.Status != taskgraph.Pending {
			continue
		}
		if t.OptionalSkip {
			continue
		}
		_ = graph.MarkSkipped(id)
		queue = append(queue, graph.Successors(id)...)
	}
}

// cancelledMarker is the sentinel ErrorKind execute uses to signal "the
// context was cancelled mid-task", distinguishing a cancellation from an
// ordinary worker failure so runTask marks the task CANCELLED rather
// than FAILED.
const cancelledMarker = "CANCELLED"

// execute recovers from a panicking Worker (never trusting third-party
// or role-prompt-driven code not to panic) and converts it into a
// FAILED result, matching the pack's panic-recovery convention.
func (s *Scheduler) execute(ctx context.Context, graph *taskgraph.Graph, mu *sync.Mutex, t *taskgraph.Task) (result taskgraph.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: panic in task execution", "task_id", t.ID, "panic", r)
			result = taskgraph.Result{ErrorKind: "FATAL", Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	w, ok := s.workers[t.Role]
	if !ok {
		return taskgraph.Result{ErrorKind: "VALIDATION", Message: fmt.Sprintf("no worker registered for role %q", t.Role)}
	}

	var predecessorResults []taskgraph.Result
	mu.Lock()
	for _, depID := range t.DependsOn {
		if dep, ok := graph.Task(depID); ok && dep.Result != nil {
			predecessorResults = append(predecessorResults, *dep.Result)
		}
	}
	mu.Unlock()

	result = w.Execute(ctx, t, predecessorResults)
	if ctx.Err() != nil && result.ErrorKind != "" {
		result.ErrorKind = cancelledMarker
	}
	return result
}
