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

// Package taskgraph is the in-memory data model for a workflow's
// dependency graph: nodes are Tasks, edges are dependencies, and each
// Task carries its own state machine.
package taskgraph

import (
	"fmt"
	"time"
)

// Role is the category of worker that executes a Task.
type Role string

const (
	RoleAnalyst  Role = "analyst"
	RoleDeveloper Role = "developer"
	RoleTester   Role = "tester"
	RoleOperator Role = "operator"
	RoleWriter   Role = "writer"
)

// Operation is a role-specific action.
type Operation string

const (
	OpAnalyze   Operation = "analyze"
	OpDesign    Operation = "design"
	OpImplement Operation = "implement"
	OpTest      Operation = "test"
	OpInfra     Operation = "infra"
	OpDocument  Operation = "document"
	OpGather    Operation = "gather"
	OpDraft     Operation = "draft"
	OpReview    Operation = "review"
	OpTechnical Operation = "technical"
	OpOperational Operation = "operational"
	OpSummarize Operation = "summarize"
	OpFix       Operation = "fix"
)

// Status is a Task's lifecycle state.
type Status string

const (
	Pending   Status = "PENDING"
	Ready     Status = "READY"
	Running   Status = "RUNNING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
	Cancelled Status = "CANCELLED"
	Skipped   Status = "SKIPPED"
)

// Artifact is the workspace-relative output of one Task's result, a
// narrower view than pkg/artifact.Artifact (no language hint needed once
// merged into a result).
type Artifact struct {
	Path    string
	Content string
}

// Metrics is the per-task measurement bundle attached to a Result.
type Metrics struct {
	Attempts      int
	ContextShrink int
	TotalLatency  time.Duration
	TokensIn      int
	TokensOut     int
}

// Result is a Task's outcome: on success the first group of fields is
// populated; on failure ErrorKind/Message/Attempts are.
type Result struct {
	Summary      string
	Artifacts    []Artifact
	FilesWritten []string
	RawText      string
	Metrics      Metrics

	ErrorKind string
	Message   string
	Attempts  int
}

// Task is one node of a Task Graph.
type Task struct {
	ID        string
	Role      Role
	Operation Operation
	Prompt    string
	DependsOn []string

	// OptionalSkip marks this task eligible to become READY even when a
	// predecessor finished SKIPPED rather than COMPLETED.
	OptionalSkip bool

	Status    Status
	Result    *Result
	StartedAt time.Time
	EndedAt   time.Time
}

// Conditional is a post-completion routing rule: once task afterID
// reaches COMPLETED or FAILED, Predicate is evaluated against its
// Result; if it reports true, every task in SkipIDs is marked SKIPPED
// instead of being dispatched normally. Combined with a successor's
// OptionalSkip flag, this implements the "skip the parallel branch and
// jump ahead" routing a template may need (e.g. implementation produced
// no files, so the QA+DevOps branch never runs).
type Conditional struct {
	Predicate func(*Result) bool
	SkipIDs   []string
}

// Graph is an acyclic dependency graph of Tasks, in the order they were
// added (used as the tie-break order for simultaneous readiness).
type Graph struct {
	order        []string
	tasks        map[string]*Task
	succ         map[string][]string
	conditionals map[string]Conditional
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{tasks: make(map[string]*Task), succ: make(map[string][]string), conditionals: make(map[string]Conditional)}
}

// DeclareConditional registers a Conditional evaluated once afterID
// completes.
func (g *Graph) DeclareConditional(afterID string, predicate func(*Result) bool, skipIDs ...string) {
	g.conditionals[afterID] = Conditional{Predicate: predicate, SkipIDs: skipIDs}
}

// Conditional returns the Conditional registered for afterID, if any.
func (g *Graph) Conditional(afterID string) (Conditional, bool) {
	c, ok := g.conditionals[afterID]
	return c, ok
}

// AddTask registers t. Returns an error if t.ID is already present.
func (g *Graph) AddTask(t *Task) error {
	if _, exists := g.tasks[t.ID]; exists {
		return fmt.Errorf("taskgraph: duplicate task id %q", t.ID)
	}
	if t.Status == "" {
		t.Status = Pending
	}
	g.tasks[t.ID] = t
	g.order = append(g.order, t.ID)
	return nil
}

// DeclareDependency records that to depends on from (from must complete
// before to becomes eligible). Validates acyclicity after every call.
func (g *Graph) DeclareDependency(from, to string) error {
	if _, ok := g.tasks[from]; !ok {
		return fmt.Errorf("taskgraph: unknown predecessor %q", from)
	}
	toTask, ok := g.tasks[to]
	if !ok {
		return fmt.Errorf("taskgraph: unknown successor %q", to)
	}
	toTask.DependsOn = append(toTask.DependsOn, from)
	g.succ[from] = append(g.succ[from], to)

	if g.hasCycle() {
		// Roll back.
		toTask.DependsOn = toTask.DependsOn[:len(toTask.DependsOn)-1]
		g.succ[from] = g.succ[from][:len(g.succ[from])-1]
		return fmt.Errorf("taskgraph: adding dependency %s->%s introduces a cycle", from, to)
	}
	return nil
}

func (g *Graph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.tasks))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range g.succ[id] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, id := range g.order {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Task returns the task with the given id, if present.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns all tasks in the order they were added.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Successors returns the ids of the tasks declared dependent on id.
func (g *Graph) Successors(id string) []string {
	return append([]string{}, g.succ[id]...)
}

// ReadyTasks returns, in insertion order, every PENDING task whose every
// predecessor has reached COMPLETED (or SKIPPED, if the edge allows it
// via the successor's OptionalSkip flag).
func (g *Graph) ReadyTasks() []*Task {
	var ready []*Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status != Pending {
			continue
		}
		if g.predecessorsSatisfied(t) {
			ready = append(ready, t)
		}
	}
	return ready
}

func (g *Graph) predecessorsSatisfied(t *Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := g.tasks[depID]
		if !ok {
			return false
		}
		switch dep.Status {
		case Completed:
			continue
		case Skipped:
			if t.OptionalSkip {
				continue
			}
			return false
		default:
			return false
		}
	}
	return true
}

// MarkStarted transitions a task from READY (or PENDING, treated as an
// implicit transition through READY) to RUNNING.
func (g *Graph) MarkStarted(id string) error {
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("taskgraph: unknown task %q", id)
	}
	t.Status = Running
	t.StartedAt = time.Now()
	return nil
}

// MarkCompleted transitions a task to COMPLETED and stores its result.
func (g *Graph) MarkCompleted(id string, result *Result) error {
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("taskgraph: unknown task %q", id)
	}
	t.Status = Completed
	t.Result = result
	t.EndedAt = time.Now()
	return nil
}

// MarkFailed transitions a task to FAILED and stores its failure result.
func (g *Graph) MarkFailed(id string, result *Result) error {
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("taskgraph: unknown task %q", id)
	}
	t.Status = Failed
	t.Result = result
	t.EndedAt = time.Now()
	return nil
}

// MarkCancelled transitions a task to CANCELLED.
func (g *Graph) MarkCancelled(id string) error {
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("taskgraph: unknown task %q", id)
	}
	t.Status = Cancelled
	t.EndedAt = time.Now()
	return nil
}

// MarkSkipped transitions a task to SKIPPED.
func (g *Graph) MarkSkipped(id string) error {
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("taskgraph: unknown task %q", id)
	}
	t.Status = Skipped
	t.EndedAt = time.Now()
	return nil
}

// AllTerminal reports whether every task has reached a terminal status
// (COMPLETED, FAILED, CANCELLED, or SKIPPED).
func (g *Graph) AllTerminal() bool {
	for _, id := range g.order {
		switch g.tasks[id].Status {
		case Completed, Failed, Cancelled, Skipped:
			continue
		default:
			return false
		}
	}
	return true
}
