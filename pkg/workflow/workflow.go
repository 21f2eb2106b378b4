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

// Package workflow defines WorkflowState, the aggregate record the
// Scheduler owns and snapshots into the Checkpoint Store after each task.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/taskgraph"
)

// Status is a workflow's lifecycle state.
type Status string

const (
	Running   Status = "RUNNING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
	Cancelled Status = "CANCELLED"
)

// ErrorEntry is one entry of WorkflowState.Errors.
type ErrorEntry struct {
	Step      string    `json:"step"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RoleOutput is one worker result recorded against a role's append-only
// output history.
type RoleOutput struct {
	TaskID string            `json:"task_id"`
	Result taskgraph.Result  `json:"result"`
}

// State is the WorkflowState aggregate.
type State struct {
	WorkflowID     string                           `json:"workflow_id"`
	WorkflowType   string                           `json:"workflow_type"`
	Requirement    string                           `json:"requirement"`
	Context        map[string]string                `json:"context"`
	Status         Status                           `json:"status"`
	CurrentStep    string                           `json:"current_step"`
	CompletedSteps []string                         `json:"completed_steps"`
	PerRoleOutputs map[taskgraph.Role][]RoleOutput  `json:"per_role_outputs"`
	FilesCreated   []string                         `json:"files_created"`
	Errors         []ErrorEntry                     `json:"errors"`
	StartedAt      time.Time                        `json:"started_at"`
	CompletedAt    time.Time                        `json:"completed_at"`

	filesSeen map[string]bool
}

// New allocates a fresh State with a time-ordered (UUIDv7) workflow_id,
// for human legibility when listing workflows by creation order.
func New(workflowType, requirement string, context map[string]string) (*State, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &State{
		WorkflowID:     id.String(),
		WorkflowType:   workflowType,
		Requirement:    requirement,
		Context:        context,
		Status:         Running,
		PerRoleOutputs: make(map[taskgraph.Role][]RoleOutput),
		StartedAt:      time.Now(),
		filesSeen:      make(map[string]bool),
	}, nil
}

// RecordStep appends stepID to CompletedSteps, records the worker's
// result under its role's output history, and deduplicates any newly
// created files into FilesCreated.
func (s *State) RecordStep(stepID string, role taskgraph.Role, result taskgraph.Result) {
	s.CurrentStep = stepID
	s.CompletedSteps = append(s.CompletedSteps, stepID)
	s.PerRoleOutputs[role] = append(s.PerRoleOutputs[role], RoleOutput{TaskID: stepID, Result: result})

	if s.filesSeen == nil {
		s.filesSeen = make(map[string]bool)
	}
	for _, f := range result.FilesWritten {
		if !s.filesSeen[f] {
			s.filesSeen[f] = true
			s.FilesCreated = append(s.FilesCreated, f)
		}
	}
}

// RecordError appends an error entry. If kind is "FATAL", the workflow's
// Status is forced to FAILED (or left CANCELLED if it already was),
// matching the invariant that any FATAL entry implies a terminal failed state.
func (s *State) RecordError(step, kind, message string) {
	s.Errors = append(s.Errors, ErrorEntry{Step: step, Kind: kind, Message: message, Timestamp: time.Now()})
	if kind == "FATAL" && s.Status != Cancelled {
		s.Status = Failed
	}
}

// Finish sets the terminal status and CompletedAt timestamp.
func (s *State) Finish(status Status) {
	s.Status = status
	s.CompletedAt = time.Now()
}
