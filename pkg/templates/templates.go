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

// Package templates binds named workflow types to Task Graph factories.
// The Task Graph is plain data; a template is nothing more than a pure
// function producing one, so no third-party graph runtime lives here.
package templates

import (
	"fmt"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/taskgraph"
)

// Name identifies one of the core template shapes.
type Name string

const (
	FeatureDevelopment Name = "feature-development"
	BugFix             Name = "bug-fix"
	Infrastructure     Name = "infrastructure"
	Documentation      Name = "documentation"
	Analysis           Name = "analysis"
)

// Factory builds a Task Graph for one requirement.
type Factory func(requirement string, context map[string]string) (*taskgraph.Graph, error)

// registry maps every known template Name to its Factory.
var registry = map[Name]Factory{
	FeatureDevelopment: buildFeatureDevelopment,
	BugFix:             buildBugFix,
	Infrastructure:     buildInfrastructure,
	Documentation:      buildDocumentation,
	Analysis:           buildAnalysis,
}

// Build instantiates the named template into a Task Graph.
func Build(name Name, requirement string, context map[string]string) (*taskgraph.Graph, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("templates: unknown workflow type %q", name)
	}
	return factory(requirement, context)
}

// newTask is a small constructor used by every factory to cut down on
// struct-literal repetition; prompt composition of the predecessor
// context itself is the Worker's job, not the template's.
func newTask(id string, role taskgraph.Role, op taskgraph.Operation, prompt string, dependsOn ...string) *taskgraph.Task {
	return &taskgraph.Task{ID: id, Role: role, Operation: op, Prompt: prompt, DependsOn: append([]string{}, dependsOn...)}
}

func chain(g *taskgraph.Graph, tasks ...*taskgraph.Task) error {
	for _, t := range tasks {
		if err := g.AddTask(t); err != nil {
			return err
		}
	}
	for _, t := range tasks {
		for _, from := range t.DependsOn {
			if err := g.DeclareDependency(from, t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildFeatureDevelopment: analyze -> design -> implement -> fan-out{test, operate} -> document.
// If implementation produced zero files or FAILED, the test+operate
// branch is skipped and documentation runs next. The document task's
// prompt then carries no failure summary: it receives only its direct
// predecessors' results, and the skipped test and operate tasks have none.
func buildFeatureDevelopment(requirement string, context map[string]string) (*taskgraph.Graph, error) {
	g := taskgraph.New()
	document := newTask("document", taskgraph.RoleWriter, taskgraph.OpDocument, "Document: "+requirement, "test", "operate")
	document.OptionalSkip = true

	err := chain(g,
		newTask("analyze", taskgraph.RoleAnalyst, taskgraph.OpAnalyze, "Analyze this requirement: "+requirement),
		newTask("design", taskgraph.RoleDeveloper, taskgraph.OpDesign, "Design an implementation for: "+requirement, "analyze"),
		newTask("implement", taskgraph.RoleDeveloper, taskgraph.OpImplement, "Implement: "+requirement, "design"),
		newTask("test", taskgraph.RoleTester, taskgraph.OpTest, "Write tests for the implementation of: "+requirement, "implement"),
		newTask("operate", taskgraph.RoleOperator, taskgraph.OpInfra, "Produce deployment/operational configuration for: "+requirement, "implement"),
		document,
	)
	if err != nil {
		return nil, err
	}

	g.DeclareConditional("implement", func(result *taskgraph.Result) bool {
		return result == nil || result.ErrorKind != "" || len(result.FilesWritten) == 0
	}, "test", "operate")

	return g, nil
}

// buildBugFix: analyze -> fix -> regress-test -> release-notes.
func buildBugFix(requirement string, context map[string]string) (*taskgraph.Graph, error) {
	g := taskgraph.New()
	err := chain(g,
		newTask("analyze", taskgraph.RoleAnalyst, taskgraph.OpAnalyze, "Analyze this bug report: "+requirement),
		newTask("fix", taskgraph.RoleDeveloper, taskgraph.OpFix, "Fix the bug described by: "+requirement, "analyze"),
		newTask("regress-test", taskgraph.RoleTester, taskgraph.OpTest, "Write a regression test covering: "+requirement, "fix"),
		newTask("release-notes", taskgraph.RoleWriter, taskgraph.OpDocument, "Write release notes for the fix to: "+requirement, "regress-test"),
	)
	return g, err
}

// buildInfrastructure: design -> implement -> test -> document.
func buildInfrastructure(requirement string, context map[string]string) (*taskgraph.Graph, error) {
	g := taskgraph.New()
	err := chain(g,
		newTask("design", taskgraph.RoleOperator, taskgraph.OpDesign, "Design infrastructure for: "+requirement),
		newTask("implement", taskgraph.RoleOperator, taskgraph.OpInfra, "Implement infrastructure for: "+requirement, "design"),
		newTask("test", taskgraph.RoleTester, taskgraph.OpTest, "Validate the infrastructure for: "+requirement, "implement"),
		newTask("document", taskgraph.RoleWriter, taskgraph.OpDocument, "Document the infrastructure for: "+requirement, "test"),
	)
	return g, err
}

// buildDocumentation: gather -> draft -> review.
func buildDocumentation(requirement string, context map[string]string) (*taskgraph.Graph, error) {
	g := taskgraph.New()
	err := chain(g,
		newTask("gather", taskgraph.RoleAnalyst, taskgraph.OpGather, "Gather material for documenting: "+requirement),
		newTask("draft", taskgraph.RoleWriter, taskgraph.OpDraft, "Draft documentation for: "+requirement, "gather"),
		newTask("review", taskgraph.RoleWriter, taskgraph.OpReview, "Review and finalize the documentation for: "+requirement, "draft"),
	)
	return g, err
}

// buildAnalysis: gather -> technical -> operational -> summarize.
func buildAnalysis(requirement string, context map[string]string) (*taskgraph.Graph, error) {
	g := taskgraph.New()
	err := chain(g,
		newTask("gather", taskgraph.RoleAnalyst, taskgraph.OpGather, "Gather material to analyze: "+requirement),
		newTask("technical", taskgraph.RoleDeveloper, taskgraph.OpTechnical, "Provide a technical analysis of: "+requirement, "gather"),
		newTask("operational", taskgraph.RoleOperator, taskgraph.OpOperational, "Provide an operational analysis of: "+requirement, "technical"),
		newTask("summarize", taskgraph.RoleAnalyst, taskgraph.OpSummarize, "Summarize the analysis of: "+requirement, "operational"),
	)
	return g, err
}
