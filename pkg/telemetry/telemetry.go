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

// Package telemetry carries correlation IDs through context.Context and
// exposes the workflow's Prometheus counters/histograms plus a push hook.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type correlationKey struct{}

// NewCorrelationID returns a time-ordered (UUIDv7) correlation id.
func NewCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the process's entropy source is
		// broken; fall back to v4 rather than propagate a fatal error
		// through every call site that wants a correlation id.
		return uuid.NewString()
	}
	return id.String()
}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID extracts the correlation id from ctx, or "" if absent.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Measurement is one observation passed to a registered push hook.
type Measurement struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// Metrics holds every counter and histogram named in the component
// contract, plus a list of push-hook subscribers notified synchronously
// by RecordTask, RecordRetry, RecordBreakerTransition and
// RecordWorkflowDuration. RecordPoolBorrow, RecordPoolRelease,
// RecordTokens and RecordArtifacts update their Prometheus metrics only
// and do not notify the hooks.
type Metrics struct {
	registry *prometheus.Registry

	TaskCount      *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	RetryCount     *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
	PoolBorrow     *prometheus.CounterVec
	PoolRelease    *prometheus.CounterVec
	TokensIn       *prometheus.CounterVec
	TokensOut      *prometheus.CounterVec
	ArtifactsPerTask *prometheus.HistogramVec
	WorkflowDuration *prometheus.Histogram

	hooks []func(Measurement)
}

// New registers and returns the full metric set against a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TaskCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_task_total",
			Help: "Count of tasks by role and outcome.",
		}, []string{"role", "outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "orchestrator_task_duration_seconds",
			Help: "Task duration by role.",
		}, []string{"role"}),
		RetryCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_retry_total",
			Help: "Retry attempts by role.",
		}, []string{"role"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_breaker_transitions_total",
			Help: "Circuit breaker state transitions by role and target state.",
		}, []string{"role", "to"}),
		PoolBorrow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_pool_borrow_total",
			Help: "Client pool borrows by endpoint.",
		}, []string{"endpoint"}),
		PoolRelease: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_pool_release_total",
			Help: "Client pool releases by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		TokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tokens_in_total",
			Help: "Prompt tokens sent, by role.",
		}, []string{"role"}),
		TokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tokens_out_total",
			Help: "Completion tokens received, by role.",
		}, []string{"role"}),
		ArtifactsPerTask: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "orchestrator_artifacts_per_task",
			Help: "Artifacts extracted per task, by role.",
		}, []string{"role"}),
	}
	workflowDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "orchestrator_workflow_duration_seconds",
		Help: "End-to-end workflow duration.",
	})
	m.WorkflowDuration = &workflowDuration

	registry.MustRegister(m.TaskCount, m.TaskDuration, m.RetryCount, m.BreakerTransitions,
		m.PoolBorrow, m.PoolRelease, m.TokensIn, m.TokensOut, m.ArtifactsPerTask, workflowDuration)

	return m
}

// Registry returns the underlying Prometheus registry for the pull
// interface (e.g. mounting promhttp.HandlerFor in the out-of-scope HTTP
// surface).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OnMeasurement registers a push-hook callback invoked by the publishing
// recordings listed on Metrics.
func (m *Metrics) OnMeasurement(hook func(Measurement)) {
	m.hooks = append(m.hooks, hook)
}

func (m *Metrics) publish(measurement Measurement) {
	for _, hook := range m.hooks {
		hook(measurement)
	}
}

// RecordTask records one completed task's outcome and duration.
func (m *Metrics) RecordTask(role, outcome string, duration time.Duration) {
	m.TaskCount.WithLabelValues(role, outcome).Inc()
	m.TaskDuration.WithLabelValues(role).Observe(duration.Seconds())
	m.publish(Measurement{Name: "task", Value: duration.Seconds(), Labels: map[string]string{"role": role, "outcome": outcome}})
}

// RecordRetry records one retry attempt for role.
func (m *Metrics) RecordRetry(role string) {
	m.RetryCount.WithLabelValues(role).Inc()
	m.publish(Measurement{Name: "retry", Value: 1, Labels: map[string]string{"role": role}})
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(role, to string) {
	m.BreakerTransitions.WithLabelValues(role, to).Inc()
	m.publish(Measurement{Name: "breaker_transition", Value: 1, Labels: map[string]string{"role": role, "to": to}})
}

// RecordPoolBorrow records one client-pool borrow for endpoint.
func (m *Metrics) RecordPoolBorrow(endpoint string) {
	m.PoolBorrow.WithLabelValues(endpoint).Inc()
}

// RecordPoolRelease records one client-pool release for endpoint.
func (m *Metrics) RecordPoolRelease(endpoint, outcome string) {
	m.PoolRelease.WithLabelValues(endpoint, outcome).Inc()
}

// RecordTokens records prompt/completion token counts for role.
func (m *Metrics) RecordTokens(role string, in, out int) {
	m.TokensIn.WithLabelValues(role).Add(float64(in))
	m.TokensOut.WithLabelValues(role).Add(float64(out))
}

// RecordArtifacts records the number of artifacts extracted for one task.
func (m *Metrics) RecordArtifacts(role string, count int) {
	m.ArtifactsPerTask.WithLabelValues(role).Observe(float64(count))
}

// RecordWorkflowDuration records one completed workflow's end-to-end duration.
func (m *Metrics) RecordWorkflowDuration(duration time.Duration) {
	(*m.WorkflowDuration).Observe(duration.Seconds())
	m.publish(Measurement{Name: "workflow_duration", Value: duration.Seconds()})
}
