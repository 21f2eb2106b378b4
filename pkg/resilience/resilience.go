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

// Package resilience wraps a single logical LLM call with retry+jitter
// backoff, a per-worker circuit breaker, and a single-shot
// context-overflow shrink recovery path. It is the only owner of
// cross-call retry/backoff/breaker decisions for LLM calls; pkg/transport
// is pure request/response plumbing underneath it.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/errs"
)

// Config tunes the retry and breaker parameters. Zero values fall back to
// the spec's defaults.
type Config struct {
	MaxAttempts    int           // R, default 3
	InitialDelay   time.Duration // T_init, default 1s
	MaxDelay       time.Duration // T_cap, default 60s
	Jitter         float64       // J, default 0.25
	FailureThresh  uint32        // F_cb, default 5
	RecoveryPeriod time.Duration // T_cb, default 60s
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Jitter == 0 {
		c.Jitter = 0.25
	}
	if c.FailureThresh == 0 {
		c.FailureThresh = 5
	}
	if c.RecoveryPeriod == 0 {
		c.RecoveryPeriod = 60 * time.Second
	}
	return c
}

// Metrics holds synchronous callbacks: OnAttempt before every attempt,
// OnBreakerChange on every breaker state transition, OnContextShrink on
// the single context-shrink retry, and OnCallCompleted after every
// logical call. Any of them may be nil.
type Metrics struct {
	OnAttempt        func(role string, attempt int)
	OnBreakerChange  func(role string, from, to string)
	OnContextShrink  func(role string)
	OnCallCompleted  func(role string, attempts int, totalLatency time.Duration, ok bool)
}

// Call is the function a Wrapper protects: one attempt at the underlying
// LLM invocation, returning the reduced-input variant via shrink when the
// kind is CONTEXT_OVERFLOW.
type Call func(ctx context.Context) (string, error)

// Shrinker reduces a call's input in place for the single context-shrink
// retry, returning a new Call to use as the replacement attempt.
type Shrinker func() Call

// Wrapper wraps LLM calls for one worker role with retry, a circuit
// breaker, and context-overflow recovery.
type Wrapper struct {
	role    string
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	metrics Metrics
	rand    func() float64
}

// New returns a Wrapper for role. metrics may be the zero value.
func New(role string, cfg Config, metrics Metrics) *Wrapper {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name: role,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThresh
		},
		Timeout: cfg.RecoveryPeriod,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics.OnBreakerChange != nil {
				metrics.OnBreakerChange(name, from.String(), to.String())
			}
		},
	}
	return &Wrapper{
		role:    role,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		metrics: metrics,
		rand:    rand.Float64,
	}
}

// Result is the outcome of one logical call, for metrics.
type Result struct {
	Text          string
	Attempts      int
	ContextShrink int
	TotalLatency  time.Duration
}

// Do executes call under the breaker and retry policy. The breaker admits
// (or rejects) the whole logical call exactly once: every retry attempt
// inside runAttempts shares that single admission, and gobreaker sees one
// aggregated success/failure for the call, not one per attempt. If the
// call fails with CONTEXT_OVERFLOW, shrink is invoked exactly once to
// produce a reduced-input replacement call for the remaining attempts; the
// shrink itself counts as one retry and is never repeated.
func (w *Wrapper) Do(ctx context.Context, call Call, shrink Shrinker) (Result, error) {
	start := time.Now()
	result := Result{}

	raw, err := w.breaker.Execute(func() (interface{}, error) {
		return w.runAttempts(ctx, call, shrink, &result)
	})
	result.TotalLatency = time.Since(start)

	if err != nil {
		w.complete(false, result.Attempts, result.TotalLatency)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return result, errs.Wrap(errs.OpenCircuit, "circuit breaker open", err)
		}
		return result, err
	}

	result.Text = raw.(string)
	w.complete(true, result.Attempts, result.TotalLatency)
	return result, nil
}

// runAttempts performs every retry attempt of one logical call, already
// admitted by the breaker in Do. It never touches the breaker itself: its
// single returned error is what Do reports to gobreaker as the call's one
// outcome.
func (w *Wrapper) runAttempts(ctx context.Context, call Call, shrink Shrinker, result *Result) (string, error) {
	shrunk := false
	attempted := call

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt
		if w.metrics.OnAttempt != nil {
			w.metrics.OnAttempt(w.role, attempt)
		}

		text, err := attempted(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err

		kind, _ := errs.KindOf(err)
		if kind == errs.ContextOverfow && !shrunk && shrink != nil {
			shrunk = true
			attempted = shrink()
			result.ContextShrink = 1
			if w.metrics.OnContextShrink != nil {
				w.metrics.OnContextShrink(w.role)
			}
			continue
		}

		if !isRetriable(err) {
			return "", err
		}

		if attempt == w.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", errs.Wrap(errs.Cancelled, "cancelled during backoff", ctx.Err())
		case <-time.After(w.delay(attempt)):
		}
	}

	return "", lastErr
}

func (w *Wrapper) complete(ok bool, attempts int, latency time.Duration) {
	if w.metrics.OnCallCompleted != nil {
		w.metrics.OnCallCompleted(w.role, attempts, latency, ok)
	}
}

// isRetriable consults the error's own Transient() verdict: HTTP_4XX is
// non-retriable by default except when the transport marked a 429 as
// retriable via errs.NewRetriable.
func isRetriable(err error) bool {
	var e *errs.Error
	if wrapped, ok := err.(*errs.Error); ok {
		e = wrapped
	} else {
		return false
	}
	return e.Transient()
}

// delay computes delay_n = min(T_cap, T_init * 2^(n-1)) * (1 + U(0, J)).
func (w *Wrapper) delay(attempt int) time.Duration {
	base := float64(w.cfg.InitialDelay) * math.Pow(2, float64(attempt-1))
	capped := math.Min(float64(w.cfg.MaxDelay), base)
	jitter := 1 + w.rand()*w.cfg.Jitter
	return time.Duration(capped * jitter)
}
