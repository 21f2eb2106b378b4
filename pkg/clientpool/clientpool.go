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

// Package clientpool maintains one process-wide, health-tracked pool of
// transport.Client per endpoint. Borrow never blocks; it creates a fresh
// client when none of the pooled ones are healthy.
package clientpool

import (
	"sync"
	"time"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/transport"
)

// Outcome reports the result of one borrowed client's use, for Release.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// Config tunes the recycle policy. Zero values fall back to the defaults
// named in the configuration option table (pool.max_age, pool.failure_threshold).
type Config struct {
	MaxAge            time.Duration
	FailureThreshold  int
	SuccessRateWindow int
	MinSuccessRate    float64
	NewClient         func(endpoint string) *transport.Client
}

func (c Config) withDefaults() Config {
	if c.MaxAge == 0 {
		c.MaxAge = time.Hour
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessRateWindow == 0 {
		c.SuccessRateWindow = 20
	}
	if c.MinSuccessRate == 0 {
		c.MinSuccessRate = 0.5
	}
	if c.NewClient == nil {
		c.NewClient = func(endpoint string) *transport.Client { return transport.New(endpoint) }
	}
	return c
}

type pooledClient struct {
	client              *transport.Client
	createdAt           time.Time
	totalRequests       int
	consecutiveFailures int

	mu      sync.Mutex
	outcome []bool // ring of the last window outcomes, true = success
}

func (p *pooledClient) recordOutcome(success bool, window int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	if success {
		p.consecutiveFailures = 0
	} else {
		p.consecutiveFailures++
	}
	p.outcome = append(p.outcome, success)
	if len(p.outcome) > window {
		p.outcome = p.outcome[len(p.outcome)-window:]
	}
}

func (p *pooledClient) successRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.outcome) == 0 {
		return 1
	}
	successes := 0
	for _, ok := range p.outcome {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(p.outcome))
}

func (p *pooledClient) healthy(cfg Config) bool {
	if time.Since(p.createdAt) >= cfg.MaxAge {
		return false
	}
	p.mu.Lock()
	failures := p.consecutiveFailures
	p.mu.Unlock()
	if failures >= cfg.FailureThreshold {
		return false
	}
	if len(p.outcome) >= cfg.SuccessRateWindow && p.successRate() < cfg.MinSuccessRate {
		return false
	}
	return true
}

// Pool borrows and releases health-tracked transport clients keyed by
// endpoint. One Pool is created per process; it is safe for concurrent use.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	byEndpoint map[string]*pooledClient
}

// New returns an empty Pool. cfg's zero values fall back to the defaults.
func New(cfg Config) *Pool {
	return &Pool{cfg: cfg.withDefaults(), byEndpoint: make(map[string]*pooledClient)}
}

// Borrow returns a healthy *transport.Client for endpoint, creating and
// caching one if none exists or the cached one has aged out, failed too
// often, or fallen below the minimum success rate. Never blocks.
func (p *Pool) Borrow(endpoint string) *transport.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.byEndpoint[endpoint]
	if ok && existing.healthy(p.cfg) {
		return existing.client
	}

	fresh := &pooledClient{client: p.cfg.NewClient(endpoint), createdAt: time.Now()}
	p.byEndpoint[endpoint] = fresh
	return fresh.client
}

// Release records the outcome of one use of a client previously returned
// by Borrow, for the given endpoint's recycle-policy bookkeeping.
func (p *Pool) Release(endpoint string, client *transport.Client, outcome Outcome) {
	p.mu.Lock()
	pc, ok := p.byEndpoint[endpoint]
	p.mu.Unlock()
	if !ok || pc.client != client {
		return
	}
	pc.recordOutcome(outcome == Success, p.cfg.SuccessRateWindow)
}
