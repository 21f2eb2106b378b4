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

// Package httpclient is a thin wrapper over http.Client that makes a
// request body replayable and returns every HTTP response, successful or
// not, as (*http.Response, nil) — status-code classification belongs to
// the caller. All retry, backoff, and circuit-breaking for LLM calls is
// owned by pkg/resilience; this package issues exactly one attempt per
// Do call.
package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client wraps http.Client with a replayable request body.
type Client struct {
	client *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client, e.g. for tests
// that need a custom Transport or Timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// New creates a new Client with the given options.
func New(opts ...Option) *Client {
	c := &Client{client: &http.Client{Timeout: 120 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do issues req exactly once. req.Body, if non-nil, is buffered first so
// the caller may still rely on req.GetBody for its own retries (pkg/transport
// rebuilds the request per attempt instead, but a buffered body costs
// little and matches the pattern the rest of this package's callers
// expect). The returned error is non-nil only for a genuine transport
// failure (DNS, connection refused, timeout, context cancellation); any
// HTTP response, including 4xx/5xx, is returned with a nil error so the
// caller owns status-code classification.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: reading request body: %w", err)
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(bodyBytes)), nil
		}
	}

	return c.client.Do(req)
}
