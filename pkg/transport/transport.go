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

// Package transport speaks the OpenAI-compatible chat-completions wire
// format to a single endpoint, in both non-streaming and streaming modes.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/errs"
	"github.com/akarazhev/llm-multi-agent-system-sub002/pkg/httpclient"
)

// Message is one entry of the chat-completions messages array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting for a completed (non-streaming) call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a chat-completions request body.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// Response is the decoded non-streaming response.
type Response struct {
	Text  string
	Usage Usage
}

// Chunk is one piece of a streamed response.
type Chunk struct {
	Text string
	// Done is true on the final chunk (after "data: [DONE]"); Text is
	// empty in that case.
	Done bool
}

// OnChunk is an optional caller-supplied callback invoked per streamed
// chunk, in addition to the chunk being returned over the channel.
type OnChunk func(Chunk)

// Client invokes a single chat-completions endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *httpclient.Client
	timeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request. A placeholder
// value is acceptable for local endpoints, per the configuration contract.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout sets the per-call deadline applied when the caller's
// context carries none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient overrides the underlying httpclient.Client, e.g. for
// tests that inject a client pointed at an httptest.Server.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a Client for endpoint (e.g. "http://localhost:8080/v1").
// The underlying httpclient.Client issues one attempt per call; all
// retry/backoff/circuit-breaking for LLM calls belongs to pkg/resilience,
// and all HTTP-status classification belongs to this package (see Invoke).
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  300 * time.Second,
		http:     httpclient.New(httpclient.WithHTTPClient(&http.Client{})),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke performs one chat-completions call. If req.Stream is true, use
// InvokeStream instead; Invoke always issues a non-streaming request.
func (c *Client) Invoke(ctx context.Context, req Request) (Response, error) {
	req.Stream = false

	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return Response{}, errs.Wrap(errs.Network, "building request", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errs.Wrap(errs.Network, "reading response body", err)
	}

	if resp.StatusCode >= 400 {
		return Response{}, classifyHTTPStatus(resp.StatusCode, body)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Response{}, errs.Wrap(errs.Parse, "decoding chat-completions response", err)
	}
	if len(decoded.Choices) == 0 {
		return Response{}, errs.New(errs.Parse, "chat-completions response had no choices")
	}

	return Response{Text: decoded.Choices[0].Message.Content, Usage: decoded.Usage}, nil
}

// InvokeStream performs a streaming chat-completions call. It returns a
// channel of Chunks (closed when the stream ends or the context is
// cancelled). It does not return the concatenated text; callers build it
// from the received chunks' Text. onChunk, if non-nil, is invoked
// synchronously for every chunk in addition to the value being sent on
// the channel.
func (c *Client) InvokeStream(ctx context.Context, req Request, onChunk OnChunk) (<-chan Chunk, error) {
	req.Stream = true

	ctx, cancel := c.withDeadline(ctx)

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.Network, "building request", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyTransportErr(ctx, err)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, classifyHTTPStatus(resp.StatusCode, body)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(out)
		c.readSSE(ctx, resp.Body, out, onChunk)
	}()

	return out, nil
}

// readSSE decodes the "data: ..." event stream one line at a time,
// terminating on a literal "data: [DONE]" line, and is cancellable
// within one line boundary via ctx.
func (c *Client) readSSE(ctx context.Context, body io.Reader, out chan<- Chunk, onChunk OnChunk) {
	reader := bufio.NewReader(body)
	for {
		if ctx.Err() != nil {
			return
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if chunk, ok := parseSSELine(line); ok {
				if onChunk != nil {
					onChunk(chunk)
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
				if chunk.Done {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func parseSSELine(line []byte) (Chunk, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte("data: ")) {
		return Chunk{}, false
	}
	payload := bytes.TrimPrefix(line, []byte("data: "))
	if bytes.Equal(payload, []byte("[DONE]")) {
		return Chunk{Done: true}, true
	}

	var decoded struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Chunk{}, false
	}
	if len(decoded.Choices) == 0 {
		return Chunk{}, false
	}
	return Chunk{Text: decoded.Choices[0].Delta.Content}, true
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return httpReq, nil
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func classifyTransportErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.Cancelled, "request cancelled", err)
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return errs.Wrap(errs.Timeout, "request timed out", err)
	}
	return errs.Wrap(errs.Network, "request failed", err)
}

// contextOverflowMarkers are the substrings used to recognize a
// context-length error reported in an error response body, per the
// CONTEXT_OVERFLOW detection rule.
var contextOverflowMarkers = []string{
	"context length",
	"context_length",
	"too many tokens",
	"maximum context length",
}

func classifyHTTPStatus(status int, body []byte) error {
	msg := fmt.Sprintf("HTTP %d", status)
	lowered := strings.ToLower(string(body))
	for _, marker := range contextOverflowMarkers {
		if strings.Contains(lowered, marker) {
			return errs.New(errs.ContextOverfow, msg+": "+string(body))
		}
	}
	if status == http.StatusTooManyRequests {
		return errs.NewRetriable(errs.HTTP4xx, msg+" (retriable: rate limited)")
	}
	if status >= 500 {
		return errs.New(errs.HTTP5xx, msg+": "+string(body))
	}
	return errs.New(errs.HTTP4xx, msg+": "+string(body))
}
