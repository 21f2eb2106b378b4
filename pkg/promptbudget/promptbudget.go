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

// Package promptbudget measures message lists against a per-workflow
// token budget and deterministically trims them to fit.
package promptbudget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Message mirrors transport.Message's shape so this package has no
// dependency on pkg/transport.
type Message struct {
	Role    string
	Content string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

func encodingFor(model string) *tiktoken.Tiktoken {
	cacheMu.RLock()
	enc, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}

	cacheMu.Lock()
	encodingCache[model] = enc
	cacheMu.Unlock()
	return enc
}

// Counter counts tokens for one model's encoding.
type Counter struct {
	model string
	enc   *tiktoken.Tiktoken
}

// NewCounter returns a Counter for model, falling back to the cl100k_base
// encoding (GPT-4/3.5 family) when the model is unrecognized.
func NewCounter(model string) *Counter {
	return &Counter{model: model, enc: encodingFor(model)}
}

// Count returns the exact token count of text, or a len(text)/4 estimate
// if no encoding could be loaded for this model at all.
func (c *Counter) Count(text string) int {
	if c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// perMessageOverhead is the <|start|>role|message<|end|> framing cost per
// OpenAI's published token-counting convention.
const perMessageOverhead = 3

// replyPrimingOverhead accounts for the assistant reply's own priming
// tokens, added once per composed message list.
const replyPrimingOverhead = 3

// CountMessages returns the total token count of messages as they would
// be sent in a chat-completions request, including per-message and
// reply-priming overhead.
func (c *Counter) CountMessages(messages []Message) int {
	total := replyPrimingOverhead
	for _, m := range messages {
		total += perMessageOverhead
		total += c.Count(m.Role)
		total += c.Count(m.Content)
	}
	return total
}

// Fit trims messages to fit within maxTokens, per the spec's deterministic
// truncation rule: system messages are never dropped; non-system messages
// are dropped oldest-first; if even the remaining content does not fit,
// each remaining non-system message's content is truncated to its last
// maxTokens/n characters (n = number of non-system messages kept).
func (c *Counter) Fit(messages []Message, maxTokens int) []Message {
	if c.CountMessages(messages) <= maxTokens {
		return messages
	}

	var system []Message
	var rest []Message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	for len(rest) > 1 {
		candidate := append(append([]Message{}, system...), rest...)
		if c.CountMessages(candidate) <= maxTokens {
			return candidate
		}
		rest = rest[1:]
	}

	if len(rest) == 0 {
		return system
	}

	candidate := append(append([]Message{}, system...), rest...)
	if c.CountMessages(candidate) <= maxTokens {
		return candidate
	}

	// One non-system message remains and it still does not fit: truncate
	// its content to the last B/n characters instead of dropping it.
	n := len(rest)
	perMessageBudget := maxTokens / n
	truncated := make([]Message, len(rest))
	for i, m := range rest {
		if perMessageBudget <= 0 {
			truncated[i] = Message{Role: m.Role, Content: ""}
			continue
		}
		truncated[i] = Message{Role: m.Role, Content: lastNChars(m.Content, perMessageBudget)}
	}
	return append(system, truncated...)
}

func lastNChars(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
