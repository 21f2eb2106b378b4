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

// Package errs defines the error-kind taxonomy shared by every layer of
// the orchestration engine, so retryability is a data property of an
// error rather than a property of its Go type.
package errs

import "fmt"

// Kind classifies an error for retry and routing decisions.
type Kind string

const (
	Network        Kind = "NETWORK"
	Timeout        Kind = "TIMEOUT"
	HTTP5xx        Kind = "HTTP_5XX"
	HTTP4xx        Kind = "HTTP_4XX"
	Cancelled      Kind = "CANCELLED"
	OpenCircuit    Kind = "OPEN_CIRCUIT"
	ContextOverfow Kind = "CONTEXT_OVERFLOW"
	Parse          Kind = "PARSE"
	Policy         Kind = "POLICY"
	IO             Kind = "IO"
	Fatal          Kind = "FATAL"
	Validation     Kind = "VALIDATION"
)

// retryable is the fixed table of which kinds are retriable on their own,
// independent of status-code nuance (HTTP_4XX's 429 exception is applied
// by the caller that classifies the raw HTTP status, not here).
var retryable = map[Kind]bool{
	Network: true,
	Timeout: true,
	HTTP5xx: true,
}

// Error is a classified error carrying a Kind, so callers can branch on
// retryability without type assertions.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// retriableOverride, when non-nil, takes precedence over the Kind's
	// default transience. Used for the HTTP_4XX/429 exception: 429 is a
	// HTTP_4XX error that is nonetheless retriable, per the retry policy.
	retriableOverride *bool
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewRetriable returns an Error whose Transient() is forced to true
// regardless of its Kind's default, for the HTTP_4XX/429 exception.
func NewRetriable(kind Kind, message string) *Error {
	t := true
	return &Error{Kind: kind, Message: message, retriableOverride: &t}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether an error of this kind is, by default,
// retriable without further inspection of the originating status code.
func (e *Error) Transient() bool {
	if e.retriableOverride != nil {
		return *e.retriableOverride
	}
	return retryable[e.Kind]
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise returns "" and false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
