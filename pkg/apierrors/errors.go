/*
Copyright 2024 The Pinacle Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apierrors defines the behavioral error kinds used throughout as
// values, not exceptions: every subsystem boundary returns one of these
// (wrapped with github.com/pkg/errors where extra context helps), and no
// subsystem panics across a boundary except for the Invariant kind.
package apierrors

import "fmt"

// Kind is the behavioral category of an error, used by callers to decide
// retry/escalate/surface policy.
type Kind string

const (
	KindTransient    Kind = "transient"     // retry with backoff, then escalate.
	KindStepFailure  Kind = "step_failure"  // non-zero exit from a provisioning step.
	KindExhausted    Kind = "exhausted"     // no host/port/quota available; do not retry automatically.
	KindUnauthorized Kind = "unauthorized"  // missing/invalid/expired token.
	KindForbidden    Kind = "forbidden"     // token-vs-hostname mismatch, team-membership denied.
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict" // concurrent state transition lost the race.
	KindInvariant    Kind = "invariant" // unreachable state; operator intervention required.
)

// Error is a typed, behavioral error carrying a Kind alongside the
// underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to "" if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
