// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	errDeadline = context.DeadlineExceeded
	errCanceled = context.Canceled
)

// Kind classifies an error for retry and propagation decisions.
// Kinds are a closed vocabulary; callers switch on kind, never on message.
type Kind string

const (
	// Definition errors. Never retried, surfaced to the caller.
	KindInvalidSpec     Kind = "invalid_spec"
	KindInvalidWorkflow Kind = "invalid_workflow"
	KindInvalidGroup    Kind = "invalid_group"
	KindInvalidConfig   Kind = "invalid_config"

	// Registry errors.
	KindNotFound      Kind = "not_found"
	KindCycle         Kind = "cycle"
	KindDuplicateName Kind = "duplicate_name"
	KindInUse         Kind = "in_use"

	// Policy errors.
	KindPolicyDenied Kind = "policy_denied"

	// Retryable provider and infrastructure errors.
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindTimeout     Kind = "timeout"

	// Non-retryable provider errors.
	KindAuth             Kind = "auth"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindModelUnavailable Kind = "model_unavailable"
	KindBadRequest       Kind = "bad_request"

	// Sandbox and capacity errors. Retryable only after resource relief.
	KindResourceExhausted  Kind = "resource_exhausted"
	KindOOM                Kind = "oom"
	KindAtCapacity         Kind = "at_capacity"
	KindBackendUnavailable Kind = "backend_unavailable"

	// Lifecycle errors.
	KindCancelled          Kind = "cancelled"
	KindConfigurationError Kind = "configuration_error"

	// KindConsensusFailed marks a group session that ended at max rounds
	// without reaching threshold. The session still completes; this kind
	// appears only in the session's failure record, not as an error return.
	KindConsensusFailed Kind = "consensus_failed"
)

// Error is the structured error carried across component boundaries.
// It wraps a cause chain for observability while exposing a stable kind.
type Error struct {
	// Kind classifies the error
	Kind Kind

	// Message is the human-readable description
	Message string

	// Entity is the offending entity id (step id, tool name, sandbox id)
	Entity string

	// Hint suggests a remediation, when one is known
	Hint string

	// CorrelationID links the error to the emitting execution
	CorrelationID string

	// Cause is the wrapped underlying error, if any
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/As traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, so callers can write
// errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Failure converts the error into its user-visible failure record.
func (e *Error) Failure() *Failure {
	return &Failure{
		Kind:    e.Kind,
		Message: e.Message,
		Entity:  e.Entity,
		Hint:    e.Hint,
	}
}

// NewError builds a structured error with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps a cause with a kind and a formatted message.
// A nil cause yields a plain error.
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithEntity sets the offending entity id and returns the error.
func (e *Error) WithEntity(entity string) *Error {
	e.Entity = entity
	return e
}

// WithHint sets a remediation hint and returns the error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithCorrelation sets the correlation id and returns the error.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindTimeout when they wrap a context deadline, KindCancelled
// when they wrap a context cancellation, and empty kind otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, errDeadline) {
		return KindTimeout
	}
	if errors.Is(err, errCanceled) {
		return KindCancelled
	}
	return ""
}

// Retryable reports whether an error of this kind may be retried under a
// step's retry policy. Resource kinds are excluded: they retry only after
// observable relief, which is the scheduler's call, not the step's.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTransient, KindTimeout:
		return true
	}
	return false
}

// FailureOf converts any error into a user-visible failure record,
// classifying unstructured errors as transient.
func FailureOf(err error) *Failure {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Failure()
	}
	kind := KindOf(err)
	if kind == "" {
		kind = KindTransient
	}
	return &Failure{Kind: kind, Message: err.Error()}
}
