// ABOUTME: Error kinds surfaced at the engine's operation boundary.
// ABOUTME: Validation, not-found, permission, and wrapped internal failures.

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/moot/internal/store"
	"github.com/2389/moot/internal/validate"
)

// ErrUnknownOperation is returned by Dispatch for unrecognized operation names.
var ErrUnknownOperation = errors.New("unknown operation")

// ValidationError reports missing or oversized input. It is raised before
// any lock is acquired or state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown agent or message id on operations that
// require it to exist. Idempotent paths (unregister, status update) report
// {success:false} results instead.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// PermissionError reports a rejected privileged request. Turn-taking
// denials are never errors; they are structured results carrying
// "not_ruler" / "not_holder".
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return "permission denied: " + e.Reason
}

// InternalError wraps an unexpected failure at the operation boundary,
// preserving the original message for diagnostics.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// boundaryError converts component failures into the engine's error kinds.
// Every unexpected error is rewrapped as InternalError without leaking
// internal state.
func boundaryError(err error) error {
	if err == nil {
		return nil
	}

	var verr *validate.Error
	if errors.As(err, &verr) {
		return &ValidationError{Field: verr.Field, Reason: verr.Reason}
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	if errors.Is(err, store.ErrAgentNotFound) {
		return &NotFoundError{Kind: "agent"}
	}
	if errors.Is(err, store.ErrMessageNotFound) {
		return &NotFoundError{Kind: "message"}
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	var perm *PermissionError
	if errors.As(err, &perm) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &InternalError{Err: err}
}
