// Package errors defines the failure classes reported by the resource manager.
// Each class is a concrete type so callers can branch on it after any amount
// of wrapping with github.com/pkg/errors.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnknownNode       = errors.New("unknown node")
	ErrUnknownNodeSource = errors.New("unknown node source")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrNotReady          = errors.New("resource manager is recovering")
	ErrShutdown          = errors.New("resource manager is shut down")
)

// ValidationError rejects a malformed request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(reason, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InfrastructureError is a deployment backend failure scoped to one node source.
type InfrastructureError struct {
	NodeSource string
	Err        error
}

func NewInfrastructureError(source string, err error) *InfrastructureError {
	return &InfrastructureError{NodeSource: source, Err: err}
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure of node source %q: %v", e.NodeSource, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// PersistenceError means a write did not reach the store after all retries.
// The transition it belongs to stays pending.
type PersistenceError struct {
	Op  string
	Err error
}

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// LivenessTimeout is a probe that failed or did not answer in time.
type LivenessTimeout struct {
	URL string
	Err error
}

func NewLivenessTimeout(url string, err error) *LivenessTimeout {
	return &LivenessTimeout{URL: url, Err: err}
}

func (e *LivenessTimeout) Error() string {
	return fmt.Sprintf("node %s did not answer: %v", e.URL, e.Err)
}

func (e *LivenessTimeout) Unwrap() error { return e.Err }

// ScriptExecutionError is a selection script that raised instead of
// returning a verdict. It counts against the node, never against the request.
type ScriptExecutionError struct {
	Script string
	URL    string
	Err    error
}

func NewScriptExecutionError(script, url string, err error) *ScriptExecutionError {
	return &ScriptExecutionError{Script: script, URL: url, Err: err}
}

func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("script %s on %s: %v", e.Script, e.URL, e.Err)
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsInfrastructure(err error) bool {
	var target *InfrastructureError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

func IsLivenessTimeout(err error) bool {
	var target *LivenessTimeout
	return errors.As(err, &target)
}

func IsScriptExecution(err error) bool {
	var target *ScriptExecutionError
	return errors.As(err, &target)
}
