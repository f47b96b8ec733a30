// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrVersionNotFound indicates a version was not found by the given identifier.
	ErrVersionNotFound = errors.New("version not found")

	// ErrNoCurrentVersion indicates a flow has no current version yet. This
	// is a normal, expected state for a freshly created flow, not a failure.
	ErrNoCurrentVersion = errors.New("flow has no current version")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrEntityNotFound indicates an entity was not found. For lookups by
	// natural key this is the normal find-or-create miss.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrVersionExists indicates an attempt to overwrite an immutable version.
	ErrVersionExists = errors.New("version already exists")

	// ErrPositionConflict indicates a compare-and-set position update lost
	// the race: the entity's stored position no longer matches the expected
	// value.
	ErrPositionConflict = errors.New("entity position conflict")

	// ErrNodeStateConflict indicates a conditional node-state transition
	// lost the race: the node's stored status no longer matches the
	// expected value.
	ErrNodeStateConflict = errors.New("node state conflict")
)

// FlowError wraps flow-related errors with additional context.
type FlowError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save")
	FlowID string
	Err    error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, flowID string, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Err: err}
}

// EntityError wraps entity-related errors with additional context.
type EntityError struct {
	Op       string
	EntityID string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for entity %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entityID string, err error) *EntityError {
	return &EntityError{Op: op, EntityID: entityID, Err: err}
}

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op     string
	RunID  string
	NodeID string
	Err    error
}

func (e *RunError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s operation failed for node %s in run %s: %v", e.Op, e.NodeID, e.RunID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsVersionNotFound checks if an error indicates a version was not found.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsNoCurrentVersion checks if an error indicates an absent current version.
func IsNoCurrentVersion(err error) bool {
	return errors.Is(err, ErrNoCurrentVersion)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsEntityNotFound checks if an error indicates an entity was not found.
func IsEntityNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsPositionConflict checks if an error indicates a lost position CAS race.
func IsPositionConflict(err error) bool {
	return errors.Is(err, ErrPositionConflict)
}

// IsNodeStateConflict checks if an error indicates a lost node-state
// transition race.
func IsNodeStateConflict(err error) bool {
	return errors.Is(err, ErrNodeStateConflict)
}
