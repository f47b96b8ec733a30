package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a compilation failure. Every kind is recoverable by
// the author.
type ErrorKind string

const (
	ErrorKindCycle          ErrorKind = "cycle"
	ErrorKindMissingInput   ErrorKind = "missing_input"
	ErrorKindInvalidWorker  ErrorKind = "invalid_worker"
	ErrorKindInvalidMapping ErrorKind = "invalid_mapping"
	ErrorKindInvalidEdge    ErrorKind = "invalid_edge"
)

// ValidationError is one structured compilation failure with enough context
// for the author to locate and fix it.
type ValidationError struct {
	Kind    ErrorKind `json:"kind"`
	NodeID  string    `json:"node_id,omitempty"`
	EdgeID  string    `json:"edge_id,omitempty"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

func (e ValidationError) Error() string {
	parts := []string{string(e.Kind)}
	if e.NodeID != "" {
		parts = append(parts, "node "+e.NodeID)
	}

	if e.EdgeID != "" {
		parts = append(parts, "edge "+e.EdgeID)
	}

	if e.Field != "" {
		parts = append(parts, "field "+e.Field)
	}

	return fmt.Sprintf("%s: %s", strings.Join(parts, ", "), e.Message)
}

// ValidationErrors is the full failure set of one compilation pass. Checks
// are never short-circuited, so an author can fix every issue in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}

	return fmt.Sprintf("compilation failed with %d error(s): %s", len(e), strings.Join(msgs, "; "))
}

// ByKind filters the errors to one kind.
func (e ValidationErrors) ByKind(kind ErrorKind) ValidationErrors {
	var filtered ValidationErrors

	for _, err := range e {
		if err.Kind == kind {
			filtered = append(filtered, err)
		}
	}

	return filtered
}

// AsValidationErrors unwraps err into ValidationErrors if one is anywhere
// in its chain.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var verrs ValidationErrors
	ok := errors.As(err, &verrs)

	return verrs, ok
}
