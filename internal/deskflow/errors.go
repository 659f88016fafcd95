package deskflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by conditional inserts that found an existing row.
	ErrDuplicate = errors.New("already exists")
	// ErrConcurrencyConflict is returned when an optimistic-lock check fails.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrActionTimeout is recorded when an action exceeds its timeout.
	ErrActionTimeout = errors.New("Timeout")
)

// Problem is one offending element of a rejected definition.
type Problem struct {
	NodeID  string `json:"node_id,omitempty"`
	Edge    string `json:"edge,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	var where []string
	if p.NodeID != "" {
		where = append(where, "node "+p.NodeID)
	}
	if p.Edge != "" {
		where = append(where, "edge "+p.Edge)
	}
	if p.RuleID != "" {
		where = append(where, "rule "+p.RuleID)
	}
	if p.Path != "" {
		where = append(where, p.Path)
	}
	if len(where) == 0 {
		return p.Message
	}
	return strings.Join(where, " ") + ": " + p.Message
}

// ValidationError rejects a malformed workflow graph or condition tree at
// write time. It never reaches execution.
type ValidationError struct {
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NodeIDs returns the distinct offending node ids.
func (e *ValidationError) NodeIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, p := range e.Problems {
		if p.NodeID != "" && !seen[p.NodeID] {
			seen[p.NodeID] = true
			ids = append(ids, p.NodeID)
		}
	}
	return ids
}

// Validation returns a *ValidationError for problems, or nil if empty.
func Validation(problems []Problem) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// RuleError reports a single rule that could not be evaluated. The rule is
// skipped; evaluation of other rules continues.
type RuleError struct {
	RuleID string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// ActionError reports a failed action invocation.
type ActionError struct {
	NodeID string
	Action ActionKind
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s (%s): %v", e.NodeID, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure. It is fatal to the current
// evaluation and nothing after it is assumed committed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStore wraps err as a StoreError unless it is nil, already a
// StoreError, or one of the domain sentinels callers branch on.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is (or wraps) a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
