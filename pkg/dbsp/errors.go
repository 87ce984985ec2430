package dbsp

import (
	"errors"
	"fmt"
)

var (
	// ErrBuild is the class of errors reported while a circuit is constructed. Circuits failing
	// with ErrBuild never execute.
	ErrBuild = errors.New("invalid circuit")

	// ErrOverDeletion is the class of data-integrity errors raised when a delta removes more
	// copies of a tuple than were ever inserted.
	ErrOverDeletion = errors.New("over-deletion")

	// ErrNonTermination is the class of errors raised when a recursive scope does not reach a
	// fixed point within the configured number of rounds.
	ErrNonTermination = errors.New("fixed point did not converge")
)

// ZSetError is returned by the Z-set layer.
type ZSetError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ZSetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ZSetError) Unwrap() error { return e.Cause }

func newZSetError(message string, cause error) error {
	return &ZSetError{Message: message, Cause: cause}
}

// BuildError reports an invalid circuit.
type BuildError struct {
	// Node is the id of the offending node, if any.
	Node   string
	Reason string
}

// NewBuildError creates a build error for a node.
func NewBuildError(node string, format string, args ...any) error {
	return &BuildError{Node: node, Reason: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("%s: %s", ErrBuild.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: node %s: %s", ErrBuild.Error(), e.Node, e.Reason)
}

// Unwrap makes errors.Is(err, ErrBuild) hold.
func (e *BuildError) Unwrap() error { return ErrBuild }

// OverDeletionError reports a delta that drives the retained weight of a tuple below zero.
type OverDeletionError struct {
	Operator string
	Document Document
	Retained int
	Delta    int
}

// Error implements the error interface.
func (e *OverDeletionError) Error() string {
	return fmt.Sprintf("%s: operator %s: delta weight %d for %v exceeds retained weight %d",
		ErrOverDeletion.Error(), e.Operator, e.Delta, e.Document, e.Retained)
}

// Unwrap makes errors.Is(err, ErrOverDeletion) hold.
func (e *OverDeletionError) Unwrap() error { return ErrOverDeletion }

// NonTerminationError reports a recursive scope that exceeded its round limit.
type NonTerminationError struct {
	Scope  string
	Rounds int
}

// Error implements the error interface.
func (e *NonTerminationError) Error() string {
	return fmt.Sprintf("%s: scope %s: no fixed point after %d rounds",
		ErrNonTermination.Error(), e.Scope, e.Rounds)
}

// Unwrap makes errors.Is(err, ErrNonTermination) hold.
func (e *NonTerminationError) Unwrap() error { return ErrNonTermination }
