package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a build failure by the phase that produced it.
type ErrorKind string

const (
	// ErrorKindConfig indicates an invalid graph or option set. Raised
	// before any rule is dispatched.
	ErrorKindConfig ErrorKind = "config"

	// ErrorKindInfeasible indicates staleness could not be determined for a
	// rule: a required input is missing or was left by a failed run.
	ErrorKindInfeasible ErrorKind = "infeasible"

	// ErrorKindPreprocess indicates the pre-execution phase failed.
	ErrorKindPreprocess ErrorKind = "preprocess"

	// ErrorKindExecution indicates the rule's action returned an error or
	// panicked.
	ErrorKindExecution ErrorKind = "execution"

	// ErrorKindPostprocess indicates the action reported success but
	// finalization failed, for example a declared output is missing.
	ErrorKindPostprocess ErrorKind = "postprocess"

	// ErrorKindFatal indicates a failure of the build machinery itself, not
	// of a rule: a tampered memo record, a broken worker transport, or an
	// observer panic. Fatal errors abort the run and escape Make.
	ErrorKindFatal ErrorKind = "fatal"
)

// BuildError is a classified build failure with the rule it belongs to.
type BuildError struct {
	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Rule is the name of the rule that failed, if the failure is
	// attributable to one.
	Rule string `json:"rule,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("[%s] %s (rule=%s): %s", e.Kind, e.Message, e.Rule, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *BuildError) Unwrap() error {
	return e.Err
}

func (e *BuildError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *BuildError) Is(target error) bool {
	t, ok := target.(*BuildError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, err error) *BuildError {
	return &BuildError{Kind: ErrorKindConfig, Message: message, Err: err}
}

// NewFatalError creates a fatal error.
func NewFatalError(message string, err error) *BuildError {
	return &BuildError{Kind: ErrorKindFatal, Message: message, Err: err}
}

// newRuleError creates a rule-scoped error of the given kind.
func newRuleError(kind ErrorKind, ruleName, message string, err error) *BuildError {
	return &BuildError{Kind: kind, Message: message, Rule: ruleName, Err: err}
}

// WithRule adds rule context to an error.
func (e *BuildError) WithRule(name string) *BuildError {
	e.Rule = name
	return e
}

// IsFatal returns true if the error aborts the whole run.
func IsFatal(err error) bool {
	var e *BuildError
	if errors.As(err, &e) {
		return e.Kind == ErrorKindFatal
	}
	return false
}
