package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// DispatchError is the interface implemented by all errors that reach a call site.
type DispatchError interface {
	error
	// Kind names the error, e.g. "NoApplicableMethod", "TooManyArguments".
	Kind() string
	// Message returns the specific error message without the kind prefix.
	Message() string
	Unwrap() error // For error wrapping support (errors.Is/As)
}

// Error kinds.
const (
	KindNoApplicableMethod    = "NoApplicableMethod"
	KindTooManyArguments      = "TooManyArguments"
	KindUnusedArgument        = "UnusedArgument"
	KindAmbiguousArgumentName = "AmbiguousArgumentName"
	KindFormalMatchedMultiple = "FormalMatchedMultiple"
	KindZeroLengthName        = "ZeroLengthName"
)

// --- Concrete Error Types ---

// NoApplicableMethodError is returned when neither the class chain nor the
// default method resolves for a generic.
type NoApplicableMethodError struct {
	Generic string
	Chain   []string
	Cause   error // Underlying cause, if any
}

func (e *NoApplicableMethodError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind(), e.Message())
}
func (e *NoApplicableMethodError) Kind() string { return KindNoApplicableMethod }
func (e *NoApplicableMethodError) Message() string {
	return fmt.Sprintf("no applicable method for '%s' applied to an object of class %s", e.Generic, quoteChain(e.Chain))
}
func (e *NoApplicableMethodError) Unwrap() error { return e.Cause }
func (e *NoApplicableMethodError) CausedBy(cause error) *NoApplicableMethodError {
	e.Cause = cause
	return e
}

// TooManyArgumentsError reports a positional argument with no formal to land on.
type TooManyArgumentsError struct {
	Position int // 0-based index of the first surplus argument after flattening
	Supplied int
	Formals  int
	Cause    error
}

func (e *TooManyArgumentsError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind(), e.Message())
}
func (e *TooManyArgumentsError) Kind() string { return KindTooManyArguments }
func (e *TooManyArgumentsError) Message() string {
	return fmt.Sprintf("unused argument at position %d (%d supplied, %d formals)", e.Position+1, e.Supplied, e.Formals)
}
func (e *TooManyArgumentsError) Unwrap() error { return e.Cause }
func (e *TooManyArgumentsError) CausedBy(cause error) *TooManyArgumentsError {
	e.Cause = cause
	return e
}

// UnusedArgumentError reports a named argument that matched no formal and had
// no variadic formal to fall into.
type UnusedArgumentError struct {
	Name     string
	Position int
	Cause    error
}

func (e *UnusedArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind(), e.Message())
}
func (e *UnusedArgumentError) Kind() string { return KindUnusedArgument }
func (e *UnusedArgumentError) Message() string {
	return fmt.Sprintf("unused argument (%s) at position %d", e.Name, e.Position+1)
}
func (e *UnusedArgumentError) Unwrap() error { return e.Cause }
func (e *UnusedArgumentError) CausedBy(cause error) *UnusedArgumentError {
	e.Cause = cause
	return e
}

// AmbiguousArgumentNameError reports a partial name matching several formals.
type AmbiguousArgumentNameError struct {
	Name       string
	Position   int
	Candidates []string
	Cause      error
}

func (e *AmbiguousArgumentNameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind(), e.Message())
}
func (e *AmbiguousArgumentNameError) Kind() string { return KindAmbiguousArgumentName }
func (e *AmbiguousArgumentNameError) Message() string {
	return fmt.Sprintf("argument %d (%s) matches multiple formal arguments: %s", e.Position+1, e.Name, strings.Join(e.Candidates, ", "))
}
func (e *AmbiguousArgumentNameError) Unwrap() error { return e.Cause }
func (e *AmbiguousArgumentNameError) CausedBy(cause error) *AmbiguousArgumentNameError {
	e.Cause = cause
	return e
}

// FormalMatchedMultipleError reports two supplied names bound to the same formal.
type FormalMatchedMultipleError struct {
	Formal   string
	Position int
	Cause    error
}

func (e *FormalMatchedMultipleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind(), e.Message())
}
func (e *FormalMatchedMultipleError) Kind() string { return KindFormalMatchedMultiple }
func (e *FormalMatchedMultipleError) Message() string {
	return fmt.Sprintf("formal argument '%s' matched by multiple actual arguments (again at position %d)", e.Formal, e.Position+1)
}
func (e *FormalMatchedMultipleError) Unwrap() error { return e.Cause }
func (e *FormalMatchedMultipleError) CausedBy(cause error) *FormalMatchedMultipleError {
	e.Cause = cause
	return e
}

// ZeroLengthNameError is returned when building attributes from pairs that
// carry an empty name.
type ZeroLengthNameError struct {
	Index int
	Cause error
}

func (e *ZeroLengthNameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind(), e.Message())
}
func (e *ZeroLengthNameError) Kind() string { return KindZeroLengthName }
func (e *ZeroLengthNameError) Message() string {
	return fmt.Sprintf("attempt to use zero-length variable name (element %d)", e.Index+1)
}
func (e *ZeroLengthNameError) Unwrap() error { return e.Cause }
func (e *ZeroLengthNameError) CausedBy(cause error) *ZeroLengthNameError {
	e.Cause = cause
	return e
}

// --- Helpers ---

// KindOf returns the kind of err if it is (or wraps) a DispatchError, and ""
// otherwise.
func KindOf(err error) string {
	var de DispatchError
	if stderrors.As(err, &de) {
		return de.Kind()
	}
	return ""
}

// IsArgumentError reports whether err is one of the argument-matching kinds.
func IsArgumentError(err error) bool {
	switch KindOf(err) {
	case KindTooManyArguments, KindUnusedArgument, KindAmbiguousArgumentName, KindFormalMatchedMultiple:
		return true
	}
	return false
}

// IsNoApplicableMethod reports whether err is a dispatch-resolution failure.
func IsNoApplicableMethod(err error) bool {
	var nam *NoApplicableMethodError
	return stderrors.As(err, &nam)
}

func quoteChain(chain []string) string {
	if len(chain) == 0 {
		return "c()"
	}
	quoted := make([]string, len(chain))
	for i, c := range chain {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return "c(" + strings.Join(quoted, ", ") + ")"
}

// --- Error Reporting ---

// DisplayErrors prints errors to w, one per line, highlighting the kind.
// context names the call that failed, e.g. "print(x)".
func DisplayErrors(w io.Writer, context string, errs []error) {
	if len(errs) == 0 {
		return
	}
	kindColor := color.New(color.FgRed, color.Bold)
	ctxColor := color.New(color.Faint)
	for _, err := range errs {
		kind := KindOf(err)
		msg := err.Error()
		var de DispatchError
		if stderrors.As(err, &de) {
			msg = de.Message()
		}
		if kind == "" {
			kind = "Error"
		}
		kindColor.Fprintf(w, "%s", kind)
		fmt.Fprintf(w, ": %s\n", msg)
		if context != "" {
			ctxColor.Fprintf(w, "  in %s\n", context)
		}
	}
}
