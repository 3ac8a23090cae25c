// Package errors provides structured errors for trialflow.
// Every error carries a code so callers can tell fatal conditions
// (decode failures in strict mode, configuration errors) from the
// per-trial outcomes the engine only reports.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeDecode Code = "E101"
	CodeInput  Code = "E102"

	// Protocol errors (2xx)
	CodeConfig Code = "E201"

	// Warnings (3xx)
	CodeRepairIncomplete Code = "W301"

	// Per-trial outcomes (4xx), reported, never returned as fatal
	CodeTrialSkipped  Code = "I401"
	CodePhaseNotFound Code = "I402"

	// Output errors (5xx)
	CodeWrite Code = "E501"

	CodeContextCanceled Code = "E601"

	CodeUnknown Code = "E999"
)

// String returns a readable name for the code.
func (c Code) String() string {
	switch c {
	case CodeDecode:
		return "DecodeError"
	case CodeInput:
		return "InputError"
	case CodeConfig:
		return "ConfigurationError"
	case CodeRepairIncomplete:
		return "RepairIncompleteWarning"
	case CodeTrialSkipped:
		return "TrialSkipped"
	case CodePhaseNotFound:
		return "PhaseNotFound"
	case CodeWrite:
		return "WriteError"
	case CodeContextCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Error is the base error type for all trialflow errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are sorted so the
// message is stable between runs.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", string(e.Code), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// Decode creates a DecodeError for the marker at seq.
func Decode(seq int, cause error) *Error {
	return Wrap(cause, CodeDecode, "marker payload could not be decoded").
		WithContext("marker", seq)
}

// Config creates a ConfigurationError.
func Config(format string, args ...interface{}) *Error {
	e := Newf(CodeConfig, format, args...)
	e.StackTrace = captureStack(2)
	return e
}

// UnmappedCode reports an enum code that has no label in the protocol.
func UnmappedCode(enum string, code interface{}) *Error {
	return New(CodeConfig, "unexpected protocol value").
		WithContext("enum", enum).
		WithContext("code", code)
}

// RepairIncomplete reports a stream that ended with a pending duplicate.
func RepairIncomplete(seq int) *Error {
	return New(CodeRepairIncomplete, "stream ended while a terminal record was pending").
		WithContext("marker", seq)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *Error {
	return Wrap(cause, CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsFatal reports whether err should stop a run.
// Warnings and per-trial outcomes never are.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case CodeRepairIncomplete, CodeTrialSkipped, CodePhaseNotFound:
		return false
	default:
		return true
	}
}

// As is errors.As, re-exported so callers need a single import.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
