// Package errs defines the closed error taxonomy that crosses every
// component boundary in CADcore. Handlers never leak internal error types
// past this package; they translate at the boundary, as the teacher's
// tools translate SDK errors into mcp.RPCError at the registry boundary.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable wire-level error code (spec.md §6).
type Code string

const (
	ParseError         Code = "ParseError"
	MethodNotFound     Code = "MethodNotFound"
	InvalidParameter    Code = "InvalidParameter"
	MissingParameter   Code = "MissingParameter"
	EntityNotFound     Code = "EntityNotFound"
	InvalidGeometry    Code = "InvalidGeometry"
	InvalidSketch      Code = "InvalidSketch"
	TopologyError      Code = "TopologyError"
	OperationInvalid   Code = "OperationInvalid"
	ConstraintConflict Code = "ConstraintConflict"
	CircularDependency Code = "CircularDependency"
	WorkspaceConflict  Code = "WorkspaceConflict"
	RoleViolation      Code = "RoleViolation"
	FileNotFound       Code = "FileNotFound"
	UnsupportedFormat  Code = "UnsupportedFormat"
	ImportFailed       Code = "ImportFailed"
	Timeout            Code = "Timeout"
	GeometryEngineError Code = "GeometryEngineError"
)

// Kind is the structured error value handlers return and the dispatcher
// serializes into the response's error object.
type Kind struct {
	Code           Code   `json:"code"`
	Message        string `json:"message"`
	Field          string `json:"field,omitempty"`
	ProvidedValue  any    `json:"provided_value,omitempty"`
	AcceptedRange  string `json:"accepted_range,omitempty"`
	Suggestion     string `json:"suggestion,omitempty"`
	Recoverable    bool   `json:"recoverable"`
	ConflictSet    []string `json:"conflict_set,omitempty"`
}

func (k *Kind) Error() string {
	if k == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", k.Code, k.Message)
}

// New builds a non-recoverable Kind with just a code and message.
func New(code Code, format string, args ...any) *Kind {
	return &Kind{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Recoverable builds a Kind the caller can plausibly fix and resubmit.
func Recoverable(code Code, field, suggestion, acceptedRange string, provided any, format string, args ...any) *Kind {
	return &Kind{
		Code:          code,
		Message:       fmt.Sprintf(format, args...),
		Field:         field,
		ProvidedValue: provided,
		AcceptedRange: acceptedRange,
		Suggestion:    suggestion,
		Recoverable:   true,
	}
}

// Conflict builds a ConstraintConflict/WorkspaceConflict Kind carrying the
// minimal offending set.
func Conflict(code Code, conflictSet []string, format string, args ...any) *Kind {
	return &Kind{
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
		ConflictSet: conflictSet,
	}
}

// Wrap maps an unclassified internal error to GeometryEngineError, the
// catch-all the dispatcher uses for uncaught kernel-level failures
// (spec.md §4.6). Context expiry maps to Timeout, since a handler whose
// wall-clock budget ran out is a caller-retryable condition, not a kernel
// fault.
func Wrap(err error) *Kind {
	if err == nil {
		return nil
	}
	if k, ok := err.(*Kind); ok {
		return k
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Kind{Code: Timeout, Message: err.Error(), Recoverable: true, Suggestion: "retry, or split the operation into smaller steps"}
	}
	return &Kind{Code: GeometryEngineError, Message: err.Error()}
}
