// Package dispatch implements the JSON-RPC-over-stdio session loop (spec.md
// §4.6/§6): newline-delimited request/response framing, a method registry
// generalizing the teacher's mcp.Registry, a role-based access gate
// generalizing its guards package, and progress-frame streaming for
// long-running modeling operations.
package dispatch

import (
	"github.com/goccy/go-json"
)

// Request is one newline-delimited JSON-RPC call (spec.md §6).
type Request struct {
	Version string          `json:"version"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response is the matching reply; exactly one of Result/Error is set. ID is
// a pointer so a ParseError reply, which has no request to correlate with,
// serializes as a null id (spec.md §4.6).
type Response struct {
	Version string      `json:"version"`
	ID      *string     `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *WireError  `json:"error,omitempty"`
}

// WireError is the JSON shape of errs.Kind on the wire.
type WireError struct {
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	Field         string   `json:"field,omitempty"`
	ProvidedValue any      `json:"provided_value,omitempty"`
	AcceptedRange string   `json:"accepted_range,omitempty"`
	Suggestion    string   `json:"suggestion,omitempty"`
	Recoverable   bool     `json:"recoverable"`
	ConflictSet   []string `json:"conflict_set,omitempty"`
}

// ProgressFrame is an out-of-band notification streamed before a Response
// for long-running methods (spec.md §6). It shares the request's id so a
// client can correlate frames to the call in flight.
type ProgressFrame struct {
	Version string  `json:"version"`
	ID      string  `json:"id"`
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Frame   bool    `json:"progress"`
}

const wireVersion = "1.0"
