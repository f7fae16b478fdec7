// Package session holds the ephemeral, in-memory per-connection state
// (spec.md §3): it is never persisted, generalizing the teacher's
// mcp/http.go connection-scoped session struct to the wider field set a
// CAD agent session needs (active workspace, role ruleset, recent errors).
package session

import "sync"

// Policy is the RoleRuleset's default behavior for methods named in
// neither its Allowed nor Denied set.
type Policy string

const (
	PolicyAllow Policy = "allow"
	PolicyDeny  Policy = "deny"
)

// RoleRuleset gates which methods a session's agent role may call,
// generalizing the teacher's guards.Runner allow/deny checks (spec.md
// §4.6).
type RoleRuleset struct {
	Allowed []string
	Denied  []string
	Default Policy
}

// Denies reports whether method is explicitly named in the deny set.
// Explicit denies bind every method, including read-only ones the gate
// would otherwise wave through.
func (r RoleRuleset) Denies(method string) bool {
	for _, m := range r.Denied {
		if m == method {
			return true
		}
	}
	return false
}

// Allows reports whether method is permitted under this ruleset. Denied
// takes precedence over Allowed so an explicit deny can carve an exception
// out of a broad allow list.
func (r RoleRuleset) Allows(method string) bool {
	if r.Denies(method) {
		return false
	}
	for _, m := range r.Allowed {
		if m == method {
			return true
		}
	}
	return r.Default == PolicyAllow
}

// ErrorRecord is one entry in a session's recent-error ring buffer, useful
// for diagnostics without re-deriving state from the operation log.
type ErrorRecord struct {
	Method  string
	Code    string
	Message string
}

const maxRecentErrors = 20

// Session is one connected agent's live state.
type Session struct {
	mu                sync.Mutex
	ID                string
	AgentID           string
	ActiveWorkspaceID string
	Role              RoleRuleset
	RequestCount      int64
	ErrorCount        int64
	recentErrors      []ErrorRecord
}

func New(id, agentID, workspaceID string, role RoleRuleset) *Session {
	return &Session{ID: id, AgentID: agentID, ActiveWorkspaceID: workspaceID, Role: role}
}

func (s *Session) SwitchWorkspace(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ActiveWorkspaceID = workspaceID
}

func (s *Session) Workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ActiveWorkspaceID
}

func (s *Session) RecordRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RequestCount++
}

func (s *Session) RecordError(method, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorCount++
	s.recentErrors = append(s.recentErrors, ErrorRecord{Method: method, Code: code, Message: message})
	if len(s.recentErrors) > maxRecentErrors {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-maxRecentErrors:]
	}
}

func (s *Session) RecentErrors() []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ErrorRecord, len(s.recentErrors))
	copy(out, s.recentErrors)
	return out
}
