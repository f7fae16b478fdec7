package dispatch

import (
	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/session"
)

// checkRole enforces the session's RoleRuleset on every method, read-only
// and mutating alike (spec.md §4.6 step 3: a method absent from the
// allow-list under a default-deny policy, or named in the deny-list, is
// refused before any state is touched). It generalizes the teacher's
// guards.Runner.
func checkRole(m Method, sess *session.Session) *errs.Kind {
	if sess.Role.Allows(m.Name) {
		return nil
	}
	if sess.Role.Denies(m.Name) {
		return errs.New(errs.RoleViolation, "agent %s's role explicitly denies method %s", sess.AgentID, m.Name)
	}
	return errs.New(errs.RoleViolation, "agent %s's role does not permit method %s", sess.AgentID, m.Name)
}
