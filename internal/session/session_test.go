package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleRulesetDenyTakesPrecedenceOverAllow(t *testing.T) {
	r := RoleRuleset{
		Allowed: []string{"entity.create.point", "solid.extrude"},
		Denied:  []string{"solid.extrude"},
		Default: PolicyDeny,
	}

	assert.True(t, r.Allows("entity.create.point"))
	assert.False(t, r.Allows("solid.extrude"), "an explicit deny must override the allow list")
	assert.True(t, r.Denies("solid.extrude"))
	assert.False(t, r.Allows("workspace.merge"), "default deny applies to unlisted methods")
}

func TestRoleRulesetDefaultAllowPermitsUnlistedMethods(t *testing.T) {
	r := RoleRuleset{Denied: []string{"entity.delete"}, Default: PolicyAllow}

	assert.True(t, r.Allows("entity.create.point"))
	assert.False(t, r.Allows("entity.delete"))
}

func TestRecentErrorsRingBufferKeepsOnlyTheTail(t *testing.T) {
	s := New("s1", "agent-1", "root", RoleRuleset{Default: PolicyAllow})
	for i := 0; i < maxRecentErrors+7; i++ {
		s.RecordError("entity.create.point", "InvalidParameter", fmt.Sprintf("boom %d", i))
	}

	recent := s.RecentErrors()
	assert.Len(t, recent, maxRecentErrors)
	assert.Equal(t, fmt.Sprintf("boom %d", maxRecentErrors+6), recent[len(recent)-1].Message)
	assert.Equal(t, int64(maxRecentErrors+7), s.ErrorCount)
}

func TestSwitchWorkspace(t *testing.T) {
	s := New("s1", "agent-1", "root", RoleRuleset{Default: PolicyAllow})
	s.SwitchWorkspace("branch-a1b2c3")
	assert.Equal(t, "branch-a1b2c3", s.Workspace())
}
