package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentcad/cadcore/internal/model"
)

// NewEntityID mints an id of the form "{workspace_id}:{kind}_{nonce}"
// (spec.md §3). The nonce is the first 32 bits of a UUIDv4, hex-encoded --
// short enough to stay readable in logs and tool output while keeping
// collisions implausible within one workspace's lifetime.
func NewEntityID(workspaceID string, kind model.Kind) string {
	u := uuid.New()
	nonce := fmt.Sprintf("%x", u[:4])
	return fmt.Sprintf("%s:%s_%s", workspaceID, kind, nonce)
}

// NewWorkspaceID mints a short, readable branch id.
func NewWorkspaceID(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "branch"
	}
	u := uuid.New()
	return fmt.Sprintf("%s-%x", name, u[:3])
}

// NewConstraintID mints an id namespaced to its workspace.
func NewConstraintID(workspaceID string) string {
	u := uuid.New()
	return fmt.Sprintf("%s:constraint_%x", workspaceID, u[:4])
}

// SplitEntityID returns the workspace id an entity id was minted in
// (its *namespace*, not necessarily where it is currently visible from via
// copy-on-write inheritance).
func SplitEntityID(id string) (workspace, rest string, ok bool) {
	i := strings.IndexByte(id, ':')
	if i < 0 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}
