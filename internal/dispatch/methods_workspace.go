package dispatch

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
	"github.com/agentcad/cadcore/internal/session"
	"github.com/agentcad/cadcore/internal/store"
)

// WorkspaceMethods implements workspace.create/switch/status/list/merge/
// resolve_conflict (spec.md §6).
func WorkspaceMethods(d *Deps) []Method {
	return []Method{
		{
			Name: "workspace.create",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					ParentWorkspaceID string `json:"parent_workspace_id"`
					Name              string `json:"name"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				parent := p.ParentWorkspaceID
				if parent == "" {
					parent = model.RootWorkspaceID
				}
				ws, kind := d.Workspaces.Create(parent, sess.AgentID, p.Name)
				if kind != nil {
					return nil, kind
				}
				return ws, nil
			},
		},
		{
			Name: "workspace.switch",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id" validate:"required"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				if _, err := d.Workspaces.Get(p.WorkspaceID); err != nil {
					return nil, errs.New(errs.InvalidParameter, "workspace %s does not exist", p.WorkspaceID)
				}
				sess.SwitchWorkspace(p.WorkspaceID)
				return map[string]string{"active_workspace_id": p.WorkspaceID}, nil
			},
		},
		{
			Name: "workspace.status",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
				}
				_ = ParseParams(raw, &p)
				ws := workspaceOf(sess, p.WorkspaceID)
				w, err := d.Workspaces.Get(ws)
				if err != nil {
					return nil, errs.New(errs.InvalidParameter, "workspace %s does not exist", ws)
				}
				return w, nil
			},
		},
		{
			Name: "workspace.list",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				list, err := d.Workspaces.List()
				if err != nil {
					return nil, errs.Wrap(err)
				}
				return list, nil
			},
		},
		{
			Name: "workspace.delete",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id" validate:"required"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				if kind := d.Workspaces.Delete(p.WorkspaceID); kind != nil {
					return nil, kind
				}
				if sess.Workspace() == p.WorkspaceID {
					sess.SwitchWorkspace(model.RootWorkspaceID)
				}
				return map[string]bool{"deleted": true}, nil
			},
		},
		{
			Name: "workspace.merge",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					SourceWorkspaceID string `json:"source_workspace_id" validate:"required"`
					TargetWorkspaceID string `json:"target_workspace_id" validate:"required"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				plan, kind := d.Workspaces.Merge(p.SourceWorkspaceID, p.TargetWorkspaceID)
				if kind != nil {
					return nil, kind
				}
				if len(plan.Conflicts) > 0 {
					conflictIDs := make([]string, len(plan.Conflicts))
					for i, c := range plan.Conflicts {
						conflictIDs[i] = c.EntityID
					}
					return map[string]interface{}{"status": "conflicted", "conflicts": plan.Conflicts}, errs.Conflict(
						errs.WorkspaceConflict, conflictIDs, "merge of %s into %s has %d conflicting entities", p.SourceWorkspaceID, p.TargetWorkspaceID, len(plan.Conflicts))
				}
				outputs, _ := json.Marshal(map[string]interface{}{"changes": len(plan.Changes)})
				_, _ = d.OpLog.Append(p.TargetWorkspaceID, sess.AgentID, "workspace.merge", raw, outputs, model.StatusSuccess, "", 0, nil)
				return map[string]interface{}{"status": "merged", "changes": len(plan.Changes)}, nil
			},
		},
		{
			Name: "workspace.resolve_conflict",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID       string          `json:"workspace_id" validate:"required"`
					SourceWorkspaceID string          `json:"source_workspace_id" validate:"required"`
					EntityID          string          `json:"entity_id" validate:"required"`
					Strategy          string          `json:"strategy" validate:"required,oneof=keep_source keep_target manual_merge payload"`
					Payload           json.RawMessage `json:"payload"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				strategy := store.ResolveStrategy(p.Strategy)
				if (strategy == store.ResolveManualMerge || strategy == store.ResolvePayload) && len(p.Payload) == 0 {
					return nil, errs.New(errs.MissingParameter, "strategy %q requires a payload", p.Strategy)
				}
				if kind := d.Workspaces.ResolveConflict(p.WorkspaceID, p.SourceWorkspaceID, p.EntityID, strategy, p.Payload); kind != nil {
					return nil, kind
				}
				return map[string]bool{"resolved": true}, nil
			},
		},
	}
}
