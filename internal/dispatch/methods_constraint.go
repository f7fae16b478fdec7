package dispatch

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
	"github.com/agentcad/cadcore/internal/session"
	"github.com/agentcad/cadcore/internal/store"
)

type applyConstraintParams struct {
	WorkspaceID string   `json:"workspace_id"`
	Type        string   `json:"type" validate:"required"`
	EntityIDs   []string `json:"entity_ids" validate:"required,min=1,max=2"`
	Value       float64  `json:"value"`
	Tolerance   float64  `json:"tolerance"`
}

// ConstraintMethods implements constraint.apply/status/remove (spec.md §6).
func ConstraintMethods(d *Deps) []Method {
	return []Method{
		{
			Name: "constraint.apply",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p applyConstraintParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				c := &model.Constraint{
					ID: store.NewConstraintID(ws), Type: model.ConstraintType(p.Type), WorkspaceID: ws,
					EntityIDs: p.EntityIDs, Value: p.Value, Tolerance: p.Tolerance, Status: model.Pending,
				}
				applied, kind := d.Engine.Apply(ctx, ws, c)
				if kind != nil {
					return nil, kind
				}
				outputs, _ := json.Marshal(map[string]string{"constraint_id": applied.Constraint.ID})
				_, _ = d.OpLog.Append(ws, sess.AgentID, "constraint.apply", raw, outputs, model.StatusSuccess, "", 0, nil)
				_ = d.Workspaces.MarkModified(ws)
				return map[string]interface{}{
					"constraint_id":     applied.Constraint.ID,
					"status":            string(applied.Constraint.Status),
					"residual":          applied.Constraint.Residual,
					"dof_removed":       applied.Constraint.DOF(),
					"dof_remaining":     applied.DOFRemaining,
					"affected_entities": applied.AffectedEntities,
				}, nil
			},
		},
		{
			Name: "constraint.status",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID  string `json:"workspace_id"`
					ConstraintID string `json:"constraint_id" validate:"required"`
					Debug        bool   `json:"debug"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				c, kind := d.Engine.Status(ws, p.ConstraintID)
				if kind != nil {
					return nil, kind
				}
				if !p.Debug {
					return c, nil
				}
				dotGraph, kind := d.Engine.Debug(ws, p.ConstraintID)
				if kind != nil {
					return nil, kind
				}
				return map[string]interface{}{"constraint": c, "debug_dot": dotGraph}, nil
			},
		},
		{
			Name: "constraint.remove",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID  string `json:"workspace_id"`
					ConstraintID string `json:"constraint_id" validate:"required"`
					Replay       bool   `json:"replay"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				if kind := d.Engine.Remove(ctx, ws, p.ConstraintID, p.Replay); kind != nil {
					return nil, kind
				}
				_, _ = d.OpLog.Append(ws, sess.AgentID, "constraint.remove", raw, nil, model.StatusSuccess, "", 0, nil)
				_ = d.Workspaces.MarkModified(ws)
				return map[string]bool{"removed": true}, nil
			},
		},
	}
}
