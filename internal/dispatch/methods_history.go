package dispatch

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/session"
)

// HistoryMethods implements history.list/undo/redo (spec.md §6).
func HistoryMethods(d *Deps) []Method {
	return []Method{
		{
			Name: "history.list",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
					Limit       int    `json:"limit"`
					Offset      int    `json:"offset"`
				}
				_ = ParseParams(raw, &p)
				ws := workspaceOf(sess, p.WorkspaceID)
				ops, err := d.OpLog.List(ws, p.Limit, p.Offset)
				if err != nil {
					return nil, errs.Wrap(err)
				}
				return ops, nil
			},
		},
		{
			Name: "history.undo",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
				}
				_ = ParseParams(raw, &p)
				ws := workspaceOf(sess, p.WorkspaceID)
				op, kind := d.OpLog.Undo(ws)
				if kind != nil {
					return nil, kind
				}
				return op, nil
			},
		},
		{
			Name: "history.redo",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
				}
				_ = ParseParams(raw, &p)
				ws := workspaceOf(sess, p.WorkspaceID)
				op, kind := d.OpLog.Redo(ws)
				if kind != nil {
					return nil, kind
				}
				return op, nil
			},
		},
	}
}
