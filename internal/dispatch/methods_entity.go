package dispatch

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
	"github.com/agentcad/cadcore/internal/session"
	"github.com/agentcad/cadcore/internal/store"
)

func workspaceOf(sess *session.Session, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return sess.Workspace()
}

type vec3Param struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v vec3Param) toModel() model.Vec3 { return model.Vec3{X: v.X, Y: v.Y, Z: v.Z} }

type createPointParams struct {
	WorkspaceID string    `json:"workspace_id"`
	Coord       vec3Param `json:"coord"`
	Is3D        bool      `json:"is_3d"`
}

type createLineParams struct {
	WorkspaceID string    `json:"workspace_id"`
	Start       vec3Param `json:"start"`
	End         vec3Param `json:"end"`
	Is3D        bool      `json:"is_3d"`
}

type createCircleParams struct {
	WorkspaceID string    `json:"workspace_id"`
	Center      vec3Param `json:"center"`
	Radius      float64   `json:"radius" validate:"gt=0"`
	Normal      vec3Param `json:"normal"`
	IsArc       bool      `json:"is_arc"`
	StartAngle  float64   `json:"start_angle"`
	EndAngle    float64   `json:"end_angle"`
}

type createSketchParams struct {
	WorkspaceID string   `json:"workspace_id"`
	Members     []string `json:"members" validate:"required,min=1"`
	Closed      bool     `json:"closed"`
}

func appendCreateOp(d *Deps, sess *session.Session, workspace, opType string, entity *model.Entity, inputs []byte) {
	outputs, _ := json.Marshal(map[string]string{"entity_id": entity.ID})
	undo := store.UndoCreate(entity.ID)
	_, _ = d.OpLog.Append(workspace, sess.AgentID, opType, inputs, outputs, model.StatusSuccess, "", 0, &undo)
	_ = d.Workspaces.MarkModified(workspace)
	if d.Metrics != nil {
		d.Metrics.WorkspaceEntityCount.WithLabelValues(workspace).Inc()
	}
}

func entityResultOf(e *model.Entity) map[string]interface{} {
	return map[string]interface{}{
		"entity_id":    e.ID,
		"kind":         string(e.Kind),
		"workspace_id": e.WorkspaceID,
		"is_valid":     e.IsValid,
	}
}

// entityDetail is the full wire shape of one entity, with kind-specific
// properties in the same tagged envelope the store persists.
func entityDetail(e *model.Entity) map[string]interface{} {
	out := map[string]interface{}{
		"entity_id":        e.ID,
		"entity_type":      string(e.Kind),
		"workspace_id":     e.WorkspaceID,
		"parents":          e.Parents,
		"children":         e.Children,
		"bounding_box":     e.BBox,
		"created_at":       e.CreatedAt,
		"modified_at":      e.ModifiedAt,
		"created_by_agent": e.CreatedByAgent,
		"is_valid":         e.IsValid,
	}
	if len(e.ValidationCodes) > 0 {
		out["validation_codes"] = e.ValidationCodes
	}
	if props, err := store.PropsJSON(e.Properties); err == nil {
		out["properties"] = json.RawMessage(props)
	}
	if !e.Cached.Stale {
		out["volume"] = e.Cached.Volume
		out["surface_area"] = e.Cached.SurfaceArea
		out["length"] = e.Cached.Length
	}
	if p, ok := e.Properties.(*model.PointProps); ok {
		out["coordinates"] = []float64{p.Coord.X, p.Coord.Y, p.Coord.Z}
	}
	return out
}

// EntityMethods implements entity.create.*, entity.query, entity.list and
// entity.delete (spec.md §6).
func EntityMethods(d *Deps) []Method {
	return []Method{
		{
			Name: "entity.create.point",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p createPointParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				k := model.KindPoint3D
				if !p.Is3D {
					k = model.KindPoint2D
				}
				e, kind := d.Entities.Create(ws, sess.AgentID, k, &model.PointProps{K: k, Coord: p.Coord.toModel()}, nil)
				if kind != nil {
					return nil, kind
				}
				appendCreateOp(d, sess, ws, "entity.create.point", e, raw)
				return entityResultOf(e), nil
			},
		},
		{
			Name: "entity.create.line",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p createLineParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				k := model.KindLine3D
				if !p.Is3D {
					k = model.KindLine2D
				}
				e, kind := d.Entities.Create(ws, sess.AgentID, k, &model.LineProps{K: k, Start: p.Start.toModel(), End: p.End.toModel()}, nil)
				if kind != nil {
					return nil, kind
				}
				appendCreateOp(d, sess, ws, "entity.create.line", e, raw)
				return entityResultOf(e), nil
			},
		},
		{
			Name: "entity.create.circle",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p createCircleParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				k := model.KindCircle
				if p.IsArc {
					k = model.KindArc
				}
				normal := p.Normal.toModel()
				if normal == (model.Vec3{}) {
					normal = model.Vec3{Z: 1}
				}
				props := &model.CircleProps{
					K: k, Center: p.Center.toModel(), Radius: p.Radius, Normal: normal,
					IsArc: p.IsArc, StartAngle: p.StartAngle, EndAngle: p.EndAngle,
				}
				e, kind := d.Entities.Create(ws, sess.AgentID, k, props, nil)
				if kind != nil {
					return nil, kind
				}
				appendCreateOp(d, sess, ws, "entity.create.circle", e, raw)
				return entityResultOf(e), nil
			},
		},
		{
			Name: "entity.create.sketch",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p createSketchParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				e, kind := d.Entities.Create(ws, sess.AgentID, model.KindSketch,
					&model.WireProps{K: model.KindSketch, Members: p.Members, Closed: p.Closed}, p.Members)
				if kind != nil {
					return nil, kind
				}
				appendCreateOp(d, sess, ws, "entity.create.sketch", e, raw)
				return entityResultOf(e), nil
			},
		},
		{
			Name: "entity.query",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
					EntityID    string `json:"entity_id" validate:"required"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				e, err := d.Entities.GetVisible(ws, p.EntityID)
				if errors.Is(err, store.ErrNotFound) {
					return nil, errs.New(errs.EntityNotFound, "entity %s not found in workspace %s", p.EntityID, ws)
				}
				if err != nil {
					return nil, errs.Wrap(err)
				}
				return entityDetail(e), nil
			},
		},
		{
			Name: "entity.modify",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string          `json:"workspace_id"`
					EntityID    string          `json:"entity_id" validate:"required"`
					Properties  json.RawMessage `json:"properties" validate:"required"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				props, perr := store.PropsFromJSON(p.Properties)
				if perr != nil {
					return nil, errs.New(errs.InvalidParameter, "decoding properties: %v", perr)
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				before, err := d.Entities.GetVisible(ws, p.EntityID)
				if errors.Is(err, store.ErrNotFound) {
					return nil, errs.New(errs.EntityNotFound, "entity %s not found in workspace %s", p.EntityID, ws)
				}
				if err != nil {
					return nil, errs.Wrap(err)
				}
				if props.Kind() != before.Kind {
					return nil, errs.New(errs.InvalidParameter, "properties are for kind %s but entity %s is a %s", props.Kind(), p.EntityID, before.Kind)
				}
				e, materialized, kind := d.Entities.ModifyIn(ws, p.EntityID, func(target *model.Entity) error {
					target.Properties = props
					return nil
				})
				if kind != nil {
					return nil, kind
				}
				undo := store.UndoModify(before)
				if materialized {
					undo = store.UndoCreate(e.ID)
				}
				_, _ = d.OpLog.Append(ws, sess.AgentID, "entity.modify", raw, nil, model.StatusSuccess, "", 0, &undo)
				_ = d.Workspaces.MarkModified(ws)
				return entityResultOf(e), nil
			},
		},
		{
			Name: "entity.list",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
					Kind        string `json:"kind"`
					Limit       int    `json:"limit"`
					Offset      int    `json:"offset"`
				}
				_ = ParseParams(raw, &p) // entity.list's params are all optional; ignore a MissingParameter on empty params.
				ws := workspaceOf(sess, p.WorkspaceID)
				visible, err := d.Workspaces.ResolveVisible(ws)
				if err != nil {
					return nil, errs.Wrap(err)
				}
				out := make([]map[string]interface{}, 0, len(visible))
				for _, e := range visible {
					if p.Kind != "" && string(e.Kind) != p.Kind {
						continue
					}
					out = append(out, entityDetail(e))
				}
				return out, nil
			},
		},
		{
			Name: "entity.delete",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
					EntityID    string `json:"entity_id" validate:"required"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				before, tombstone, kind := d.Entities.DeleteIn(ws, p.EntityID)
				if kind != nil {
					return nil, kind
				}
				// Undoing an owned delete restores the row; undoing a
				// tombstoned (inherited) delete removes the tombstone.
				undo := store.UndoDelete(before)
				if tombstone != nil {
					undo = store.UndoCreate(tombstone.ID)
				}
				_, _ = d.OpLog.Append(ws, sess.AgentID, "entity.delete", raw, nil, model.StatusSuccess, "", 0, &undo)
				_ = d.Workspaces.MarkModified(ws)
				if d.Metrics != nil {
					d.Metrics.WorkspaceEntityCount.WithLabelValues(ws).Dec()
				}
				return map[string]bool{"deleted": true}, nil
			},
		},
	}
}
