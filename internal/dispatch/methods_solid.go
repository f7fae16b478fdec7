package dispatch

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/model"
	"github.com/agentcad/cadcore/internal/modeling"
	"github.com/agentcad/cadcore/internal/session"
	"github.com/agentcad/cadcore/internal/store"
)

// bridgeProgress forwards the pipeline's progress frames onto the wire
// channel. The returned flush must be called after closing src and before
// the handler returns, so no frame is forwarded after the dispatcher closes
// the wire channel.
func bridgeProgress(src chan modeling.ProgressFrame, dst chan<- ProgressFrame) (flush func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range src {
			dst <- ProgressFrame{Stage: f.Stage, Percent: f.Percent}
		}
	}()
	return func() { <-done }
}

type primitiveParams struct {
	WorkspaceID     string    `json:"workspace_id"`
	Kind            string    `json:"kind" validate:"required,oneof=sphere cylinder cone torus"`
	Center          vec3Param `json:"center"`
	Axis            vec3Param `json:"axis"`
	Radius          float64   `json:"radius" validate:"gt=0"`
	SecondaryRadius float64   `json:"secondary_radius"`
	Height          float64   `json:"height"`
}

type extrudeParams struct {
	WorkspaceID string      `json:"workspace_id"`
	SketchID    string      `json:"sketch_id"`
	Profile     []vec3Param `json:"profile" validate:"required,min=3"`
	PlaneOrigin vec3Param   `json:"plane_origin"`
	PlaneNormal vec3Param   `json:"plane_normal" validate:"required"`
	Distance    float64     `json:"distance" validate:"gt=0"`
}

type revolveParams struct {
	WorkspaceID   string      `json:"workspace_id"`
	SketchID      string      `json:"sketch_id"`
	Profile       []vec3Param `json:"profile" validate:"required,min=3"`
	AxisOrigin    vec3Param   `json:"axis_origin"`
	AxisDirection vec3Param   `json:"axis_direction" validate:"required"`
	Angle         float64     `json:"angle" validate:"gt=0,lte=6.283185307179586"`
}

type loftParams struct {
	WorkspaceID string        `json:"workspace_id"`
	SketchIDs   []string      `json:"sketch_ids"`
	Profiles    [][]vec3Param `json:"profiles" validate:"required,min=2"`
	Solid       bool          `json:"solid"`
	Ruled       bool          `json:"ruled"`
}

type sweepParams struct {
	WorkspaceID string      `json:"workspace_id"`
	SketchID    string      `json:"sketch_id"`
	Profile     []vec3Param `json:"profile" validate:"required,min=3"`
	PlaneNormal vec3Param   `json:"plane_normal" validate:"required"`
	Path        []vec3Param `json:"path" validate:"required,min=2"`
}

type booleanParams struct {
	WorkspaceID string `json:"workspace_id"`
	Op          string `json:"op" validate:"required,oneof=union intersection subtraction"`
	EntityA     string `json:"entity_a" validate:"required"`
	EntityB     string `json:"entity_b" validate:"required"`
}

type patternLinearParams struct {
	WorkspaceID string    `json:"workspace_id"`
	SourceID    string    `json:"source_id" validate:"required"`
	Direction   vec3Param `json:"direction" validate:"required"`
	Spacing     float64   `json:"spacing" validate:"gt=0"`
	Count       int       `json:"count" validate:"gte=1"`
}

type patternCircularParams struct {
	WorkspaceID string    `json:"workspace_id"`
	SourceID    string    `json:"source_id" validate:"required"`
	AxisOrigin  vec3Param `json:"axis_origin"`
	AxisDir     vec3Param `json:"axis_direction" validate:"required"`
	Angle       float64   `json:"angle"`
	Count       int       `json:"count" validate:"gte=1"`
}

type mirrorParams struct {
	WorkspaceID string    `json:"workspace_id"`
	SourceID    string    `json:"source_id" validate:"required"`
	PlaneOrigin vec3Param `json:"plane_origin"`
	PlaneNormal vec3Param `json:"plane_normal" validate:"required"`
}

func profileToModel(pts []vec3Param) []model.Vec3 {
	out := make([]model.Vec3, len(pts))
	for i, p := range pts {
		out[i] = p.toModel()
	}
	return out
}

func logSolidOp(d *Deps, sess *session.Session, ws, opType string, raw json.RawMessage, entityIDs []string) {
	outputs, _ := json.Marshal(map[string]interface{}{"entity_ids": entityIDs})
	parts := make([]store.UndoPayload, len(entityIDs))
	for i, id := range entityIDs {
		parts[i] = store.UndoCreate(id)
	}
	undo := store.UndoComposite(parts...)
	if len(parts) == 1 {
		undo = parts[0]
	}
	_, _ = d.OpLog.Append(ws, sess.AgentID, opType, raw, outputs, model.StatusSuccess, "", 0, &undo)
	_ = d.Workspaces.MarkModified(ws)
}

// SolidMethods implements solid.primitive/extrude/revolve/loft/sweep/
// boolean/pattern_linear/pattern_circular/mirror (spec.md §6).
func SolidMethods(d *Deps) []Method {
	return []Method{
		{
			Name: "solid.primitive",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p primitiveParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				e, kind := d.Pipeline.Primitive(ctx, internalProgress, ws, sess.AgentID, kernel.PrimitiveSpec{
					Kind: model.Kind(p.Kind), Center: p.Center.toModel(), Axis: p.Axis.toModel(),
					Radius: p.Radius, SecondaryRadius: p.SecondaryRadius, Height: p.Height,
				})
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				logSolidOp(d, sess, ws, "solid.primitive", raw, []string{e.ID})
				return entityResultOf(e), nil
			},
		},
		{
			Name: "solid.extrude",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p extrudeParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				e, kind := d.Pipeline.Extrude(ctx, internalProgress, ws, sess.AgentID, p.SketchID, kernel.ExtrudeSpec{
					ProfilePoints: profileToModel(p.Profile), PlaneOrigin: p.PlaneOrigin.toModel(),
					PlaneNormal: p.PlaneNormal.toModel(), Distance: p.Distance,
				})
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				logSolidOp(d, sess, ws, "solid.extrude", raw, []string{e.ID})
				return entityResultOf(e), nil
			},
		},
		{
			Name: "solid.revolve",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p revolveParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				e, kind := d.Pipeline.Revolve(ctx, internalProgress, ws, sess.AgentID, p.SketchID, kernel.RevolveSpec{
					ProfilePoints: profileToModel(p.Profile), AxisOrigin: p.AxisOrigin.toModel(),
					AxisDirection: p.AxisDirection.toModel(), Angle: p.Angle,
				})
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				logSolidOp(d, sess, ws, "solid.revolve", raw, []string{e.ID})
				return entityResultOf(e), nil
			},
		},
		{
			Name: "solid.loft",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p loftParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				profiles := make([][]model.Vec3, len(p.Profiles))
				for i, prof := range p.Profiles {
					profiles[i] = profileToModel(prof)
				}
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				e, kind := d.Pipeline.Loft(ctx, internalProgress, ws, sess.AgentID, p.SketchIDs, kernel.LoftSpec{
					Profiles: profiles, Solid: p.Solid, Ruled: p.Ruled,
				})
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				logSolidOp(d, sess, ws, "solid.loft", raw, []string{e.ID})
				return entityResultOf(e), nil
			},
		},
		{
			Name: "solid.sweep",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p sweepParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				e, kind := d.Pipeline.Sweep(ctx, internalProgress, ws, sess.AgentID, p.SketchID, kernel.SweepSpec{
					ProfilePoints: profileToModel(p.Profile), PlaneNormal: p.PlaneNormal.toModel(), Path: profileToModel(p.Path),
				})
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				logSolidOp(d, sess, ws, "solid.sweep", raw, []string{e.ID})
				return entityResultOf(e), nil
			},
		},
		{
			Name: "solid.boolean",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p booleanParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				e, kind := d.Pipeline.Boolean(ctx, internalProgress, ws, sess.AgentID, kernel.BooleanOp(p.Op), p.EntityA, p.EntityB)
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				logSolidOp(d, sess, ws, "solid.boolean", raw, []string{e.ID})
				return entityResultOf(e), nil
			},
		},
		{
			Name: "solid.pattern_linear",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p patternLinearParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				entities, kind := d.Pipeline.PatternLinear(ctx, internalProgress, ws, sess.AgentID, p.SourceID, p.Direction.toModel(), p.Spacing, p.Count)
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				ids := entityIDs(entities)
				logSolidOp(d, sess, ws, "solid.pattern_linear", raw, ids)
				return map[string]interface{}{"entity_ids": ids}, nil
			},
		},
		{
			Name: "solid.pattern_circular",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p patternCircularParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				entities, kind := d.Pipeline.PatternCircular(ctx, internalProgress, ws, sess.AgentID, p.SourceID, p.AxisOrigin.toModel(), p.AxisDir.toModel(), p.Angle, p.Count)
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				ids := entityIDs(entities)
				logSolidOp(d, sess, ws, "solid.pattern_circular", raw, ids)
				return map[string]interface{}{"entity_ids": ids}, nil
			},
		},
		{
			Name: "solid.mirror",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p mirrorParams
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				internalProgress := make(chan modeling.ProgressFrame, 4)
				flush := bridgeProgress(internalProgress, progress)
				e, kind := d.Pipeline.Mirror(ctx, internalProgress, ws, sess.AgentID, p.SourceID, p.PlaneOrigin.toModel(), p.PlaneNormal.toModel())
				close(internalProgress)
				flush()
				if kind != nil {
					return nil, kind
				}
				logSolidOp(d, sess, ws, "solid.mirror", raw, []string{e.ID})
				return entityResultOf(e), nil
			},
		},
	}
}

func entityIDs(entities []*model.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}
