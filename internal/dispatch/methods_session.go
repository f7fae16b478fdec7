package dispatch

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/constraint"
	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/model"
	"github.com/agentcad/cadcore/internal/modeling"
	"github.com/agentcad/cadcore/internal/session"
	"github.com/agentcad/cadcore/internal/store"
)

// SessionMethods implements agent.metrics and scenario.run (spec.md §4.6,
// §4.8 expansion). Metrics ride the JSON-RPC wire rather than a separate
// HTTP /metrics endpoint, since the dispatcher has no HTTP listener.
func SessionMethods(d *Deps) []Method {
	return []Method{
		{
			Name: "agent.metrics",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				if d.Metrics == nil {
					return nil, errs.New(errs.OperationInvalid, "metrics are not enabled")
				}
				snap, err := d.Metrics.Gather()
				if err != nil {
					return nil, errs.Wrap(err)
				}
				return snap, nil
			},
		},
		{
			Name: "scenario.run",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					Name string `json:"name" validate:"required,oneof=point_and_query rectangle_to_box boolean_subtract perpendicular_vs_parallel branch_diverge_merge undo_solid"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				runner, ok := scenarios[p.Name]
				if !ok {
					return nil, errs.New(errs.InvalidParameter, "unknown scenario %q", p.Name)
				}
				result, err := runner(ctx, d.Kernel)
				if err != nil {
					return nil, errs.Wrap(err)
				}
				return result, nil
			},
		},
	}
}

// scenarioEnv is a throwaway stack of the same components Deps wires,
// backed by a fresh in-memory database, so scenario.run can replay one of
// spec.md §8's end-to-end scenarios without touching the caller's
// workspace tree.
type scenarioEnv struct {
	DB         *store.DB
	Entities   *store.EntityStore
	Workspaces *store.WorkspaceStore
	OpLog      *store.OperationLog
	Engine     *constraint.Engine
	Pipeline   *modeling.Pipeline
}

func newScenarioEnv(k kernel.Kernel) (*scenarioEnv, error) {
	db, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("opening scratch database: %w", err)
	}
	entities := store.NewEntityStore(db, nil)
	workspaces := store.NewWorkspaceStore(db, entities)
	constraints := store.NewConstraintStore(db)
	oplog := store.NewOperationLog(db, entities)
	lookup := store.NewEntityLookup(entities)
	engine := constraint.NewEngine(lookup, constraints, constraint.NewSolver(50))
	pipeline := modeling.NewPipeline(k, entities)
	return &scenarioEnv{DB: db, Entities: entities, Workspaces: workspaces, OpLog: oplog, Engine: engine, Pipeline: pipeline}, nil
}

type scenarioFunc func(ctx context.Context, k kernel.Kernel) (interface{}, error)

var scenarios = map[string]scenarioFunc{
	"point_and_query":          scenarioPointAndQuery,
	"rectangle_to_box":         scenarioRectangleToBox,
	"boolean_subtract":         scenarioBooleanSubtract,
	"perpendicular_vs_parallel": scenarioPerpendicularVsParallel,
	"branch_diverge_merge":     scenarioBranchDivergeMerge,
	"undo_solid":               scenarioUndoSolid,
}

const scenarioAgent = "scenario-runner"

func scenarioPointAndQuery(ctx context.Context, k kernel.Kernel) (interface{}, error) {
	env, err := newScenarioEnv(k)
	if err != nil {
		return nil, err
	}
	defer env.DB.Close()

	e, kind := env.Entities.Create(model.RootWorkspaceID, scenarioAgent, model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{}}, nil)
	if kind != nil {
		return nil, kind
	}
	queried, getErr := env.Entities.Get(e.ID)
	if getErr != nil {
		return nil, getErr
	}
	return map[string]interface{}{
		"entity_id":   queried.ID,
		"entity_type": string(queried.Kind),
		"coordinates": queried.Properties.(*model.PointProps).Coord,
	}, nil
}

// rectangleLines creates and closes the rectangle (0,0,0)-(10,0,0)-(10,5,0)-(0,5,0)
// in the given workspace, returning the sketch entity and the rectangle's corner points.
func rectangleLines(env *scenarioEnv, workspace string) (*model.Entity, []model.Vec3, *errs.Kind) {
	corners := []model.Vec3{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 5}, {X: 0, Y: 5}}
	var memberIDs []string
	for i := 0; i < len(corners); i++ {
		start, end := corners[i], corners[(i+1)%len(corners)]
		line, kind := env.Entities.Create(workspace, scenarioAgent, model.KindLine3D,
			&model.LineProps{K: model.KindLine3D, Start: start, End: end}, nil)
		if kind != nil {
			return nil, nil, kind
		}
		memberIDs = append(memberIDs, line.ID)
	}
	sketch, kind := env.Entities.Create(workspace, scenarioAgent, model.KindSketch,
		&model.WireProps{K: model.KindSketch, Members: memberIDs, Closed: true}, memberIDs)
	if kind != nil {
		return nil, nil, kind
	}
	return sketch, corners, nil
}

func scenarioRectangleToBox(ctx context.Context, k kernel.Kernel) (interface{}, error) {
	env, err := newScenarioEnv(k)
	if err != nil {
		return nil, err
	}
	defer env.DB.Close()

	sketch, corners, kind := rectangleLines(env, model.RootWorkspaceID)
	if kind != nil {
		return nil, kind
	}
	progress := make(chan modeling.ProgressFrame, 4)
	go func() {
		for range progress {
		}
	}()
	solid, kind := env.Pipeline.Extrude(ctx, progress, model.RootWorkspaceID, scenarioAgent, sketch.ID, kernel.ExtrudeSpec{
		ProfilePoints: corners, PlaneOrigin: model.Vec3{}, PlaneNormal: model.Vec3{Z: 1}, Distance: 10,
	})
	close(progress)
	if kind != nil {
		return nil, kind
	}
	return solidSummary(solid), nil
}

func solidSummary(e *model.Entity) map[string]interface{} {
	sp, _ := e.Properties.(*model.SolidProps)
	out := map[string]interface{}{
		"entity_id":    e.ID,
		"volume":       e.Cached.Volume,
		"surface_area": e.Cached.SurfaceArea,
	}
	if sp != nil {
		out["face_count"] = sp.FaceCount
		out["is_closed"] = sp.IsClosed
		out["is_manifold"] = sp.IsManifold
	}
	return out
}

func scenarioBooleanSubtract(ctx context.Context, k kernel.Kernel) (interface{}, error) {
	env, err := newScenarioEnv(k)
	if err != nil {
		return nil, err
	}
	defer env.DB.Close()

	sketch, corners, kind := rectangleLines(env, model.RootWorkspaceID)
	if kind != nil {
		return nil, kind
	}
	progress := make(chan modeling.ProgressFrame, 4)
	go func() {
		for range progress {
		}
	}()
	box, kind := env.Pipeline.Extrude(ctx, progress, model.RootWorkspaceID, scenarioAgent, sketch.ID, kernel.ExtrudeSpec{
		ProfilePoints: corners, PlaneOrigin: model.Vec3{}, PlaneNormal: model.Vec3{Z: 1}, Distance: 10,
	})
	close(progress)
	if kind != nil {
		return nil, kind
	}

	progress2 := make(chan modeling.ProgressFrame, 4)
	go func() {
		for range progress2 {
		}
	}()
	// The cylinder stands on the sketch plane (z 0..15), piercing the 10mm
	// box completely, so exactly pi*r^2*10 of material is removed.
	cylinder, kind := env.Pipeline.Primitive(ctx, progress2, model.RootWorkspaceID, scenarioAgent, kernel.PrimitiveSpec{
		Kind: model.KindCylinder, Center: model.Vec3{X: 5, Y: 2.5, Z: 7.5}, Axis: model.Vec3{Z: 1}, Radius: 2, Height: 15,
	})
	close(progress2)
	if kind != nil {
		return nil, kind
	}

	progress3 := make(chan modeling.ProgressFrame, 4)
	go func() {
		for range progress3 {
		}
	}()
	result, kind := env.Pipeline.Boolean(ctx, progress3, model.RootWorkspaceID, scenarioAgent, kernel.Subtraction, box.ID, cylinder.ID)
	close(progress3)
	if kind != nil {
		return nil, kind
	}
	return solidSummary(result), nil
}

func scenarioPerpendicularVsParallel(ctx context.Context, k kernel.Kernel) (interface{}, error) {
	env, err := newScenarioEnv(k)
	if err != nil {
		return nil, err
	}
	defer env.DB.Close()

	l1, kind := env.Entities.Create(model.RootWorkspaceID, scenarioAgent, model.KindLine3D,
		&model.LineProps{K: model.KindLine3D, Start: model.Vec3{}, End: model.Vec3{X: 10}}, nil)
	if kind != nil {
		return nil, kind
	}
	l2, kind := env.Entities.Create(model.RootWorkspaceID, scenarioAgent, model.KindLine3D,
		&model.LineProps{K: model.KindLine3D, Start: model.Vec3{X: 10}, End: model.Vec3{X: 10, Y: 10}}, nil)
	if kind != nil {
		return nil, kind
	}

	perp := &model.Constraint{
		ID: store.NewConstraintID(model.RootWorkspaceID), Type: model.Perpendicular, WorkspaceID: model.RootWorkspaceID,
		EntityIDs: []string{l1.ID, l2.ID}, Status: model.Pending,
	}
	appliedPerp, kind := env.Engine.Apply(ctx, model.RootWorkspaceID, perp)
	if kind != nil {
		return nil, kind
	}
	perpStatus := string(appliedPerp.Constraint.Status)

	parallel := &model.Constraint{
		ID: store.NewConstraintID(model.RootWorkspaceID), Type: model.Parallel, WorkspaceID: model.RootWorkspaceID,
		EntityIDs: []string{l1.ID, l2.ID}, Status: model.Pending,
	}
	_, conflictKind := env.Engine.Apply(ctx, model.RootWorkspaceID, parallel)

	return map[string]interface{}{
		"perpendicular_status":      perpStatus,
		"perpendicular_dof_removed": appliedPerp.Constraint.DOF(),
		"dof_remaining":             appliedPerp.DOFRemaining,
		"parallel_conflict":         conflictKind,
	}, nil
}

func scenarioBranchDivergeMerge(ctx context.Context, k kernel.Kernel) (interface{}, error) {
	env, err := newScenarioEnv(k)
	if err != nil {
		return nil, err
	}
	defer env.DB.Close()

	branch, kind := env.Workspaces.Create(model.RootWorkspaceID, scenarioAgent, "b1")
	if kind != nil {
		return nil, kind
	}
	point, kind := env.Entities.Create(branch.ID, scenarioAgent, model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 100, Y: 100, Z: 100}}, nil)
	if kind != nil {
		return nil, kind
	}
	plan, kind := env.Workspaces.Merge(branch.ID, model.RootWorkspaceID)
	if kind != nil {
		return nil, kind
	}
	merged, getErr := env.Entities.Get(point.ID)
	if getErr != nil {
		return nil, getErr
	}
	sourceAfter, getErr := env.Workspaces.Get(branch.ID)
	if getErr != nil {
		return nil, getErr
	}
	return map[string]interface{}{
		"changes":       len(plan.Changes),
		"conflicts":     len(plan.Conflicts),
		"merged_point":  merged.WorkspaceID,
		"branch_status": string(sourceAfter.BranchStatus),
	}, nil
}

func scenarioUndoSolid(ctx context.Context, k kernel.Kernel) (interface{}, error) {
	env, err := newScenarioEnv(k)
	if err != nil {
		return nil, err
	}
	defer env.DB.Close()

	sketch, corners, kind := rectangleLines(env, model.RootWorkspaceID)
	if kind != nil {
		return nil, kind
	}
	progress := make(chan modeling.ProgressFrame, 4)
	go func() {
		for range progress {
		}
	}()
	solid, kind := env.Pipeline.Extrude(ctx, progress, model.RootWorkspaceID, scenarioAgent, sketch.ID, kernel.ExtrudeSpec{
		ProfilePoints: corners, PlaneOrigin: model.Vec3{}, PlaneNormal: model.Vec3{Z: 1}, Distance: 10,
	})
	close(progress)
	if kind != nil {
		return nil, kind
	}
	undo := store.UndoCreate(solid.ID)
	if _, opErr := env.OpLog.Append(model.RootWorkspaceID, scenarioAgent, "solid.extrude", nil, nil, model.StatusSuccess, "", 0, &undo); opErr != nil {
		return nil, opErr
	}

	if _, undoKind := env.OpLog.Undo(model.RootWorkspaceID); undoKind != nil {
		return nil, undoKind
	}
	_, getErr := env.Entities.Get(solid.ID)
	gone := getErr != nil

	if _, redoKind := env.OpLog.Redo(model.RootWorkspaceID); redoKind != nil {
		return nil, redoKind
	}
	restored, getErr := env.Entities.Get(solid.ID)
	if getErr != nil {
		return nil, getErr
	}

	return map[string]interface{}{
		"removed_on_undo":   gone,
		"restored_entity":   restored.ID,
		"restored_volume":   restored.Cached.Volume,
	}, nil
}
