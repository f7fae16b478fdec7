package constraint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
)

// fakeEntities is a minimal in-memory EntityLookup for engine tests; real
// usage goes through store.NewEntityLookup over EntityStore.
type fakeEntities struct {
	byID map[string]*model.Entity
}

func newFakeEntities(entities ...*model.Entity) *fakeEntities {
	f := &fakeEntities{byID: make(map[string]*model.Entity)}
	for _, e := range entities {
		f.byID[e.ID] = e
	}
	return f
}

func (f *fakeEntities) Kind(_, id string) (model.Kind, error) {
	e, ok := f.byID[id]
	if !ok {
		return "", assert.AnError
	}
	return e.Kind, nil
}

func (f *fakeEntities) Load(_ string, ids []string) (map[string]*model.Entity, error) {
	out := make(map[string]*model.Entity, len(ids))
	for _, id := range ids {
		out[id] = f.byID[id]
	}
	return out, nil
}

func (f *fakeEntities) Save(_ string, entities map[string]*model.Entity) error {
	for id, e := range entities {
		f.byID[id] = e
	}
	return nil
}

// fakeConstraints is a minimal in-memory ConstraintLookup for engine tests.
type fakeConstraints struct {
	byID map[string]*model.Constraint
}

func newFakeConstraints(constraints ...*model.Constraint) *fakeConstraints {
	f := &fakeConstraints{byID: make(map[string]*model.Constraint)}
	for _, c := range constraints {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeConstraints) List(string) ([]*model.Constraint, error) {
	out := make([]*model.Constraint, 0, len(f.byID))
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeConstraints) Save(c *model.Constraint) error {
	f.byID[c.ID] = c
	return nil
}

func (f *fakeConstraints) Delete(id string) error {
	delete(f.byID, id)
	return nil
}

func TestEngineRemoveWithoutReplayLeavesPositionsUntouched(t *testing.T) {
	p1 := &model.Entity{ID: "p1", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 0}}}
	p2 := &model.Entity{ID: "p2", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 5}}}
	p3 := &model.Entity{ID: "p3", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 0}}}
	entities := newFakeEntities(p1, p2, p3)

	cKeep := &model.Constraint{ID: "cKeep", Type: model.Distance, WorkspaceID: "ws", EntityIDs: []string{"p1", "p2"}, Value: 10, Tolerance: 1e-4}
	cRemove := &model.Constraint{ID: "cRemove", Type: model.Coincident, WorkspaceID: "ws", EntityIDs: []string{"p1", "p3"}, Tolerance: 1e-4}
	constraints := newFakeConstraints(cKeep, cRemove)

	engine := NewEngine(entities, constraints, NewSolver(50))

	require.Nil(t, engine.Remove(context.Background(), "ws", "cRemove", false))

	assert.Equal(t, model.Vec3{X: 0}, p1.Properties.(*model.PointProps).Coord, "non-replayed removal must not move entities")
	assert.Equal(t, model.Vec3{X: 5}, p2.Properties.(*model.PointProps).Coord)

	got := constraints.byID["cKeep"]
	assert.Equal(t, model.Violated, got.Status, "cKeep's residual (|5|-10) still exceeds tolerance")
	assert.InDelta(t, 5, got.Residual, 1e-6)
	_, gone := constraints.byID["cRemove"]
	assert.False(t, gone)
}

func TestEngineRemoveWithReplaySolvesRemainingSubsystem(t *testing.T) {
	p1 := &model.Entity{ID: "p1", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 0}}}
	p2 := &model.Entity{ID: "p2", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 5}}}
	p3 := &model.Entity{ID: "p3", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 0}}}
	entities := newFakeEntities(p1, p2, p3)

	cKeep := &model.Constraint{ID: "cKeep", Type: model.Distance, WorkspaceID: "ws", EntityIDs: []string{"p1", "p2"}, Value: 10, Tolerance: 1e-4}
	cRemove := &model.Constraint{ID: "cRemove", Type: model.Coincident, WorkspaceID: "ws", EntityIDs: []string{"p1", "p3"}, Tolerance: 1e-4}
	constraints := newFakeConstraints(cKeep, cRemove)

	engine := NewEngine(entities, constraints, NewSolver(50))

	require.Nil(t, engine.Remove(context.Background(), "ws", "cRemove", true))

	dist := p2.Properties.(*model.PointProps).Coord.X - p1.Properties.(*model.PointProps).Coord.X
	assert.InDelta(t, 10, dist, 0.05, "replayed removal should re-solve cKeep to its target distance")

	got := constraints.byID["cKeep"]
	assert.Equal(t, model.Satisfied, got.Status)
}

func TestEngineApplyReportsRemainingDOFAndAffectedEntities(t *testing.T) {
	l1 := &model.Entity{ID: "l1", Kind: model.KindLine3D, Properties: &model.LineProps{K: model.KindLine3D, Start: model.Vec3{}, End: model.Vec3{X: 10}}}
	l2 := &model.Entity{ID: "l2", Kind: model.KindLine3D, Properties: &model.LineProps{K: model.KindLine3D, Start: model.Vec3{X: 10}, End: model.Vec3{X: 10, Y: 10}}}
	entities := newFakeEntities(l1, l2)
	constraints := newFakeConstraints()

	engine := NewEngine(entities, constraints, NewSolver(50))

	perp := &model.Constraint{ID: "c1", Type: model.Perpendicular, WorkspaceID: "ws", EntityIDs: []string{"l1", "l2"}}
	res, kind := engine.Apply(context.Background(), "ws", perp)
	require.Nil(t, kind)

	assert.Equal(t, model.Satisfied, res.Constraint.Status, "the two lines are already perpendicular")
	// Two 3D lines contribute 4 DOF each; perpendicularity removes one.
	assert.Equal(t, 7, res.DOFRemaining)
	assert.ElementsMatch(t, []string{"l1", "l2"}, res.AffectedEntities)
}

func TestEngineApplyLabelsRedundantConstraintSatisfiedNotConflicting(t *testing.T) {
	circle := &model.Entity{ID: "circ1", Kind: model.KindCircle, Properties: &model.CircleProps{K: model.KindCircle, Radius: 5, Normal: model.Vec3{Z: 1}}}
	entities := newFakeEntities(circle)

	existing := &model.Constraint{ID: "c1", Type: model.Radius, WorkspaceID: "ws", EntityIDs: []string{"circ1"}, Value: 5, Tolerance: 1e-6, DOFRemoved: 4}
	constraints := newFakeConstraints(existing)

	engine := NewEngine(entities, constraints, NewSolver(50))

	applied := &model.Constraint{ID: "c2", Type: model.Radius, WorkspaceID: "ws", EntityIDs: []string{"circ1"}, Value: 5, Tolerance: 1e-6, DOFRemoved: 1}
	_, kind := engine.Apply(context.Background(), "ws", applied)
	require.Nil(t, kind)

	redundantCount, conflictingCount := 0, 0
	for _, id := range []string{"c1", "c2"} {
		switch constraints.byID[id].Status {
		case model.Redundant:
			redundantCount++
		case model.Conflicting:
			conflictingCount++
		}
	}
	assert.Equal(t, 1, redundantCount, "one of the two over-constraining radius constraints must be relabelled redundant")
	assert.Equal(t, 0, conflictingCount, "a redundant constraint whose residual is already zero is not a conflict")
}

func TestEngineApplyReportsConflictWhenRedundantConstraintDisagrees(t *testing.T) {
	circle := &model.Entity{ID: "circ1", Kind: model.KindCircle, Properties: &model.CircleProps{K: model.KindCircle, Radius: 7, Normal: model.Vec3{Z: 1}}}
	entities := newFakeEntities(circle)

	existing := &model.Constraint{ID: "c1", Type: model.Radius, WorkspaceID: "ws", EntityIDs: []string{"circ1"}, Value: 5, Tolerance: 1e-6, DOFRemoved: 4}
	constraints := newFakeConstraints(existing)

	engine := NewEngine(entities, constraints, NewSolver(50))

	applied := &model.Constraint{ID: "c2", Type: model.Radius, WorkspaceID: "ws", EntityIDs: []string{"circ1"}, Value: 5, Tolerance: 1e-6, DOFRemoved: 1}
	_, kind := engine.Apply(context.Background(), "ws", applied)
	require.NotNil(t, kind)
	assert.Equal(t, errs.ConstraintConflict, kind.Code)
}
