package constraint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
)

func TestSolveSubsystemCoincidentConverges(t *testing.T) {
	a := &model.Entity{ID: "a", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 0, Y: 0, Z: 0}}}
	b := &model.Entity{ID: "b", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 10, Y: 0, Z: 0}}}
	entities := map[string]*model.Entity{"a": a, "b": b}

	c := &model.Constraint{ID: "c1", Type: model.Coincident, EntityIDs: []string{"a", "b"}, Tolerance: 1e-4}

	solver := NewSolver(50)
	results, err := solver.SolveSubsystem(context.Background(), []*model.Constraint{c}, entities)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, model.Satisfied, results[0].Status)
	assert.InDelta(t, 0, results[0].Residual, 1e-3)

	pa := a.Properties.(*model.PointProps).Coord
	pb := b.Properties.(*model.PointProps).Coord
	assert.InDelta(t, pa.X, pb.X, 1e-3)
	assert.InDelta(t, pa.Y, pb.Y, 1e-3)
	assert.InDelta(t, pa.Z, pb.Z, 1e-3)
}

func TestSolveSubsystemDistanceConverges(t *testing.T) {
	a := &model.Entity{ID: "a", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{}}}
	b := &model.Entity{ID: "b", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}}}
	entities := map[string]*model.Entity{"a": a, "b": b}

	c := &model.Constraint{ID: "c1", Type: model.Distance, EntityIDs: []string{"a", "b"}, Value: 5, Tolerance: 1e-4}

	solver := NewSolver(50)
	results, err := solver.SolveSubsystem(context.Background(), []*model.Constraint{c}, entities)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, model.Satisfied, results[0].Status)

	pa := a.Properties.(*model.PointProps).Coord
	pb := b.Properties.(*model.PointProps).Coord
	dx, dy, dz := pa.X-pb.X, pa.Y-pb.Y, pa.Z-pb.Z
	dist := dx*dx + dy*dy + dz*dz
	assert.InDelta(t, 25, dist, 0.05)
}

// direction() has no case for PointProps, so it falls back to a constant
// {0,0,1} regardless of position: a Perpendicular constraint between two
// points has a residual the solver can never move by perturbing either
// point, giving a zero Jacobian and a trust region that can only collapse.
// This exercises the regularised-restart-then-conflict path with no
// numerical luck involved.
func TestSolveSubsystemDivergesTwiceAndReportsConflict(t *testing.T) {
	a := &model.Entity{ID: "a", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}}}
	b := &model.Entity{ID: "b", Kind: model.KindPoint3D, Properties: &model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 2}}}
	entities := map[string]*model.Entity{"a": a, "b": b}

	c := &model.Constraint{ID: "c1", Type: model.Perpendicular, EntityIDs: []string{"a", "b"}, Tolerance: 1e-6}

	solver := NewSolver(50)
	results, err := solver.SolveSubsystem(context.Background(), []*model.Constraint{c}, entities)
	require.Nil(t, results)
	require.Error(t, err)

	kind, ok := err.(*errs.Kind)
	require.True(t, ok)
	assert.Equal(t, errs.ConstraintConflict, kind.Code)
	assert.Equal(t, []string{"c1"}, kind.ConflictSet)
}
