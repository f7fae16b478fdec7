package constraint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentcad/cadcore/internal/model"
)

func TestGraphDOTRendersConstraintsAndSlots(t *testing.T) {
	c1 := &model.Constraint{ID: "c1", Type: model.Coincident, EntityIDs: []string{"p1"}, DOFRemoved: 3}
	c2 := &model.Constraint{ID: "c2", Type: model.Coincident, EntityIDs: []string{"p1"}, DOFRemoved: 2}
	g := NewGraph([]*model.Constraint{c1, c2}, kindOfPoint3D)

	decomp := Decompose(g, []string{"c1", "c2"})
	out := g.DOT([]string{"c1", "c2"}, decomp)

	assert.Contains(t, out, "c1")
	assert.Contains(t, out, "c2")
	assert.Contains(t, out, "p1#0")
	assert.True(t, strings.Contains(out, "digraph") || strings.Contains(out, "graph"))
}

func TestEngineDebugRendersTheSubsystemContainingTheConstraint(t *testing.T) {
	circle := &model.Entity{ID: "circ1", Kind: model.KindCircle, Properties: &model.CircleProps{K: model.KindCircle, Radius: 5, Normal: model.Vec3{Z: 1}}}
	entities := newFakeEntities(circle)
	c1 := &model.Constraint{ID: "c1", Type: model.Radius, WorkspaceID: "ws", EntityIDs: []string{"circ1"}, Value: 5, Tolerance: 1e-6, DOFRemoved: 4}
	constraints := newFakeConstraints(c1)

	engine := NewEngine(entities, constraints, NewSolver(50))

	out, kind := engine.Debug("ws", "c1")
	assert.Nil(t, kind)
	assert.Contains(t, out, "c1")
}

func TestEngineDebugRejectsUnknownConstraint(t *testing.T) {
	entities := newFakeEntities()
	constraints := newFakeConstraints()
	engine := NewEngine(entities, constraints, NewSolver(50))

	_, kind := engine.Debug("ws", "missing")
	assert.NotNil(t, kind)
}
