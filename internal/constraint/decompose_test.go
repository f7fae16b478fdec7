package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentcad/cadcore/internal/model"
)

func kindOfPoint3D(string) model.Kind { return model.KindPoint3D }

func TestDecomposeUnderConstrained(t *testing.T) {
	c1 := &model.Constraint{ID: "c1", Type: model.Radius, EntityIDs: []string{"p1"}}
	g := NewGraph([]*model.Constraint{c1}, kindOfPoint3D)

	result := Decompose(g, []string{"c1"})

	assert.Equal(t, UnderConstrained, result.Status)
	assert.Equal(t, 3, result.TotalDOF)
	assert.Equal(t, 1, result.RemovedDOF)
	assert.Len(t, result.UnmatchedSlots, 2)
	assert.Empty(t, result.RedundantIDs)
}

func TestDecomposeWellConstrained(t *testing.T) {
	c1 := &model.Constraint{ID: "c1", Type: model.Coincident, EntityIDs: []string{"p1"}, DOFRemoved: 3}
	g := NewGraph([]*model.Constraint{c1}, kindOfPoint3D)

	result := Decompose(g, []string{"c1"})

	assert.Equal(t, WellConstrained, result.Status)
	assert.Equal(t, 3, result.RemovedDOF)
	assert.Empty(t, result.UnmatchedSlots)
	assert.Empty(t, result.RedundantIDs)
}

func TestDecomposeOverConstrained(t *testing.T) {
	c1 := &model.Constraint{ID: "c1", Type: model.Coincident, EntityIDs: []string{"p1"}, DOFRemoved: 3}
	c2 := &model.Constraint{ID: "c2", Type: model.Coincident, EntityIDs: []string{"p1"}, DOFRemoved: 2}
	g := NewGraph([]*model.Constraint{c1, c2}, kindOfPoint3D)

	result := Decompose(g, []string{"c1", "c2"})

	assert.Equal(t, OverConstrained, result.Status)
	assert.Contains(t, result.RedundantIDs, "c2")

	conflict := MinimalConflictSet(g, []string{"c1", "c2"})
	assert.Equal(t, []string{"c2"}, conflict)
}

func TestConnectedComponentsSplitsIndependentSubsystems(t *testing.T) {
	c1 := &model.Constraint{ID: "c1", Type: model.Coincident, EntityIDs: []string{"p1"}, DOFRemoved: 3}
	c2 := &model.Constraint{ID: "c2", Type: model.Coincident, EntityIDs: []string{"p2"}, DOFRemoved: 3}
	g := NewGraph([]*model.Constraint{c1, c2}, kindOfPoint3D)

	components := g.ConnectedComponents()

	assert.Len(t, components, 2)
}
