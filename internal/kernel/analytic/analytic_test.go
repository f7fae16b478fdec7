package analytic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/model"
)

func rectangleProfile(w, h float64) []model.Vec3 {
	return []model.Vec3{
		{X: 0, Y: 0, Z: 0}, {X: w, Y: 0, Z: 0}, {X: w, Y: h, Z: 0}, {X: 0, Y: h, Z: 0},
	}
}

func TestExtrudeRectangleMatchesScenario2(t *testing.T) {
	b := New()
	s, err := b.Extrude(kernel.ExtrudeSpec{
		ProfilePoints: rectangleProfile(10, 5),
		PlaneNormal:   model.Vec3{Z: 1},
		Distance:      10,
	})
	require.NoError(t, err)
	assert.InDelta(t, 500.0, s.Volume, 0.01)
	assert.InDelta(t, 400.0, s.SurfaceArea, 0.01)
	assert.Equal(t, 6, s.Topology.FaceCount)
	assert.True(t, s.Topology.IsClosed)
	assert.True(t, s.Topology.IsManifold)
}

func TestCylinderPrimitive(t *testing.T) {
	b := New()
	s, err := b.Primitive(kernel.PrimitiveSpec{Kind: model.KindCylinder, Radius: 2, Height: 15})
	require.NoError(t, err)
	assert.InDelta(t, math.Pi*4*15, s.Volume, 1e-6)
}

func TestBooleanSubtractCylinderFromBox(t *testing.T) {
	b := New()
	box, err := b.Extrude(kernel.ExtrudeSpec{
		ProfilePoints: rectangleProfile(10, 5),
		PlaneNormal:   model.Vec3{Z: 1},
		Distance:      10,
	})
	require.NoError(t, err)
	// The cylinder pierces the box along Z: only the 10mm inside the box is
	// removed, even though the cylinder itself is 15mm long.
	cyl, err := b.Primitive(kernel.PrimitiveSpec{Kind: model.KindCylinder, Center: model.Vec3{X: 5, Y: 2.5, Z: 7.5}, Axis: model.Vec3{Z: 1}, Radius: 2, Height: 15})
	require.NoError(t, err)

	result, err := b.Boolean(kernel.Subtraction, box, cyl)
	require.NoError(t, err)
	assert.InDelta(t, 500-math.Pi*4*10, result.Volume, 0.01)
	assert.True(t, result.Topology.IsManifold)
}

func TestBooleanIntersectionOfDisjointSolidsIsEmpty(t *testing.T) {
	b := New()
	s1, err := b.Primitive(kernel.PrimitiveSpec{Kind: model.KindSphere, Radius: 1})
	require.NoError(t, err)
	s2, err := b.Primitive(kernel.PrimitiveSpec{Kind: model.KindSphere, Center: model.Vec3{X: 10}, Radius: 1})
	require.NoError(t, err)

	_, err = b.Boolean(kernel.Intersection, s1, s2)
	assert.ErrorIs(t, err, kernel.ErrEmptyResult)
}

func TestLoftBetweenTwoEqualSquaresIsAPrism(t *testing.T) {
	b := New()
	profiles := [][]model.Vec3{
		rectangleProfile(4, 4),
		{
			{X: 0, Y: 0, Z: 8}, {X: 4, Y: 0, Z: 8}, {X: 4, Y: 4, Z: 8}, {X: 0, Y: 4, Z: 8},
		},
	}
	s, err := b.Loft(kernel.LoftSpec{Profiles: profiles, Solid: true, Ruled: true})
	require.NoError(t, err)
	assert.InDelta(t, 4*4*8, s.Volume, 1e-6)
	assert.True(t, s.Topology.IsClosed)
}

func TestLoftRejectsSingleProfile(t *testing.T) {
	b := New()
	_, err := b.Loft(kernel.LoftSpec{Profiles: [][]model.Vec3{rectangleProfile(1, 1)}})
	require.Error(t, err)
}

func TestSweepStraightPathMatchesAreaTimesLength(t *testing.T) {
	b := New()
	s, err := b.Sweep(kernel.SweepSpec{
		ProfilePoints: rectangleProfile(2, 3),
		PlaneNormal:   model.Vec3{Z: 1},
		Path:          []model.Vec3{{X: 0, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 10}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 2*3*10, s.Volume, 1e-6)
}

func TestSweepRejectsDegenerateProfile(t *testing.T) {
	b := New()
	_, err := b.Sweep(kernel.SweepSpec{
		ProfilePoints: []model.Vec3{{X: 0}, {X: 1}},
		Path:          []model.Vec3{{X: 0}, {X: 1}},
	})
	require.Error(t, err)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	b := New()
	s, err := b.Primitive(kernel.PrimitiveSpec{Kind: model.KindSphere, Radius: 3})
	require.NoError(t, err)
	raw, err := b.Serialize(s)
	require.NoError(t, err)
	back, err := b.Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, s.Volume, back.Volume)
	assert.Equal(t, s.BRep, back.BRep)
}
