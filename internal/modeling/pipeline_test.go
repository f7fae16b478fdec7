package modeling

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/kernel/analytic"
	"github.com/agentcad/cadcore/internal/model"
)

// fakeWriter is an in-memory EntityWriter stand-in, just enough surface for
// Pipeline's tests without pulling in internal/store.
type fakeWriter struct {
	entities map[string]*model.Entity
	seq      int
}

func newFakeWriter() *fakeWriter { return &fakeWriter{entities: map[string]*model.Entity{}} }

func (f *fakeWriter) Create(workspace, agent string, kind model.Kind, props model.Properties, parents []string) (*model.Entity, *errs.Kind) {
	f.seq++
	id := workspace + ":solid_" + string(rune('a'+f.seq))
	e := &model.Entity{ID: id, Kind: kind, WorkspaceID: workspace, Parents: parents, CreatedByAgent: agent, IsValid: true}
	f.entities[id] = e
	return e, nil
}

func (f *fakeWriter) GetVisible(_, id string) (*model.Entity, error) {
	e, ok := f.entities[id]
	if !ok {
		return nil, errs.New(errs.EntityNotFound, "entity %s not found", id)
	}
	return e, nil
}

func (f *fakeWriter) SetCachedProps(id string, cached model.CachedProps, brep []byte, solidProps *model.SolidProps) error {
	e := f.entities[id]
	e.Cached = cached
	e.BRep = brep
	return nil
}

func (f *fakeWriter) Invalidate(id string, codes []model.ValidationCode) error {
	e := f.entities[id]
	e.IsValid = false
	e.ValidationCodes = codes
	return nil
}

func rectProfile(w, h float64) []model.Vec3 {
	return []model.Vec3{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
}

func TestPipelineExtrudeCachesVolumeAndParent(t *testing.T) {
	w := newFakeWriter()
	p := NewPipeline(analytic.New(), w)

	e, kind := p.Extrude(context.Background(), nil, "root", "agent1", "root:sketch_1", kernel.ExtrudeSpec{
		ProfilePoints: rectProfile(10, 5), PlaneNormal: model.Vec3{Z: 1}, Distance: 10,
	})
	require.Nil(t, kind)
	assert.InDelta(t, 500.0, e.Cached.Volume, 0.01)
	assert.Equal(t, []string{"root:sketch_1"}, e.Parents)
	assert.True(t, e.IsValid)
}

func TestPipelineBooleanSubtractRequiresBothEntities(t *testing.T) {
	w := newFakeWriter()
	p := NewPipeline(analytic.New(), w)

	_, kind := p.Boolean(context.Background(), nil, "root", "agent1", "subtraction", "root:solid_missing", "root:solid_missing2")
	require.NotNil(t, kind)
	assert.Equal(t, errs.EntityNotFound, kind.Code)
}

func TestPipelinePatternLinearCreatesCountMinusOneCopies(t *testing.T) {
	w := newFakeWriter()
	p := NewPipeline(analytic.New(), w)

	base, kind := p.Primitive(context.Background(), nil, "root", "agent1", kernel.PrimitiveSpec{Kind: model.KindCylinder, Radius: 2, Height: 5})
	require.Nil(t, kind)

	entities, kind := p.PatternLinear(context.Background(), nil, "root", "agent1", base.ID, model.Vec3{X: 1}, 5, 3)
	require.Nil(t, kind)
	assert.Len(t, entities, 3)
	assert.Equal(t, base.ID, entities[0].ID)
}

func TestPipelineLoftOfEqualSquaresIsAPrism(t *testing.T) {
	w := newFakeWriter()
	p := NewPipeline(analytic.New(), w)

	profiles := [][]model.Vec3{
		rectProfile(4, 4),
		{{X: 0, Y: 0, Z: 8}, {X: 4, Y: 0, Z: 8}, {X: 4, Y: 4, Z: 8}, {X: 0, Y: 4, Z: 8}},
	}
	e, kind := p.Loft(context.Background(), nil, "root", "agent1", []string{"root:sketch_1", "root:sketch_2"}, kernel.LoftSpec{
		Profiles: profiles, Solid: true, Ruled: true,
	})
	require.Nil(t, kind)
	assert.InDelta(t, 4*4*8, e.Cached.Volume, 1e-6)
	assert.Len(t, e.Parents, 2)
}

func TestPipelineSweepStraightPath(t *testing.T) {
	w := newFakeWriter()
	p := NewPipeline(analytic.New(), w)

	e, kind := p.Sweep(context.Background(), nil, "root", "agent1", "root:sketch_1", kernel.SweepSpec{
		ProfilePoints: rectProfile(2, 3), PlaneNormal: model.Vec3{Z: 1}, Path: []model.Vec3{{Z: 0}, {Z: 10}},
	})
	require.Nil(t, kind)
	assert.InDelta(t, 2*3*10, e.Cached.Volume, 1e-6)
}

func TestPipelineMirrorReflectsBoundingBox(t *testing.T) {
	w := newFakeWriter()
	p := NewPipeline(analytic.New(), w)

	base, kind := p.Primitive(context.Background(), nil, "root", "agent1", kernel.PrimitiveSpec{Kind: model.KindCylinder, Radius: 2, Height: 5, Center: model.Vec3{X: 3}})
	require.Nil(t, kind)

	mirrored, kind := p.Mirror(context.Background(), nil, "root", "agent1", base.ID, model.Vec3{}, model.Vec3{X: 1})
	require.Nil(t, kind)
	assert.InDelta(t, -base.Cached.BBox.Max.X, mirrored.Cached.BBox.Min.X, 1e-9)
	assert.True(t, math.Abs(mirrored.Cached.Volume-base.Cached.Volume) < 1e-9)
}
