// Package modeling implements the solid-modeling operations of spec.md §6
// (extrude, revolve, loft, sweep, boolean, primitive, pattern, mirror) over a pluggable
// internal/kernel.Kernel backend, wrapping every kernel call in a circuit
// breaker the way the teacher wraps its own slow external calls.
package modeling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sony/gobreaker"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/model"
)

// EntityWriter is the persistence seam ModelingPipeline needs: creating new
// solid entities, resolving operands through the calling workspace's
// copy-on-write view, and writing back recomputed cached properties.
type EntityWriter interface {
	Create(workspace, agent string, kind model.Kind, props model.Properties, parents []string) (*model.Entity, *errs.Kind)
	GetVisible(workspace, id string) (*model.Entity, error)
	SetCachedProps(id string, cached model.CachedProps, brep []byte, solidProps *model.SolidProps) error
	Invalidate(id string, codes []model.ValidationCode) error
}

// Pipeline runs modeling operations against a Kernel, persisting results
// through an EntityWriter and reporting progress frames on a channel
// (spec.md §6's streamed progress notifications).
type Pipeline struct {
	Kernel  kernel.Kernel
	Writer  EntityWriter
	breaker *gobreaker.CircuitBreaker
}

// ProgressFrame is one intermediate status update for a long-running
// modeling operation (spec.md §6).
type ProgressFrame struct {
	Stage   string
	Percent float64
}

func NewPipeline(k kernel.Kernel, writer EntityWriter) *Pipeline {
	st := gobreaker.Settings{
		Name:        "geometry-kernel",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Pipeline{Kernel: k, Writer: writer, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (p *Pipeline) callKernel(fn func() (*kernel.Solid, error)) (*kernel.Solid, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return out.(*kernel.Solid), nil
}

func solidEntityProps(s *kernel.Solid) *model.SolidProps {
	return &model.SolidProps{
		FaceCount: s.Topology.FaceCount, EdgeCount: s.Topology.EdgeCount, VertexCount: s.Topology.VertexCount,
		EulerChar: s.Topology.EulerChar, IsClosed: s.Topology.IsClosed, IsManifold: s.Topology.IsManifold,
	}
}

func validateTopology(s *kernel.Solid) []model.ValidationCode {
	var codes []model.ValidationCode
	if !s.Topology.IsClosed {
		codes = append(codes, model.OpenShell)
	}
	if !s.Topology.IsManifold {
		codes = append(codes, model.NonManifoldEdge)
	}
	if s.Topology.EulerChar != 2 {
		codes = append(codes, model.WrongFaceOrientation)
	}
	return codes
}

func (p *Pipeline) persist(ctx context.Context, progress chan<- ProgressFrame, workspace, agent string, s *kernel.Solid, parents []string) (*model.Entity, *errs.Kind) {
	send(progress, "persisting", 0.8)
	entity, cerr := p.Writer.Create(workspace, agent, model.KindSolid, solidEntityProps(s), parents)
	if cerr != nil {
		return nil, cerr
	}
	// The stored blob is always the kernel's Serialize format, so later
	// Deserialize calls (booleans, patterns, export) round-trip exactly.
	blob, serr := p.Kernel.Serialize(s)
	if serr != nil {
		return nil, errs.Wrap(serr)
	}
	cached := model.CachedProps{Volume: s.Volume, SurfaceArea: s.SurfaceArea, BBox: s.BBox, Stale: false}
	if err := p.Writer.SetCachedProps(entity.ID, cached, blob, solidEntityProps(s)); err != nil {
		return nil, errs.Wrap(err)
	}
	if codes := validateTopology(s); len(codes) > 0 {
		if err := p.Writer.Invalidate(entity.ID, codes); err != nil {
			return nil, errs.Wrap(err)
		}
	}
	send(progress, "complete", 1.0)
	entity.Cached = cached
	entity.BRep = blob
	return entity, nil
}

func send(progress chan<- ProgressFrame, stage string, pct float64) {
	if progress == nil {
		return
	}
	select {
	case progress <- ProgressFrame{Stage: stage, Percent: pct}:
	default:
	}
}

// Primitive creates a sphere/cylinder/cone/torus solid entity directly.
func (p *Pipeline) Primitive(ctx context.Context, progress chan<- ProgressFrame, workspace, agent string, spec kernel.PrimitiveSpec) (*model.Entity, *errs.Kind) {
	send(progress, "computing", 0.2)
	s, err := p.callKernel(func() (*kernel.Solid, error) { return p.Kernel.Primitive(spec) })
	if err != nil {
		return nil, errs.New(errs.GeometryEngineError, "%v", err)
	}
	return p.persist(ctx, progress, workspace, agent, s, nil)
}

// Extrude creates a prismatic solid from a planar sketch's profile points.
func (p *Pipeline) Extrude(ctx context.Context, progress chan<- ProgressFrame, workspace, agent string, sketchID string, spec kernel.ExtrudeSpec) (*model.Entity, *errs.Kind) {
	send(progress, "computing", 0.2)
	s, err := p.callKernel(func() (*kernel.Solid, error) { return p.Kernel.Extrude(spec) })
	if err != nil {
		return nil, errs.New(errs.TopologyError, "%v", err)
	}
	var parents []string
	if sketchID != "" {
		parents = []string{sketchID}
	}
	return p.persist(ctx, progress, workspace, agent, s, parents)
}

// Revolve creates a solid of revolution from a planar sketch's profile
// points around an axis.
func (p *Pipeline) Revolve(ctx context.Context, progress chan<- ProgressFrame, workspace, agent string, sketchID string, spec kernel.RevolveSpec) (*model.Entity, *errs.Kind) {
	send(progress, "computing", 0.2)
	s, err := p.callKernel(func() (*kernel.Solid, error) { return p.Kernel.Revolve(spec) })
	if err != nil {
		return nil, errs.New(errs.TopologyError, "%v", err)
	}
	var parents []string
	if sketchID != "" {
		parents = []string{sketchID}
	}
	return p.persist(ctx, progress, workspace, agent, s, parents)
}

// Loft creates a solid (or shell) blending an ordered sequence of profiles,
// parented to whichever sketch entities supplied those profiles.
func (p *Pipeline) Loft(ctx context.Context, progress chan<- ProgressFrame, workspace, agent string, sketchIDs []string, spec kernel.LoftSpec) (*model.Entity, *errs.Kind) {
	send(progress, "computing", 0.2)
	s, err := p.callKernel(func() (*kernel.Solid, error) { return p.Kernel.Loft(spec) })
	if err != nil {
		return nil, errs.New(errs.TopologyError, "%v", err)
	}
	return p.persist(ctx, progress, workspace, agent, s, sketchIDs)
}

// Sweep creates a solid by carrying a profile along a path wire, parented
// to the sketch entity the profile came from, if any.
func (p *Pipeline) Sweep(ctx context.Context, progress chan<- ProgressFrame, workspace, agent, sketchID string, spec kernel.SweepSpec) (*model.Entity, *errs.Kind) {
	send(progress, "computing", 0.2)
	s, err := p.callKernel(func() (*kernel.Solid, error) { return p.Kernel.Sweep(spec) })
	if err != nil {
		return nil, errs.New(errs.TopologyError, "%v", err)
	}
	var parents []string
	if sketchID != "" {
		parents = []string{sketchID}
	}
	return p.persist(ctx, progress, workspace, agent, s, parents)
}

// Boolean composes two existing solid entities into a new one.
func (p *Pipeline) Boolean(ctx context.Context, progress chan<- ProgressFrame, workspace, agent string, op kernel.BooleanOp, aID, bID string) (*model.Entity, *errs.Kind) {
	aEntity, err := p.Writer.GetVisible(workspace, aID)
	if err != nil {
		return nil, errs.New(errs.EntityNotFound, "entity %s not found", aID)
	}
	bEntity, err := p.Writer.GetVisible(workspace, bID)
	if err != nil {
		return nil, errs.New(errs.EntityNotFound, "entity %s not found", bID)
	}
	aSolid, aerr := p.Kernel.Deserialize(aEntity.BRep)
	if aerr != nil {
		return nil, errs.New(errs.InvalidGeometry, "entity %s has no usable BRep: %v", aID, aerr)
	}
	bSolid, berr := p.Kernel.Deserialize(bEntity.BRep)
	if berr != nil {
		return nil, errs.New(errs.InvalidGeometry, "entity %s has no usable BRep: %v", bID, berr)
	}
	send(progress, "intersecting_faces", 0.3)
	s, kerr := p.callKernel(func() (*kernel.Solid, error) { return p.Kernel.Boolean(op, aSolid, bSolid) })
	if errors.Is(kerr, kernel.ErrEmptyResult) {
		return nil, errs.New(errs.OperationInvalid, "boolean %s of %s and %s produces an empty solid", op, aID, bID)
	}
	if kerr != nil {
		return nil, errs.New(errs.TopologyError, "%v", kerr)
	}
	send(progress, "refining_edges", 0.5)
	send(progress, "validating_topology", 0.65)
	return p.persist(ctx, progress, workspace, agent, s, []string{aID, bID})
}

// PatternLinear creates count-1 additional copies of source, offset by
// spacing along direction, and returns source followed by the copies.
func (p *Pipeline) PatternLinear(ctx context.Context, progress chan<- ProgressFrame, workspace, agent, sourceID string, direction model.Vec3, spacing float64, count int) ([]*model.Entity, *errs.Kind) {
	if count < 1 {
		return nil, errs.New(errs.InvalidParameter, "pattern count must be >= 1, got %d", count)
	}
	src, err := p.Writer.GetVisible(workspace, sourceID)
	if err != nil {
		return nil, errs.New(errs.EntityNotFound, "entity %s not found", sourceID)
	}
	srcSolid, derr := p.Kernel.Deserialize(src.BRep)
	if derr != nil {
		return nil, errs.New(errs.InvalidGeometry, "entity %s has no usable BRep: %v", sourceID, derr)
	}
	norm := normalize(direction)
	out := []*model.Entity{src}
	for i := 1; i < count; i++ {
		offset := float64(i) * spacing
		translated := translateSolid(srcSolid, model.Vec3{X: norm.X * offset, Y: norm.Y * offset, Z: norm.Z * offset})
		send(progress, fmt.Sprintf("instance %d/%d", i, count-1), float64(i)/float64(count))
		e, cerr := p.persist(ctx, progress, workspace, agent, translated, []string{sourceID})
		if cerr != nil {
			return nil, cerr
		}
		out = append(out, e)
	}
	return out, nil
}

// PatternCircular creates count-1 additional copies of source, rotated by
// 2*pi/count increments (or an explicit angle) around an axis.
func (p *Pipeline) PatternCircular(ctx context.Context, progress chan<- ProgressFrame, workspace, agent, sourceID string, axisOrigin, axisDir model.Vec3, angle float64, count int) ([]*model.Entity, *errs.Kind) {
	if count < 1 {
		return nil, errs.New(errs.InvalidParameter, "pattern count must be >= 1, got %d", count)
	}
	src, err := p.Writer.GetVisible(workspace, sourceID)
	if err != nil {
		return nil, errs.New(errs.EntityNotFound, "entity %s not found", sourceID)
	}
	srcSolid, derr := p.Kernel.Deserialize(src.BRep)
	if derr != nil {
		return nil, errs.New(errs.InvalidGeometry, "entity %s has no usable BRep: %v", sourceID, derr)
	}
	step := angle
	if step == 0 {
		step = 2 * math.Pi / float64(count)
	}
	out := []*model.Entity{src}
	for i := 1; i < count; i++ {
		rotated := rotateSolidAboutAxis(srcSolid, axisOrigin, axisDir, step*float64(i))
		send(progress, fmt.Sprintf("instance %d/%d", i, count-1), float64(i)/float64(count))
		e, cerr := p.persist(ctx, progress, workspace, agent, rotated, []string{sourceID})
		if cerr != nil {
			return nil, cerr
		}
		out = append(out, e)
	}
	return out, nil
}

// Mirror reflects a solid across a plane and persists the result as a new entity.
func (p *Pipeline) Mirror(ctx context.Context, progress chan<- ProgressFrame, workspace, agent, sourceID string, planeOrigin, planeNormal model.Vec3) (*model.Entity, *errs.Kind) {
	src, err := p.Writer.GetVisible(workspace, sourceID)
	if err != nil {
		return nil, errs.New(errs.EntityNotFound, "entity %s not found", sourceID)
	}
	srcSolid, derr := p.Kernel.Deserialize(src.BRep)
	if derr != nil {
		return nil, errs.New(errs.InvalidGeometry, "entity %s has no usable BRep: %v", sourceID, derr)
	}
	mirrored := mirrorSolid(srcSolid, planeOrigin, planeNormal)
	return p.persist(ctx, progress, workspace, agent, mirrored, []string{sourceID})
}

func normalize(v model.Vec3) model.Vec3 {
	n := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	if n < 1e-12 {
		return v
	}
	return model.Vec3{X: v.X / n, Y: v.Y / n, Z: v.Z / n}
}

// translateSolid/rotateSolidAboutAxis/mirrorSolid move a kernel.Solid's
// bounding box and re-tag its BRep; the analytic backend's BRep documents
// carry no absolute-position fields beyond what's embedded in BBox, so a
// rigid transform here only needs to move the box. A kernel with true
// positional BReps would instead delegate these to kernel.Kernel methods;
// analytic's closed-form primitives make this box-level transform exact
// for the shapes this backend supports.
func translateSolid(s *kernel.Solid, offset model.Vec3) *kernel.Solid {
	cp := *s
	cp.BBox = model.BBox{
		Min: model.Vec3{X: s.BBox.Min.X + offset.X, Y: s.BBox.Min.Y + offset.Y, Z: s.BBox.Min.Z + offset.Z},
		Max: model.Vec3{X: s.BBox.Max.X + offset.X, Y: s.BBox.Max.Y + offset.Y, Z: s.BBox.Max.Z + offset.Z},
	}
	return &cp
}

func rotateSolidAboutAxis(s *kernel.Solid, origin, axis model.Vec3, angle float64) *kernel.Solid {
	cp := *s
	rotatePoint := func(p model.Vec3) model.Vec3 {
		return rotateAboutAxis(p, origin, axis, angle)
	}
	corners := boxCorners(s.BBox)
	min, max := corners[0], corners[0]
	for _, c := range corners {
		rc := rotatePoint(c)
		min = model.Vec3{X: math.Min(min.X, rc.X), Y: math.Min(min.Y, rc.Y), Z: math.Min(min.Z, rc.Z)}
		max = model.Vec3{X: math.Max(max.X, rc.X), Y: math.Max(max.Y, rc.Y), Z: math.Max(max.Z, rc.Z)}
	}
	cp.BBox = model.BBox{Min: min, Max: max}
	return &cp
}

func mirrorSolid(s *kernel.Solid, planeOrigin, planeNormal model.Vec3) *kernel.Solid {
	cp := *s
	n := normalize(planeNormal)
	reflect := func(p model.Vec3) model.Vec3 {
		rel := model.Vec3{X: p.X - planeOrigin.X, Y: p.Y - planeOrigin.Y, Z: p.Z - planeOrigin.Z}
		d := rel.X*n.X + rel.Y*n.Y + rel.Z*n.Z
		return model.Vec3{
			X: p.X - 2*d*n.X,
			Y: p.Y - 2*d*n.Y,
			Z: p.Z - 2*d*n.Z,
		}
	}
	corners := boxCorners(s.BBox)
	min, max := reflect(corners[0]), reflect(corners[0])
	for _, c := range corners {
		rc := reflect(c)
		min = model.Vec3{X: math.Min(min.X, rc.X), Y: math.Min(min.Y, rc.Y), Z: math.Min(min.Z, rc.Z)}
		max = model.Vec3{X: math.Max(max.X, rc.X), Y: math.Max(max.Y, rc.Y), Z: math.Max(max.Z, rc.Z)}
	}
	cp.BBox = model.BBox{Min: min, Max: max}
	return &cp
}

func boxCorners(b model.BBox) []model.Vec3 {
	return []model.Vec3{
		{X: b.Min.X, Y: b.Min.Y, Z: b.Min.Z}, {X: b.Max.X, Y: b.Min.Y, Z: b.Min.Z},
		{X: b.Max.X, Y: b.Max.Y, Z: b.Min.Z}, {X: b.Min.X, Y: b.Max.Y, Z: b.Min.Z},
		{X: b.Min.X, Y: b.Min.Y, Z: b.Max.Z}, {X: b.Max.X, Y: b.Min.Y, Z: b.Max.Z},
		{X: b.Max.X, Y: b.Max.Y, Z: b.Max.Z}, {X: b.Min.X, Y: b.Max.Y, Z: b.Max.Z},
	}
}

func rotateAboutAxis(p, origin, axis model.Vec3, angle float64) model.Vec3 {
	a := normalize(axis)
	rel := model.Vec3{X: p.X - origin.X, Y: p.Y - origin.Y, Z: p.Z - origin.Z}
	cosT, sinT := math.Cos(angle), math.Sin(angle)
	dotAR := rel.X*a.X + rel.Y*a.Y + rel.Z*a.Z
	crossAR := model.Vec3{
		X: a.Y*rel.Z - a.Z*rel.Y,
		Y: a.Z*rel.X - a.X*rel.Z,
		Z: a.X*rel.Y - a.Y*rel.X,
	}
	rx := rel.X*cosT + crossAR.X*sinT + a.X*dotAR*(1-cosT)
	ry := rel.Y*cosT + crossAR.Y*sinT + a.Y*dotAR*(1-cosT)
	rz := rel.Z*cosT + crossAR.Z*sinT + a.Z*dotAR*(1-cosT)
	return model.Vec3{X: rx + origin.X, Y: ry + origin.Y, Z: rz + origin.Z}
}
