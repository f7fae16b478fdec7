// Package kernel defines the geometry kernel capability surface
// (spec.md §6 solid.* operations) as a pluggable interface, since the spec
// treats the kernel's internal numerics as an external dependency and
// explicitly excludes reimplementing them from scratch (spec.md
// Non-goals). Two backends satisfy Kernel: internal/kernel/analytic (the
// default, deterministic, fully covered by tests) and
// internal/kernel/sdfxkernel (an adapter over github.com/deadsy/sdfx, not
// exercised by the default test suite).
package kernel

import (
	"errors"

	"github.com/agentcad/cadcore/internal/model"
)

// ErrEmptyResult is returned by Boolean when the requested composition has
// no material left (e.g. intersecting disjoint solids, or subtracting a
// solid that swallows the first operand whole); callers surface it as
// OperationInvalid rather than a kernel failure.
var ErrEmptyResult = errors.New("boolean operation produced an empty solid")

// Mesh is a coarse triangulated approximation of a solid, used for mesh
// export and for progress-preview frames.
type Mesh struct {
	Vertices  []model.Vec3
	Triangles [][3]int
}

// BooleanOp enumerates the supported solid boolean operations.
type BooleanOp string

const (
	Union        BooleanOp = "union"
	Intersection BooleanOp = "intersection"
	Subtraction  BooleanOp = "subtraction"
)

// PrimitiveSpec describes one of the closed-form solid primitives.
type PrimitiveSpec struct {
	Kind            model.Kind
	Center          model.Vec3
	Axis            model.Vec3
	Radius          float64
	SecondaryRadius float64
	Height          float64
}

// ExtrudeSpec describes a prismatic extrusion of a planar profile.
type ExtrudeSpec struct {
	ProfilePoints []model.Vec3 // ordered, closed polygon in the sketch plane
	PlaneOrigin   model.Vec3
	PlaneNormal   model.Vec3
	Distance      float64
}

// RevolveSpec describes a solid of revolution around an axis.
type RevolveSpec struct {
	ProfilePoints []model.Vec3
	AxisOrigin    model.Vec3
	AxisDirection model.Vec3
	Angle         float64 // radians, up to 2*pi
}

// LoftSpec describes a solid (or shell) built by blending between an
// ordered sequence of closed planar profiles (spec.md §4.5). Ruled lofts
// interpolate cross-sections linearly between consecutive profiles;
// smooth lofts are not distinguished by the analytic backend's closed-form
// volume estimate, and that backend does not record the flag in its BRep
// document.
type LoftSpec struct {
	Profiles [][]model.Vec3 // ordered, each a closed planar polygon
	Solid    bool           // true: solid; false: open shell
	Ruled    bool           // true: ruled (linear) sections; false: smooth
}

// SweepSpec describes a solid built by sweeping a closed planar profile
// along a path wire. The path must be G1-continuous (spec.md §4.5); the
// analytic backend approximates the swept volume as cross-section area
// times polyline path length, which is exact for a straight path and an
// approximation for a curved one.
type SweepSpec struct {
	ProfilePoints []model.Vec3
	PlaneNormal   model.Vec3
	Path          []model.Vec3 // ordered polyline approximation of the path wire
}

// Solid is the kernel's opaque result: a serialized BRep blob plus the
// derived quantities EntityStore caches.
type Solid struct {
	BRep        []byte
	Volume      float64
	SurfaceArea float64
	BBox        model.BBox
	Topology    model.SolidProps
	Codes       []model.ValidationCode
}

// Kernel is the capability surface every modeling operation calls through.
// Every method is expected to be CPU-bound and synchronous; callers wrap
// calls in a circuit breaker and a cancellable context at the call site
// (internal/modeling).
type Kernel interface {
	Primitive(spec PrimitiveSpec) (*Solid, error)
	Extrude(spec ExtrudeSpec) (*Solid, error)
	Revolve(spec RevolveSpec) (*Solid, error)
	Loft(spec LoftSpec) (*Solid, error)
	Sweep(spec SweepSpec) (*Solid, error)
	Boolean(op BooleanOp, a, b *Solid) (*Solid, error)
	Tessellate(s *Solid, maxDeviation float64) (*Mesh, error)
	Serialize(s *Solid) ([]byte, error)
	Deserialize(data []byte) (*Solid, error)
}
