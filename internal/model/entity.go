// Package model defines the data types shared by every CADcore component:
// entities, constraints, workspaces and operations, per spec.md §3.
package model

import "time"

// Kind is the tagged union discriminator for Entity.Properties.
type Kind string

const (
	KindPoint2D  Kind = "point2d"
	KindPoint3D  Kind = "point3d"
	KindLine2D   Kind = "line2d"
	KindLine3D   Kind = "line3d"
	KindArc      Kind = "arc"
	KindCircle   Kind = "circle"
	KindPlane    Kind = "plane"
	KindSphere   Kind = "sphere"
	KindCylinder Kind = "cylinder"
	KindCone     Kind = "cone"
	KindTorus    Kind = "torus"
	KindSpline   Kind = "spline"
	KindWire     Kind = "wire"
	KindSketch   Kind = "sketch"
	KindSolid    Kind = "solid"
)

// Vec3 is a double-precision 3D coordinate, lengths in millimetres.
type Vec3 struct {
	X, Y, Z float64
}

// BBox is an axis-aligned bounding box.
type BBox struct {
	Min, Max Vec3
}

// Properties is the kind-specific payload of an Entity. Each concrete kind
// implements this to keep invariant checks compile-time reachable instead of
// routed through a bare map[string]any.
type Properties interface {
	Kind() Kind
	// Validate checks the kind-specific geometric invariants from spec.md §3.
	Validate() error
}

// CachedProps holds the derived geometric quantities the EntityStore
// memoizes on an entity record (spec.md §4.1). Stale is set on any mutation
// and cleared the next time a handler recomputes them from the kernel BRep.
type CachedProps struct {
	Volume      float64
	SurfaceArea float64
	Length      float64
	BBox        BBox
	Stale       bool
}

// ValidationCode is one of the topology validation codes (spec.md §4.5).
type ValidationCode string

const (
	NonManifoldEdge   ValidationCode = "NonManifoldEdge"
	NonManifoldVertex ValidationCode = "NonManifoldVertex"
	OpenShell         ValidationCode = "OpenShell"
	WrongFaceOrientation ValidationCode = "WrongFaceOrientation"
	DegenerateEdge    ValidationCode = "DegenerateEdge"
	DegenerateFace    ValidationCode = "DegenerateFace"
	SelfIntersection  ValidationCode = "SelfIntersection"
)

// Entity is a geometric object addressable by a stable id of the form
// "{workspace_id}:{kind}_{nonce}".
type Entity struct {
	ID             string
	Kind           Kind
	WorkspaceID    string
	Properties     Properties
	BRep           []byte // opaque kernel BRep blob, only set for KindSolid/KindSketch/KindWire
	Parents        []string
	Children       []string
	BBox           BBox
	Cached         CachedProps
	CreatedAt      time.Time
	ModifiedAt     time.Time
	CreatedByAgent string
	IsValid        bool
	ValidationCodes []ValidationCode

	// Origin is the id of the ancestor-workspace entity this row shadows.
	// It is set only on copy-on-write materializations (spec.md §3
	// Ownership: a branch borrows base entities by id until it mutates,
	// at which point it materialises a private copy); empty for entities
	// born in their own workspace.
	Origin string
	// Deleted marks a soft-deleted row. A materialized copy with Deleted
	// set is a branch tombstone: it shadows the inherited original out of
	// the branch's visibility without touching the shared row.
	Deleted bool
}

// LogicalID is the identity merge and visibility reason over: the origin
// id for a materialized copy, the entity's own id otherwise.
func (e *Entity) LogicalID() string {
	if e.Origin != "" {
		return e.Origin
	}
	return e.ID
}

// Clone returns a deep-enough copy suitable for copy-on-write materialization
// (WorkspaceStore branching, spec.md §4.2) and for undo payload capture.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Parents = append([]string(nil), e.Parents...)
	cp.Children = append([]string(nil), e.Children...)
	cp.ValidationCodes = append([]ValidationCode(nil), e.ValidationCodes...)
	cp.BRep = append([]byte(nil), e.BRep...)
	return &cp
}
