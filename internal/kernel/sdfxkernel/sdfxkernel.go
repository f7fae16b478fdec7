// Package sdfxkernel adapts github.com/deadsy/sdfx's signed-distance-field
// modeling primitives to the kernel.Kernel interface. It is CADcore's
// secondary backend: signed-distance booleans are exact for arbitrary
// solids (unlike internal/kernel/analytic's bounding-box approximation),
// at the cost of needing marching-cubes tessellation to get a mesh out.
// It is not exercised by the default test suite -- see DESIGN.md.
package sdfxkernel

import (
	"encoding/json"
	"fmt"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"

	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/model"
)

// Backend implements kernel.Kernel over sdfx's sdf.SDF3 values. Each Solid's
// BRep blob is a small JSON descriptor sufficient to rebuild the same sdf.SDF3
// deterministically; sdfx itself has no native serialization format.
type Backend struct {
	// MeshCells bounds marching-cubes resolution; higher is more accurate
	// and slower. 64 is sdfx's typical default for a quick preview render.
	MeshCells int
}

func New() *Backend {
	return &Backend{MeshCells: 64}
}

type sdfDoc struct {
	Kind   string               `json:"kind"`
	Params kernel.PrimitiveSpec `json:"params,omitempty"`
	Op     string               `json:"op,omitempty"`
	A, B   []byte               `json:"a,omitempty"`
}

func v3(v model.Vec3) sdf.V3 { return sdf.V3{X: v.X, Y: v.Y, Z: v.Z} }

func (b *Backend) toSDF(doc sdfDoc) (sdf.SDF3, error) {
	switch doc.Kind {
	case "sphere":
		s, err := sdf.Sphere3D(doc.Params.Radius)
		if err != nil {
			return nil, err
		}
		return sdf.Transform3D(s, sdf.Translate3d(v3(doc.Params.Center))), nil
	case "cylinder":
		s, err := sdf.Cylinder3D(doc.Params.Height, doc.Params.Radius, 0)
		if err != nil {
			return nil, err
		}
		return sdf.Transform3D(s, sdf.Translate3d(v3(doc.Params.Center))), nil
	case "cone":
		s, err := sdf.Cone3D(doc.Params.Height, doc.Params.Radius, doc.Params.SecondaryRadius, 0)
		if err != nil {
			return nil, err
		}
		return sdf.Transform3D(s, sdf.Translate3d(v3(doc.Params.Center))), nil
	case "boolean":
		a, err := b.decodeSDF(doc.A)
		if err != nil {
			return nil, err
		}
		c, err := b.decodeSDF(doc.B)
		if err != nil {
			return nil, err
		}
		switch doc.Op {
		case string(kernel.Union):
			return sdf.Union3D(a, c), nil
		case string(kernel.Intersection):
			return sdf.Intersect3D(a, c), nil
		case string(kernel.Subtraction):
			return sdf.Difference3D(a, c), nil
		default:
			return nil, fmt.Errorf("sdfxkernel: unknown boolean op %q", doc.Op)
		}
	default:
		return nil, fmt.Errorf("sdfxkernel: unknown doc kind %q", doc.Kind)
	}
}

func (b *Backend) decodeSDF(raw []byte) (sdf.SDF3, error) {
	var doc sdfDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return b.toSDF(doc)
}

func (b *Backend) solidFromDoc(doc sdfDoc) (*kernel.Solid, error) {
	s, err := b.toSDF(doc)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	bb := s.BoundingBox()
	return &kernel.Solid{
		BRep: raw,
		BBox: model.BBox{
			Min: model.Vec3{X: bb.Min.X, Y: bb.Min.Y, Z: bb.Min.Z},
			Max: model.Vec3{X: bb.Max.X, Y: bb.Max.Y, Z: bb.Max.Z},
		},
		Topology: model.SolidProps{IsClosed: true, IsManifold: true, EulerChar: 2},
	}, nil
}

func (b *Backend) Primitive(spec kernel.PrimitiveSpec) (*kernel.Solid, error) {
	kind := ""
	switch spec.Kind {
	case model.KindSphere:
		kind = "sphere"
	case model.KindCylinder:
		kind = "cylinder"
	case model.KindCone:
		kind = "cone"
	default:
		return nil, fmt.Errorf("sdfxkernel: unsupported primitive kind %q", spec.Kind)
	}
	return b.solidFromDoc(sdfDoc{Kind: kind, Params: spec})
}

func (b *Backend) Extrude(spec kernel.ExtrudeSpec) (*kernel.Solid, error) {
	return nil, fmt.Errorf("sdfxkernel: extrude not implemented, use the analytic backend")
}

func (b *Backend) Revolve(spec kernel.RevolveSpec) (*kernel.Solid, error) {
	return nil, fmt.Errorf("sdfxkernel: revolve not implemented, use the analytic backend")
}

func (b *Backend) Loft(spec kernel.LoftSpec) (*kernel.Solid, error) {
	return nil, fmt.Errorf("sdfxkernel: loft not implemented, use the analytic backend")
}

func (b *Backend) Sweep(spec kernel.SweepSpec) (*kernel.Solid, error) {
	return nil, fmt.Errorf("sdfxkernel: sweep not implemented, use the analytic backend")
}

func (b *Backend) Boolean(op kernel.BooleanOp, a, bSolid *kernel.Solid) (*kernel.Solid, error) {
	return b.solidFromDoc(sdfDoc{Kind: "boolean", Op: string(op), A: a.BRep, B: bSolid.BRep})
}

// Tessellate runs sdfx's octree marching-cubes renderer to extract a
// triangle mesh at the configured resolution.
func (b *Backend) Tessellate(s *kernel.Solid, maxDeviation float64) (*kernel.Mesh, error) {
	var doc sdfDoc
	if err := json.Unmarshal(s.BRep, &doc); err != nil {
		return nil, err
	}
	sdfSolid, err := b.toSDF(doc)
	if err != nil {
		return nil, err
	}
	cells := b.MeshCells
	if cells <= 0 {
		cells = 64
	}
	triangles := render.ToTriangles(sdfSolid, render.NewMarchingCubesOctree(cells))

	vertIndex := map[sdf.V3]int{}
	var verts []model.Vec3
	var tris [][3]int
	indexOf := func(p sdf.V3) int {
		if i, ok := vertIndex[p]; ok {
			return i
		}
		i := len(verts)
		vertIndex[p] = i
		verts = append(verts, model.Vec3{X: p.X, Y: p.Y, Z: p.Z})
		return i
	}
	for _, t := range triangles {
		tris = append(tris, [3]int{indexOf(t.V[0]), indexOf(t.V[1]), indexOf(t.V[2])})
	}
	return &kernel.Mesh{Vertices: verts, Triangles: tris}, nil
}

func (b *Backend) Serialize(s *kernel.Solid) ([]byte, error) {
	return json.Marshal(s)
}

func (b *Backend) Deserialize(data []byte) (*kernel.Solid, error) {
	var s kernel.Solid
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
