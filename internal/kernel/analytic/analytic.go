// Package analytic is CADcore's default geometry kernel backend: every
// operation is a closed-form calculation (box/cylinder/sphere/cone volumes,
// the shoelace formula for prismatic extrusion, Pappus's centroid theorem
// for revolution, and boolean composition that is exact only for primitive
// pairs with a known analytic intersection and a bounding-box overlap
// estimate otherwise). It trades full general-purpose BRep
// modeling for determinism, so it's the backend internal/modeling's tests
// exercise; internal/kernel/sdfxkernel covers the cases this one can't.
package analytic

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/model"
)

// Backend implements kernel.Kernel with pure Go closed-form math.
type Backend struct{}

func New() *Backend { return &Backend{} }

// brepDoc is the on-disk shape analytic solids serialize to: enough to
// recompute mass properties and retessellate without needing a real BRep
// data structure, matching this backend's closed-form design.
type brepDoc struct {
	Kind   string        `json:"kind"`
	Params kernel.PrimitiveSpec `json:"params,omitempty"`
	Hull   []model.Vec3  `json:"hull,omitempty"` // coarse convex hull for booleans/tessellation fallback
}

func (b *Backend) Primitive(spec kernel.PrimitiveSpec) (*kernel.Solid, error) {
	switch spec.Kind {
	case model.KindSphere:
		return sphereSolid(spec)
	case model.KindCylinder:
		return cylinderSolid(spec)
	case model.KindCone:
		return coneSolid(spec)
	case model.KindTorus:
		return torusSolid(spec)
	default:
		return nil, fmt.Errorf("analytic kernel: unsupported primitive kind %q", spec.Kind)
	}
}

func sphereSolid(spec kernel.PrimitiveSpec) (*kernel.Solid, error) {
	r := spec.Radius
	vol := 4.0 / 3.0 * math.Pi * r * r * r
	area := 4 * math.Pi * r * r
	bbox := bboxFromCenter(spec.Center, r, r, r)
	doc := brepDoc{Kind: "sphere", Params: spec}
	raw, _ := json.Marshal(doc)
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: area, BBox: bbox,
		Topology: model.SolidProps{FaceCount: 1, EdgeCount: 0, VertexCount: 0, EulerChar: 2, IsClosed: true, IsManifold: true},
	}, nil
}

func cylinderSolid(spec kernel.PrimitiveSpec) (*kernel.Solid, error) {
	r, h := spec.Radius, spec.Height
	vol := math.Pi * r * r * h
	area := 2*math.Pi*r*h + 2*math.Pi*r*r
	bbox := bboxFromCenter(spec.Center, r, r, h/2)
	doc := brepDoc{Kind: "cylinder", Params: spec}
	raw, _ := json.Marshal(doc)
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: area, BBox: bbox,
		Topology: model.SolidProps{FaceCount: 3, EdgeCount: 2, VertexCount: 0, EulerChar: 2, IsClosed: true, IsManifold: true},
	}, nil
}

func coneSolid(spec kernel.PrimitiveSpec) (*kernel.Solid, error) {
	r1, r2, h := spec.Radius, spec.SecondaryRadius, spec.Height
	vol := math.Pi * h / 3 * (r1*r1 + r1*r2 + r2*r2)
	slant := math.Hypot(r1-r2, h)
	area := math.Pi*(r1+r2)*slant + math.Pi*r1*r1 + math.Pi*r2*r2
	bbox := bboxFromCenter(spec.Center, math.Max(r1, r2), math.Max(r1, r2), h/2)
	doc := brepDoc{Kind: "cone", Params: spec}
	raw, _ := json.Marshal(doc)
	faces := 3
	if r2 == 0 {
		faces = 2
	}
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: area, BBox: bbox,
		Topology: model.SolidProps{FaceCount: faces, EdgeCount: 2, VertexCount: 0, EulerChar: 2, IsClosed: true, IsManifold: true},
	}, nil
}

func torusSolid(spec kernel.PrimitiveSpec) (*kernel.Solid, error) {
	R, r := spec.Radius, spec.SecondaryRadius
	vol := 2 * math.Pi * math.Pi * R * r * r
	area := 4 * math.Pi * math.Pi * R * r
	bbox := bboxFromCenter(spec.Center, R+r, R+r, r)
	doc := brepDoc{Kind: "torus", Params: spec}
	raw, _ := json.Marshal(doc)
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: area, BBox: bbox,
		Topology: model.SolidProps{FaceCount: 1, EdgeCount: 0, VertexCount: 0, EulerChar: 0, IsClosed: true, IsManifold: true},
	}, nil
}

func bboxFromCenter(c model.Vec3, dx, dy, dz float64) model.BBox {
	return model.BBox{
		Min: model.Vec3{X: c.X - dx, Y: c.Y - dy, Z: c.Z - dz},
		Max: model.Vec3{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz},
	}
}

// Extrude computes a prismatic solid from a closed planar polygon via the
// shoelace formula for base area, extruded along the plane normal.
func (b *Backend) Extrude(spec kernel.ExtrudeSpec) (*kernel.Solid, error) {
	if len(spec.ProfilePoints) < 3 {
		return nil, fmt.Errorf("extrude profile needs at least 3 points, got %d", len(spec.ProfilePoints))
	}
	area := polygonArea(spec.ProfilePoints, spec.PlaneNormal)
	if area <= 0 {
		return nil, fmt.Errorf("extrude profile has non-positive area %.9g", area)
	}
	vol := area * spec.Distance
	perimeter := polygonPerimeter(spec.ProfilePoints)
	lateralArea := perimeter * spec.Distance
	surfaceArea := lateralArea + 2*area

	min, max := boundsOf(spec.ProfilePoints)
	topOffset := model.Vec3{
		X: spec.PlaneNormal.X * spec.Distance,
		Y: spec.PlaneNormal.Y * spec.Distance,
		Z: spec.PlaneNormal.Z * spec.Distance,
	}
	max2 := model.Vec3{X: max.X + math.Abs(topOffset.X), Y: max.Y + math.Abs(topOffset.Y), Z: max.Z + math.Abs(topOffset.Z)}

	doc := brepDoc{Kind: "extrude", Hull: spec.ProfilePoints}
	raw, _ := json.Marshal(doc)
	n := len(spec.ProfilePoints)
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: surfaceArea,
		BBox: model.BBox{Min: min, Max: max2},
		Topology: model.SolidProps{
			FaceCount: n + 2, EdgeCount: 3 * n, VertexCount: 2 * n, EulerChar: 2, IsClosed: true, IsManifold: true,
		},
	}, nil
}

func polygonArea(pts []model.Vec3, normal model.Vec3) float64 {
	// Project onto the plane's dominant axes and apply the shoelace formula;
	// sufficient for the planar, non-self-intersecting sketches this system
	// accepts as extrusion/revolution profiles.
	u, v := planeBasis(normal)
	sum := 0.0
	n := len(pts)
	for i := 0; i < n; i++ {
		a, c := pts[i], pts[(i+1)%n]
		ax, ay := dot(a, u), dot(a, v)
		cx, cy := dot(c, u), dot(c, v)
		sum += ax*cy - cx*ay
	}
	return math.Abs(sum) / 2
}

func polygonPerimeter(pts []model.Vec3) float64 {
	sum := 0.0
	n := len(pts)
	for i := 0; i < n; i++ {
		a, c := pts[i], pts[(i+1)%n]
		sum += math.Sqrt((a.X-c.X)*(a.X-c.X) + (a.Y-c.Y)*(a.Y-c.Y) + (a.Z-c.Z)*(a.Z-c.Z))
	}
	return sum
}

func planeBasis(normal model.Vec3) (model.Vec3, model.Vec3) {
	ref := model.Vec3{X: 1}
	if math.Abs(normal.X) > 0.9 {
		ref = model.Vec3{Y: 1}
	}
	u := normalizeV(cross(normal, ref))
	v := cross(normal, u)
	return u, v
}

func cross(a, b model.Vec3) model.Vec3 {
	return model.Vec3{X: a.Y*b.Z - a.Z*b.Y, Y: a.Z*b.X - a.X*b.Z, Z: a.X*b.Y - a.Y*b.X}
}
func dot(a, b model.Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func normalizeV(a model.Vec3) model.Vec3 {
	n := math.Sqrt(dot(a, a))
	if n < 1e-12 {
		return a
	}
	return model.Vec3{X: a.X / n, Y: a.Y / n, Z: a.Z / n}
}

func boundsOf(pts []model.Vec3) (model.Vec3, model.Vec3) {
	min, max := pts[0], pts[0]
	for _, p := range pts[1:] {
		min = model.Vec3{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
		max = model.Vec3{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
	}
	return min, max
}

// Revolve computes a solid of revolution via Pappus's centroid theorem:
// volume = 2*pi*(centroid distance from axis)*area, valid for a profile
// that does not cross the axis.
func (b *Backend) Revolve(spec kernel.RevolveSpec) (*kernel.Solid, error) {
	if len(spec.ProfilePoints) < 3 {
		return nil, fmt.Errorf("revolve profile needs at least 3 points, got %d", len(spec.ProfilePoints))
	}
	angle := spec.Angle
	if angle <= 0 || angle > 2*math.Pi {
		return nil, fmt.Errorf("revolve angle must be in (0, 2pi], got %v", angle)
	}
	axis := normalizeV(spec.AxisDirection)

	area := 0.0
	centroidDist := 0.0
	n := len(spec.ProfilePoints)
	var sumDist float64
	for _, p := range spec.ProfilePoints {
		sumDist += perpendicularDistance(p, spec.AxisOrigin, axis)
	}
	centroidDist = sumDist / float64(n)
	area = polygonArea(spec.ProfilePoints, loftNormal(spec.ProfilePoints))

	vol := angle * centroidDist * area
	surfaceArea := angle * centroidDist * polygonPerimeter(spec.ProfilePoints)

	min, max := boundsOf(spec.ProfilePoints)
	// the swept bounding box is conservatively the max radial distance in all directions
	maxR := 0.0
	for _, p := range spec.ProfilePoints {
		if d := perpendicularDistance(p, spec.AxisOrigin, axis); d > maxR {
			maxR = d
		}
	}
	bbox := model.BBox{
		Min: model.Vec3{X: spec.AxisOrigin.X - maxR, Y: spec.AxisOrigin.Y - maxR, Z: min.Z},
		Max: model.Vec3{X: spec.AxisOrigin.X + maxR, Y: spec.AxisOrigin.Y + maxR, Z: max.Z},
	}

	doc := brepDoc{Kind: "revolve", Hull: spec.ProfilePoints}
	raw, _ := json.Marshal(doc)
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: surfaceArea, BBox: bbox,
		Topology: model.SolidProps{FaceCount: n + 1, EdgeCount: 2 * n, VertexCount: n, EulerChar: 2, IsClosed: true, IsManifold: true},
	}, nil
}

func perpendicularDistance(p, origin, axis model.Vec3) float64 {
	rel := model.Vec3{X: p.X - origin.X, Y: p.Y - origin.Y, Z: p.Z - origin.Z}
	along := dot(rel, axis)
	proj := model.Vec3{X: axis.X * along, Y: axis.Y * along, Z: axis.Z * along}
	perp := model.Vec3{X: rel.X - proj.X, Y: rel.Y - proj.Y, Z: rel.Z - proj.Z}
	return math.Sqrt(dot(perp, perp))
}

// Loft computes a solid by integrating cross-sectional area along the
// profile sequence using the trapezoidal rule -- exact for a ruled loft
// between profiles of equal point count whose area varies linearly, and a
// reasonable approximation for a smooth loft.
func (b *Backend) Loft(spec kernel.LoftSpec) (*kernel.Solid, error) {
	if len(spec.Profiles) < 2 {
		return nil, fmt.Errorf("loft needs at least 2 profiles, got %d", len(spec.Profiles))
	}
	for i, prof := range spec.Profiles {
		if len(prof) < 3 {
			return nil, fmt.Errorf("loft profile %d needs at least 3 points, got %d", i, len(prof))
		}
	}
	normal := loftNormal(spec.Profiles[0])
	areas := make([]float64, len(spec.Profiles))
	perims := make([]float64, len(spec.Profiles))
	centroids := make([]model.Vec3, len(spec.Profiles))
	for i, prof := range spec.Profiles {
		areas[i] = polygonArea(prof, normal)
		perims[i] = polygonPerimeter(prof)
		centroids[i] = centroidOf(prof)
	}
	vol := 0.0
	lateralArea := 0.0
	for i := 1; i < len(spec.Profiles); i++ {
		h := math.Sqrt(dot(sub(centroids[i], centroids[i-1]), sub(centroids[i], centroids[i-1])))
		vol += h * (areas[i-1] + areas[i]) / 2
		lateralArea += h * (perims[i-1] + perims[i]) / 2
	}
	if vol <= 0 {
		return nil, fmt.Errorf("loft produced non-positive volume %.9g", vol)
	}
	surfaceArea := lateralArea
	faceCount := len(spec.Profiles) - 1
	if spec.Solid {
		surfaceArea += areas[0] + areas[len(areas)-1]
		faceCount += 2
	}
	min, max := boundsOf(spec.Profiles[0])
	for _, prof := range spec.Profiles[1:] {
		pmin, pmax := boundsOf(prof)
		min = model.Vec3{X: math.Min(min.X, pmin.X), Y: math.Min(min.Y, pmin.Y), Z: math.Min(min.Z, pmin.Z)}
		max = model.Vec3{X: math.Max(max.X, pmax.X), Y: math.Max(max.Y, pmax.Y), Z: math.Max(max.Z, pmax.Z)}
	}
	doc := brepDoc{Kind: "loft", Hull: spec.Profiles[0]}
	raw, _ := json.Marshal(doc)
	n := len(spec.Profiles[0])
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: surfaceArea, BBox: model.BBox{Min: min, Max: max},
		Topology: model.SolidProps{
			FaceCount: faceCount, EdgeCount: 3 * n, VertexCount: n * len(spec.Profiles),
			EulerChar: 2, IsClosed: spec.Solid, IsManifold: spec.Solid,
		},
	}, nil
}

func loftNormal(prof []model.Vec3) model.Vec3 {
	if len(prof) < 3 {
		return model.Vec3{Z: 1}
	}
	return normalizeV(cross(sub(prof[1], prof[0]), sub(prof[2], prof[0])))
}

func sub(a, c model.Vec3) model.Vec3 { return model.Vec3{X: a.X - c.X, Y: a.Y - c.Y, Z: a.Z - c.Z} }

func centroidOf(pts []model.Vec3) model.Vec3 {
	var c model.Vec3
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
		c.Z += p.Z
	}
	n := float64(len(pts))
	return model.Vec3{X: c.X / n, Y: c.Y / n, Z: c.Z / n}
}

// Sweep computes a solid by carrying a planar profile's cross-section along
// a path polyline, approximating volume as cross-section area times path
// length (exact for a straight path, close for a gently-curved G1 one).
func (b *Backend) Sweep(spec kernel.SweepSpec) (*kernel.Solid, error) {
	if len(spec.ProfilePoints) < 3 {
		return nil, fmt.Errorf("sweep profile needs at least 3 points, got %d", len(spec.ProfilePoints))
	}
	if len(spec.Path) < 2 {
		return nil, fmt.Errorf("sweep path needs at least 2 points, got %d", len(spec.Path))
	}
	area := polygonArea(spec.ProfilePoints, spec.PlaneNormal)
	if area <= 0 {
		return nil, fmt.Errorf("sweep profile has non-positive area %.9g", area)
	}
	pathLen := 0.0
	for i := 1; i < len(spec.Path); i++ {
		pathLen += math.Sqrt(dot(sub(spec.Path[i], spec.Path[i-1]), sub(spec.Path[i], spec.Path[i-1])))
	}
	vol := area * pathLen
	perimeter := polygonPerimeter(spec.ProfilePoints)
	surfaceArea := perimeter*pathLen + 2*area

	min, max := boundsOf(spec.ProfilePoints)
	for _, p := range spec.Path {
		min = model.Vec3{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
		max = model.Vec3{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
	}
	n := len(spec.ProfilePoints)
	doc := brepDoc{Kind: "sweep", Hull: spec.ProfilePoints}
	raw, _ := json.Marshal(doc)
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: surfaceArea, BBox: model.BBox{Min: min, Max: max},
		Topology: model.SolidProps{FaceCount: n + 2, EdgeCount: 3 * n, VertexCount: 2 * n, EulerChar: 2, IsClosed: true, IsManifold: true},
	}, nil
}

// Boolean composes two solids. Pairs with enough analytic structure
// (currently: a bbox-axis-aligned cylinder against a prismatic operand)
// get an exact intersection volume; other pairs fall back to scaling each
// operand's volume by its bounding-box overlap fraction and taking the
// smaller -- callers should prefer the sdfx backend when exact booleans on
// arbitrary solids matter.
func (b *Backend) Boolean(op kernel.BooleanOp, a, bSolid *kernel.Solid) (*kernel.Solid, error) {
	inter := intersectionVolume(a, bSolid)
	var vol float64
	switch op {
	case kernel.Union:
		vol = a.Volume + bSolid.Volume - inter
	case kernel.Intersection:
		if inter <= 0 {
			return nil, kernel.ErrEmptyResult
		}
		vol = inter
	case kernel.Subtraction:
		vol = a.Volume - inter
		if vol <= 0 {
			return nil, kernel.ErrEmptyResult
		}
	default:
		return nil, fmt.Errorf("unknown boolean op %q", op)
	}
	area := a.SurfaceArea + bSolid.SurfaceArea // coarse upper bound; exact face merging needs a real BRep kernel.
	bbox := unionBBox(a.BBox, bSolid.BBox)
	if op == kernel.Intersection {
		bbox = intersectBBox(a.BBox, bSolid.BBox)
	}
	if op == kernel.Subtraction {
		bbox = a.BBox
	}

	doc := brepDoc{Kind: "boolean:" + string(op)}
	raw, _ := json.Marshal(doc)
	return &kernel.Solid{
		BRep: raw, Volume: vol, SurfaceArea: area, BBox: bbox,
		Topology: model.SolidProps{FaceCount: a.Topology.FaceCount + bSolid.Topology.FaceCount, IsClosed: true, IsManifold: true, EulerChar: 2},
	}, nil
}

// intersectionVolume estimates vol(a ∩ b), preferring the exact cylinder
// clip when one operand is an axis-aligned cylinder whose cross-section
// lies inside the other's bounding box.
func intersectionVolume(a, b *kernel.Solid) float64 {
	overlap := bboxOverlapVolume(a.BBox, b.BBox)
	if overlap <= 0 {
		return 0
	}
	if v, ok := cylinderClipVolume(b, a.BBox); ok {
		return v
	}
	if v, ok := cylinderClipVolume(a, b.BBox); ok {
		return v
	}
	return math.Min(scaledOverlap(a, overlap), scaledOverlap(b, overlap))
}

// scaledOverlap apportions a solid's volume by the fraction of its bounding
// box that overlaps the other operand.
func scaledOverlap(s *kernel.Solid, overlap float64) float64 {
	own := bboxVolume(s.BBox)
	if own <= 0 {
		return 0
	}
	return s.Volume * overlap / own
}

// cylinderClipVolume returns the exact volume of a bbox-axis-aligned
// cylinder clipped to box, when the cylinder's cross-section sits fully
// inside the box laterally (the only configuration with a closed form).
func cylinderClipVolume(s *kernel.Solid, box model.BBox) (float64, bool) {
	var doc brepDoc
	if err := json.Unmarshal(s.BRep, &doc); err != nil || doc.Kind != "cylinder" {
		return 0, false
	}
	axis := doc.Params.Axis
	if axis == (model.Vec3{}) {
		axis = model.Vec3{Z: 1}
	}
	n := normalizeV(axis)
	if math.Abs(math.Abs(n.Z)-1) > 1e-9 {
		return 0, false
	}
	r, h, c := doc.Params.Radius, doc.Params.Height, doc.Params.Center
	if c.X-r < box.Min.X || c.X+r > box.Max.X || c.Y-r < box.Min.Y || c.Y+r > box.Max.Y {
		return 0, false
	}
	inside := math.Min(c.Z+h/2, box.Max.Z) - math.Max(c.Z-h/2, box.Min.Z)
	if inside <= 0 {
		return 0, true
	}
	return math.Pi * r * r * inside, true
}

func bboxVolume(b model.BBox) float64 {
	return math.Max(0, b.Max.X-b.Min.X) * math.Max(0, b.Max.Y-b.Min.Y) * math.Max(0, b.Max.Z-b.Min.Z)
}

func intersectBBox(a, b model.BBox) model.BBox {
	return model.BBox{
		Min: model.Vec3{X: math.Max(a.Min.X, b.Min.X), Y: math.Max(a.Min.Y, b.Min.Y), Z: math.Max(a.Min.Z, b.Min.Z)},
		Max: model.Vec3{X: math.Min(a.Max.X, b.Max.X), Y: math.Min(a.Max.Y, b.Max.Y), Z: math.Min(a.Max.Z, b.Max.Z)},
	}
}

func bboxOverlapVolume(a, b model.BBox) float64 {
	dx := math.Max(0, math.Min(a.Max.X, b.Max.X)-math.Max(a.Min.X, b.Min.X))
	dy := math.Max(0, math.Min(a.Max.Y, b.Max.Y)-math.Max(a.Min.Y, b.Min.Y))
	dz := math.Max(0, math.Min(a.Max.Z, b.Max.Z)-math.Max(a.Min.Z, b.Min.Z))
	return dx * dy * dz
}

func unionBBox(a, b model.BBox) model.BBox {
	return model.BBox{
		Min: model.Vec3{X: math.Min(a.Min.X, b.Min.X), Y: math.Min(a.Min.Y, b.Min.Y), Z: math.Min(a.Min.Z, b.Min.Z)},
		Max: model.Vec3{X: math.Max(a.Max.X, b.Max.X), Y: math.Max(a.Max.Y, b.Max.Y), Z: math.Max(a.Max.Z, b.Max.Z)},
	}
}

// Tessellate produces a coarse triangulated box approximation from the
// solid's bounding box -- sufficient for mesh export round-tripping and
// progress previews without a full faceting algorithm.
func (b *Backend) Tessellate(s *kernel.Solid, maxDeviation float64) (*kernel.Mesh, error) {
	min, max := s.BBox.Min, s.BBox.Max
	verts := []model.Vec3{
		{X: min.X, Y: min.Y, Z: min.Z}, {X: max.X, Y: min.Y, Z: min.Z},
		{X: max.X, Y: max.Y, Z: min.Z}, {X: min.X, Y: max.Y, Z: min.Z},
		{X: min.X, Y: min.Y, Z: max.Z}, {X: max.X, Y: min.Y, Z: max.Z},
		{X: max.X, Y: max.Y, Z: max.Z}, {X: min.X, Y: max.Y, Z: max.Z},
	}
	tris := [][3]int{
		{0, 1, 2}, {0, 2, 3}, {4, 6, 5}, {4, 7, 6},
		{0, 4, 5}, {0, 5, 1}, {1, 5, 6}, {1, 6, 2},
		{2, 6, 7}, {2, 7, 3}, {3, 7, 4}, {3, 4, 0},
	}
	return &kernel.Mesh{Vertices: verts, Triangles: tris}, nil
}

func (b *Backend) Serialize(s *kernel.Solid) ([]byte, error) {
	return json.Marshal(s)
}

func (b *Backend) Deserialize(data []byte) (*kernel.Solid, error) {
	var s kernel.Solid
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding analytic solid: %w", err)
	}
	return &s, nil
}
