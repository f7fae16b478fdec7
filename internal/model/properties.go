package model

import (
	"fmt"
	"math"
)

const (
	// CoordBound bounds every finite coordinate magnitude (spec.md §3).
	CoordBound = 1e6
	// MinLength is the minimum nonzero length/radius accepted anywhere.
	MinLength = 1e-6
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkCoord(name string, v Vec3) error {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if !finite(c) || math.Abs(c) > CoordBound {
			return fmt.Errorf("%s coordinate out of range [-%g, %g]: %v", name, CoordBound, CoordBound, v)
		}
	}
	return nil
}

func dist(a, b Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func isUnit(v Vec3) bool {
	n := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	return math.Abs(n-1) < 1e-6
}

// PointProps backs point2d/point3d.
type PointProps struct {
	K     Kind
	Coord Vec3
}

func (p *PointProps) Kind() Kind { return p.K }
func (p *PointProps) Validate() error {
	return checkCoord("point", p.Coord)
}

// LineProps backs line2d/line3d.
type LineProps struct {
	K          Kind
	Start, End Vec3
}

func (l *LineProps) Kind() Kind { return l.K }
func (l *LineProps) Validate() error {
	if err := checkCoord("line.start", l.Start); err != nil {
		return err
	}
	if err := checkCoord("line.end", l.End); err != nil {
		return err
	}
	if l.Start == l.End {
		return fmt.Errorf("line endpoints must be distinct")
	}
	if dist(l.Start, l.End) < MinLength {
		return fmt.Errorf("line length %.9g below minimum %.9g", dist(l.Start, l.End), MinLength)
	}
	return nil
}

func (l *LineProps) Length() float64 { return dist(l.Start, l.End) }

// CircleProps backs circle and arc (arc adds StartAngle/EndAngle).
type CircleProps struct {
	K                    Kind
	Center               Vec3
	Radius               float64
	Normal               Vec3
	IsArc                bool
	StartAngle, EndAngle float64 // radians, only meaningful if IsArc
}

func (c *CircleProps) Kind() Kind { return c.K }
func (c *CircleProps) Validate() error {
	if err := checkCoord("circle.center", c.Center); err != nil {
		return err
	}
	if !finite(c.Radius) || c.Radius < MinLength || c.Radius >= CoordBound {
		return fmt.Errorf("radius %.9g out of range (%.9g, %g)", c.Radius, MinLength, CoordBound)
	}
	if !isUnit(c.Normal) {
		return fmt.Errorf("normal must be a unit vector, got %v", c.Normal)
	}
	if c.IsArc && c.StartAngle == c.EndAngle {
		return fmt.Errorf("arc start and end angles must differ")
	}
	return nil
}

// PlaneProps backs plane.
type PlaneProps struct {
	Origin Vec3
	Normal Vec3
}

func (p *PlaneProps) Kind() Kind { return KindPlane }
func (p *PlaneProps) Validate() error {
	if err := checkCoord("plane.origin", p.Origin); err != nil {
		return err
	}
	if !isUnit(p.Normal) {
		return fmt.Errorf("plane normal must be a unit vector, got %v", p.Normal)
	}
	return nil
}

// PrimitiveSolidProps backs sphere/cylinder/cone/torus.
type PrimitiveSolidProps struct {
	K              Kind
	Center         Vec3
	Axis           Vec3 // unit vector, meaningful for cylinder/cone/torus
	Radius         float64
	SecondaryRadius float64 // cone top radius / torus tube radius
	Height         float64
}

func (p *PrimitiveSolidProps) Kind() Kind { return p.K }
func (p *PrimitiveSolidProps) Validate() error {
	if err := checkCoord("center", p.Center); err != nil {
		return err
	}
	if p.Radius <= MinLength || p.Radius >= CoordBound {
		return fmt.Errorf("radius %.9g out of range (%.9g, %g)", p.Radius, MinLength, CoordBound)
	}
	if p.K != KindSphere && !isUnit(p.Axis) {
		return fmt.Errorf("axis must be a unit vector, got %v", p.Axis)
	}
	if p.K != KindSphere && (p.Height <= MinLength || p.Height >= CoordBound) {
		return fmt.Errorf("height %.9g out of range (%.9g, %g)", p.Height, MinLength, CoordBound)
	}
	return nil
}

// WireProps backs wire/sketch: an ordered list of member entity ids forming
// a (possibly closed) boundary.
type WireProps struct {
	K        Kind
	Members  []string
	Closed   bool
	PlaneRef *PlaneProps
}

func (w *WireProps) Kind() Kind { return w.K }
func (w *WireProps) Validate() error {
	if len(w.Members) == 0 {
		return fmt.Errorf("wire/sketch must reference at least one member entity")
	}
	return nil
}

// SolidProps backs solid: mass properties are cached separately on Entity;
// this struct holds the kernel handle plus topology metadata.
type SolidProps struct {
	FaceCount int
	EdgeCount int
	VertexCount int
	EulerChar int
	IsClosed  bool
	IsManifold bool
}

func (s *SolidProps) Kind() Kind { return KindSolid }
func (s *SolidProps) Validate() error {
	const maxFaces = 10000
	if s.FaceCount > maxFaces {
		return fmt.Errorf("face count %d exceeds maximum %d", s.FaceCount, maxFaces)
	}
	if !s.IsClosed {
		return fmt.Errorf("solid topology is not closed")
	}
	if !s.IsManifold {
		return fmt.Errorf("solid topology is not manifold")
	}
	return nil
}
