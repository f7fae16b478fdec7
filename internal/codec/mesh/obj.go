// Package mesh implements the lossy OBJ and STL export codecs. Both formats
// are simple enough (a flat vertex/face or triangle-normal list) that no
// example repo in the corpus imports a third-party writer for either one;
// this package hand-rolls the encoders (see DESIGN.md).
package mesh

import (
	"bufio"
	"bytes"
	"fmt"
	"math"

	"github.com/agentcad/cadcore/internal/codec"
	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/model"
)

// OBJCodec writes Wavefront OBJ: a vertex list and a face list, 1-indexed.
type OBJCodec struct {
	MaxDeviation float64
}

func NewOBJCodec() *OBJCodec { return &OBJCodec{MaxDeviation: 0.1} }

func (c *OBJCodec) Format() codec.Format { return codec.FormatOBJ }

func (c *OBJCodec) Export(s *kernel.Solid, k kernel.Kernel) ([]byte, *codec.ExportReport, error) {
	m, err := k.Tessellate(s, c.MaxDeviation)
	if err != nil {
		return nil, nil, fmt.Errorf("tessellating for OBJ export: %w", err)
	}
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	fmt.Fprintln(w, "# cadcore OBJ export")
	for _, v := range m.Vertices {
		fmt.Fprintf(w, "v %.9g %.9g %.9g\n", v.X, v.Y, v.Z)
	}
	for _, t := range m.Triangles {
		fmt.Fprintf(w, "f %d %d %d\n", t[0]+1, t[1]+1, t[2]+1)
	}
	if err := w.Flush(); err != nil {
		return nil, nil, err
	}
	meshVol, meshArea := meshMassProps(m)
	report := &codec.ExportReport{
		Format: codec.FormatOBJ, ExactVolume: s.Volume, MeshVolume: meshVol,
		ExactArea: s.SurfaceArea, MeshArea: meshArea, VolumeDeltaPct: pctDelta(s.Volume, meshVol),
	}
	return buf.Bytes(), report, nil
}

// Import is not supported: CADcore never reconstructs exact geometry from a
// mesh format, per spec.md -- meshes are a one-way export-only surface.
func (c *OBJCodec) Import(data []byte) (*kernel.Solid, error) {
	return nil, fmt.Errorf("OBJ import is unsupported: mesh formats do not carry exact BRep geometry")
}

func pctDelta(exact, approx float64) float64 {
	if exact == 0 {
		return 0
	}
	return math.Abs(exact-approx) / exact * 100
}

// meshMassProps estimates volume (signed tetrahedron sum from the origin)
// and surface area from a triangle mesh -- used only to populate
// ExportReport's precision comparison.
func meshMassProps(m *kernel.Mesh) (volume, area float64) {
	for _, t := range m.Triangles {
		a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
		volume += signedTetraVolume(a, b, c)
		area += triangleArea(a, b, c)
	}
	return math.Abs(volume), area
}

func signedTetraVolume(a, b, c model.Vec3) float64 {
	return (a.X*(b.Y*c.Z-b.Z*c.Y) - a.Y*(b.X*c.Z-b.Z*c.X) + a.Z*(b.X*c.Y-b.Y*c.X)) / 6
}

func triangleArea(a, b, c model.Vec3) float64 {
	ux, uy, uz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	vx, vy, vz := c.X-a.X, c.Y-a.Y, c.Z-a.Z
	cx, cy, cz := uy*vz-uz*vy, uz*vx-ux*vz, ux*vy-uy*vx
	return 0.5 * math.Sqrt(cx*cx+cy*cy+cz*cz)
}
