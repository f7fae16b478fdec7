package mesh

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/agentcad/cadcore/internal/codec"
	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/model"
)

// STLCodec writes binary STL: an 80-byte header, a uint32 triangle count,
// then 50 bytes per triangle (normal + 3 vertices + 2 attribute bytes).
type STLCodec struct {
	MaxDeviation float64
}

func NewSTLCodec() *STLCodec { return &STLCodec{MaxDeviation: 0.1} }

func (c *STLCodec) Format() codec.Format { return codec.FormatSTL }

func (c *STLCodec) Export(s *kernel.Solid, k kernel.Kernel) ([]byte, *codec.ExportReport, error) {
	m, err := k.Tessellate(s, c.MaxDeviation)
	if err != nil {
		return nil, nil, fmt.Errorf("tessellating for STL export: %w", err)
	}
	var buf bytes.Buffer
	header := make([]byte, 80)
	copy(header, []byte("cadcore binary STL export"))
	buf.Write(header)
	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Triangles)))

	for _, t := range m.Triangles {
		a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
		n := triangleNormal(a, b, c)
		writeVec32(&buf, n)
		writeVec32(&buf, a)
		writeVec32(&buf, b)
		writeVec32(&buf, c)
		binary.Write(&buf, binary.LittleEndian, uint16(0))
	}

	meshVol, meshArea := meshMassProps(m)
	report := &codec.ExportReport{
		Format: codec.FormatSTL, ExactVolume: s.Volume, MeshVolume: meshVol,
		ExactArea: s.SurfaceArea, MeshArea: meshArea, VolumeDeltaPct: pctDelta(s.Volume, meshVol),
	}
	return buf.Bytes(), report, nil
}

func (c *STLCodec) Import(data []byte) (*kernel.Solid, error) {
	return nil, fmt.Errorf("STL import is unsupported: mesh formats do not carry exact BRep geometry")
}

func writeVec32(buf *bytes.Buffer, v model.Vec3) {
	binary.Write(buf, binary.LittleEndian, float32(v.X))
	binary.Write(buf, binary.LittleEndian, float32(v.Y))
	binary.Write(buf, binary.LittleEndian, float32(v.Z))
}

func triangleNormal(a, b, c model.Vec3) model.Vec3 {
	ux, uy, uz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	vx, vy, vz := c.X-a.X, c.Y-a.Y, c.Z-a.Z
	nx, ny, nz := uy*vz-uz*vy, uz*vx-ux*vz, ux*vy-uy*vx
	n := math.Sqrt(nx*nx + ny*ny + nz*nz)
	if n < 1e-12 {
		return model.Vec3{}
	}
	return model.Vec3{X: nx / n, Y: ny / n, Z: nz / n}
}
