// Package codec defines the import/export contract (spec.md §6 file.*
// operations) and its two concrete implementations: codec/mesh (OBJ/STL,
// lossy tessellated export) and codec/brep (exact geometry round-trip via
// the kernel's own Serialize/Deserialize).
package codec

import "github.com/agentcad/cadcore/internal/kernel"

// Format identifies a supported file format.
type Format string

const (
	FormatOBJ  Format = "obj"
	FormatSTL  Format = "stl"
	FormatBRep Format = "brep"
)

// ExportReport records the precision tradeoff of a lossy export, so callers
// can warn when a tessellated mesh's volume/area diverges materially from
// the exact kernel values (spec.md §6).
type ExportReport struct {
	Format        Format
	ExactVolume   float64
	MeshVolume    float64
	ExactArea     float64
	MeshArea      float64
	VolumeDeltaPct float64
}

// Codec converts between a kernel.Solid and a file format's bytes.
type Codec interface {
	Format() Format
	Export(s *kernel.Solid, k kernel.Kernel) ([]byte, *ExportReport, error)
	Import(data []byte) (*kernel.Solid, error)
}
