// Package brep implements CADcore's exact-geometry codec: it delegates
// entirely to the active kernel.Kernel's own Serialize/Deserialize, and is
// the only import/export path that can round-trip a solid without losing
// precision to tessellation. The codec returns bytes and writes no files;
// the "geometry/{entity_id}.brep" sidecars under the persisted-state
// directory are written by the store (spec.md §6).
package brep

import (
	"github.com/agentcad/cadcore/internal/codec"
	"github.com/agentcad/cadcore/internal/kernel"
)

type Codec struct{}

func New() *Codec { return &Codec{} }

func (c *Codec) Format() codec.Format { return codec.FormatBRep }

func (c *Codec) Export(s *kernel.Solid, k kernel.Kernel) ([]byte, *codec.ExportReport, error) {
	data, err := k.Serialize(s)
	if err != nil {
		return nil, nil, err
	}
	return data, &codec.ExportReport{
		Format: codec.FormatBRep, ExactVolume: s.Volume, MeshVolume: s.Volume,
		ExactArea: s.SurfaceArea, MeshArea: s.SurfaceArea, VolumeDeltaPct: 0,
	}, nil
}

func (c *Codec) Import(data []byte) (*kernel.Solid, error) {
	return nil, errNoKernelBound
}

var errNoKernelBound = codecImportRequiresKernel{}

// codecImportRequiresKernel signals that Import must be called through
// ImportWithKernel: unlike Export, decoding a BRep blob is kernel-specific
// (the blob format is whatever that kernel's Serialize produced), so the
// plain Codec.Import from the codec.Codec interface can't do it alone.
type codecImportRequiresKernel struct{}

func (codecImportRequiresKernel) Error() string {
	return "brep import requires the originating kernel: call ImportWithKernel"
}

// ImportWithKernel decodes data using the given kernel backend's own
// Deserialize, which handlers should use instead of the bare Codec.Import.
func ImportWithKernel(data []byte, k kernel.Kernel) (*kernel.Solid, error) {
	return k.Deserialize(data)
}
