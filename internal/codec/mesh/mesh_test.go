package mesh

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/kernel/analytic"
	"github.com/agentcad/cadcore/internal/model"
)

func boxSolid(t *testing.T) *kernel.Solid {
	t.Helper()
	s, err := analytic.New().Extrude(kernel.ExtrudeSpec{
		ProfilePoints: []model.Vec3{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 5}, {X: 0, Y: 5}},
		PlaneNormal:   model.Vec3{Z: 1},
		Distance:      10,
	})
	require.NoError(t, err)
	return s
}

func TestOBJExportWritesVerticesAndFaces(t *testing.T) {
	s := boxSolid(t)
	data, report, err := NewOBJCodec().Export(s, analytic.New())
	require.NoError(t, err)

	text := string(data)
	assert.Equal(t, 8, strings.Count(text, "\nv "), "a box tessellation has 8 vertices")
	assert.Equal(t, 12, strings.Count(text, "\nf "), "a box tessellation has 12 triangles")
	assert.NotContains(t, text, "f 0", "OBJ face indices are 1-based")

	require.NotNil(t, report)
	assert.InDelta(t, 500.0, report.ExactVolume, 0.01)
	// The analytic backend tessellates to the solid's bounding box, which for
	// a plain prism is the solid itself.
	assert.InDelta(t, report.ExactVolume, report.MeshVolume, 0.01)
	assert.Less(t, report.VolumeDeltaPct, 0.1)
}

func TestOBJImportIsRejected(t *testing.T) {
	_, err := NewOBJCodec().Import([]byte("v 0 0 0\n"))
	require.Error(t, err)
}

func TestSTLExportHasBinaryLayout(t *testing.T) {
	s := boxSolid(t)
	data, report, err := NewSTLCodec().Export(s, analytic.New())
	require.NoError(t, err)
	require.NotNil(t, report)

	require.Greater(t, len(data), 84)
	count := binary.LittleEndian.Uint32(data[80:84])
	assert.Equal(t, uint32(12), count)
	assert.Equal(t, 84+int(count)*50, len(data), "binary STL is 80-byte header + count + 50 bytes per triangle")
	assert.True(t, bytes.HasPrefix(data, []byte("cadcore")))
}
