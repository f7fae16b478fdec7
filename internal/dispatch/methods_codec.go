package dispatch

import (
	"context"
	"encoding/base64"

	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/codec"
	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
	"github.com/agentcad/cadcore/internal/session"
)

// CodecMethods implements file.import/file.export (spec.md §6). Exported
// bytes are returned base64-encoded in the response rather than written to
// a server-local path, since the dispatcher has no notion of a client
// filesystem to write into.
func CodecMethods(d *Deps) []Method {
	return []Method{
		{
			Name: "file.export",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
					EntityID    string `json:"entity_id" validate:"required"`
					Format      string `json:"format" validate:"required,oneof=obj stl brep"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				c, ok := d.Codecs[codec.Format(p.Format)]
				if !ok {
					return nil, errs.New(errs.UnsupportedFormat, "unsupported export format %q", p.Format)
				}
				entity, err := d.Entities.GetVisible(workspaceOf(sess, p.WorkspaceID), p.EntityID)
				if err != nil {
					return nil, errs.New(errs.EntityNotFound, "entity %s not found", p.EntityID)
				}
				if entity.Kind != model.KindSolid {
					return nil, errs.New(errs.InvalidParameter, "entity %s is not a solid", p.EntityID)
				}
				solid, derr := d.Kernel.Deserialize(entity.BRep)
				if derr != nil {
					return nil, errs.New(errs.InvalidGeometry, "entity %s has no usable BRep: %v", p.EntityID, derr)
				}
				data, report, eerr := c.Export(solid, d.Kernel)
				if eerr != nil {
					return nil, errs.New(errs.ImportFailed, "%v", eerr)
				}
				return map[string]interface{}{
					"format":        p.Format,
					"data_base64":   base64.StdEncoding.EncodeToString(data),
					"export_report": report,
				}, nil
			},
		},
		{
			Name: "file.import",
			Handle: func(ctx context.Context, sess *session.Session, raw json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind) {
				var p struct {
					WorkspaceID string `json:"workspace_id"`
					Format      string `json:"format" validate:"required,oneof=brep"`
					DataBase64  string `json:"data_base64" validate:"required"`
				}
				if kind := ParseParams(raw, &p); kind != nil {
					return nil, kind
				}
				data, derr := base64.StdEncoding.DecodeString(p.DataBase64)
				if derr != nil {
					return nil, errs.New(errs.ParseError, "invalid base64 payload: %v", derr)
				}
				solid, kerr := d.Kernel.Deserialize(data)
				if kerr != nil {
					return nil, errs.New(errs.ImportFailed, "%v", kerr)
				}
				ws := workspaceOf(sess, p.WorkspaceID)
				e, kind := d.Entities.Create(ws, sess.AgentID, model.KindSolid, &model.SolidProps{
					FaceCount: solid.Topology.FaceCount, EdgeCount: solid.Topology.EdgeCount, VertexCount: solid.Topology.VertexCount,
					EulerChar: solid.Topology.EulerChar, IsClosed: solid.Topology.IsClosed, IsManifold: solid.Topology.IsManifold,
				}, nil)
				if kind != nil {
					return nil, kind
				}
				if err := d.Entities.SetCachedProps(e.ID, model.CachedProps{Volume: solid.Volume, SurfaceArea: solid.SurfaceArea, BBox: solid.BBox}, data, nil); err != nil {
					return nil, errs.Wrap(err)
				}
				appendCreateOp(d, sess, ws, "file.import", e, raw)
				return entityResultOf(e), nil
			},
		},
	}
}
