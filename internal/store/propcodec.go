package store

import (
	"encoding/json"
	"fmt"

	"github.com/agentcad/cadcore/internal/model"
)

// propertiesJSON is the on-disk envelope for model.Properties. Properties is
// a Go interface (by design, so kind-specific invariants stay compile-time
// reachable — see internal/model/properties.go); persistence needs one
// concrete, flat shape to marshal to/from, so this envelope carries every
// field any kind might use and propsToJSON/propsFromJSON translate between
// it and the typed struct for the entity's kind.
type propertiesJSON struct {
	Kind   model.Kind `json:"kind"`
	Coord  *model.Vec3 `json:"coord,omitempty"`
	Start  *model.Vec3 `json:"start,omitempty"`
	End    *model.Vec3 `json:"end,omitempty"`
	Center *model.Vec3 `json:"center,omitempty"`
	Axis   *model.Vec3 `json:"axis,omitempty"`
	Normal *model.Vec3 `json:"normal,omitempty"`
	Origin *model.Vec3 `json:"origin,omitempty"`

	Radius          float64 `json:"radius,omitempty"`
	SecondaryRadius float64 `json:"secondary_radius,omitempty"`
	Height          float64 `json:"height,omitempty"`

	IsArc      bool    `json:"is_arc,omitempty"`
	StartAngle float64 `json:"start_angle,omitempty"`
	EndAngle   float64 `json:"end_angle,omitempty"`

	Members []string `json:"members,omitempty"`
	Closed  bool     `json:"closed,omitempty"`

	FaceCount   int  `json:"face_count,omitempty"`
	EdgeCount   int  `json:"edge_count,omitempty"`
	VertexCount int  `json:"vertex_count,omitempty"`
	EulerChar   int  `json:"euler_char,omitempty"`
	IsClosed    bool `json:"is_closed,omitempty"`
	IsManifold  bool `json:"is_manifold,omitempty"`
}

// PropsJSON exposes the persisted properties envelope to callers that need
// to put an entity's kind-specific data on the wire in the same shape it is
// stored in (dispatch's entity.query/entity.list).
func PropsJSON(p model.Properties) ([]byte, error) {
	return propsToJSON(p)
}

// PropsFromJSON decodes the same envelope back into a typed Properties
// value; dispatch's entity.modify accepts its payload in this shape.
func PropsFromJSON(data []byte) (model.Properties, error) {
	return propsFromJSON(data)
}

func propsToJSON(p model.Properties) ([]byte, error) {
	env := propertiesJSON{Kind: p.Kind()}
	switch v := p.(type) {
	case *model.PointProps:
		env.Coord = &v.Coord
	case *model.LineProps:
		env.Start, env.End = &v.Start, &v.End
	case *model.CircleProps:
		env.Center, env.Normal = &v.Center, &v.Normal
		env.Radius = v.Radius
		env.IsArc, env.StartAngle, env.EndAngle = v.IsArc, v.StartAngle, v.EndAngle
	case *model.PlaneProps:
		env.Origin, env.Normal = &v.Origin, &v.Normal
	case *model.PrimitiveSolidProps:
		env.Center, env.Axis = &v.Center, &v.Axis
		env.Radius, env.SecondaryRadius, env.Height = v.Radius, v.SecondaryRadius, v.Height
	case *model.WireProps:
		env.Members, env.Closed = v.Members, v.Closed
	case *model.SolidProps:
		env.FaceCount, env.EdgeCount, env.VertexCount = v.FaceCount, v.EdgeCount, v.VertexCount
		env.EulerChar, env.IsClosed, env.IsManifold = v.EulerChar, v.IsClosed, v.IsManifold
	default:
		return nil, fmt.Errorf("propsToJSON: unsupported properties type %T", p)
	}
	return json.Marshal(env)
}

func propsFromJSON(data []byte) (model.Properties, error) {
	var env propertiesJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}
	zero := model.Vec3{}
	get := func(v *model.Vec3) model.Vec3 {
		if v == nil {
			return zero
		}
		return *v
	}
	switch env.Kind {
	case model.KindPoint2D, model.KindPoint3D:
		return &model.PointProps{K: env.Kind, Coord: get(env.Coord)}, nil
	case model.KindLine2D, model.KindLine3D:
		return &model.LineProps{K: env.Kind, Start: get(env.Start), End: get(env.End)}, nil
	case model.KindCircle, model.KindArc:
		return &model.CircleProps{
			K: env.Kind, Center: get(env.Center), Radius: env.Radius, Normal: get(env.Normal),
			IsArc: env.IsArc, StartAngle: env.StartAngle, EndAngle: env.EndAngle,
		}, nil
	case model.KindPlane:
		return &model.PlaneProps{Origin: get(env.Origin), Normal: get(env.Normal)}, nil
	case model.KindSphere, model.KindCylinder, model.KindCone, model.KindTorus:
		return &model.PrimitiveSolidProps{
			K: env.Kind, Center: get(env.Center), Axis: get(env.Axis),
			Radius: env.Radius, SecondaryRadius: env.SecondaryRadius, Height: env.Height,
		}, nil
	case model.KindWire, model.KindSketch:
		return &model.WireProps{K: env.Kind, Members: env.Members, Closed: env.Closed}, nil
	case model.KindSolid:
		return &model.SolidProps{
			FaceCount: env.FaceCount, EdgeCount: env.EdgeCount, VertexCount: env.VertexCount,
			EulerChar: env.EulerChar, IsClosed: env.IsClosed, IsManifold: env.IsManifold,
		}, nil
	default:
		return nil, fmt.Errorf("propsFromJSON: unknown kind %q", env.Kind)
	}
}

func idsToJSON(ids []string) []byte {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return b
}

func idsFromJSON(data []byte) []string {
	var ids []string
	if len(data) == 0 {
		return nil
	}
	_ = json.Unmarshal(data, &ids)
	return ids
}

func bboxToJSON(b model.BBox) []byte {
	data, _ := json.Marshal(b)
	return data
}

func bboxFromJSON(data []byte) model.BBox {
	var b model.BBox
	if len(data) == 0 {
		return b
	}
	_ = json.Unmarshal(data, &b)
	return b
}

func codesToJSON(codes []model.ValidationCode) []byte {
	if codes == nil {
		codes = []model.ValidationCode{}
	}
	b, _ := json.Marshal(codes)
	return b
}

func codesFromJSON(data []byte) []model.ValidationCode {
	var codes []model.ValidationCode
	if len(data) == 0 {
		return nil
	}
	_ = json.Unmarshal(data, &codes)
	return codes
}
