package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/model"
)

func TestEntityCreateGetDelete(t *testing.T) {
	_, entities, _ := newTestStores(t)

	e, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1, Y: 2, Z: 3}}, nil)
	require.Nil(t, kind)
	assert.NotEmpty(t, e.ID)
	assert.True(t, e.IsValid)
	assert.False(t, e.CreatedAt.After(e.ModifiedAt))

	got, err := entities.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	require.Nil(t, entities.Delete(e.ID))
	_, err = entities.Get(e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntityCreateRejectsDegenerateRadius(t *testing.T) {
	_, entities, _ := newTestStores(t)

	_, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindCircle,
		&model.CircleProps{K: model.KindCircle, Center: model.Vec3{}, Radius: 1e-7, Normal: model.Vec3{Z: 1}}, nil)
	require.NotNil(t, kind, "radius below the minimum length must fail validation")

	_, kind = entities.Create(model.RootWorkspaceID, "agent-1", model.KindCircle,
		&model.CircleProps{K: model.KindCircle, Center: model.Vec3{}, Radius: 1e-6, Normal: model.Vec3{Z: 1}}, nil)
	assert.Nil(t, kind, "radius exactly at the minimum length must succeed")
}

func TestEntityDeleteRejectsLiveChildren(t *testing.T) {
	_, entities, _ := newTestStores(t)

	line, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindLine3D,
		&model.LineProps{K: model.KindLine3D, Start: model.Vec3{}, End: model.Vec3{X: 10}}, nil)
	require.Nil(t, kind)

	_, kind = entities.Create(model.RootWorkspaceID, "agent-1", model.KindSketch,
		&model.WireProps{K: model.KindSketch, Members: []string{line.ID}, Closed: false}, []string{line.ID})
	require.Nil(t, kind)

	assert.NotNil(t, entities.Delete(line.ID), "deleting an entity with a live child should be rejected")
}
