package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/model"
)

func TestUndoRedoCreate(t *testing.T) {
	db, entities, _ := newTestStores(t)
	oplog := NewOperationLog(db, entities)

	e, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 5}}, nil)
	require.Nil(t, kind)

	undo := UndoCreate(e.ID)
	_, err := oplog.Append(model.RootWorkspaceID, "agent-1", "entity.create.point", nil, nil, model.StatusSuccess, "", 0, &undo)
	require.NoError(t, err)

	_, undoKind := oplog.Undo(model.RootWorkspaceID)
	require.Nil(t, undoKind)
	_, getErr := entities.Get(e.ID)
	assert.ErrorIs(t, getErr, ErrNotFound, "undoing a create must remove the entity")

	_, redoKind := oplog.Redo(model.RootWorkspaceID)
	require.Nil(t, redoKind)
	restored, getErr := entities.Get(e.ID)
	require.NoError(t, getErr)
	assert.Equal(t, e.ID, restored.ID)
}

func TestUndoRedoDelete(t *testing.T) {
	db, entities, _ := newTestStores(t)
	oplog := NewOperationLog(db, entities)

	e, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 7}}, nil)
	require.Nil(t, kind)

	before, err := entities.Get(e.ID)
	require.NoError(t, err)
	require.Nil(t, entities.Delete(e.ID))

	undo := UndoDelete(before)
	_, err = oplog.Append(model.RootWorkspaceID, "agent-1", "entity.delete", nil, nil, model.StatusSuccess, "", 0, &undo)
	require.NoError(t, err)

	_, undoKind := oplog.Undo(model.RootWorkspaceID)
	require.Nil(t, undoKind)
	restored, err := entities.Get(e.ID)
	require.NoError(t, err, "undoing a delete must restore the entity")
	assert.Equal(t, e.ID, restored.ID)
}

func TestAppendTruncatesRedoTail(t *testing.T) {
	db, entities, _ := newTestStores(t)
	oplog := NewOperationLog(db, entities)

	e1, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}}, nil)
	require.Nil(t, kind)
	undo1 := UndoCreate(e1.ID)
	_, err := oplog.Append(model.RootWorkspaceID, "agent-1", "entity.create.point", nil, nil, model.StatusSuccess, "", 0, &undo1)
	require.NoError(t, err)

	_, undoKind := oplog.Undo(model.RootWorkspaceID)
	require.Nil(t, undoKind)

	e2, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 2}}, nil)
	require.Nil(t, kind)
	undo2 := UndoCreate(e2.ID)
	_, err = oplog.Append(model.RootWorkspaceID, "agent-1", "entity.create.point", nil, nil, model.StatusSuccess, "", 0, &undo2)
	require.NoError(t, err)

	_, redoKind := oplog.Redo(model.RootWorkspaceID)
	assert.NotNil(t, redoKind, "the undone-and-superseded first create must not be replayable after a fresh append")
}
