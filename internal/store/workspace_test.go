package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/model"
)

func TestPlanMerge(t *testing.T) {
	tests := []struct {
		name                string
		base, source, target map[string]string
		wantChanges         map[string]ChangeKind
		wantConflictIDs     []string
		wantConflictCodes   map[string]ConflictReason
	}{
		{
			name:   "identical everywhere is a no-op",
			base:   map[string]string{"e1": "h1"},
			source: map[string]string{"e1": "h1"},
			target: map[string]string{"e1": "h1"},
			wantChanges: map[string]ChangeKind{},
		},
		{
			name:   "only target changed: target wins, no applied change",
			base:   map[string]string{"e1": "h1"},
			source: map[string]string{"e1": "h1"},
			target: map[string]string{"e1": "h2"},
			wantChanges: map[string]ChangeKind{},
		},
		{
			name:   "only source modified an existing entity",
			base:   map[string]string{"e1": "h1"},
			source: map[string]string{"e1": "h2"},
			target: map[string]string{"e1": "h1"},
			wantChanges: map[string]ChangeKind{"e1": ChangeModify},
		},
		{
			name:   "source created a new entity absent from base and target",
			base:   map[string]string{},
			source: map[string]string{"e2": "h1"},
			target: map[string]string{},
			wantChanges: map[string]ChangeKind{"e2": ChangeCreate},
		},
		{
			name:   "source deleted an entity present in base and target",
			base:   map[string]string{"e1": "h1"},
			source: map[string]string{},
			target: map[string]string{"e1": "h1"},
			wantChanges: map[string]ChangeKind{"e1": ChangeDelete},
		},
		{
			name:   "both branches modified the same entity differently: conflict",
			base:   map[string]string{"e1": "h1"},
			source: map[string]string{"e1": "h2"},
			target: map[string]string{"e1": "h3"},
			wantChanges:     map[string]ChangeKind{},
			wantConflictIDs: []string{"e1"},
		},
		{
			name:   "both branches created the same id with different content: conflict",
			base:   map[string]string{},
			source: map[string]string{"e9": "ha"},
			target: map[string]string{"e9": "hb"},
			wantChanges:       map[string]ChangeKind{},
			wantConflictIDs:   []string{"e9"},
			wantConflictCodes: map[string]ConflictReason{"e9": BothModified},
		},
		{
			name:   "source deleted, target modified the same entity: conflict",
			base:   map[string]string{"e1": "h1"},
			source: map[string]string{},
			target: map[string]string{"e1": "h2"},
			wantChanges:       map[string]ChangeKind{},
			wantConflictIDs:   []string{"e1"},
			wantConflictCodes: map[string]ConflictReason{"e1": DeletedAndModified},
		},
		{
			name:   "source adds a new entity whose content collides with an existing, differently-id'd target entity",
			base:   map[string]string{},
			source: map[string]string{"e10": "hshared"},
			target: map[string]string{"e11": "hshared"},
			wantChanges:       map[string]ChangeKind{},
			wantConflictIDs:   []string{"e10"},
			wantConflictCodes: map[string]ConflictReason{"e10": CollisionOnAdd},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := planMerge(tc.base, tc.source, tc.target)
			assert.Equal(t, tc.wantChanges, plan.Changes)
			if len(tc.wantConflictIDs) == 0 {
				assert.Empty(t, plan.Conflicts)
				return
			}
			gotIDs := make([]string, len(plan.Conflicts))
			for i, c := range plan.Conflicts {
				gotIDs[i] = c.EntityID
				if want, ok := tc.wantConflictCodes[c.EntityID]; ok {
					assert.Equal(t, want, c.Code, "entity %s", c.EntityID)
				}
			}
			assert.ElementsMatch(t, tc.wantConflictIDs, gotIDs)
		})
	}
}

func newTestStores(t *testing.T) (*DB, *EntityStore, *WorkspaceStore) {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	entities := NewEntityStore(db, nil)
	workspaces := NewWorkspaceStore(db, entities)
	return db, entities, workspaces
}

func TestBranchDivergeMerge(t *testing.T) {
	_, entities, workspaces := newTestStores(t)

	branch, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b1")
	require.Nil(t, kind)
	require.Equal(t, model.BranchClean, branch.BranchStatus)

	point, kind := entities.Create(branch.ID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 100, Y: 100, Z: 100}}, nil)
	require.Nil(t, kind)

	plan, kind := workspaces.Merge(branch.ID, model.RootWorkspaceID)
	require.Nil(t, kind)
	assert.Empty(t, plan.Conflicts)
	assert.Contains(t, plan.Changes, point.ID)

	merged, err := entities.Get(point.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RootWorkspaceID, merged.WorkspaceID)

	branchAfter, err := workspaces.Get(branch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BranchMerged, branchAfter.BranchStatus)
}

func TestModifyInMaterializesBranchPrivateCopy(t *testing.T) {
	_, entities, workspaces := newTestStores(t)

	point, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}}, nil)
	require.Nil(t, kind)

	branch, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b1")
	require.Nil(t, kind)

	moved, materialized, mkind := entities.ModifyIn(branch.ID, point.ID, func(e *model.Entity) error {
		e.Properties.(*model.PointProps).Coord = model.Vec3{X: 9}
		return nil
	})
	require.Nil(t, mkind)
	assert.True(t, materialized, "mutating an inherited entity must materialize a copy")
	assert.Equal(t, branch.ID, moved.WorkspaceID)
	assert.Equal(t, point.ID, moved.Origin)
	assert.NotEqual(t, point.ID, moved.ID)

	// The shared root row is untouched; the branch sees its copy.
	rootRow, err := entities.Get(point.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Vec3{X: 1}, rootRow.Properties.(*model.PointProps).Coord)

	branchView, err := entities.GetVisible(branch.ID, point.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Vec3{X: 9}, branchView.Properties.(*model.PointProps).Coord)

	// Merging folds the copy back onto the shared row under its logical id.
	plan, mergeKind := workspaces.Merge(branch.ID, model.RootWorkspaceID)
	require.Nil(t, mergeKind)
	assert.Equal(t, ChangeModify, plan.Changes[point.ID])
	rootRow, err = entities.Get(point.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Vec3{X: 9}, rootRow.Properties.(*model.PointProps).Coord)
	assert.Equal(t, model.RootWorkspaceID, rootRow.WorkspaceID)
}

func TestDeleteInTombstonesInheritedEntity(t *testing.T) {
	_, entities, workspaces := newTestStores(t)

	point, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 3}}, nil)
	require.Nil(t, kind)

	branch, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b1")
	require.Nil(t, kind)

	before, tombstone, dkind := entities.DeleteIn(branch.ID, point.ID)
	require.Nil(t, dkind)
	assert.Equal(t, point.ID, before.ID)
	require.NotNil(t, tombstone, "deleting an inherited entity must tombstone, not touch the shared row")

	// Root still has the entity; the branch no longer sees it.
	_, err := entities.Get(point.ID)
	require.NoError(t, err)
	_, err = entities.GetVisible(branch.ID, point.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	visible, err := workspaces.ResolveVisible(branch.ID)
	require.NoError(t, err)
	assert.NotContains(t, visible, point.ID)

	// Merging propagates the delete to the shared row.
	plan, mergeKind := workspaces.Merge(branch.ID, model.RootWorkspaceID)
	require.Nil(t, mergeKind)
	assert.Equal(t, ChangeDelete, plan.Changes[point.ID])
	_, err = entities.Get(point.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeSiblingBranchesReportsBothModifiedConflict(t *testing.T) {
	_, entities, workspaces := newTestStores(t)

	point, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}}, nil)
	require.Nil(t, kind)

	b1, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b1")
	require.Nil(t, kind)
	b2, kind := workspaces.Create(model.RootWorkspaceID, "agent-2", "b2")
	require.Nil(t, kind)

	_, _, mkind := entities.ModifyIn(b1.ID, point.ID, func(e *model.Entity) error {
		e.Properties.(*model.PointProps).Coord = model.Vec3{X: 5}
		return nil
	})
	require.Nil(t, mkind)
	_, _, mkind = entities.ModifyIn(b2.ID, point.ID, func(e *model.Entity) error {
		e.Properties.(*model.PointProps).Coord = model.Vec3{X: 7}
		return nil
	})
	require.Nil(t, mkind)

	plan, mergeKind := workspaces.Merge(b1.ID, b2.ID)
	require.Nil(t, mergeKind)
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, point.ID, plan.Conflicts[0].EntityID)
	assert.Equal(t, BothModified, plan.Conflicts[0].Code)

	b2After, err := workspaces.Get(b2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BranchConflicted, b2After.BranchStatus)

	// keep_source settles it: b2 gets b1's value in its own copy.
	rerr := workspaces.ResolveConflict(b2.ID, b1.ID, point.ID, ResolveKeepSource, nil)
	require.Nil(t, rerr)
	got, err := entities.GetVisible(b2.ID, point.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Vec3{X: 5}, got.Properties.(*model.PointProps).Coord)
}

func TestDeleteRejectsRootWorkspace(t *testing.T) {
	_, _, workspaces := newTestStores(t)

	kind := workspaces.Delete(model.RootWorkspaceID)
	require.NotNil(t, kind)
}

func TestDeleteRemovesBranchAndItsEntities(t *testing.T) {
	_, entities, workspaces := newTestStores(t)

	branch, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "scratch")
	require.Nil(t, kind)
	point, kind := entities.Create(branch.ID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}}, nil)
	require.Nil(t, kind)

	require.Nil(t, workspaces.Delete(branch.ID))

	_, err := workspaces.Get(branch.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = entities.Get(point.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveVisibleShadowsAncestors(t *testing.T) {
	_, entities, workspaces := newTestStores(t)

	rootPoint, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}}, nil)
	require.Nil(t, kind)

	branch, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b1")
	require.Nil(t, kind)

	visible, err := workspaces.ResolveVisible(branch.ID)
	require.NoError(t, err)
	assert.Contains(t, visible, rootPoint.ID, "branch should see entities inherited from its ancestor chain")
}

func TestResolveConflictPayloadSettlesACollisionOnAdd(t *testing.T) {
	_, entities, workspaces := newTestStores(t)

	b1, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b1")
	require.Nil(t, kind)
	b2, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b2")
	require.Nil(t, kind)
	require.NoError(t, workspaces.setStatus(b1.ID, model.BranchConflicted))

	entityID := NewEntityID(b1.ID, model.KindPoint3D)
	payload, err := propsToJSON(&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 7, Y: 8, Z: 9}})
	require.NoError(t, err)

	rerr := workspaces.ResolveConflict(b1.ID, b2.ID, entityID, ResolvePayload, payload)
	require.Nil(t, rerr)

	got, err := entities.Get(entityID)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, got.WorkspaceID)
	props, ok := got.Properties.(*model.PointProps)
	require.True(t, ok)
	assert.Equal(t, model.Vec3{X: 7, Y: 8, Z: 9}, props.Coord)
}

func TestResolveConflictManualMergeOverwritesExistingEntity(t *testing.T) {
	_, entities, workspaces := newTestStores(t)

	rootPoint, kind := entities.Create(model.RootWorkspaceID, "agent-1", model.KindPoint3D,
		&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}}, nil)
	require.Nil(t, kind)

	b1, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b1")
	require.Nil(t, kind)
	b2, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b2")
	require.Nil(t, kind)
	require.NoError(t, workspaces.setStatus(b1.ID, model.BranchConflicted))

	merged, err := propsToJSON(&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 42}})
	require.NoError(t, err)

	rerr := workspaces.ResolveConflict(b1.ID, b2.ID, rootPoint.ID, ResolveManualMerge, merged)
	require.Nil(t, rerr)

	// b1 sees the merged value through its materialized copy; the shared
	// root row is untouched.
	got, err := entities.GetVisible(b1.ID, rootPoint.ID)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, got.WorkspaceID)
	assert.Equal(t, rootPoint.ID, got.Origin)
	props, ok := got.Properties.(*model.PointProps)
	require.True(t, ok)
	assert.Equal(t, model.Vec3{X: 42}, props.Coord)

	rootRow, err := entities.Get(rootPoint.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RootWorkspaceID, rootRow.WorkspaceID)
	assert.Equal(t, model.Vec3{X: 1}, rootRow.Properties.(*model.PointProps).Coord)
}

func TestResolveConflictManualMergeRequiresAnExistingEntity(t *testing.T) {
	_, _, workspaces := newTestStores(t)

	b1, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b1")
	require.Nil(t, kind)
	b2, kind := workspaces.Create(model.RootWorkspaceID, "agent-1", "b2")
	require.Nil(t, kind)
	require.NoError(t, workspaces.setStatus(b1.ID, model.BranchConflicted))

	payload, err := propsToJSON(&model.PointProps{K: model.KindPoint3D, Coord: model.Vec3{X: 1}})
	require.NoError(t, err)

	rerr := workspaces.ResolveConflict(b1.ID, b2.ID, "nonexistent", ResolveManualMerge, payload)
	require.NotNil(t, rerr)
}
