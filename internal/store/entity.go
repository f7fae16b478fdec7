package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
)

// ErrNotFound is returned by Get/row-scan helpers; handlers translate it to
// errs.EntityNotFound at the dispatcher boundary.
var ErrNotFound = errors.New("not found")

// EntityStore is the durable, uniquely-keyed store of entity records
// (spec.md §4.1). It borrows the copy-on-write resolution rules from
// WorkspaceStore but owns the actual rows and kind-checked accessors.
type EntityStore struct {
	db *DB
	ws *WorkspaceStore
}

func NewEntityStore(db *DB, ws *WorkspaceStore) *EntityStore {
	return &EntityStore{db: db, ws: ws}
}

type entityRow struct {
	EntityID        string `db:"entity_id"`
	Kind            string `db:"kind"`
	WorkspaceID     string `db:"workspace_id"`
	Properties      string `db:"properties"`
	BRep            []byte `db:"brep"`
	Parents         string `db:"parents"`
	Children        string `db:"children"`
	BBox            string `db:"bbox"`
	CachedVolume    float64 `db:"cached_volume"`
	CachedArea      float64 `db:"cached_surface_area"`
	CachedLength    float64 `db:"cached_length"`
	CachedStale     bool    `db:"cached_stale"`
	CreatedAt       string `db:"created_at"`
	ModifiedAt      string `db:"modified_at"`
	CreatedByAgent  string `db:"created_by_agent"`
	IsValid         bool   `db:"is_valid"`
	ValidationCodes string `db:"validation_codes"`
	OriginID        string `db:"origin_entity_id"`
	Deleted         bool   `db:"deleted"`
}

const entityColumns = `entity_id, kind, workspace_id, properties, brep, parents, children, bbox,
	cached_volume, cached_surface_area, cached_length, cached_stale,
	created_at, modified_at, created_by_agent, is_valid, validation_codes, origin_entity_id, deleted`

const timeLayout = time.RFC3339Nano

func rowToEntity(r entityRow) (*model.Entity, error) {
	props, err := propsFromJSON([]byte(r.Properties))
	if err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(timeLayout, r.CreatedAt)
	modifiedAt, _ := time.Parse(timeLayout, r.ModifiedAt)
	return &model.Entity{
		ID:          r.EntityID,
		Kind:        model.Kind(r.Kind),
		WorkspaceID: r.WorkspaceID,
		Properties:  props,
		BRep:        r.BRep,
		Parents:     idsFromJSON([]byte(r.Parents)),
		Children:    idsFromJSON([]byte(r.Children)),
		BBox:        bboxFromJSON([]byte(r.BBox)),
		Cached: model.CachedProps{
			Volume: r.CachedVolume, SurfaceArea: r.CachedArea, Length: r.CachedLength, Stale: r.CachedStale,
		},
		CreatedAt:       createdAt,
		ModifiedAt:      modifiedAt,
		CreatedByAgent:  r.CreatedByAgent,
		IsValid:         r.IsValid,
		ValidationCodes: codesFromJSON([]byte(r.ValidationCodes)),
		Origin:          r.OriginID,
		Deleted:         r.Deleted,
	}, nil
}

// MaxEntitiesPerWorkspace is the hard soft-cap from spec.md §5.
const MaxEntitiesPerWorkspace = 10000

// Create validates kind-specific invariants and inserts a new entity row,
// namespaced to workspace. Returns errs.InvalidGeometry on degeneracy.
func (s *EntityStore) Create(workspace, agent string, kind model.Kind, props model.Properties, parents []string) (*model.Entity, *errs.Kind) {
	if err := props.Validate(); err != nil {
		return nil, errs.New(errs.InvalidGeometry, "%v", err)
	}
	count, err := s.Count(workspace)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if count >= MaxEntitiesPerWorkspace {
		return nil, errs.New(errs.OperationInvalid, "workspace %s already holds the maximum of %d entities", workspace, MaxEntitiesPerWorkspace)
	}

	id := NewEntityID(workspace, kind)
	now := time.Now().UTC()
	propsJSON, err := propsToJSON(props)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	e := &model.Entity{
		ID: id, Kind: kind, WorkspaceID: workspace, Properties: props,
		Parents: parents, CreatedAt: now, ModifiedAt: now, CreatedByAgent: agent,
		IsValid: true, Cached: model.CachedProps{Stale: true},
	}

	_, dbErr := s.db.sqlx.Exec(`INSERT INTO entities
		(entity_id, kind, workspace_id, properties, brep, parents, children, bbox,
		 cached_stale, created_at, modified_at, created_by_agent, is_valid, validation_codes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, 1, ?)`,
		id, string(kind), workspace, string(propsJSON), []byte(nil),
		idsToJSON(parents), idsToJSON(nil), bboxToJSON(model.BBox{}),
		now.Format(timeLayout), now.Format(timeLayout), agent, codesToJSON(nil))
	if dbErr != nil {
		return nil, errs.Wrap(fmt.Errorf("inserting entity: %w", dbErr))
	}

	for _, p := range parents {
		if aerr := s.addChild(p, id); aerr != nil {
			return nil, errs.Wrap(aerr)
		}
	}

	return e, nil
}

func (s *EntityStore) addChild(parentID, childID string) error {
	parent, err := s.Get(parentID)
	if err != nil {
		return fmt.Errorf("parent %s not found while linking child %s: %w", parentID, childID, err)
	}
	parent.Children = append(parent.Children, childID)
	_, err = s.db.sqlx.Exec(`UPDATE entities SET children = ? WHERE entity_id = ?`, idsToJSON(parent.Children), parentID)
	return err
}

// Get fetches a live (non-deleted) entity by its physical id.
func (s *EntityStore) Get(id string) (*model.Entity, error) {
	var r entityRow
	err := s.db.sqlx.Get(&r, `SELECT `+entityColumns+` FROM entities WHERE entity_id = ? AND deleted = 0`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToEntity(r)
}

// getAny fetches a row regardless of its deleted flag; undo replay needs to
// snapshot tombstones too.
func (s *EntityStore) getAny(id string) (*model.Entity, error) {
	var r entityRow
	err := s.db.sqlx.Get(&r, `SELECT `+entityColumns+` FROM entities WHERE entity_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToEntity(r)
}

// versionsOf returns every physical row carrying id as its own id or as its
// copy-on-write origin, deleted rows included.
func (s *EntityStore) versionsOf(id string) ([]*model.Entity, error) {
	var rows []entityRow
	if err := s.db.sqlx.Select(&rows, `SELECT `+entityColumns+` FROM entities
		WHERE entity_id = ? OR origin_entity_id = ?`, id, id); err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEntity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetVisible resolves id from workspace's vantage point (spec.md §4.2
// copy-on-write read path): the nearest version along the ancestor chain
// wins, a branch tombstone hides the inherited original, and entities that
// only exist on unrelated branches are not visible at all.
func (s *EntityStore) GetVisible(workspace, id string) (*model.Entity, error) {
	versions, err := s.versionsOf(id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	chain := []string{workspace}
	if s.ws != nil {
		if c, cerr := s.ws.AncestorChain(workspace); cerr == nil {
			chain = c
		}
	}
	for _, wsID := range chain {
		for _, e := range versions {
			if e.WorkspaceID != wsID {
				continue
			}
			if e.Deleted {
				return nil, ErrNotFound
			}
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// ListFilter narrows List results; a zero value lists everything.
type ListFilter struct {
	Kind  model.Kind
	Limit int
	Offset int
}

// List returns entities visible in workspace in stable creation-order
// pagination (spec.md §4.1). It does not yet resolve copy-on-write
// inheritance from parent workspaces; WorkspaceStore.ResolveVisible does.
func (s *EntityStore) List(workspace string, filter ListFilter) ([]*model.Entity, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	var rows []entityRow
	var err error
	if filter.Kind != "" {
		err = s.db.sqlx.Select(&rows, `SELECT `+entityColumns+` FROM entities
			WHERE workspace_id = ? AND kind = ? AND deleted = 0
			ORDER BY created_at ASC LIMIT ? OFFSET ?`, workspace, string(filter.Kind), limit, filter.Offset)
	} else {
		err = s.db.sqlx.Select(&rows, `SELECT `+entityColumns+` FROM entities
			WHERE workspace_id = ? AND deleted = 0
			ORDER BY created_at ASC LIMIT ? OFFSET ?`, workspace, limit, filter.Offset)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEntity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// listAll returns every row namespaced to workspace, tombstones included;
// WorkspaceStore.ResolveVisible needs the tombstones to shadow inherited
// entities out of a branch's view.
func (s *EntityStore) listAll(workspace string) ([]*model.Entity, error) {
	var rows []entityRow
	if err := s.db.sqlx.Select(&rows, `SELECT `+entityColumns+` FROM entities
		WHERE workspace_id = ? ORDER BY created_at ASC`, workspace); err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEntity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Count returns the live entity count for a workspace (not including
// inherited base entities — the soft cap is per materialized workspace).
func (s *EntityStore) Count(workspace string) (int, error) {
	var n int
	err := s.db.sqlx.Get(&n, `SELECT COUNT(*) FROM entities WHERE workspace_id = ? AND deleted = 0`, workspace)
	return n, err
}

// Mutator receives a deep copy of the entity to edit in place.
type Mutator func(e *model.Entity) error

// materialize inserts workspace's private copy of an inherited entity,
// shadowing the original under its logical id (spec.md §4.2 copy-on-write:
// "a branch references the base's entities by id until a handler mutates
// one, whereupon a private copy is materialised in the branch's
// namespace"). With deleted set the copy is a tombstone that hides the
// inherited entity from the branch without touching the shared row.
func (s *EntityStore) materialize(workspace string, base *model.Entity, deleted bool) (*model.Entity, error) {
	cp := base.Clone()
	cp.Origin = base.LogicalID()
	if _, rest, ok := SplitEntityID(base.ID); ok {
		cp.ID = workspace + ":" + rest
	} else {
		cp.ID = NewEntityID(workspace, base.Kind)
	}
	cp.WorkspaceID = workspace
	cp.Deleted = deleted
	cp.ModifiedAt = time.Now().UTC()
	if err := s.Restore(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// ModifyIn is the copy-on-write mutation entry point (spec.md §3
// Ownership): a row the workspace owns is edited in place through Modify,
// while an inherited row is first materialized as a branch-private copy so
// the shared original stays untouched. materialized reports whether a copy
// was created, so callers can record the right undo payload.
func (s *EntityStore) ModifyIn(workspace, id string, mutate Mutator) (e *model.Entity, materialized bool, kind *errs.Kind) {
	cur, err := s.GetVisible(workspace, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, errs.New(errs.EntityNotFound, "entity %s not found in workspace %s", id, workspace)
	}
	if err != nil {
		return nil, false, errs.Wrap(err)
	}
	if cur.WorkspaceID == workspace {
		out, kind := s.Modify(cur.ID, mutate)
		return out, false, kind
	}
	cp, merr := s.materialize(workspace, cur, false)
	if merr != nil {
		return nil, false, errs.Wrap(merr)
	}
	out, kind := s.Modify(cp.ID, mutate)
	if kind != nil {
		// errors produce no state change: discard the half-made copy.
		_ = s.HardDelete(cp.ID)
		return nil, false, kind
	}
	return out, true, nil
}

// DeleteIn removes id as seen from workspace: a soft delete of a row the
// workspace owns, or a materialized tombstone shadowing an inherited row.
// before is the pre-delete version; tombstone is non-nil only on the
// copy-on-write path.
func (s *EntityStore) DeleteIn(workspace, id string) (before, tombstone *model.Entity, kind *errs.Kind) {
	cur, err := s.GetVisible(workspace, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, errs.New(errs.EntityNotFound, "entity %s not found in workspace %s", id, workspace)
	}
	if err != nil {
		return nil, nil, errs.Wrap(err)
	}
	if cur.WorkspaceID == workspace {
		if kind := s.Delete(cur.ID); kind != nil {
			return nil, nil, kind
		}
		return cur, nil, nil
	}
	for _, childID := range cur.Children {
		if child, cerr := s.Get(childID); cerr == nil && child.IsValid {
			return nil, nil, errs.New(errs.OperationInvalid, "entity %s has live child %s", id, childID)
		}
	}
	ts, merr := s.materialize(workspace, cur, true)
	if merr != nil {
		return nil, nil, errs.Wrap(merr)
	}
	return cur, ts, nil
}

// Modify applies mutator to a copy of the entity and writes it back,
// invalidating cached properties. It edits the physical row in place, so
// callers mutating on behalf of a workspace go through ModifyIn, which
// routes inherited rows to copy-on-write materialization first. Mutation
// is single-writer per workspace; callers are expected to hold that
// workspace's write lock (see store.DB.WithWriteLock) for the duration of
// the read-modify-write.
func (s *EntityStore) Modify(id string, mutate Mutator) (*model.Entity, *errs.Kind) {
	e, err := s.Get(id)
	if errors.Is(err, ErrNotFound) {
		return nil, errs.New(errs.EntityNotFound, "entity %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}

	for _, childID := range e.Children {
		child, cerr := s.Get(childID)
		if cerr == nil && child.IsValid {
			// A mutation that would invalidate a live child's immutable parent
			// reference is rejected (spec.md §4.1). Conservative policy: any
			// mutation of a parent with live children is refused outright;
			// callers must delete the child first if the edit is intentional.
			return nil, errs.New(errs.OperationInvalid,
				"entity %s has live child %s; delete the child before modifying its parent", id, childID)
		}
	}

	working := e.Clone()
	if merr := mutate(working); merr != nil {
		return nil, errs.Wrap(merr)
	}
	if verr := working.Properties.Validate(); verr != nil {
		return nil, errs.New(errs.InvalidGeometry, "%v", verr)
	}

	working.ModifiedAt = time.Now().UTC()
	working.Cached.Stale = true
	propsJSON, perr := propsToJSON(working.Properties)
	if perr != nil {
		return nil, errs.Wrap(perr)
	}

	_, dbErr := s.db.sqlx.Exec(`UPDATE entities SET properties = ?, brep = ?, parents = ?, bbox = ?,
		cached_stale = 1, modified_at = ?, is_valid = ?, validation_codes = ?
		WHERE entity_id = ?`,
		string(propsJSON), working.BRep, idsToJSON(working.Parents), bboxToJSON(working.BBox),
		working.ModifiedAt.Format(timeLayout), working.IsValid, codesToJSON(working.ValidationCodes), id)
	if dbErr != nil {
		return nil, errs.Wrap(fmt.Errorf("updating entity %s: %w", id, dbErr))
	}
	return working, nil
}

// SetCachedProps writes freshly recomputed mass properties and clears the
// stale flag (invoked by ModelingPipeline after every modeling operation).
func (s *EntityStore) SetCachedProps(id string, cached model.CachedProps, brep []byte, solidProps *model.SolidProps) error {
	propsJSON := []byte(nil)
	var err error
	if solidProps != nil {
		propsJSON, err = propsToJSON(solidProps)
		if err != nil {
			return err
		}
	}
	if propsJSON != nil {
		_, err = s.db.sqlx.Exec(`UPDATE entities SET properties = ?, brep = ?, bbox = ?,
			cached_volume = ?, cached_surface_area = ?, cached_length = ?, cached_stale = 0
			WHERE entity_id = ?`,
			string(propsJSON), brep, bboxToJSON(cached.BBox), cached.Volume, cached.SurfaceArea, cached.Length, id)
	} else {
		_, err = s.db.sqlx.Exec(`UPDATE entities SET brep = ?, bbox = ?,
			cached_volume = ?, cached_surface_area = ?, cached_length = ?, cached_stale = 0
			WHERE entity_id = ?`,
			brep, bboxToJSON(cached.BBox), cached.Volume, cached.SurfaceArea, cached.Length, id)
	}
	if err != nil {
		return err
	}
	return s.writeBlobSidecar(id, brep)
}

// writeBlobSidecar mirrors a solid's BRep blob to geometry/{entity_id}.brep
// under the store's root directory (spec.md §6's persisted-state layout);
// a no-op for in-memory stores.
func (s *EntityStore) writeBlobSidecar(id string, brep []byte) error {
	path := s.db.geometryPath(id)
	if path == "" || len(brep) == 0 {
		return nil
	}
	return os.WriteFile(path, brep, 0o644)
}

func (s *EntityStore) removeBlobSidecar(id string) {
	if path := s.db.geometryPath(id); path != "" {
		_ = os.Remove(path)
	}
}

// Delete removes an entity, failing if it has live children, and cascades
// referential link updates in its parents (spec.md §4.1).
func (s *EntityStore) Delete(id string) *errs.Kind {
	e, err := s.Get(id)
	if errors.Is(err, ErrNotFound) {
		return errs.New(errs.EntityNotFound, "entity %s not found", id)
	}
	if err != nil {
		return errs.Wrap(err)
	}
	for _, childID := range e.Children {
		if child, cerr := s.Get(childID); cerr == nil && child.IsValid {
			return errs.New(errs.OperationInvalid, "entity %s has live child %s", id, childID)
		}
	}
	if _, dbErr := s.db.sqlx.Exec(`UPDATE entities SET deleted = 1 WHERE entity_id = ?`, id); dbErr != nil {
		return errs.Wrap(dbErr)
	}
	for _, parentID := range e.Parents {
		if parent, perr := s.Get(parentID); perr == nil {
			filtered := parent.Children[:0]
			for _, c := range parent.Children {
				if c != id {
					filtered = append(filtered, c)
				}
			}
			_, _ = s.db.sqlx.Exec(`UPDATE entities SET children = ? WHERE entity_id = ?`, idsToJSON(filtered), parentID)
		}
	}
	return nil
}

// Invalidate marks an entity's validation as failed with the given codes,
// without deleting it (used when post-modification geometry checks fail).
func (s *EntityStore) Invalidate(id string, codes []model.ValidationCode) error {
	_, err := s.db.sqlx.Exec(`UPDATE entities SET is_valid = 0, validation_codes = ? WHERE entity_id = ?`, codesToJSON(codes), id)
	return err
}

// HardDelete physically removes a row; used only by undo(create) replay.
func (s *EntityStore) HardDelete(id string) error {
	_, err := s.db.sqlx.Exec(`DELETE FROM entities WHERE entity_id = ?`, id)
	if err == nil {
		s.removeBlobSidecar(id)
	}
	return err
}

// Restore writes an entity record verbatim, inserting a new row or
// overwriting the existing row for that id in full; used by undo replay, by
// copy-on-write materialization, and by WorkspaceStore whenever a merge or
// conflict resolution reassigns an entity to a new workspace_id. The
// record's Origin and Deleted flags are persisted as-is (a restored
// tombstone stays a tombstone).
func (s *EntityStore) Restore(e *model.Entity) error {
	propsJSON, err := propsToJSON(e.Properties)
	if err != nil {
		return err
	}
	_, err = s.db.sqlx.Exec(`INSERT INTO entities
		(entity_id, kind, workspace_id, properties, brep, parents, children, bbox,
		 cached_volume, cached_surface_area, cached_length, cached_stale,
		 created_at, modified_at, created_by_agent, is_valid, validation_codes, origin_entity_id, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			kind = excluded.kind, workspace_id = excluded.workspace_id,
			properties = excluded.properties, brep = excluded.brep,
			parents = excluded.parents, children = excluded.children, bbox = excluded.bbox,
			cached_volume = excluded.cached_volume, cached_surface_area = excluded.cached_surface_area,
			cached_length = excluded.cached_length, cached_stale = excluded.cached_stale,
			modified_at = excluded.modified_at, created_by_agent = excluded.created_by_agent,
			is_valid = excluded.is_valid, validation_codes = excluded.validation_codes,
			origin_entity_id = excluded.origin_entity_id, deleted = excluded.deleted`,
		e.ID, string(e.Kind), e.WorkspaceID, string(propsJSON), e.BRep,
		idsToJSON(e.Parents), idsToJSON(e.Children), bboxToJSON(e.BBox),
		e.Cached.Volume, e.Cached.SurfaceArea, e.Cached.Length, e.Cached.Stale,
		e.CreatedAt.Format(timeLayout), e.ModifiedAt.Format(timeLayout), e.CreatedByAgent,
		e.IsValid, codesToJSON(e.ValidationCodes), e.Origin, e.Deleted)
	if err != nil {
		return err
	}
	return s.writeBlobSidecar(e.ID, e.BRep)
}

// ReplaceProperties writes back an entity record in full; used by undo(modify) replay.
func (s *EntityStore) ReplaceProperties(e *model.Entity) error {
	propsJSON, err := propsToJSON(e.Properties)
	if err != nil {
		return err
	}
	_, err = s.db.sqlx.Exec(`UPDATE entities SET properties = ?, brep = ?, parents = ?, children = ?, bbox = ?,
		cached_volume = ?, cached_surface_area = ?, cached_length = ?, cached_stale = ?,
		modified_at = ?, is_valid = ?, validation_codes = ?
		WHERE entity_id = ?`,
		string(propsJSON), e.BRep, idsToJSON(e.Parents), idsToJSON(e.Children), bboxToJSON(e.BBox),
		e.Cached.Volume, e.Cached.SurfaceArea, e.Cached.Length, e.Cached.Stale,
		e.ModifiedAt.Format(timeLayout), e.IsValid, codesToJSON(e.ValidationCodes), e.ID)
	return err
}
