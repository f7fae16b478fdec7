package store

import (
	"database/sql"
	"errors"

	"github.com/agentcad/cadcore/internal/model"
)

// ConstraintStore persists constraint rows and the entity_constraints
// junction table, and satisfies constraint.ConstraintLookup.
type ConstraintStore struct {
	db *DB
}

func NewConstraintStore(db *DB) *ConstraintStore {
	return &ConstraintStore{db: db}
}

type constraintRow struct {
	ConstraintID string  `db:"constraint_id"`
	Type         string  `db:"type"`
	WorkspaceID  string  `db:"workspace_id"`
	Value        float64 `db:"value"`
	Tolerance    float64 `db:"tolerance"`
	Status       string  `db:"status"`
	DOFRemoved   int     `db:"dof_removed"`
	Residual     float64 `db:"residual"`
}

func (s *ConstraintStore) List(workspaceID string) ([]*model.Constraint, error) {
	var rows []constraintRow
	if err := s.db.sqlx.Select(&rows, `SELECT constraint_id, type, workspace_id, value, tolerance, status, dof_removed, residual
		FROM constraints WHERE workspace_id = ? AND deleted = 0`, workspaceID); err != nil {
		return nil, err
	}
	out := make([]*model.Constraint, 0, len(rows))
	for _, r := range rows {
		var ids []string
		if err := s.db.sqlx.Select(&ids, `SELECT entity_id FROM entity_constraints WHERE constraint_id = ?`, r.ConstraintID); err != nil {
			return nil, err
		}
		out = append(out, &model.Constraint{
			ID: r.ConstraintID, Type: model.ConstraintType(r.Type), WorkspaceID: r.WorkspaceID,
			EntityIDs: ids, Value: r.Value, Tolerance: r.Tolerance,
			Status: model.SatisfactionStatus(r.Status), DOFRemoved: r.DOFRemoved, Residual: r.Residual,
		})
	}
	return out, nil
}

func (s *ConstraintStore) Save(c *model.Constraint) error {
	_, err := s.db.sqlx.Exec(`INSERT INTO constraints (constraint_id, type, workspace_id, value, tolerance, status, dof_removed, residual, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(constraint_id) DO UPDATE SET value = excluded.value, tolerance = excluded.tolerance,
			status = excluded.status, dof_removed = excluded.dof_removed, residual = excluded.residual`,
		c.ID, string(c.Type), c.WorkspaceID, c.Value, c.Tolerance, string(c.Status), c.DOF(), c.Residual)
	if err != nil {
		return err
	}
	for _, eid := range c.EntityIDs {
		if _, err := s.db.sqlx.Exec(`INSERT OR IGNORE INTO entity_constraints (constraint_id, entity_id) VALUES (?, ?)`, c.ID, eid); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConstraintStore) Delete(constraintID string) error {
	_, err := s.db.sqlx.Exec(`UPDATE constraints SET deleted = 1 WHERE constraint_id = ?`, constraintID)
	return err
}

// entityKindLookup adapts EntityStore to constraint.EntityLookup. All
// three methods resolve through the calling workspace's copy-on-write view,
// so a branch solving constraints over inherited entities reads the nearest
// visible version and writes branch-private copies, never the shared rows.
type entityKindLookup struct {
	entities *EntityStore
}

func NewEntityLookup(entities *EntityStore) *entityKindLookup {
	return &entityKindLookup{entities: entities}
}

func (l *entityKindLookup) Kind(workspaceID, entityID string) (model.Kind, error) {
	e, err := l.entities.GetVisible(workspaceID, entityID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", err
	}
	return e.Kind, nil
}

func (l *entityKindLookup) Load(workspaceID string, ids []string) (map[string]*model.Entity, error) {
	out := make(map[string]*model.Entity, len(ids))
	for _, id := range ids {
		e, err := l.entities.GetVisible(workspaceID, id)
		if err != nil {
			return nil, err
		}
		out[id] = e
	}
	return out, nil
}

func (l *entityKindLookup) Save(workspaceID string, entities map[string]*model.Entity) error {
	for _, e := range entities {
		if e.WorkspaceID == workspaceID {
			if err := l.entities.ReplaceProperties(e); err != nil {
				return err
			}
			continue
		}
		// The solver moved an entity the workspace only inherits; persist
		// the solved state as a branch-private copy (spec.md §3 Ownership).
		if _, err := l.entities.materialize(workspaceID, e, false); err != nil {
			return err
		}
	}
	return nil
}
