package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
)

// OperationLog is the append-only history backing undo/redo (spec.md
// §4.3). Every successful mutating method call appends one Operation;
// undo/redo move a per-workspace cursor back and forth across it, and a
// fresh append past an undone tail truncates that tail for good (no branching
// history, matching spec.md's redo semantics).
type OperationLog struct {
	db       *DB
	entities *EntityStore
}

func NewOperationLog(db *DB, entities *EntityStore) *OperationLog {
	return &OperationLog{db: db, entities: entities}
}

// UndoKind tags which UndoPayload variant is encoded.
type UndoKind string

const (
	UndoKindCreate    UndoKind = "create"
	UndoKindModify    UndoKind = "modify"
	UndoKindDelete    UndoKind = "delete"
	UndoKindComposite UndoKind = "composite"
)

// entitySnapshot is the JSON-safe image of one entity row carried inside an
// UndoPayload. model.Entity itself cannot round-trip through JSON (its
// Properties field is an interface), so snapshots hold the properties in the
// same tagged envelope the entities table uses.
type entitySnapshot struct {
	ID              string                 `json:"id"`
	Kind            model.Kind             `json:"kind"`
	WorkspaceID     string                 `json:"workspace_id"`
	Props           json.RawMessage        `json:"props"`
	BRep            []byte                 `json:"brep,omitempty"`
	Parents         []string               `json:"parents,omitempty"`
	Children        []string               `json:"children,omitempty"`
	BBox            model.BBox             `json:"bbox"`
	Cached          model.CachedProps      `json:"cached"`
	CreatedAt       time.Time              `json:"created_at"`
	ModifiedAt      time.Time              `json:"modified_at"`
	CreatedByAgent  string                 `json:"created_by_agent"`
	IsValid         bool                   `json:"is_valid"`
	ValidationCodes []model.ValidationCode `json:"validation_codes,omitempty"`
	Origin          string                 `json:"origin,omitempty"`
	Deleted         bool                   `json:"deleted,omitempty"`
}

func snapshotEntity(e *model.Entity) (*entitySnapshot, error) {
	props, err := propsToJSON(e.Properties)
	if err != nil {
		return nil, err
	}
	return &entitySnapshot{
		ID: e.ID, Kind: e.Kind, WorkspaceID: e.WorkspaceID, Props: props, BRep: e.BRep,
		Parents: e.Parents, Children: e.Children, BBox: e.BBox, Cached: e.Cached,
		CreatedAt: e.CreatedAt, ModifiedAt: e.ModifiedAt, CreatedByAgent: e.CreatedByAgent,
		IsValid: e.IsValid, ValidationCodes: e.ValidationCodes,
		Origin: e.Origin, Deleted: e.Deleted,
	}, nil
}

func (s *entitySnapshot) entity() (*model.Entity, error) {
	props, err := propsFromJSON(s.Props)
	if err != nil {
		return nil, err
	}
	return &model.Entity{
		ID: s.ID, Kind: s.Kind, WorkspaceID: s.WorkspaceID, Properties: props, BRep: s.BRep,
		Parents: s.Parents, Children: s.Children, BBox: s.BBox, Cached: s.Cached,
		CreatedAt: s.CreatedAt, ModifiedAt: s.ModifiedAt, CreatedByAgent: s.CreatedByAgent,
		IsValid: s.IsValid, ValidationCodes: s.ValidationCodes,
		Origin: s.Origin, Deleted: s.Deleted,
	}, nil
}

// UndoPayload is a closed tagged union of everything an undo needs to
// replay. Exactly one of the variant fields is set, matching Kind.
//
// Created starts empty for an UndoKindCreate payload and is filled in by the
// first Undo, which snapshots the row before removing it; Redo then restores
// that snapshot byte-identically (spec.md §8 scenario 6).
type UndoPayload struct {
	Kind      UndoKind        `json:"kind"`
	EntityID  string          `json:"entity_id,omitempty"` // UndoCreate: the entity to remove on undo
	Created   *entitySnapshot `json:"created,omitempty"`   // UndoCreate: filled at undo time for redo
	Before    *entitySnapshot `json:"before,omitempty"`    // UndoModify: full prior row
	Deleted   *entitySnapshot `json:"deleted,omitempty"`   // UndoDelete: full row to restore
	Composite []UndoPayload   `json:"composite,omitempty"` // UndoComposite: applied in reverse order
}

func UndoCreate(entityID string) UndoPayload { return UndoPayload{Kind: UndoKindCreate, EntityID: entityID} }

func UndoModify(before *model.Entity) UndoPayload {
	snap, _ := snapshotEntity(before)
	return UndoPayload{Kind: UndoKindModify, Before: snap}
}

func UndoDelete(deleted *model.Entity) UndoPayload {
	snap, _ := snapshotEntity(deleted)
	return UndoPayload{Kind: UndoKindDelete, Deleted: snap}
}

func UndoComposite(parts ...UndoPayload) UndoPayload {
	return UndoPayload{Kind: UndoKindComposite, Composite: parts}
}

type operationRow struct {
	OperationID     int64  `db:"operation_id"`
	WorkspaceID     string `db:"workspace_id"`
	OperationType   string `db:"operation_type"`
	AgentID         string `db:"agent_id"`
	Timestamp       string `db:"timestamp"`
	Inputs          string `db:"inputs"`
	Outputs         string `db:"outputs"`
	Status          string `db:"status"`
	ErrorCode       string `db:"error_code"`
	ExecutionTimeNs int64  `db:"execution_time_ns"`
	UndoPayload     sql.NullString `db:"undo_payload"`
	Undone          bool   `db:"undone"`
}

func rowToOperation(r operationRow) *model.Operation {
	ts, _ := time.Parse(timeLayout, r.Timestamp)
	var undoBytes []byte
	if r.UndoPayload.Valid {
		undoBytes = []byte(r.UndoPayload.String)
	}
	return &model.Operation{
		ID: r.OperationID, Type: r.OperationType, WorkspaceID: r.WorkspaceID, AgentID: r.AgentID,
		Timestamp: ts, Inputs: []byte(r.Inputs), Outputs: []byte(r.Outputs),
		Status: model.OperationStatus(r.Status), ErrorCode: r.ErrorCode,
		ExecutionTime: time.Duration(r.ExecutionTimeNs), UndoPayload: undoBytes,
	}
}

// nextID enforces the per-workspace monotonic logical clock spec.md §9
// requires (operation ids strictly increase within a workspace even if
// wall-clock timestamps tie or go backwards under clock skew).
func (l *OperationLog) nextID(workspaceID string) (int64, error) {
	var max sql.NullInt64
	if err := l.db.sqlx.Get(&max, `SELECT MAX(operation_id) FROM operations WHERE workspace_id = ?`, workspaceID); err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

// Append records one completed operation. If an undone tail exists (the
// caller undid operations and is now recording a fresh one instead of
// redoing), that tail is truncated first, matching standard undo/redo
// semantics.
func (l *OperationLog) Append(workspaceID, agentID, opType string, inputs, outputs []byte, status model.OperationStatus, errorCode string, execTime time.Duration, undo *UndoPayload) (*model.Operation, error) {
	if _, err := l.db.sqlx.Exec(`DELETE FROM operations WHERE workspace_id = ? AND undone = 1`, workspaceID); err != nil {
		return nil, fmt.Errorf("truncating redo tail: %w", err)
	}

	id, err := l.nextID(workspaceID)
	if err != nil {
		return nil, err
	}
	var undoJSON []byte
	if undo != nil {
		undoJSON, err = json.Marshal(undo)
		if err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	// Never step back from the previous entry's timestamp, even if the wall
	// clock has.
	var last string
	if l.db.sqlx.Get(&last, `SELECT timestamp FROM operations WHERE workspace_id = ? ORDER BY operation_id DESC LIMIT 1`, workspaceID) == nil {
		if prev, perr := time.Parse(timeLayout, last); perr == nil && now.Before(prev) {
			now = prev
		}
	}
	_, err = l.db.sqlx.Exec(`INSERT INTO operations
		(operation_id, workspace_id, operation_type, agent_id, timestamp, inputs, outputs, status, error_code, execution_time_ns, undo_payload, undone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		id, workspaceID, opType, agentID, now.Format(timeLayout), string(orEmpty(inputs)), string(orEmpty(outputs)),
		string(status), errorCode, execTime.Nanoseconds(), nullableString(undoJSON))
	if err != nil {
		return nil, fmt.Errorf("appending operation: %w", err)
	}
	op := &model.Operation{
		ID: id, Type: opType, WorkspaceID: workspaceID, AgentID: agentID, Timestamp: now,
		Inputs: inputs, Outputs: outputs, Status: status, ErrorCode: errorCode,
		ExecutionTime: execTime, UndoPayload: undoJSON,
	}
	l.appendHistoryLine(op)
	return op, nil
}

// appendHistoryLine mirrors the operation onto the chronological
// history/operations.log file (spec.md §6's persisted-state layout); a
// no-op for in-memory stores, and best-effort for durable ones -- the
// sqlite row is the authoritative record.
func (l *OperationLog) appendHistoryLine(op *model.Operation) {
	path := l.db.historyPath()
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	line, err := json.Marshal(map[string]interface{}{
		"operation_id": op.ID, "workspace_id": op.WorkspaceID, "operation_type": op.Type,
		"agent_id": op.AgentID, "timestamp": op.Timestamp.Format(timeLayout), "status": string(op.Status),
	})
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte("{}")
	}
	return b
}

func nullableString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// List returns one page of a workspace's active (non-undone) operations,
// paginated reverse-chronologically, returned oldest-first within the page.
func (l *OperationLog) List(workspaceID string, limit, offset int) ([]*model.Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var rows []operationRow
	if err := l.db.sqlx.Select(&rows, `SELECT operation_id, workspace_id, operation_type, agent_id, timestamp, inputs, outputs,
		status, error_code, execution_time_ns, undo_payload, undone
		FROM operations WHERE workspace_id = ? AND undone = 0
		ORDER BY operation_id DESC LIMIT ? OFFSET ?`, workspaceID, limit, offset); err != nil {
		return nil, err
	}
	out := make([]*model.Operation, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rowToOperation(rows[i]))
	}
	return out, nil
}

// Undo reverts the most recent active operation in workspaceID, replaying
// its UndoPayload, and marks that row undone so Redo can reapply it later.
func (l *OperationLog) Undo(workspaceID string) (*model.Operation, *errs.Kind) {
	var r operationRow
	err := l.db.sqlx.Get(&r, `SELECT operation_id, workspace_id, operation_type, agent_id, timestamp, inputs, outputs,
		status, error_code, execution_time_ns, undo_payload, undone
		FROM operations WHERE workspace_id = ? AND undone = 0
		ORDER BY operation_id DESC LIMIT 1`, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.OperationInvalid, "no operations to undo in workspace %s", workspaceID)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if !r.UndoPayload.Valid {
		return nil, errs.New(errs.OperationInvalid, "operation %d is not reversible", r.OperationID)
	}
	var payload UndoPayload
	if err := json.Unmarshal([]byte(r.UndoPayload.String), &payload); err != nil {
		return nil, errs.Wrap(err)
	}
	if err := l.replay(&payload, true); err != nil {
		return nil, errs.Wrap(err)
	}
	// replay may have enriched the payload (create snapshots captured for
	// redo); persist it back alongside the undone flag.
	updatedJSON, err := json.Marshal(&payload)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if _, err := l.db.sqlx.Exec(`UPDATE operations SET undone = 1, undo_payload = ? WHERE workspace_id = ? AND operation_id = ?`,
		string(updatedJSON), workspaceID, r.OperationID); err != nil {
		return nil, errs.Wrap(err)
	}
	return rowToOperation(r), nil
}

// Redo reapplies the most recently undone operation at the tail, if one
// exists and the tail hasn't since been truncated by a new Append.
func (l *OperationLog) Redo(workspaceID string) (*model.Operation, *errs.Kind) {
	var r operationRow
	err := l.db.sqlx.Get(&r, `SELECT operation_id, workspace_id, operation_type, agent_id, timestamp, inputs, outputs,
		status, error_code, execution_time_ns, undo_payload, undone
		FROM operations WHERE workspace_id = ? AND undone = 1
		ORDER BY operation_id ASC LIMIT 1`, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.OperationInvalid, "nothing to redo in workspace %s", workspaceID)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var payload UndoPayload
	if err := json.Unmarshal([]byte(r.UndoPayload.String), &payload); err != nil {
		return nil, errs.Wrap(err)
	}
	if err := l.replay(&payload, false); err != nil {
		return nil, errs.Wrap(err)
	}
	if _, err := l.db.sqlx.Exec(`UPDATE operations SET undone = 0 WHERE workspace_id = ? AND operation_id = ?`, workspaceID, r.OperationID); err != nil {
		return nil, errs.Wrap(err)
	}
	return rowToOperation(r), nil
}

// replay applies payload in place. When undo is true it reverses the
// original operation (remove what was created, restore what was deleted,
// roll back what was modified); when false it reapplies the original effect
// (redo). Undo of a create captures the removed row into p.Created so a
// later redo can restore it exactly.
func (l *OperationLog) replay(p *UndoPayload, undo bool) error {
	switch p.Kind {
	case UndoKindCreate:
		if undo {
			// getAny, not Get: the created "entity" may be a branch
			// tombstone, which Get's deleted filter would hide.
			e, err := l.entities.getAny(p.EntityID)
			if err != nil {
				return fmt.Errorf("snapshotting %s before undo: %w", p.EntityID, err)
			}
			snap, err := snapshotEntity(e)
			if err != nil {
				return err
			}
			p.Created = snap
			return l.entities.HardDelete(p.EntityID)
		}
		if p.Created == nil {
			return fmt.Errorf("redo of create for %s has no captured snapshot", p.EntityID)
		}
		e, err := p.Created.entity()
		if err != nil {
			return err
		}
		return l.entities.Restore(e)
	case UndoKindDelete:
		e, err := p.Deleted.entity()
		if err != nil {
			return err
		}
		if undo {
			return l.entities.Restore(e)
		}
		return l.entities.HardDelete(e.ID)
	case UndoKindModify:
		if undo {
			e, err := p.Before.entity()
			if err != nil {
				return err
			}
			return l.entities.ReplaceProperties(e)
		}
		return nil // redoing a modify without the "after" snapshot is a no-op; the row already reflects it until undone.
	case UndoKindComposite:
		order := p.Composite
		if undo {
			for i := len(order) - 1; i >= 0; i-- {
				if err := l.replay(&order[i], true); err != nil {
					return err
				}
			}
			return nil
		}
		for i := range order {
			if err := l.replay(&order[i], false); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown undo payload kind %q", p.Kind)
	}
}
