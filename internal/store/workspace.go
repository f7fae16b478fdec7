package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
)

// WorkspaceStore owns the branch tree and its copy-on-write read path
// (spec.md §4.2): a workspace only holds the entity rows created or
// modified since it diverged from its parent; everything else is read
// through the ancestor chain.
type WorkspaceStore struct {
	db       *DB
	entities *EntityStore
}

func NewWorkspaceStore(db *DB, entities *EntityStore) *WorkspaceStore {
	ws := &WorkspaceStore{db: db, entities: entities}
	if entities != nil {
		// EntityStore's visibility resolution walks the ancestor chain,
		// which only this store knows.
		entities.ws = ws
	}
	return ws
}

type workspaceRow struct {
	WorkspaceID       string `db:"workspace_id"`
	ParentWorkspaceID sql.NullString `db:"parent_workspace_id"`
	OwningAgentID     string `db:"owning_agent_id"`
	BranchStatus      string `db:"branch_status"`
	DivergencePoint   int64  `db:"divergence_point"`
	CreatedAt         string `db:"created_at"`
}

func rowToWorkspace(r workspaceRow) *model.Workspace {
	createdAt, _ := time.Parse(timeLayout, r.CreatedAt)
	return &model.Workspace{
		ID:                r.WorkspaceID,
		ParentWorkspaceID: r.ParentWorkspaceID.String,
		OwningAgentID:     r.OwningAgentID,
		BranchStatus:      model.BranchStatus(r.BranchStatus),
		DivergencePoint:   r.DivergencePoint,
		CreatedAt:         createdAt,
	}
}

// Create forks a new workspace from parentID, recording the parent's
// current operation count as the divergence point (spec.md §4.3's logical
// clock backs merge-base detection).
func (s *WorkspaceStore) Create(parentID, agent, name string) (*model.Workspace, *errs.Kind) {
	if _, err := s.Get(parentID); err != nil {
		return nil, errs.New(errs.InvalidParameter, "parent workspace %s does not exist", parentID)
	}
	divergence, err := s.opCount(parentID)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	id := NewWorkspaceID(name)
	now := time.Now().UTC()
	_, dbErr := s.db.sqlx.Exec(`INSERT INTO workspaces
		(workspace_id, parent_workspace_id, owning_agent_id, branch_status, divergence_point, created_at)
		VALUES (?, ?, ?, 'clean', ?, ?)`,
		id, parentID, agent, divergence, now.Format(timeLayout))
	if dbErr != nil {
		return nil, errs.Wrap(fmt.Errorf("creating workspace: %w", dbErr))
	}
	return &model.Workspace{
		ID: id, ParentWorkspaceID: parentID, OwningAgentID: agent,
		BranchStatus: model.BranchClean, DivergencePoint: divergence, CreatedAt: now,
	}, nil
}

func (s *WorkspaceStore) opCount(workspaceID string) (int64, error) {
	var n int64
	err := s.db.sqlx.Get(&n, `SELECT COUNT(*) FROM operations WHERE workspace_id = ?`, workspaceID)
	return n, err
}

func (s *WorkspaceStore) Get(id string) (*model.Workspace, error) {
	var r workspaceRow
	err := s.db.sqlx.Get(&r, `SELECT workspace_id, parent_workspace_id, owning_agent_id, branch_status, divergence_point, created_at
		FROM workspaces WHERE workspace_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToWorkspace(r), nil
}

func (s *WorkspaceStore) List() ([]*model.Workspace, error) {
	var rows []workspaceRow
	if err := s.db.sqlx.Select(&rows, `SELECT workspace_id, parent_workspace_id, owning_agent_id, branch_status, divergence_point, created_at
		FROM workspaces ORDER BY created_at ASC`); err != nil {
		return nil, err
	}
	out := make([]*model.Workspace, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToWorkspace(r))
	}
	return out, nil
}

// AncestorChain returns [workspaceID, parent, grandparent, ..., root].
func (s *WorkspaceStore) AncestorChain(workspaceID string) ([]string, error) {
	chain := []string{}
	cur := workspaceID
	for {
		chain = append(chain, cur)
		ws, err := s.Get(cur)
		if err != nil {
			return nil, err
		}
		if ws.ParentWorkspaceID == "" {
			return chain, nil
		}
		cur = ws.ParentWorkspaceID
	}
}

// MarkModified flips a clean branch to modified on its first write; called
// by handlers after EntityStore.Create/Modify/Delete succeeds.
func (s *WorkspaceStore) MarkModified(workspaceID string) error {
	if workspaceID == model.RootWorkspaceID {
		return nil
	}
	_, err := s.db.sqlx.Exec(`UPDATE workspaces SET branch_status = 'modified' WHERE workspace_id = ? AND branch_status = 'clean'`, workspaceID)
	return err
}

func (s *WorkspaceStore) setStatus(workspaceID string, status model.BranchStatus) error {
	_, err := s.db.sqlx.Exec(`UPDATE workspaces SET branch_status = ? WHERE workspace_id = ?`, string(status), workspaceID)
	return err
}

// Delete removes a branch workspace and every row namespaced to it. The
// root workspace cannot be deleted, and neither can a workspace that still
// has child branches (they would lose their copy-on-write base).
func (s *WorkspaceStore) Delete(workspaceID string) *errs.Kind {
	if workspaceID == model.RootWorkspaceID {
		return errs.New(errs.OperationInvalid, "the root workspace cannot be deleted")
	}
	if _, err := s.Get(workspaceID); err != nil {
		return errs.New(errs.InvalidParameter, "workspace %s does not exist", workspaceID)
	}
	var children int
	if err := s.db.sqlx.Get(&children, `SELECT COUNT(*) FROM workspaces WHERE parent_workspace_id = ?`, workspaceID); err != nil {
		return errs.Wrap(err)
	}
	if children > 0 {
		return errs.New(errs.OperationInvalid, "workspace %s still has %d child branches", workspaceID, children)
	}
	deleteErr := s.db.WithWriteLock(workspaceID, func() error {
		stmts := []string{
			`DELETE FROM operations WHERE workspace_id = ?`,
			`DELETE FROM entity_constraints WHERE constraint_id IN (SELECT constraint_id FROM constraints WHERE workspace_id = ?)`,
			`DELETE FROM constraints WHERE workspace_id = ?`,
			`DELETE FROM entities WHERE workspace_id = ?`,
			`DELETE FROM workspaces WHERE workspace_id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := s.db.sqlx.Exec(stmt, workspaceID); err != nil {
				return err
			}
		}
		return nil
	})
	if deleteErr != nil {
		return errs.Wrap(deleteErr)
	}
	return nil
}

// ResolveVisible returns the entity set visible from workspaceID, keyed by
// logical id: every entity namespaced to workspaceID or any ancestor, with
// descendant rows (copy-on-write materializations) shadowing the ancestor
// rows they originate from, and branch tombstones removing inherited
// entities from the view entirely.
func (s *WorkspaceStore) ResolveVisible(workspaceID string) (map[string]*model.Entity, error) {
	chain, err := s.AncestorChain(workspaceID)
	if err != nil {
		return nil, err
	}
	visible := make(map[string]*model.Entity)
	// Walk root-to-leaf so nearer (leaf-ward) workspaces overwrite ancestors.
	for i := len(chain) - 1; i >= 0; i-- {
		ents, err := s.entities.listAll(chain[i])
		if err != nil {
			return nil, err
		}
		for _, e := range ents {
			key := e.LogicalID()
			if e.Deleted {
				delete(visible, key)
				continue
			}
			visible[key] = e
		}
	}
	return visible, nil
}

// contentHash is a stable fingerprint of an entity's mutable content, used
// by the merge planner to detect "unchanged since base" without needing a
// deep structural diff.
func contentHash(e *model.Entity) string {
	if e == nil {
		return ""
	}
	propsJSON, _ := propsToJSON(e.Properties)
	h := sha256.Sum256(append(propsJSON, e.BRep...))
	return hex.EncodeToString(h[:])
}

// ChangeKind classifies what a merge plan must do to one entity id in target.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// ConflictReason classifies why planMerge could not fold an entity in
// automatically (spec.md §4.2's merge classification rules).
type ConflictReason string

const (
	// BothModified: the entity was changed (or, absent from base, added)
	// on both source and target, and the two versions differ.
	BothModified ConflictReason = "both_modified"
	// DeletedAndModified: one branch deleted the entity while the other
	// modified it.
	DeletedAndModified ConflictReason = "deleted_and_modified"
	// CollisionOnAdd: source added a new entity whose content is
	// indistinguishable (by content hash) from a different entity already
	// present in target.
	CollisionOnAdd ConflictReason = "collision_on_add"
)

// Conflict records an entity that planMerge could not fold in automatically.
type Conflict struct {
	EntityID string
	Code     ConflictReason
	Reason   string
}

// MergePlan is the pure output of planMerge: what must change in target to
// fold in source, plus any conflicts that block an automatic merge.
type MergePlan struct {
	Changes   map[string]ChangeKind
	Conflicts []Conflict
}

// planMerge is a pure three-way merge over content fingerprints (spec.md
// §4.2). base/source/target map an entity id to its content hash, or "" /
// absent if the entity doesn't exist on that branch. It is exhaustively
// table-tested without any database involved.
func planMerge(base, source, target map[string]string) *MergePlan {
	plan := &MergePlan{Changes: make(map[string]ChangeKind)}
	ids := make(map[string]struct{})
	for id := range base {
		ids[id] = struct{}{}
	}
	for id := range source {
		ids[id] = struct{}{}
	}
	for id := range target {
		ids[id] = struct{}{}
	}

	// Reverse index of target's content hashes, used to catch a source-side
	// add that collides (by content, standing in for geometry identity)
	// with an already-existing, differently-id'd target entity.
	targetByHash := make(map[string]string, len(target))
	for tid, th := range target {
		if th != "" {
			targetByHash[th] = tid
		}
	}

	for id := range ids {
		b, bOk := base[id]
		s, sOk := source[id]
		t, tOk := target[id]

		if s == t {
			continue // identical on both sides (including both absent): no-op
		}
		sourceChanged := bOk != sOk || (bOk && b != s)
		targetChanged := bOk != tOk || (bOk && b != t)

		switch {
		case !sourceChanged && targetChanged:
			// only target diverged from base; target's version already wins.
			continue
		case sourceChanged && !targetChanged:
			switch {
			case !sOk:
				plan.Changes[id] = ChangeDelete
			case !tOk:
				if collideID, collide := targetByHash[s]; collide && collideID != id {
					plan.Conflicts = append(plan.Conflicts, Conflict{
						EntityID: id, Code: CollisionOnAdd,
						Reason: fmt.Sprintf("entity %s collides with existing target entity %s (identical content) on add", id, collideID),
					})
					continue
				}
				plan.Changes[id] = ChangeCreate
			default:
				plan.Changes[id] = ChangeModify
			}
		default:
			// both sides changed the same entity since base, and disagree.
			code, reason := BothModified, fmt.Sprintf("entity %s was modified independently on both branches", id)
			if !sOk || !tOk {
				code, reason = DeletedAndModified, fmt.Sprintf("entity %s was deleted on one branch and modified on the other", id)
			}
			plan.Conflicts = append(plan.Conflicts, Conflict{EntityID: id, Code: code, Reason: reason})
		}
	}
	return plan
}

// Merge folds source's changes into target. If the automatic three-way
// merge finds any conflicting entity, no changes are applied, target's
// branch_status becomes conflicted, and the conflicts are returned for
// resolve_conflict to settle one at a time.
func (s *WorkspaceStore) Merge(sourceID, targetID string) (*MergePlan, *errs.Kind) {
	if _, err := s.Get(sourceID); err != nil {
		return nil, errs.New(errs.InvalidParameter, "source workspace %s does not exist", sourceID)
	}
	target, err := s.Get(targetID)
	if err != nil {
		return nil, errs.New(errs.InvalidParameter, "target workspace %s does not exist", targetID)
	}
	if target.BranchStatus == model.BranchConflicted {
		return nil, errs.New(errs.WorkspaceConflict, "workspace %s has unresolved conflicts; resolve them before merging", targetID)
	}

	baseID := s.mergeBase(sourceID, targetID)

	var plan *MergePlan
	mergeErr := s.db.WithTwoWriteLocks(sourceID, targetID, func() error {
		baseVisible, err := s.ResolveVisible(baseID)
		if err != nil {
			return err
		}
		sourceVisible, err := s.ResolveVisible(sourceID)
		if err != nil {
			return err
		}
		targetVisible, err := s.ResolveVisible(targetID)
		if err != nil {
			return err
		}

		baseHashes := hashMap(baseVisible)
		sourceHashes := hashMap(sourceVisible)
		targetHashes := hashMap(targetVisible)
		plan = planMerge(baseHashes, sourceHashes, targetHashes)

		if len(plan.Conflicts) > 0 {
			return s.setStatus(targetID, model.BranchConflicted)
		}

		for id, kind := range plan.Changes {
			switch kind {
			case ChangeCreate, ChangeModify:
				e := sourceVisible[id]
				if e == nil {
					continue
				}
				if err := s.writeVersion(targetID, id, e, targetVisible[id]); err != nil {
					return err
				}
			case ChangeDelete:
				if tgt, ok := targetVisible[id]; ok {
					if err := s.dropVersion(targetID, tgt); err != nil {
						return err
					}
				}
			}
		}
		if err := s.setStatus(sourceID, model.BranchMerged); err != nil {
			return err
		}
		return s.setStatus(targetID, model.BranchClean)
	})
	if mergeErr != nil {
		return nil, errs.Wrap(mergeErr)
	}
	return plan, nil
}

// writeVersion folds src's content into targetWS under logicalID. A row
// targetWS owns is overwritten in place; a row targetWS only inherits is
// shadowed with a materialized copy carrying src's content; an entity new
// to targetWS is inserted under its logical identity.
func (s *WorkspaceStore) writeVersion(targetWS, logicalID string, src, tgt *model.Entity) error {
	clone := src.Clone()
	clone.Deleted = false
	switch {
	case tgt != nil && tgt.WorkspaceID == targetWS:
		clone.ID, clone.WorkspaceID, clone.Origin = tgt.ID, tgt.WorkspaceID, tgt.Origin
		return s.entities.ReplaceProperties(clone)
	case tgt != nil:
		clone.ID, clone.Origin = tgt.ID, tgt.Origin
		_, err := s.entities.materialize(targetWS, clone, false)
		return err
	default:
		clone.ID, clone.Origin, clone.WorkspaceID = logicalID, "", targetWS
		return s.entities.Restore(clone)
	}
}

// dropVersion removes tgt's logical entity from targetWS's view: a hard
// delete when targetWS owns the row, a tombstone when it only inherits it.
func (s *WorkspaceStore) dropVersion(targetWS string, tgt *model.Entity) error {
	if tgt.WorkspaceID == targetWS {
		return s.entities.HardDelete(tgt.ID)
	}
	_, err := s.entities.materialize(targetWS, tgt, true)
	return err
}

func hashMap(visible map[string]*model.Entity) map[string]string {
	out := make(map[string]string, len(visible))
	for id, e := range visible {
		out[id] = contentHash(e)
	}
	return out
}

// mergeBase walks both ancestor chains to find the nearest common ancestor
// workspace id; it falls back to RootWorkspaceID, which is always shared.
func (s *WorkspaceStore) mergeBase(a, b string) string {
	chainA, err := s.AncestorChain(a)
	if err != nil {
		return model.RootWorkspaceID
	}
	chainB, err := s.AncestorChain(b)
	if err != nil {
		return model.RootWorkspaceID
	}
	inA := make(map[string]struct{}, len(chainA))
	for _, id := range chainA {
		inA[id] = struct{}{}
	}
	for _, id := range chainB {
		if _, ok := inA[id]; ok {
			return id
		}
	}
	return model.RootWorkspaceID
}

// ResolveStrategy is how a single conflicting entity is settled (spec.md
// §4.2: strategy ∈ {keep_source, keep_target, manual_merge, payload}).
type ResolveStrategy string

const (
	ResolveKeepSource  ResolveStrategy = "keep_source"
	ResolveKeepTarget  ResolveStrategy = "keep_target"
	ResolveManualMerge ResolveStrategy = "manual_merge"
	ResolvePayload     ResolveStrategy = "payload"
)

// ResolveConflict applies a chosen resolution for one conflicting entity
// and, once no conflicts remain, clears the conflicted status.
//
// keep_source/keep_target take one branch's existing version as-is.
// manual_merge and payload both carry an opaque properties payload (DESIGN.md:
// applied verbatim as the resolved entity's properties, schema left to the
// caller); manual_merge requires the entity to already exist on one of the
// two branches (it is merging two existing versions), while payload also
// accepts settling a CollisionOnAdd conflict by supplying the entity fresh.
func (s *WorkspaceStore) ResolveConflict(workspaceID, sourceID, entityID string, strategy ResolveStrategy, payload []byte) *errs.Kind {
	ws, err := s.Get(workspaceID)
	if err != nil {
		return errs.New(errs.InvalidParameter, "workspace %s does not exist", workspaceID)
	}
	if ws.BranchStatus != model.BranchConflicted {
		return errs.New(errs.WorkspaceConflict, "workspace %s has no pending conflicts", workspaceID)
	}

	resolveErr := s.db.WithTwoWriteLocks(sourceID, workspaceID, func() error {
		sourceVisible, err := s.ResolveVisible(sourceID)
		if err != nil {
			return err
		}
		targetVisible, err := s.ResolveVisible(workspaceID)
		if err != nil {
			return err
		}
		tgt := targetVisible[entityID]

		switch strategy {
		case ResolveKeepSource:
			e, ok := sourceVisible[entityID]
			if !ok {
				// source deleted the entity; drop target's version too.
				if tgt == nil {
					return nil
				}
				return s.dropVersion(workspaceID, tgt)
			}
			return s.writeVersion(workspaceID, entityID, e, tgt)
		case ResolveKeepTarget:
			return nil // keep target's existing version untouched
		case ResolveManualMerge, ResolvePayload:
			props, perr := propsFromJSON(payload)
			if perr != nil {
				return fmt.Errorf("decoding %s payload for entity %s: %w", strategy, entityID, perr)
			}
			if verr := props.Validate(); verr != nil {
				return fmt.Errorf("invalid %s payload for entity %s: %w", strategy, entityID, verr)
			}
			base, berr := s.conflictBase(sourceID, workspaceID, entityID)
			if berr != nil {
				return berr
			}
			if base == nil {
				if strategy == ResolveManualMerge {
					return fmt.Errorf("entity %s not found on either branch to manually merge against", entityID)
				}
				now := time.Now().UTC()
				base = &model.Entity{ID: entityID, Kind: props.Kind(), CreatedAt: now, ModifiedAt: now}
			}
			merged := base.Clone()
			merged.Properties = props
			merged.BRep = nil
			merged.Cached = model.CachedProps{Stale: true}
			merged.ModifiedAt = time.Now().UTC()
			merged.IsValid = true
			merged.ValidationCodes = nil
			return s.writeVersion(workspaceID, entityID, merged, tgt)
		default:
			return fmt.Errorf("unknown resolve strategy %q", strategy)
		}
	})
	if resolveErr != nil {
		return errs.Wrap(resolveErr)
	}

	remaining, err := s.remainingConflicts(workspaceID, sourceID)
	if err != nil {
		return errs.Wrap(err)
	}
	if len(remaining.Conflicts) == 0 {
		if err := s.setStatus(workspaceID, model.BranchClean); err != nil {
			return errs.Wrap(err)
		}
	}
	return nil
}

// conflictBase returns whichever side (source preferred, then target) still
// holds entityID, or nil if neither does.
func (s *WorkspaceStore) conflictBase(sourceID, workspaceID, entityID string) (*model.Entity, error) {
	sourceVisible, err := s.ResolveVisible(sourceID)
	if err != nil {
		return nil, err
	}
	if e, ok := sourceVisible[entityID]; ok {
		return e, nil
	}
	targetVisible, err := s.ResolveVisible(workspaceID)
	if err != nil {
		return nil, err
	}
	if e, ok := targetVisible[entityID]; ok {
		return e, nil
	}
	return nil, nil
}

func (s *WorkspaceStore) remainingConflicts(targetID, sourceID string) (*MergePlan, error) {
	baseID := s.mergeBase(sourceID, targetID)
	baseVisible, err := s.ResolveVisible(baseID)
	if err != nil {
		return nil, err
	}
	sourceVisible, err := s.ResolveVisible(sourceID)
	if err != nil {
		return nil, err
	}
	targetVisible, err := s.ResolveVisible(targetID)
	if err != nil {
		return nil, err
	}
	return planMerge(hashMap(baseVisible), hashMap(sourceVisible), hashMap(targetVisible)), nil
}
