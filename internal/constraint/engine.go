package constraint

import (
	"context"
	"fmt"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/model"
)

// EntityLookup resolves entity kinds and full records as seen from one
// workspace; Engine is storage-agnostic and takes this as a seam so
// internal/store can inject its sqlite-backed implementation. Every method
// takes the workspace so the store can resolve copy-on-write visibility on
// reads and materialize branch-private copies on writes.
type EntityLookup interface {
	Kind(workspaceID, entityID string) (model.Kind, error)
	Load(workspaceID string, ids []string) (map[string]*model.Entity, error)
	Save(workspaceID string, entities map[string]*model.Entity) error
}

// ConstraintLookup resolves/persists constraint rows for a workspace.
type ConstraintLookup interface {
	List(workspaceID string) ([]*model.Constraint, error)
	Save(c *model.Constraint) error
	Delete(constraintID string) error
}

// Engine implements the Apply/Status/Remove contract over a constraint
// subsystem (spec.md §4.4): applying a constraint re-decomposes and
// re-solves every subsystem it now touches, classifying the result as
// satisfied, violated, redundant or conflicting.
type Engine struct {
	Entities    EntityLookup
	Constraints ConstraintLookup
	Solver      *Solver
}

func NewEngine(entities EntityLookup, constraints ConstraintLookup, solver *Solver) *Engine {
	return &Engine{Entities: entities, Constraints: constraints, Solver: solver}
}

// ApplyResult is the apply contract's report (spec.md §4.4): the applied
// constraint's post-solve state plus the subsystem's remaining DOF and the
// entities the solve touched.
type ApplyResult struct {
	Constraint       *model.Constraint
	DOFRemaining     int
	AffectedEntities []string
}

// Apply adds constraint c to workspace's system, re-decomposes the
// subsystem it joins, solves it, and returns the post-solve status.
func (e *Engine) Apply(ctx context.Context, workspaceID string, c *model.Constraint) (*ApplyResult, *errs.Kind) {
	if err := c.Validate(); err != nil {
		return nil, errs.New(errs.InvalidParameter, "%v", err)
	}
	for _, eid := range c.EntityIDs {
		if _, err := e.Entities.Kind(workspaceID, eid); err != nil {
			return nil, errs.New(errs.EntityNotFound, "entity %s not found", eid)
		}
	}

	existing, err := e.Constraints.List(workspaceID)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	all := append(existing, c)

	g := NewGraph(all, func(id string) model.Kind {
		k, _ := e.Entities.Kind(workspaceID, id)
		return k
	})

	var component []string
	for _, comp := range g.ConnectedComponents() {
		for _, cid := range comp {
			if cid == c.ID {
				component = comp
				break
			}
		}
	}

	decomp := Decompose(g, component)

	byID := make(map[string]*model.Constraint, len(all))
	for _, cc := range all {
		byID[cc.ID] = cc
	}
	subsystem := make([]*model.Constraint, 0, len(component))
	entityIDSet := map[string]struct{}{}
	for _, cid := range component {
		cc := byID[cid]
		subsystem = append(subsystem, cc)
		for _, eid := range cc.EntityIDs {
			entityIDSet[eid] = struct{}{}
		}
	}
	ids := make([]string, 0, len(entityIDSet))
	for id := range entityIDSet {
		ids = append(ids, id)
	}

	entities, loadErr := e.Entities.Load(workspaceID, ids)
	if loadErr != nil {
		return nil, errs.Wrap(loadErr)
	}

	redundant := make(map[string]bool, len(decomp.RedundantIDs))
	for _, rid := range decomp.RedundantIDs {
		redundant[rid] = true
	}

	if decomp.Status == OverConstrained {
		// A redundant constraint isn't automatically a conflict: if its
		// residual against the current configuration is already zero, it's
		// consistent with (implied by) the rest of the subsystem and is
		// labelled redundant, not satisfied. Only a redundant constraint
		// whose residual doesn't vanish is a genuine conflict.
		probe := buildResults(subsystem, entities)
		conflicting := false
		for _, r := range probe {
			if redundant[r.ConstraintID] && r.Status != model.Satisfied {
				conflicting = true
				break
			}
		}
		if conflicting {
			// Errors produce no state change (spec.md §7): the refused
			// constraint is reported, not persisted.
			c.Status = model.Conflicting
			conflictSet := MinimalConflictSet(g, component)
			return nil, errs.Conflict(errs.ConstraintConflict, conflictSet, "adding constraint %s over-constrains its subsystem", c.ID)
		}
	}

	results, solveErr := e.Solver.SolveSubsystem(ctx, subsystem, entities)
	if solveErr != nil {
		if kind, ok := solveErr.(*errs.Kind); ok {
			return nil, kind
		}
		return nil, errs.Wrap(fmt.Errorf("solving subsystem: %w", solveErr))
	}
	if err := e.Entities.Save(workspaceID, entities); err != nil {
		return nil, errs.Wrap(err)
	}

	for _, r := range results {
		cc := byID[r.ConstraintID]
		cc.Residual = r.Residual
		cc.Status = r.Status
		if redundant[cc.ID] && cc.Status == model.Satisfied {
			cc.Status = model.Redundant
		}
		if err := e.Constraints.Save(cc); err != nil {
			return nil, errs.Wrap(err)
		}
	}

	return &ApplyResult{
		Constraint:       c,
		DOFRemaining:     decomp.TotalDOF - decomp.RemovedDOF,
		AffectedEntities: ids,
	}, nil
}

// Status reports the current satisfaction state of one constraint without
// re-solving.
func (e *Engine) Status(workspaceID, constraintID string) (*model.Constraint, *errs.Kind) {
	all, err := e.Constraints.List(workspaceID)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	for _, c := range all {
		if c.ID == constraintID {
			return c, nil
		}
	}
	return nil, errs.New(errs.EntityNotFound, "constraint %s not found", constraintID)
}

// Remove deletes a constraint. By default (replay=false, spec.md §4.4) it
// leaves entity positions untouched and only reclassifies the remaining
// constraints in the now-smaller subsystem against their current residuals
// -- the DOF the removed constraint held is simply no longer counted
// against them. Passing replay=true additionally re-solves the subsystem,
// moving entities to the nearest configuration that satisfies what's left.
func (e *Engine) Remove(ctx context.Context, workspaceID, constraintID string, replay bool) *errs.Kind {
	all, err := e.Constraints.List(workspaceID)
	if err != nil {
		return errs.Wrap(err)
	}
	var target *model.Constraint
	remaining := make([]*model.Constraint, 0, len(all))
	for _, c := range all {
		if c.ID == constraintID {
			target = c
			continue
		}
		remaining = append(remaining, c)
	}
	if target == nil {
		return errs.New(errs.EntityNotFound, "constraint %s not found", constraintID)
	}
	if err := e.Constraints.Delete(constraintID); err != nil {
		return errs.Wrap(err)
	}

	g := NewGraph(remaining, func(id string) model.Kind {
		k, _ := e.Entities.Kind(workspaceID, id)
		return k
	})
	var touched []string
	for _, eid := range target.EntityIDs {
		for _, comp := range g.ConnectedComponents() {
			for _, cid := range comp {
				c := findConstraint(remaining, cid)
				for _, id := range c.EntityIDs {
					if id == eid {
						touched = append(touched, comp...)
					}
				}
			}
		}
	}
	if len(touched) == 0 {
		return nil
	}

	byID := make(map[string]*model.Constraint, len(remaining))
	for _, c := range remaining {
		byID[c.ID] = c
	}
	subsystem := make([]*model.Constraint, 0, len(touched))
	entityIDSet := map[string]struct{}{}
	for _, cid := range touched {
		cc := byID[cid]
		subsystem = append(subsystem, cc)
		for _, eid := range cc.EntityIDs {
			entityIDSet[eid] = struct{}{}
		}
	}
	ids := make([]string, 0, len(entityIDSet))
	for id := range entityIDSet {
		ids = append(ids, id)
	}
	entities, loadErr := e.Entities.Load(workspaceID, ids)
	if loadErr != nil {
		return errs.Wrap(loadErr)
	}

	var results []SolveResult
	if replay {
		solved, solveErr := e.Solver.SolveSubsystem(ctx, subsystem, entities)
		if solveErr != nil {
			return errs.Wrap(solveErr)
		}
		if err := e.Entities.Save(workspaceID, entities); err != nil {
			return errs.Wrap(err)
		}
		results = solved
	} else {
		results = buildResults(subsystem, entities)
	}

	for _, r := range results {
		cc := byID[r.ConstraintID]
		cc.Residual, cc.Status = r.Residual, r.Status
		if err := e.Constraints.Save(cc); err != nil {
			return errs.Wrap(err)
		}
	}
	return nil
}

// Debug renders constraintID's connected subsystem as Graphviz DOT, for
// constraint.status's optional debug payload.
func (e *Engine) Debug(workspaceID, constraintID string) (string, *errs.Kind) {
	all, err := e.Constraints.List(workspaceID)
	if err != nil {
		return "", errs.Wrap(err)
	}
	g := NewGraph(all, func(id string) model.Kind {
		k, _ := e.Entities.Kind(workspaceID, id)
		return k
	})
	var component []string
	for _, comp := range g.ConnectedComponents() {
		for _, cid := range comp {
			if cid == constraintID {
				component = comp
				break
			}
		}
	}
	if component == nil {
		return "", errs.New(errs.EntityNotFound, "constraint %s not found", constraintID)
	}
	return g.DOT(component, Decompose(g, component)), nil
}

func findConstraint(cs []*model.Constraint, id string) *model.Constraint {
	for _, c := range cs {
		if c.ID == id {
			return c
		}
	}
	return nil
}
