package constraint

// DecompositionResult classifies a constraint subsystem per spec.md §4.4.
type DecompositionResult struct {
	ConstraintIDs   []string
	TotalDOF        int
	RemovedDOF      int
	Status          DecomposeStatus
	RedundantIDs    []string // constraints whose DOF removal matching failed (redundant)
	UnmatchedSlots  []string // DOF slots no constraint reaches (under-constrained)
}

type DecomposeStatus string

const (
	WellConstrained  DecomposeStatus = "well_constrained"
	UnderConstrained DecomposeStatus = "under_constrained"
	OverConstrained  DecomposeStatus = "over_constrained"
)

// Decompose runs a bipartite maximum matching between constraints and the
// DOF slots they can remove (Kuhn's augmenting-path algorithm, grounded on
// lvlath flow's augmenting-path style) to classify a connected subsystem.
// Each constraint may be matched to as many slots as its DOF() count; a
// constraint with unmatched DOF capacity after the global matching converges
// is redundant, and any slot no constraint could reach is under-constrained.
func Decompose(g *Graph, constraintIDs []string) DecompositionResult {
	byID := make(map[string]int)
	for i, c := range g.Constraints {
		byID[c.ID] = i
	}

	allSlots := map[string]bool{}
	for _, cid := range constraintIDs {
		for _, slot := range g.adj[cid] {
			allSlots[slot] = true
		}
	}

	// matchSlot: slot -> constraint id currently matched to it.
	matchSlot := make(map[string]string)
	// capacityUsed: constraint id -> how many slots it has been matched to.
	capacityUsed := make(map[string]int)
	// Track, per constraint, how much DOF-removal capacity it still has.
	capacity := make(map[string]int)
	for _, cid := range constraintIDs {
		capacity[cid] = g.Constraints[byID[cid]].DOF()
	}

	var tryAugment func(cid string, visited map[string]bool) bool
	tryAugment = func(cid string, visited map[string]bool) bool {
		for _, slot := range g.adj[cid] {
			if visited[slot] {
				continue
			}
			visited[slot] = true
			owner, taken := matchSlot[slot]
			if !taken {
				matchSlot[slot] = cid
				capacityUsed[cid]++
				return true
			}
			if capacityUsed[cid] < capacity[cid] && tryAugment(owner, visited) {
				matchSlot[slot] = cid
				capacityUsed[cid]++
				return true
			}
		}
		return false
	}

	for _, cid := range constraintIDs {
		for capacityUsed[cid] < capacity[cid] {
			if !tryAugment(cid, make(map[string]bool)) {
				break
			}
		}
	}

	totalDOF := len(allSlots)
	removedDOF := 0
	var redundant []string
	for _, cid := range constraintIDs {
		removedDOF += capacityUsed[cid]
		if capacityUsed[cid] < capacity[cid] {
			redundant = append(redundant, cid)
		}
	}

	var unmatched []string
	for slot := range allSlots {
		if _, ok := matchSlot[slot]; !ok {
			unmatched = append(unmatched, slot)
		}
	}

	status := WellConstrained
	switch {
	case len(redundant) > 0:
		status = OverConstrained
	case len(unmatched) > 0:
		status = UnderConstrained
	}

	return DecompositionResult{
		ConstraintIDs:  constraintIDs,
		TotalDOF:       totalDOF,
		RemovedDOF:     removedDOF,
		Status:         status,
		RedundantIDs:   redundant,
		UnmatchedSlots: unmatched,
	}
}

// MinimalConflictSet finds the smallest subset of an over-constrained
// subsystem's constraints that, removed, restores a well-constrained or
// under-constrained match -- used to populate model-level conflict
// diagnostics (spec.md §4.4, §7 ConstraintConflict.conflict_set). It runs a
// simple greedy search: constraints the matching left with surplus
// (unmatched) capacity are tried first, then the rest in the given order;
// each is dropped in turn and the remainder re-matched, and the first one
// whose removal clears the over-constraint is returned. If no single drop
// does, every constraint with surplus capacity is returned.
func MinimalConflictSet(g *Graph, constraintIDs []string) []string {
	result := Decompose(g, constraintIDs)
	if result.Status != OverConstrained {
		return nil
	}
	// Try the constraints the matching left with surplus capacity first.
	surplus := make(map[string]bool, len(result.RedundantIDs))
	for _, cid := range result.RedundantIDs {
		surplus[cid] = true
	}
	remaining := append([]string{}, result.RedundantIDs...)
	for _, cid := range constraintIDs {
		if !surplus[cid] {
			remaining = append(remaining, cid)
		}
	}
	for {
		var candidate string
		for i, cid := range remaining {
			trial := append(append([]string{}, remaining[:i]...), remaining[i+1:]...)
			if Decompose(g, trial).Status != OverConstrained {
				candidate = cid
				remaining = trial
				break
			}
		}
		if candidate == "" {
			break
		}
		if Decompose(g, remaining).Status != OverConstrained {
			return []string{candidate}
		}
	}
	return result.RedundantIDs
}
