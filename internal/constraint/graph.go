// Package constraint implements the structural decomposition and numerical
// solving of geometric constraint systems (spec.md §4.4). It is grounded on
// lvlath's graph/core, graph/dfs and graph/flow package *style* -- adjacency
// lists keyed by stable ids, a visited-set traversal helper, and augmenting
// path search over a residual graph -- reimplemented directly against
// model.Constraint/model.Entity since lvlath itself is reference material,
// not a fetchable dependency (see DESIGN.md).
package constraint

import (
	"fmt"

	gviz "github.com/emicklei/dot"

	"github.com/agentcad/cadcore/internal/model"
)

// Graph is the bipartite incidence graph between constraints and the
// entity degrees of freedom they consume: one side is constraint nodes,
// the other is "DOF slots" -- one slot per unit of freedom an entity
// contributes (model.EntityDOF), not one node per entity. This lets
// decomposition reason about partial DOF consumption (e.g. a constraint
// using two of a plane's five DOF) the way a true structural DOF analysis
// requires.
type Graph struct {
	Constraints []*model.Constraint
	// dofSlots maps "entityID#slotIndex" to the entity id it belongs to.
	dofSlots map[string]string
	// adjacency: constraint id -> slot ids it touches.
	adj map[string][]string
	// slotsByEntity: entity id -> all of its slot ids, in order.
	slotsByEntity map[string][]string
}

// NewGraph builds the incidence graph for a set of constraints over the
// given entity kind lookup (entityID -> Kind), per spec.md §4.4.
func NewGraph(constraints []*model.Constraint, kindOf func(entityID string) model.Kind) *Graph {
	g := &Graph{
		Constraints:   constraints,
		dofSlots:      make(map[string]string),
		adj:           make(map[string][]string),
		slotsByEntity: make(map[string][]string),
	}
	ensureSlots := func(entityID string) []string {
		if slots, ok := g.slotsByEntity[entityID]; ok {
			return slots
		}
		n := model.EntityDOF(kindOf(entityID))
		slots := make([]string, n)
		for i := 0; i < n; i++ {
			slot := slotID(entityID, i)
			slots[i] = slot
			g.dofSlots[slot] = entityID
		}
		g.slotsByEntity[entityID] = slots
		return slots
	}

	for _, c := range constraints {
		touched := []string{}
		for _, eid := range c.EntityIDs {
			touched = append(touched, ensureSlots(eid)...)
		}
		g.adj[c.ID] = touched
	}
	return g
}

func slotID(entityID string, i int) string {
	return entityID + "#" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

// Slots returns the DOF slot ids a constraint touches.
func (g *Graph) Slots(constraintID string) []string { return g.adj[constraintID] }

// EntitySlots returns every DOF slot id belonging to an entity.
func (g *Graph) EntitySlots(entityID string) []string { return g.slotsByEntity[entityID] }

// SlotOwner returns the entity id a DOF slot belongs to.
func (g *Graph) SlotOwner(slot string) string { return g.dofSlots[slot] }

// ConnectedComponents partitions constraint ids into independent subsystems:
// two constraints are connected if they share an entity's DOF slot,
// transitively. Each component can be solved in parallel (spec.md §4.4),
// grounded on lvlath dfs's visited-set traversal style.
func (g *Graph) ConnectedComponents() [][]string {
	visited := make(map[string]bool)
	slotToConstraints := make(map[string][]string)
	for _, c := range g.Constraints {
		for _, slot := range g.adj[c.ID] {
			slotToConstraints[slot] = append(slotToConstraints[slot], c.ID)
		}
	}

	var components [][]string
	for _, c := range g.Constraints {
		if visited[c.ID] {
			continue
		}
		var component []string
		stack := []string{c.ID}
		visited[c.ID] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, cur)
			for _, slot := range g.adj[cur] {
				for _, neighbor := range slotToConstraints[slot] {
					if !visited[neighbor] {
						visited[neighbor] = true
						stack = append(stack, neighbor)
					}
				}
			}
		}
		components = append(components, component)
	}
	return components
}

// DOT renders one decomposed subsystem -- its constraints, the DOF slots
// they touch, and which of each are redundant/unmatched -- as Graphviz DOT,
// grounded on emicklei/dot's fluent graph builder. This backs
// constraint.status's optional debug payload (spec.md §4.4).
func (g *Graph) DOT(constraintIDs []string, decomp DecompositionResult) string {
	out := gviz.NewGraph(gviz.Directed)
	out.Attr("rankdir", "LR")

	redundant := make(map[string]bool, len(decomp.RedundantIDs))
	for _, id := range decomp.RedundantIDs {
		redundant[id] = true
	}
	unmatched := make(map[string]bool, len(decomp.UnmatchedSlots))
	for _, id := range decomp.UnmatchedSlots {
		unmatched[id] = true
	}

	byID := make(map[string]*model.Constraint, len(g.Constraints))
	for _, c := range g.Constraints {
		byID[c.ID] = c
	}

	slotNodes := make(map[string]gviz.Node)
	for _, cid := range constraintIDs {
		c := byID[cid]
		cn := out.Node(cid).Label(fmt.Sprintf("%s\n%s", cid, c.Type)).Box()
		if redundant[cid] {
			cn.Attr("style", "filled").Attr("fillcolor", "lightgray")
		}
		for _, slot := range g.adj[cid] {
			sn, ok := slotNodes[slot]
			if !ok {
				sn = out.Node(slot).Attr("shape", "circle").Label(g.dofSlots[slot])
				if unmatched[slot] {
					sn.Attr("style", "filled").Attr("fillcolor", "salmon")
				}
				slotNodes[slot] = sn
			}
			out.Edge(cn, sn)
		}
	}
	return out.String()
}
