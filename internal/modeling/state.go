package modeling

// SolidState is the per-entity modeling lifecycle (spec.md §4.5):
// Sketched -> SolidCreated -> PropertiesComputed -> (Modified -> PropertiesComputed)* -> Exported.
type SolidState string

const (
	StateSketched           SolidState = "sketched"
	StateSolidCreated       SolidState = "solid_created"
	StatePropertiesComputed SolidState = "properties_computed"
	StateModified           SolidState = "modified"
	StateExported           SolidState = "exported"
)

// transitions enumerates the legal moves; anything else is rejected by
// AdvanceState so a handler can't e.g. export a solid before its
// properties have ever been computed.
var transitions = map[SolidState][]SolidState{
	StateSketched:           {StateSolidCreated},
	StateSolidCreated:       {StatePropertiesComputed},
	StatePropertiesComputed: {StateModified, StateExported},
	StateModified:           {StatePropertiesComputed},
	StateExported:           {StateModified},
}

// AdvanceState validates that moving from current to next is legal.
func AdvanceState(current, next SolidState) bool {
	for _, allowed := range transitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}
