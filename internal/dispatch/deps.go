package dispatch

import (
	"github.com/agentcad/cadcore/internal/codec"
	"github.com/agentcad/cadcore/internal/constraint"
	"github.com/agentcad/cadcore/internal/kernel"
	"github.com/agentcad/cadcore/internal/metrics"
	"github.com/agentcad/cadcore/internal/modeling"
	"github.com/agentcad/cadcore/internal/store"
)

// Deps bundles every backing component a Method handler needs. cmd/cadcore
// constructs one Deps per process and every methods_*.go file in this
// package builds its Method set from it.
type Deps struct {
	DB          *store.DB
	Entities    *store.EntityStore
	Workspaces  *store.WorkspaceStore
	Constraints *store.ConstraintStore
	OpLog       *store.OperationLog
	Engine      *constraint.Engine
	Pipeline    *modeling.Pipeline
	Kernel      kernel.Kernel
	Codecs      map[codec.Format]codec.Codec
	Metrics     *metrics.Registry
}

// AllMethods assembles the complete registry (spec.md §6's full method
// list) from every methods_*.go group in this package.
func AllMethods(d *Deps) []Method {
	var out []Method
	out = append(out, EntityMethods(d)...)
	out = append(out, ConstraintMethods(d)...)
	out = append(out, SolidMethods(d)...)
	out = append(out, WorkspaceMethods(d)...)
	out = append(out, HistoryMethods(d)...)
	out = append(out, CodecMethods(d)...)
	out = append(out, SessionMethods(d)...)
	return out
}
