package dispatch

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/session"
)

// Method is the single handler contract every dispatchable operation
// implements, generalizing the teacher's split Tool/Prompt/Resource
// interfaces into one shape since spec.md has no such distinction. Every
// method is gated by name against the session's RoleRuleset before Handle
// runs (spec.md §4.6 step 3).
type Method struct {
	Name   string
	Handle func(ctx context.Context, sess *session.Session, params json.RawMessage, progress chan<- ProgressFrame) (interface{}, *errs.Kind)
}

// Registry is the method name -> Method lookup the server consults per
// request, generalizing the teacher's mcp.Registry.
type Registry struct {
	methods map[string]Method
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register adds a method, panicking on a duplicate name since that is
// always a wiring bug caught at startup, never a runtime condition.
func (r *Registry) Register(m Method) {
	if _, exists := r.methods[m.Name]; exists {
		panic("dispatch: duplicate method registration for " + m.Name)
	}
	r.methods[m.Name] = m
}

func (r *Registry) Lookup(name string) (Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.methods))
	for name := range r.methods {
		out = append(out, name)
	}
	return out
}
