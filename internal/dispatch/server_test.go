package dispatch

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/codec"
	"github.com/agentcad/cadcore/internal/codec/brep"
	"github.com/agentcad/cadcore/internal/codec/mesh"
	"github.com/agentcad/cadcore/internal/constraint"
	"github.com/agentcad/cadcore/internal/kernel/analytic"
	"github.com/agentcad/cadcore/internal/modeling"
	"github.com/agentcad/cadcore/internal/session"
	"github.com/agentcad/cadcore/internal/store"
)

func newTestServer(t *testing.T, role session.RoleRuleset) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entities := store.NewEntityStore(db, nil)
	workspaces := store.NewWorkspaceStore(db, entities)
	constraints := store.NewConstraintStore(db)
	oplog := store.NewOperationLog(db, entities)
	k := analytic.New()

	deps := &Deps{
		DB: db, Entities: entities, Workspaces: workspaces, Constraints: constraints,
		OpLog:  oplog,
		Engine: constraint.NewEngine(store.NewEntityLookup(entities), constraints, constraint.NewSolver(50)),
		Pipeline: modeling.NewPipeline(k, entities),
		Kernel:   k,
		Codecs: map[codec.Format]codec.Codec{
			codec.FormatOBJ:  mesh.NewOBJCodec(),
			codec.FormatSTL:  mesh.NewSTLCodec(),
			codec.FormatBRep: brep.New(),
		},
	}
	registry := NewRegistry()
	for _, m := range AllMethods(deps) {
		registry.Register(m)
	}
	sess := session.New("s1", "agent-1", "root", role)
	srv := NewServer(registry, sess, nil)
	srv.QueueSize = 0 // sequential, so response order matches request order
	return srv
}

// exchange runs the server over the given request lines and returns the
// decoded non-progress responses in order.
func exchange(t *testing.T, srv *Server, lines ...string) []Response {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	require.NoError(t, srv.Run(context.Background(), in, &out))

	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var probe map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &probe))
		if _, isProgress := probe["progress"]; isProgress {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestServerParseErrorHasNullCorrelationID(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{Default: session.PolicyAllow})
	responses := exchange(t, srv, "this is not json")
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, "ParseError", responses[0].Error.Code)
	assert.Nil(t, responses[0].ID)
}

func TestServerUnknownMethod(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{Default: session.PolicyAllow})
	responses := exchange(t, srv, `{"version":"1.0","method":"entity.create.hyperboloid","params":{},"id":"r1"}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, "MethodNotFound", responses[0].Error.Code)
	require.NotNil(t, responses[0].ID)
	assert.Equal(t, "r1", *responses[0].ID)
}

func TestServerRoleGateBlocksDeniedMethodBeforeStateMutation(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{
		Default: session.PolicyAllow,
		Denied:  []string{"entity.create.point"},
	})
	responses := exchange(t, srv,
		`{"version":"1.0","method":"entity.create.point","params":{"coord":{"x":1,"y":2,"z":3},"is_3d":true},"id":"r1"}`,
		`{"version":"1.0","method":"entity.list","params":{},"id":"r2"}`,
	)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, "RoleViolation", responses[0].Error.Code)

	require.Nil(t, responses[1].Error)
	listed, ok := responses[1].Result.([]interface{})
	require.True(t, ok)
	assert.Empty(t, listed, "the gated create must not have touched the store")
}

func TestServerRoleGateDeniesReadMethodsToo(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{
		Default: session.PolicyAllow,
		Denied:  []string{"entity.query"},
	})
	responses := exchange(t, srv, `{"version":"1.0","method":"entity.query","params":{"entity_id":"root:point3d_00000000"},"id":"r1"}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, "RoleViolation", responses[0].Error.Code)
}

func TestServerRoleGateRequiresAllowListForReadMethodsUnderDefaultDeny(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{
		Default: session.PolicyDeny,
		Allowed: []string{"entity.create.point"},
	})
	responses := exchange(t, srv,
		`{"version":"1.0","method":"entity.create.point","params":{"coord":{"x":1,"y":0,"z":0},"is_3d":true},"id":"r1"}`,
		`{"version":"1.0","method":"entity.list","params":{},"id":"r2"}`,
		`{"version":"1.0","method":"workspace.status","params":{},"id":"r3"}`,
	)
	require.Len(t, responses, 3)
	require.Nil(t, responses[0].Error, "the allow-listed method must pass")
	for _, resp := range responses[1:] {
		require.NotNil(t, resp.Error)
		assert.Equal(t, "RoleViolation", resp.Error.Code, "read-only methods absent from the allow-list are refused too")
	}
}

func TestServerEntityModifyMaterializesInBranch(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{Default: session.PolicyAllow})

	responses := exchange(t, srv, `{"version":"1.0","method":"entity.create.point","params":{"coord":{"x":1,"y":0,"z":0},"is_3d":true},"id":"r1"}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
	pointID := responses[0].Result.(map[string]interface{})["entity_id"].(string)

	responses = exchange(t, srv, `{"version":"1.0","method":"workspace.create","params":{"name":"b1"},"id":"r2"}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
	branchID := responses[0].Result.(map[string]interface{})["ID"].(string)
	require.NotEmpty(t, branchID)

	modifyLine, _ := json.Marshal(Request{Version: wireVersion, Method: "entity.modify", ID: "r3",
		Params: json.RawMessage(`{"workspace_id":"` + branchID + `","entity_id":"` + pointID + `","properties":{"kind":"point3d","coord":{"X":9,"Y":0,"Z":0}}}`)})
	responses = exchange(t, srv, string(modifyLine))
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
	modified := responses[0].Result.(map[string]interface{})
	assert.Equal(t, branchID, modified["workspace_id"], "the branch mutation lands in a branch-private copy")
	assert.NotEqual(t, pointID, modified["entity_id"])

	// The shared root row is untouched.
	queryLine, _ := json.Marshal(Request{Version: wireVersion, Method: "entity.query", ID: "r4",
		Params: json.RawMessage(`{"workspace_id":"root","entity_id":"` + pointID + `"}`)})
	responses = exchange(t, srv, string(queryLine))
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
	assert.Equal(t, []interface{}{1.0, 0.0, 0.0}, responses[0].Result.(map[string]interface{})["coordinates"])
}

func TestServerCreateThenQueryPoint(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{Default: session.PolicyAllow})
	responses := exchange(t, srv, `{"version":"1.0","method":"entity.create.point","params":{"coord":{"x":0,"y":0,"z":0},"is_3d":true},"id":"r1"}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
	created, ok := responses[0].Result.(map[string]interface{})
	require.True(t, ok)
	entityID, _ := created["entity_id"].(string)
	require.NotEmpty(t, entityID)

	queryLine, _ := json.Marshal(Request{Version: wireVersion, Method: "entity.query", Params: json.RawMessage(`{"entity_id":"` + entityID + `"}`), ID: "r2"})
	responses = exchange(t, srv, string(queryLine))
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
	queried, ok := responses[0].Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "point3d", queried["entity_type"])
	assert.Equal(t, []interface{}{0.0, 0.0, 0.0}, queried["coordinates"])
}

func TestServerInvalidParameterCarriesFieldAndSuggestion(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{Default: session.PolicyAllow})
	responses := exchange(t, srv, `{"version":"1.0","method":"entity.create.circle","params":{"center":{"x":0,"y":0,"z":0},"radius":-1},"id":"r1"}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, "InvalidParameter", responses[0].Error.Code)
	assert.True(t, responses[0].Error.Recoverable)
	assert.NotEmpty(t, responses[0].Error.Field)
}

func TestServerExtrudeEmitsProgressFramesSharingTheRequestID(t *testing.T) {
	srv := newTestServer(t, session.RoleRuleset{Default: session.PolicyAllow})

	var out bytes.Buffer
	lines := []string{
		`{"version":"1.0","method":"entity.create.line","params":{"start":{"x":0,"y":0,"z":0},"end":{"x":10,"y":0,"z":0},"is_3d":true},"id":"r1"}`,
		`{"version":"1.0","method":"solid.extrude","params":{"sketch_id":"","profile":[{"x":0,"y":0},{"x":10,"y":0},{"x":10,"y":5},{"x":0,"y":5}],"plane_normal":{"z":1},"distance":10},"id":"r2"}`,
	}
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	require.NoError(t, srv.Run(context.Background(), in, &out))

	sawProgress := false
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var probe map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &probe))
		if _, isProgress := probe["progress"]; !isProgress {
			continue
		}
		sawProgress = true
		assert.Equal(t, "r2", probe["id"], "progress frames carry the originating request's correlation id")
		assert.NotEmpty(t, probe["stage"])
	}
	assert.True(t, sawProgress, "solid.extrude must stream at least one progress frame")
}
