package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcad/cadcore/internal/errs"
	"github.com/agentcad/cadcore/internal/kernel/analytic"
)

// These mirror spec.md §8's six literal end-to-end scenarios, run through
// the same scenarioFunc the scenario.run method exposes over the wire.

func TestScenarioPointAndQuery(t *testing.T) {
	out, err := scenarioPointAndQuery(context.Background(), analytic.New())
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.Equal(t, "point3d", result["entity_type"])
	assert.NotEmpty(t, result["entity_id"])
}

func TestScenarioRectangleToBox(t *testing.T) {
	out, err := scenarioRectangleToBox(context.Background(), analytic.New())
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.InDelta(t, 500.0, result["volume"], 0.01)
	assert.InDelta(t, 400.0, result["surface_area"], 0.01)
	assert.Equal(t, 6, result["face_count"])
	assert.Equal(t, true, result["is_closed"])
	assert.Equal(t, true, result["is_manifold"])
}

func TestScenarioBooleanSubtract(t *testing.T) {
	out, err := scenarioBooleanSubtract(context.Background(), analytic.New())
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.InDelta(t, 374.336, result["volume"], 0.01)
	assert.Equal(t, true, result["is_manifold"])
}

func TestScenarioPerpendicularVsParallel(t *testing.T) {
	out, err := scenarioPerpendicularVsParallel(context.Background(), analytic.New())
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.Equal(t, "satisfied", result["perpendicular_status"])
	conflict, ok := result["parallel_conflict"].(*errs.Kind)
	require.True(t, ok)
	require.NotNil(t, conflict)
	assert.Equal(t, errs.ConstraintConflict, conflict.Code)
}

func TestScenarioBranchDivergeMerge(t *testing.T) {
	out, err := scenarioBranchDivergeMerge(context.Background(), analytic.New())
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.Equal(t, 0, result["conflicts"])
	assert.Equal(t, "root", result["merged_point"])
	assert.Equal(t, "merged", result["branch_status"])
}

func TestScenarioUndoSolid(t *testing.T) {
	out, err := scenarioUndoSolid(context.Background(), analytic.New())
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.Equal(t, true, result["removed_on_undo"])
	assert.InDelta(t, 500.0, result["restored_volume"], 0.01)
}
