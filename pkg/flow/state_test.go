package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilumeobrasil/desk-research/pkg/types"
)

func TestSetResultIsWriteOnce(t *testing.T) {
	st := newRunState("r1", "topic", []types.ModuleID{types.ModuleWeb}, nil)

	require.NoError(t, st.setResult(types.SucceededOutcome(types.ModuleWeb, "first")))
	err := st.setResult(types.SucceededOutcome(types.ModuleWeb, "second"))
	require.Error(t, err)
	assert.Equal(t, "first", st.Results[types.ModuleWeb].Payload)
}

func TestSetResultRejectsInvalidOutcome(t *testing.T) {
	st := newRunState("r1", "topic", nil, nil)

	err := st.setResult(types.ModuleOutcome{ModuleID: types.ModuleWeb, State: types.ModuleSucceeded})
	require.Error(t, err, "succeeded without payload violates the outcome invariant")

	err = st.setResult(types.ModuleOutcome{ModuleID: types.ModuleWeb, State: types.ModuleFailed})
	require.Error(t, err, "failed without error violates the outcome invariant")
}

func TestSnapshotCopiesResults(t *testing.T) {
	st := newRunState("r1", "topic", []types.ModuleID{types.ModuleWeb}, map[string]any{"max_web_results": 5})
	require.NoError(t, st.setResult(types.SucceededOutcome(types.ModuleWeb, "payload")))

	snap := st.snapshot()
	assert.Equal(t, "r1", snap.RunID)
	assert.Equal(t, []types.ModuleID{types.ModuleWeb}, snap.Selected)
	require.Len(t, snap.Results, 1)

	// Later writes must not leak into an already-taken snapshot.
	require.NoError(t, st.setResult(types.SkippedOutcome(types.ModuleAcademic)))
	assert.Len(t, snap.Results, 1)
}

func TestSnapshotKeepsSelectionOrder(t *testing.T) {
	st := newRunState("r1", "topic",
		[]types.ModuleID{types.ModuleWeb, types.ModuleAcademic, types.ModuleSocial}, nil)
	snap := st.snapshot()
	assert.Equal(t, []types.ModuleID{types.ModuleAcademic, types.ModuleSocial, types.ModuleWeb}, snap.Selected,
		"selection is reported in catalog order")
}

func TestRestoreRunStateRoundTrip(t *testing.T) {
	st := newRunState("r1", "round trip", []types.ModuleID{types.ModuleWeb, types.ModuleAcademic}, map[string]any{"max_papers": 3})
	require.NoError(t, st.setResult(types.SucceededOutcome(types.ModuleWeb, "web findings")))
	require.NoError(t, st.setResult(types.FailedOutcome(types.ModuleAcademic, &types.ErrorInfo{
		ModuleID: types.ModuleAcademic,
		Message:  "no papers found",
	})))
	st.Status = types.RunFailed
	st.LastErr = "synthesis blew up"

	restored := restoreRunState(st.snapshot())
	assert.Equal(t, st.RunID, restored.RunID)
	assert.Equal(t, st.Topic, restored.Topic)
	assert.Equal(t, st.Status, restored.Status)
	assert.Equal(t, st.LastErr, restored.LastErr)
	assert.Equal(t, st.Results, restored.Results)
	assert.True(t, restored.Selected[types.ModuleWeb])
	assert.True(t, restored.Selected[types.ModuleAcademic])
	assert.False(t, restored.Selected[types.ModuleSocial])
}
