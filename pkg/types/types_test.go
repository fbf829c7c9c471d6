package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleStateTerminal(t *testing.T) {
	assert.False(t, ModulePending.Terminal())
	assert.False(t, ModuleRunning.Terminal())
	assert.True(t, ModuleSucceeded.Terminal())
	assert.True(t, ModuleFailed.Terminal())
	assert.True(t, ModuleSkipped.Terminal())
}

func TestOutcomeInvariants(t *testing.T) {
	require.NoError(t, SucceededOutcome(ModuleWeb, "payload").Validate())
	require.NoError(t, FailedOutcome(ModuleWeb, &ErrorInfo{ModuleID: ModuleWeb, Message: "x"}).Validate())
	require.NoError(t, SkippedOutcome(ModuleWeb).Validate())

	assert.Error(t, ModuleOutcome{ModuleID: ModuleWeb, State: ModuleSucceeded}.Validate())
	assert.Error(t, ModuleOutcome{ModuleID: ModuleWeb, State: ModuleSucceeded, Payload: "p",
		Error: &ErrorInfo{Message: "x"}}.Validate())
	assert.Error(t, ModuleOutcome{ModuleID: ModuleWeb, State: ModuleFailed}.Validate())
	assert.Error(t, ModuleOutcome{ModuleID: ModuleWeb, State: ModuleFailed, Payload: "p",
		Error: &ErrorInfo{Message: "x"}}.Validate())
	assert.Error(t, ModuleOutcome{ModuleID: ModuleWeb, State: ModuleSkipped, Payload: "p"}.Validate())
}

func TestPayloadText(t *testing.T) {
	assert.Equal(t, "", PayloadText(nil))
	assert.Equal(t, "plain", PayloadText("plain"))
	assert.Equal(t, "md", PayloadText(map[string]any{"report_markdown": "md"}))
	assert.Equal(t, "res", PayloadText(map[string]any{"result": "res"}))
	assert.NotEmpty(t, PayloadText(map[string]any{"other": 1}))
	assert.Equal(t, "42", PayloadText(42))
}

func TestErrorInfoError(t *testing.T) {
	withCode := &ErrorInfo{ModuleID: ModuleWeb, Code: "DR-1001", Message: "down"}
	assert.Equal(t, "[DR-1001] web: down", withCode.Error())

	plain := &ErrorInfo{ModuleID: ModuleWeb, Message: "down"}
	assert.Equal(t, "web: down", plain.Error())
}

func TestAllModulesOrder(t *testing.T) {
	assert.Equal(t, []ModuleID{
		ModuleAcademic, ModuleYouTube, ModuleSocial,
		ModuleWeb, ModuleFocusGroup, ModuleDocAudit,
	}, AllModules())
}
