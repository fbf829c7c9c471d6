package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilumeobrasil/desk-research/pkg/types"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"Plant-Based Packaging", "plant_based_packaging"},
		{"  oat milk  ", "oat_milk"},
		{"C8H10N4O2 (caffeine)", "c8h10n4o2_caffeine"},
		{"!!!", "report"},
		{"", "report"},
		{"açaí bowls", "a_a_bowls"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.topic), "topic %q", tt.topic)
	}
}

func TestSlugCapsLength(t *testing.T) {
	long := strings.Repeat("verylongtopic", 10)
	got := Slug(long)
	assert.LessOrEqual(t, len(got), 40)
	assert.NotEmpty(t, got)
}

func TestExportReport(t *testing.T) {
	dir := t.TempDir()
	e, err := NewExporter(dir)
	require.NoError(t, err)

	r := &types.Report{
		Topic:       "energy drinks",
		Markdown:    "# Integrated Research Report: energy drinks\n",
		GeneratedAt: time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}
	path, err := e.ExportReport(r)
	require.NoError(t, err)

	assert.Equal(t, "integrated_master_energy_drinks_20260314_150926.md", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, r.Markdown, string(data))
}

func TestExportModuleOutcome(t *testing.T) {
	e, err := NewExporter(t.TempDir())
	require.NoError(t, err)

	path, err := e.ExportModuleOutcome("energy drinks",
		types.SucceededOutcome(types.ModuleWeb, map[string]any{"report_markdown": "## Web findings"}))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(path), "web_energy_drinks_"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "## Web findings", string(data))
}

func TestExportModuleOutcomeRejectsNonSucceeded(t *testing.T) {
	e, err := NewExporter(t.TempDir())
	require.NoError(t, err)

	_, err = e.ExportModuleOutcome("x", types.SkippedOutcome(types.ModuleWeb))
	require.Error(t, err)
	_, err = e.ExportModuleOutcome("x", types.FailedOutcome(types.ModuleWeb, &types.ErrorInfo{
		ModuleID: types.ModuleWeb, Message: "boom",
	}))
	require.Error(t, err)
}
