package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Exporter writes finished reports and individual module payloads to disk.
// Export happens after the engine is done; it is a side effect, never a step
// the run depends on.
type Exporter struct {
	dir string
}

// NewExporter creates the output directory if needed.
func NewExporter(dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Exporter{dir: dir}, nil
}

// ExportReport writes the integrated report as markdown and returns the path.
func (e *Exporter) ExportReport(r *types.Report) (string, error) {
	name := fmt.Sprintf("integrated_master_%s_%s.md",
		Slug(r.Topic), r.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(r.Markdown), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// ExportModuleOutcome writes one succeeded module payload as markdown.
func (e *Exporter) ExportModuleOutcome(topic string, outcome types.ModuleOutcome) (string, error) {
	if outcome.State != types.ModuleSucceeded {
		return "", fmt.Errorf("module %s has no payload to export", outcome.ModuleID)
	}
	name := fmt.Sprintf("%s_%s_%s.md",
		outcome.ModuleID, Slug(topic), time.Now().Format("20060102_150405"))
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(types.PayloadText(outcome.Payload)), 0o644); err != nil {
		return "", fmt.Errorf("write module report: %w", err)
	}
	return path, nil
}

// Slug turns a topic into a filesystem-safe fragment: lowercase, ASCII
// letters and digits, underscores elsewhere, capped at 40 runes.
func Slug(topic string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(topic)) {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII, unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		if b.Len() >= 40 {
			break
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "report"
	}
	return s
}
