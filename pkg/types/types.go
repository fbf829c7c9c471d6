package types

import (
	"fmt"
	"time"
)

// ModuleID identifies a research module.
type ModuleID string

// The built-in research modules.
const (
	ModuleAcademic   ModuleID = "academic"
	ModuleYouTube    ModuleID = "youtube"
	ModuleSocial     ModuleID = "social"
	ModuleWeb        ModuleID = "web"
	ModuleFocusGroup ModuleID = "focusgroup"
	ModuleDocAudit   ModuleID = "docaudit"
)

// AllModules lists every built-in module in catalog order.
func AllModules() []ModuleID {
	return []ModuleID{
		ModuleAcademic,
		ModuleYouTube,
		ModuleSocial,
		ModuleWeb,
		ModuleFocusGroup,
		ModuleDocAudit,
	}
}

// ModuleState represents the lifecycle state of a module within a run.
type ModuleState string

const (
	ModulePending   ModuleState = "pending"
	ModuleRunning   ModuleState = "running"
	ModuleSucceeded ModuleState = "succeeded"
	ModuleFailed    ModuleState = "failed"
	ModuleSkipped   ModuleState = "skipped"
)

// Terminal reports whether the state is one a module never leaves.
func (s ModuleState) Terminal() bool {
	return s == ModuleSucceeded || s == ModuleFailed || s == ModuleSkipped
}

// RunStatus represents the overall status of a research run.
type RunStatus string

const (
	RunIdle         RunStatus = "idle"
	RunRunning      RunStatus = "running"
	RunSynthesizing RunStatus = "synthesizing"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
)

// ErrorInfo describes a module or synthesis failure. Fatal errors abort the
// whole run; non-fatal errors are recorded on the outcome and the run
// proceeds to synthesis with whatever succeeded.
type ErrorInfo struct {
	ModuleID ModuleID `json:"module_id"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	Cause    string   `json:"cause,omitempty"`
	Fatal    bool     `json:"fatal"`
}

// Error implements the error interface.
func (e *ErrorInfo) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.ModuleID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ModuleID, e.Message)
}

// ModuleOutcome is the result of one module invocation. Invariant: Payload is
// set iff State is succeeded; Error is set iff State is failed.
type ModuleOutcome struct {
	ModuleID    ModuleID    `json:"module_id"`
	State       ModuleState `json:"state"`
	Payload     any         `json:"payload,omitempty"`
	Error       *ErrorInfo  `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

// SucceededOutcome builds a succeeded outcome with the given payload.
func SucceededOutcome(id ModuleID, payload any) ModuleOutcome {
	return ModuleOutcome{ModuleID: id, State: ModuleSucceeded, Payload: payload}
}

// FailedOutcome builds a failed outcome carrying the error.
func FailedOutcome(id ModuleID, errInfo *ErrorInfo) ModuleOutcome {
	return ModuleOutcome{ModuleID: id, State: ModuleFailed, Error: errInfo}
}

// SkippedOutcome builds the outcome recorded for an unselected module.
func SkippedOutcome(id ModuleID) ModuleOutcome {
	return ModuleOutcome{ModuleID: id, State: ModuleSkipped}
}

// Validate checks the payload/error invariants of the outcome.
func (o ModuleOutcome) Validate() error {
	switch o.State {
	case ModuleSucceeded:
		if o.Payload == nil {
			return fmt.Errorf("module %s: succeeded outcome without payload", o.ModuleID)
		}
		if o.Error != nil {
			return fmt.Errorf("module %s: succeeded outcome carries an error", o.ModuleID)
		}
	case ModuleFailed:
		if o.Error == nil {
			return fmt.Errorf("module %s: failed outcome without error", o.ModuleID)
		}
		if o.Payload != nil {
			return fmt.Errorf("module %s: failed outcome carries a payload", o.ModuleID)
		}
	default:
		if o.Payload != nil || o.Error != nil {
			return fmt.Errorf("module %s: %s outcome carries payload or error", o.ModuleID, o.State)
		}
	}
	return nil
}

// PayloadText renders an opaque payload as text for synthesis and export.
// Map payloads prefer a "report_markdown" or "result" entry, mirroring what
// the research modules emit.
func PayloadText(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if s, ok := v["report_markdown"].(string); ok {
			return s
		}
		if s, ok := v["result"].(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// MissingInput records a module whose data is absent from the final report.
type MissingInput struct {
	ModuleID ModuleID `json:"module_id"`
	Reason   string   `json:"reason"`
}

// Report is the integrated output produced by the synthesis stage.
type Report struct {
	RunID       string         `json:"run_id"`
	Topic       string         `json:"topic"`
	Markdown    string         `json:"markdown"`
	Sources     []ModuleID     `json:"sources"`
	Missing     []MissingInput `json:"missing,omitempty"`
	Revision    int            `json:"revision"`
	Score       int            `json:"score,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// RunSnapshot is the minimal durable representation of a run: enough to
// reconstruct RunState after a process restart and drive retrySynthesis
// without re-activating any module.
type RunSnapshot struct {
	RunID    string                       `json:"run_id"`
	Topic    string                       `json:"topic"`
	Selected []ModuleID                   `json:"selected"`
	Params   map[string]any               `json:"params,omitempty"`
	Results  map[ModuleID]ModuleOutcome   `json:"results"`
	Status   RunStatus                    `json:"status"`
	Report   *Report                      `json:"report,omitempty"`
	Error    string                       `json:"error,omitempty"`
	Updated  time.Time                    `json:"updated_at"`
}

// ModuleInfo carries catalog metadata for one research module.
type ModuleInfo struct {
	ID          ModuleID `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}
