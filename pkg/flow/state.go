package flow

import (
	"fmt"
	"time"

	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// DefaultTopic replaces an empty topic at run start.
const DefaultTopic = "general research"

// RunState is the mutable record of the current research run. It is owned
// exclusively by the engine: every write happens under the engine mutex, one
// write per module, write-once per entry.
type RunState struct {
	RunID    string
	Topic    string
	Selected map[types.ModuleID]bool
	Params   map[string]any
	Results  map[types.ModuleID]types.ModuleOutcome
	Status   types.RunStatus
	Report   *types.Report
	LastErr  string

	StartedAt time.Time
	UpdatedAt time.Time
}

func newRunState(runID, topic string, selected []types.ModuleID, params map[string]any) *RunState {
	sel := make(map[types.ModuleID]bool, len(selected))
	for _, id := range selected {
		sel[id] = true
	}
	now := time.Now()
	return &RunState{
		RunID:     runID,
		Topic:     topic,
		Selected:  sel,
		Params:    params,
		Results:   make(map[types.ModuleID]types.ModuleOutcome),
		Status:    types.RunIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// setResult records a module outcome. Entries are write-once: a second write
// for the same module is a state conflict, caught here rather than silently
// overwriting.
func (s *RunState) setResult(outcome types.ModuleOutcome) error {
	if _, ok := s.Results[outcome.ModuleID]; ok {
		return fmt.Errorf("result for module %s already recorded", outcome.ModuleID)
	}
	if err := outcome.Validate(); err != nil {
		return err
	}
	s.Results[outcome.ModuleID] = outcome
	s.UpdatedAt = time.Now()
	return nil
}

// snapshot copies the state into its durable representation. The results map
// is copied so synthesis and persistence never observe a concurrent write.
func (s *RunState) snapshot() *types.RunSnapshot {
	selected := make([]types.ModuleID, 0, len(s.Selected))
	for _, id := range types.AllModules() {
		if s.Selected[id] {
			selected = append(selected, id)
		}
	}
	// Selections outside the built-in catalog keep their entry too.
	for id, on := range s.Selected {
		if on && !builtin(id) {
			selected = append(selected, id)
		}
	}
	results := make(map[types.ModuleID]types.ModuleOutcome, len(s.Results))
	for id, outcome := range s.Results {
		results[id] = outcome
	}
	return &types.RunSnapshot{
		RunID:    s.RunID,
		Topic:    s.Topic,
		Selected: selected,
		Params:   s.Params,
		Results:  results,
		Status:   s.Status,
		Report:   s.Report,
		Error:    s.LastErr,
		Updated:  s.UpdatedAt,
	}
}

// restoreRunState rebuilds a RunState from its durable representation.
func restoreRunState(snap *types.RunSnapshot) *RunState {
	st := newRunState(snap.RunID, snap.Topic, snap.Selected, snap.Params)
	for id, outcome := range snap.Results {
		st.Results[id] = outcome
	}
	st.Status = snap.Status
	st.Report = snap.Report
	st.LastErr = snap.Error
	st.UpdatedAt = snap.Updated
	return st
}

func builtin(id types.ModuleID) bool {
	for _, b := range types.AllModules() {
		if b == id {
			return true
		}
	}
	return false
}
