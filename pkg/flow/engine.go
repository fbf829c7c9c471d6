package flow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/modules"
	"github.com/ilumeobrasil/desk-research/pkg/progress"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Synthesizer consumes the completed result set and produces the integrated
// report. It reads only succeeded results; failed and skipped modules are
// noted as absent inputs, never a reason to refuse.
type Synthesizer interface {
	Synthesize(ctx context.Context, snap *types.RunSnapshot) (*types.Report, error)
}

// Store persists run snapshots. Save must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, snap *types.RunSnapshot) error
}

// RunRequest selects the modules and parameters for one research run.
type RunRequest struct {
	Topic   string
	Modules []types.ModuleID
	Params  map[string]any
}

type runResult struct {
	report *types.Report
	err    error
}

// Engine is the orchestration flow engine. It activates all selected module
// nodes concurrently through the isolator, tracks completion through the
// dependency graph, and drives synthesis once the join condition over the
// module nodes is satisfied. The engine supports one in-flight run at a time
// and is the single mutator of the shared RunState.
type Engine struct {
	registry   *modules.Registry
	synth      Synthesizer
	isolator   *Isolator
	store      Store
	sink       progress.Sink
	logger     *zap.Logger
	failClosed bool
	modTimeout time.Duration

	mu         sync.Mutex
	state      *RunState
	g          *graph
	fatal      *types.ErrorInfo
	attempts   int
	done       chan runResult
	finishOnce *sync.Once
}

// Option configures the engine.
type Option func(*Engine)

// WithStore enables snapshot persistence on every completion edge.
func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

// WithProgress sets the observability sink.
func WithProgress(s progress.Sink) Option { return func(e *Engine) { e.sink = s } }

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithModuleTimeout bounds each module invocation. Zero disables the bound.
func WithModuleTimeout(d time.Duration) Option { return func(e *Engine) { e.modTimeout = d } }

// WithFailClosed makes any failed module outcome fail the run before
// synthesis, instead of the default fail-open policy where synthesis runs
// with partial data.
func WithFailClosed() Option { return func(e *Engine) { e.failClosed = true } }

// New creates an engine over the given module registry and synthesizer.
func New(registry *modules.Registry, synth Synthesizer, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		synth:    synth,
		sink:     progress.NopSink{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.isolator = NewIsolator(e.modTimeout, e.sink, e.logger)
	return e
}

// Run executes one research run end to end and blocks until the run reaches
// a terminal status. A run that finishes with some modules failed still
// produces a report; the returned error is non-nil only for fatal faults,
// synthesis failure, or cancellation.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*types.Report, error) {
	e.mu.Lock()
	if e.state != nil && (e.state.Status == types.RunRunning || e.state.Status == types.RunSynthesizing) {
		e.mu.Unlock()
		return nil, flowerr.New(flowerr.CodeStateConflict, "a run is already in flight")
	}
	if err := e.registry.Validate(req.Modules); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	g, err := buildGraph(e.registry.IDs())
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	runID := uuid.New().String()
	st := newRunState(runID, topic, req.Modules, req.Params)
	e.state = st
	e.g = g
	e.fatal = nil
	e.attempts = 0
	done := make(chan runResult, 1)
	e.done = done
	e.finishOnce = &sync.Once{}
	st.Status = types.RunRunning

	// Initial activation pass. Selected module nodes activate; the rest
	// complete immediately as skipped, which still counts toward the
	// synthesis join.
	var toRun []*Node
	var skipped []types.ModuleID
	for _, n := range g.moduleNodes() {
		if n.Condition(st) {
			n.state = NodeActivated
			toRun = append(toRun, n)
		} else {
			n.state = NodeCompleted
			_ = st.setResult(types.SkippedOutcome(n.Module))
			skipped = append(skipped, n.Module)
		}
	}
	joinReady := g.triggerSatisfied(g.synthesis)
	if joinReady {
		g.synthesis.state = NodeActivated
	}
	params := st.Params
	e.mu.Unlock()

	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("topic", topic),
		zap.Int("selected", len(toRun)))
	e.sink.Publish(progress.Event{
		Type:      progress.EventRunStarted,
		RunID:     runID,
		Status:    types.RunRunning,
		Timestamp: time.Now(),
	})
	for _, id := range skipped {
		e.sink.Publish(progress.Event{
			Type:      progress.EventNodeFinished,
			RunID:     runID,
			Node:      string(id),
			Module:    id,
			State:     types.ModuleSkipped,
			Timestamp: time.Now(),
		})
	}
	e.persist(ctx)

	// All activated module nodes dispatch concurrently; there is no
	// ordering dependency among them.
	for _, n := range toRun {
		n := n
		go func() {
			m := e.registry.Get(n.Module)
			outcome := e.isolator.Run(ctx, runID, m, topic, params)
			e.completeModule(ctx, st, n, outcome)
		}()
	}
	if joinReady {
		// Nothing selected: the join is trivially satisfied and synthesis
		// still activates, producing a report noting no inputs.
		go func() {
			report, err := e.doSynthesis(ctx, st, e.nextAttempt())
			e.finish(st, report, err)
		}()
	}

	select {
	case res := <-done:
		e.publishRunFinished(runID, res.err)
		return res.report, res.err
	case <-ctx.Done():
		e.mu.Lock()
		if st.Status == types.RunRunning || st.Status == types.RunSynthesizing {
			st.Status = types.RunFailed
			st.LastErr = ctx.Err().Error()
		}
		e.mu.Unlock()
		e.persist(ctx)
		e.publishRunFinished(runID, ctx.Err())
		return nil, ctx.Err()
	}
}

// completeModule is the single completion path for module nodes. The last
// completion synchronously evaluates the synthesis join under the lock; the
// engine never polls. st is the state of the run that dispatched the module;
// a completion arriving after that run has been replaced is dropped so it
// cannot write into a later run's results.
func (e *Engine) completeModule(ctx context.Context, st *RunState, n *Node, outcome types.ModuleOutcome) {
	e.mu.Lock()
	if e.state != st {
		// Straggler from a superseded run.
		e.mu.Unlock()
		return
	}
	if n.state != NodeActivated {
		// Already completed; activation happens at most once per run.
		e.mu.Unlock()
		return
	}
	n.state = NodeCompleted
	if err := st.setResult(outcome); err != nil {
		e.fatal = &types.ErrorInfo{
			ModuleID: outcome.ModuleID,
			Code:     flowerr.CodeStateConflict,
			Message:  err.Error(),
			Fatal:    true,
		}
	}
	if outcome.Error != nil && outcome.Error.Fatal {
		e.fatal = outcome.Error
	}

	if e.fatal != nil {
		fatal := e.fatal
		st.Status = types.RunFailed
		st.LastErr = fatal.Error()
		e.mu.Unlock()
		e.persist(ctx)
		e.finish(st, nil, fatal)
		return
	}

	// A cancelled run is already terminal; its stragglers still record
	// outcomes but must not fire the join.
	joinReady := st.Status == types.RunRunning &&
		e.g.synthesis.state == NodeWaiting && e.g.triggerSatisfied(e.g.synthesis)
	var failClosedErr error
	if joinReady {
		if e.failClosed {
			for id, res := range st.Results {
				if res.State == types.ModuleFailed {
					failClosedErr = flowerr.Newf(flowerr.CodeFailClosed,
						"module %s failed and the run is configured fail-closed", id)
					break
				}
			}
		}
		if failClosedErr != nil {
			st.Status = types.RunFailed
			st.LastErr = failClosedErr.Error()
		} else {
			e.g.synthesis.state = NodeActivated
		}
	}
	e.mu.Unlock()
	e.persist(ctx)

	if !joinReady {
		return
	}
	if failClosedErr != nil {
		e.finish(st, nil, failClosedErr)
		return
	}
	// The completing goroutine of the last module drives synthesis.
	report, err := e.doSynthesis(ctx, st, e.nextAttempt())
	e.finish(st, report, err)
}

// doSynthesis runs the synthesis stage once for the run owning st. The
// synthesis node must already be in the activated state. A stage that outlives
// its run leaves the engine untouched.
func (e *Engine) doSynthesis(ctx context.Context, st *RunState, attempt int) (*types.Report, error) {
	e.mu.Lock()
	if e.state != st {
		e.mu.Unlock()
		return nil, flowerr.New(flowerr.CodeStateConflict, "run superseded before synthesis")
	}
	st.Status = types.RunSynthesizing
	snap := st.snapshot()
	runID := st.RunID
	e.mu.Unlock()
	e.persist(ctx)
	e.sink.Publish(progress.Event{
		Type:      progress.EventSynthesisStarted,
		RunID:     runID,
		Node:      synthesisNodeID,
		Status:    types.RunSynthesizing,
		Attempt:   attempt,
		Timestamp: time.Now(),
	})

	report, err := e.safeSynthesize(ctx, snap)

	e.mu.Lock()
	if e.state != st {
		// The run was cancelled and replaced mid-synthesis; the graph now
		// belongs to the new run.
		e.mu.Unlock()
		if err == nil {
			err = flowerr.New(flowerr.CodeStateConflict, "run superseded during synthesis")
		}
		return nil, err
	}
	e.g.synthesis.state = NodeCompleted
	if err != nil {
		// Recoverable: results are preserved for retrySynthesis.
		st.Status = types.RunFailed
		st.LastErr = err.Error()
	} else {
		if report.RunID == "" {
			report.RunID = runID
		}
		if report.GeneratedAt.IsZero() {
			report.GeneratedAt = time.Now()
		}
		st.Status = types.RunCompleted
		st.Report = report
		st.LastErr = ""
	}
	e.mu.Unlock()
	e.persist(ctx)

	ev := progress.Event{
		Type:      progress.EventSynthesisFinished,
		RunID:     runID,
		Node:      synthesisNodeID,
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Status = types.RunFailed
		ev.Error = err.Error()
	} else {
		ev.Status = types.RunCompleted
	}
	e.sink.Publish(ev)
	return report, err
}

// safeSynthesize isolates the synthesis stage's own faults the same way the
// isolator shields module faults.
func (e *Engine) safeSynthesize(ctx context.Context, snap *types.RunSnapshot) (report *types.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = flowerr.Newf(flowerr.CodePanic, "synthesis panicked: %v", r)
		}
	}()
	return e.synth.Synthesize(ctx, snap)
}

// RetrySynthesis re-activates only the synthesis node, reusing the unchanged
// results. Module nodes are never re-activated; calling retry twice without
// mutation of the results yields an equivalent report for a deterministic
// synthesizer.
func (e *Engine) RetrySynthesis(ctx context.Context) (*types.Report, error) {
	e.mu.Lock()
	switch {
	case e.state == nil:
		e.mu.Unlock()
		return nil, flowerr.New(flowerr.CodeStateConflict, "no run to retry")
	case e.fatal != nil:
		e.mu.Unlock()
		return nil, flowerr.New(flowerr.CodeStateConflict, "run aborted fatally; synthesis retry is not available")
	case e.state.Status != types.RunFailed:
		e.mu.Unlock()
		return nil, flowerr.Newf(flowerr.CodeStateConflict, "retry requires a failed run, status is %s", e.state.Status)
	case e.g == nil || e.g.synthesis.state != NodeCompleted:
		e.mu.Unlock()
		return nil, flowerr.New(flowerr.CodeStateConflict, "synthesis never activated; nothing to retry")
	}
	// The explicit retry edge: a self-loop on the synthesis node, activated
	// externally rather than by predecessor completion.
	e.g.synthesis.state = NodeActivated
	e.attempts++
	attempt := e.attempts
	st := e.state
	runID := st.RunID
	e.mu.Unlock()

	e.sink.Publish(progress.Event{
		Type:      progress.EventSynthesisRetried,
		RunID:     runID,
		Node:      synthesisNodeID,
		Attempt:   attempt,
		Timestamp: time.Now(),
	})
	return e.doSynthesis(ctx, st, attempt)
}

// Restore rebuilds engine state from a persisted snapshot so that
// RetrySynthesis can run after a process restart, skipping module
// re-activation entirely. Only runs whose modules all reached a terminal
// state can be restored.
func (e *Engine) Restore(snap *types.RunSnapshot) error {
	if snap == nil {
		return flowerr.New(flowerr.CodeInvalidInput, "nil snapshot")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil && (e.state.Status == types.RunRunning || e.state.Status == types.RunSynthesizing) {
		return flowerr.New(flowerr.CodeStateConflict, "a run is already in flight")
	}
	g, err := buildGraph(e.registry.IDs())
	if err != nil {
		return err
	}
	st := restoreRunState(snap)
	for _, n := range g.moduleNodes() {
		outcome, ok := st.Results[n.Module]
		switch {
		case ok && outcome.State.Terminal():
			n.state = NodeCompleted
		case !st.Selected[n.Module]:
			// Tolerate snapshots from before the skip entry was recorded.
			n.state = NodeCompleted
			_ = st.setResult(types.SkippedOutcome(n.Module))
		default:
			return flowerr.Newf(flowerr.CodeStateConflict,
				"module %s has no terminal outcome; run %s cannot be restored", n.Module, snap.RunID)
		}
	}
	// Fatality survives the restart: a fatally aborted run never reached
	// synthesis and stays non-retryable. The same holds for a fail-closed
	// failure when the engine runs under that policy.
	var fatal *types.ErrorInfo
	moduleFailed := false
	for _, n := range g.moduleNodes() {
		res := st.Results[n.Module]
		if res.State == types.ModuleFailed {
			moduleFailed = true
		}
		if fatal == nil && res.Error != nil && res.Error.Fatal {
			fatal = res.Error
		}
	}
	if fatal == nil && !(e.failClosed && moduleFailed && st.Status == types.RunFailed) {
		g.synthesis.state = NodeCompleted
	}
	if st.Status == types.RunSynthesizing {
		// The process died mid-synthesis; treat it as a failed attempt.
		st.Status = types.RunFailed
	}
	e.g = g
	e.state = st
	e.fatal = fatal
	e.attempts = 0
	e.done = nil
	e.finishOnce = nil
	return nil
}

// Snapshot returns the durable representation of the current run, or nil
// when no run has started.
func (e *Engine) Snapshot() *types.RunSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	return e.state.snapshot()
}

// Modules exposes the registry's catalog metadata.
func (e *Engine) Modules() []types.ModuleInfo {
	return e.registry.List()
}

func (e *Engine) nextAttempt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	return e.attempts
}

func (e *Engine) finish(st *RunState, report *types.Report, err error) {
	e.mu.Lock()
	if e.state != st {
		e.mu.Unlock()
		return
	}
	once, done := e.finishOnce, e.done
	e.mu.Unlock()
	if once == nil || done == nil {
		return
	}
	once.Do(func() { done <- runResult{report: report, err: err} })
}

func (e *Engine) publishRunFinished(runID string, err error) {
	ev := progress.Event{
		Type:      progress.EventRunFinished,
		RunID:     runID,
		Timestamp: time.Now(),
	}
	e.mu.Lock()
	if e.state != nil {
		ev.Status = e.state.Status
	}
	e.mu.Unlock()
	if err != nil {
		ev.Error = err.Error()
	}
	e.sink.Publish(ev)
}

// persist saves the current snapshot. Failures are logged, never surfaced:
// persistence is an observability concern for the retry path, not a step of
// the run itself.
func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return
	}
	snap := e.state.snapshot()
	e.mu.Unlock()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.Save(sctx, snap); err != nil {
		e.logger.Warn("persist run state", zap.String("run_id", snap.RunID), zap.Error(err))
	}
}
