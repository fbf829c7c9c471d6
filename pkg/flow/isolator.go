package flow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/modules"
	"github.com/ilumeobrasil/desk-research/pkg/progress"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Isolator wraps a single module invocation with bulkhead isolation: any
// fault raised during execution, a panic included, is converted into a
// failed outcome and returned normally. One module's failure must not deny
// synthesis of the remaining successful results.
type Isolator struct {
	timeout time.Duration
	sink    progress.Sink
	logger  *zap.Logger
}

// NewIsolator creates an isolator. A zero timeout means module invocations
// inherit the run context unchanged.
func NewIsolator(timeout time.Duration, sink progress.Sink, logger *zap.Logger) *Isolator {
	if sink == nil {
		sink = progress.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Isolator{timeout: timeout, sink: sink, logger: logger}
}

// Run invokes the module and returns its outcome. The returned outcome
// always satisfies the payload/error invariants; the error on a failed
// outcome preserves the fatal classification of the underlying fault.
func (i *Isolator) Run(ctx context.Context, runID string, m modules.Module, topic string, params map[string]any) (outcome types.ModuleOutcome) {
	id := m.ID()
	started := time.Now()

	i.sink.Publish(progress.Event{
		Type:      progress.EventNodeStarted,
		RunID:     runID,
		Node:      string(id),
		Module:    id,
		State:     types.ModuleRunning,
		Timestamp: started,
	})

	defer func() {
		if r := recover(); r != nil {
			err := flowerr.Newf(flowerr.CodePanic, "module %s panicked: %v", id, r)
			outcome = types.FailedOutcome(id, flowerr.Info(id, err))
			i.logger.Error("module panic recovered",
				zap.String("run_id", runID),
				zap.String("module", string(id)),
				zap.Any("panic", r))
		}
		outcome.StartedAt = started
		outcome.CompletedAt = time.Now()
		ev := progress.Event{
			Type:      progress.EventNodeFinished,
			RunID:     runID,
			Node:      string(id),
			Module:    id,
			State:     outcome.State,
			Timestamp: outcome.CompletedAt,
		}
		if outcome.Error != nil {
			ev.Error = outcome.Error.Message
		}
		i.sink.Publish(ev)
		i.logger.Info("module finished",
			zap.String("run_id", runID),
			zap.String("module", string(id)),
			zap.String("state", string(outcome.State)),
			zap.Duration("duration", outcome.CompletedAt.Sub(started)))
	}()

	runCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	payload, err := m.Execute(runCtx, topic, params)
	switch {
	case err != nil:
		return types.FailedOutcome(id, flowerr.Info(id, err))
	case payload == nil:
		err := flowerr.Newf(flowerr.CodeEmptyResult, "module %s produced no payload", id)
		return types.FailedOutcome(id, flowerr.Info(id, err))
	default:
		return types.SucceededOutcome(id, payload)
	}
}
