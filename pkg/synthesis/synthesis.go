package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/modules"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Quality gates for the review loop.
const (
	MinApprovalScore = 80
	MaxRevisions     = 2
)

// Composer is the default synthesizer: a deterministic markdown assembly
// that cross-references every succeeded module fragment and openly notes
// which inputs are missing and why.
type Composer struct{}

// NewComposer creates the default composer.
func NewComposer() *Composer { return &Composer{} }

// Synthesize implements the engine's Synthesizer contract.
func (c *Composer) Synthesize(ctx context.Context, snap *types.RunSnapshot) (*types.Report, error) {
	return c.Compose(ctx, snap, "")
}

// Compose builds the report, folding reviewer feedback into a revision-notes
// section when present. Identical inputs produce identical markdown.
func (c *Composer) Compose(ctx context.Context, snap *types.RunSnapshot, feedback string) (*types.Report, error) {
	if snap == nil {
		return nil, flowerr.New(flowerr.CodeInvalidInput, "nil run snapshot")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		b       strings.Builder
		sources []types.ModuleID
		missing []types.MissingInput
	)
	fmt.Fprintf(&b, "# Integrated Research Report: %s\n\n", snap.Topic)
	fmt.Fprintf(&b, "Run `%s`.\n\n", snap.RunID)

	for _, id := range orderedModules(snap.Results) {
		outcome := snap.Results[id]
		switch outcome.State {
		case types.ModuleSucceeded:
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", moduleTitle(id), strings.TrimSpace(types.PayloadText(outcome.Payload)))
			sources = append(sources, id)
		case types.ModuleFailed:
			reason := "module failed"
			if outcome.Error != nil {
				reason = outcome.Error.Message
			}
			missing = append(missing, types.MissingInput{ModuleID: id, Reason: reason})
		case types.ModuleSkipped:
			missing = append(missing, types.MissingInput{ModuleID: id, Reason: "not selected for this run"})
		}
	}

	if len(sources) == 0 {
		b.WriteString("## Findings\n\nNo research inputs were available for this run.\n\n")
	}
	if len(missing) > 0 {
		b.WriteString("## Missing Inputs\n\n")
		for _, m := range missing {
			fmt.Fprintf(&b, "- %s: data unavailable (%s)\n", moduleTitle(m.ModuleID), m.Reason)
		}
		b.WriteString("\n")
	}
	if feedback != "" {
		fmt.Fprintf(&b, "## Revision Notes\n\n%s\n", feedback)
	}

	return &types.Report{
		RunID:       snap.RunID,
		Topic:       snap.Topic,
		Markdown:    b.String(),
		Sources:     sources,
		Missing:     missing,
		GeneratedAt: time.Now(),
	}, nil
}

// orderedModules yields result keys in catalog order, then any remaining IDs
// sorted, so report assembly is deterministic regardless of completion order.
func orderedModules(results map[types.ModuleID]types.ModuleOutcome) []types.ModuleID {
	seen := make(map[types.ModuleID]bool, len(results))
	var ids []types.ModuleID
	for _, id := range types.AllModules() {
		if _, ok := results[id]; ok {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	var extra []types.ModuleID
	for id := range results {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(ids, extra...)
}

func moduleTitle(id types.ModuleID) string {
	if info, ok := modules.CatalogInfo(id); ok {
		return info.Name
	}
	return string(id)
}

// Review is a quality verdict on a composed report.
type Review struct {
	Score    int
	Feedback string
}

// Reviewer scores a report against the collected fragments. A deterministic
// reviewer keeps the retry-synthesis path idempotent.
type Reviewer interface {
	Review(ctx context.Context, report *types.Report, snap *types.RunSnapshot) (Review, error)
}

// ApproveAll is the default reviewer: every report passes.
type ApproveAll struct{}

func (ApproveAll) Review(context.Context, *types.Report, *types.RunSnapshot) (Review, error) {
	return Review{Score: 100}, nil
}

// Reviewed wraps a composer with a self-refine loop: compose, review, and
// re-compose with feedback until the report is approved or the revision
// budget is spent, finalizing best effort in the latter case.
type Reviewed struct {
	composer     *Composer
	reviewer     Reviewer
	minScore     int
	maxRevisions int
}

// NewReviewed builds the review loop around a composer. A nil reviewer
// defaults to ApproveAll.
func NewReviewed(composer *Composer, reviewer Reviewer) *Reviewed {
	if reviewer == nil {
		reviewer = ApproveAll{}
	}
	return &Reviewed{
		composer:     composer,
		reviewer:     reviewer,
		minScore:     MinApprovalScore,
		maxRevisions: MaxRevisions,
	}
}

// Synthesize implements the engine's Synthesizer contract.
func (r *Reviewed) Synthesize(ctx context.Context, snap *types.RunSnapshot) (*types.Report, error) {
	feedback := ""
	for revision := 0; ; revision++ {
		report, err := r.composer.Compose(ctx, snap, feedback)
		if err != nil {
			return nil, err
		}
		report.Revision = revision

		review, err := r.reviewer.Review(ctx, report, snap)
		if err != nil {
			// A broken reviewer must not discard a composed report.
			return report, nil
		}
		report.Score = review.Score
		if review.Score >= r.minScore || revision >= r.maxRevisions {
			return report, nil
		}
		feedback = review.Feedback
	}
}
