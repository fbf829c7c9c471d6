package flow

import (
	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// NodeKind distinguishes module nodes from the synthesis sink.
type NodeKind int

const (
	KindModule NodeKind = iota
	KindSynthesis
)

// Trigger is the AND/OR combinator gating a node's activation once its
// condition holds.
type Trigger int

const (
	// TriggerAll activates when every predecessor has completed, regardless
	// of each predecessor's individual success or failure.
	TriggerAll Trigger = iota
	// TriggerAny activates when at least one predecessor has completed.
	TriggerAny
)

// NodeState is the per-node state machine: Waiting -> Activated -> Completed.
// Only the synthesis node may re-enter Activated, via the explicit retry edge.
type NodeState int

const (
	NodeWaiting NodeState = iota
	NodeActivated
	NodeCompleted
)

// Condition is a predicate over RunState deciding whether a node runs at
// all. A false condition completes the node as Skipped without running it.
type Condition func(*RunState) bool

// Node is one execution node in the dependency graph. Node state is guarded
// by the engine mutex.
type Node struct {
	ID        string
	Kind      NodeKind
	Module    types.ModuleID
	Deps      []string
	Trigger   Trigger
	Condition Condition

	state NodeState
}

const synthesisNodeID = "synthesis"

// graph is the arena of nodes with index-based predecessor lists. Join
// predicates are recomputed on every completion instead of relying on
// implicit reactive dispatch.
type graph struct {
	nodes     map[string]*Node
	order     []string
	synthesis *Node
}

// buildGraph declares one node per registered module plus the synthesis sink
// whose All-trigger spans the full module set. Module nodes have no
// predecessors and activate at run start when selected.
func buildGraph(moduleIDs []types.ModuleID) (*graph, error) {
	g := &graph{nodes: make(map[string]*Node)}
	deps := make([]string, 0, len(moduleIDs))
	for _, id := range moduleIDs {
		id := id
		n := &Node{
			ID:      string(id),
			Kind:    KindModule,
			Module:  id,
			Trigger: TriggerAll,
			Condition: func(s *RunState) bool {
				return s.Selected[id]
			},
		}
		if err := g.add(n); err != nil {
			return nil, err
		}
		deps = append(deps, n.ID)
	}
	synth := &Node{
		ID:        synthesisNodeID,
		Kind:      KindSynthesis,
		Deps:      deps,
		Trigger:   TriggerAll,
		Condition: func(*RunState) bool { return true },
	}
	if err := g.add(synth); err != nil {
		return nil, err
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *graph) add(n *Node) error {
	if _, ok := g.nodes[n.ID]; ok {
		return flowerr.Newf(flowerr.CodeGraphInvalid, "duplicate node %q", n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	if n.Kind == KindSynthesis {
		if g.synthesis != nil {
			return flowerr.Newf(flowerr.CodeGraphInvalid, "multiple synthesis nodes: %q and %q", g.synthesis.ID, n.ID)
		}
		g.synthesis = n
	}
	return nil
}

// validate checks the structural invariants: every dependency resolves,
// the graph is acyclic, and synthesis is the unique sink.
func (g *graph) validate() error {
	if g.synthesis == nil {
		return flowerr.New(flowerr.CodeGraphInvalid, "graph has no synthesis node")
	}
	for _, id := range g.order {
		n := g.nodes[id]
		for _, dep := range n.Deps {
			if _, ok := g.nodes[dep]; !ok {
				return flowerr.Newf(flowerr.CodeGraphInvalid, "node %q depends on unknown node %q", n.ID, dep)
			}
		}
	}
	// Cycle check by depth-first walk over predecessor edges.
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	mark := make(map[string]int, len(g.nodes))
	var visit func(id string) error
	visit = func(id string) error {
		switch mark[id] {
		case visiting:
			return flowerr.Newf(flowerr.CodeGraphInvalid, "dependency cycle through node %q", id)
		case done:
			return nil
		}
		mark[id] = visiting
		for _, dep := range g.nodes[id].Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		mark[id] = done
		return nil
	}
	for _, id := range g.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// moduleNodes returns the module nodes in declaration order.
func (g *graph) moduleNodes() []*Node {
	nodes := make([]*Node, 0, len(g.order)-1)
	for _, id := range g.order {
		if n := g.nodes[id]; n.Kind == KindModule {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// triggerSatisfied evaluates the node's combinator over predecessor
// completion. A predecessor that failed or was skipped still counts as
// completed for graph advancement; run-level success is a separate concern.
func (g *graph) triggerSatisfied(n *Node) bool {
	if len(n.Deps) == 0 {
		return true
	}
	switch n.Trigger {
	case TriggerAny:
		for _, dep := range n.Deps {
			if g.nodes[dep].state == NodeCompleted {
				return true
			}
		}
		return false
	default: // TriggerAll
		for _, dep := range n.Deps {
			if g.nodes[dep].state != NodeCompleted {
				return false
			}
		}
		return true
	}
}
