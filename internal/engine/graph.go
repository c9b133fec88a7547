package engine

import (
	"fmt"

	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// graph is the precomputed view of the workflow's edges the engine routes
// over. Built once at construction, read-only afterwards.
type graph struct {
	nodes    map[string]*model.Node
	outgoing map[string][]model.Edge
	incoming map[string][]model.Edge

	// conditionalMap: branching node ID → handle → target node IDs.
	conditionalMap map[string]map[string][]string

	// feedbackEdges marks edge IDs (s, Loop) where s lies downstream of
	// the Loop; those edges aggregate into the loop's buffer instead of
	// gating or triggering it.
	feedbackEdges map[string]bool
}

func buildGraph(wf *model.Workflow) *graph {
	g := &graph{
		nodes:          make(map[string]*model.Node, len(wf.Nodes)),
		outgoing:       make(map[string][]model.Edge),
		incoming:       make(map[string][]model.Edge),
		conditionalMap: make(map[string]map[string][]string),
		feedbackEdges:  make(map[string]bool),
	}
	for i := range wf.Nodes {
		g.nodes[wf.Nodes[i].ID] = &wf.Nodes[i]
	}
	for _, e := range wf.Edges {
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	for _, e := range wf.Edges {
		src := g.nodes[e.Source]
		if src == nil || !src.IsBranching() {
			continue
		}
		handle := e.SourceHandle
		if handle == "" {
			handle = model.HandleDefault
		}
		if g.conditionalMap[e.Source] == nil {
			g.conditionalMap[e.Source] = make(map[string][]string)
		}
		g.conditionalMap[e.Source][handle] = append(g.conditionalMap[e.Source][handle], e.Target)
	}

	g.classifyFeedbackEdges()
	return g
}

// classifyFeedbackEdges marks each edge into a Loop node as feedback when
// its source is reachable from that Loop without re-entering it.
func (g *graph) classifyFeedbackEdges() {
	for id, n := range g.nodes {
		if n.Type != model.TypeLoop {
			continue
		}
		downstream := g.reachableFrom(id, id)
		for _, e := range g.incoming[id] {
			if downstream[e.Source] {
				g.feedbackEdges[e.ID] = true
			}
		}
	}
}

// reachableFrom collects every node reachable from start, never
// traversing edges into barrier.
func (g *graph) reachableFrom(start, barrier string) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.outgoing[cur] {
			if e.Target == barrier || seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			stack = append(stack, e.Target)
		}
	}
	return seen
}

// sourceNodes returns the nodes with no incoming trigger edges. A Loop
// whose only incoming edge is its own feedback edge is a source.
func (g *graph) sourceNodes() []string {
	var out []string
	for id := range g.nodes {
		if len(g.triggerSources(id)) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// triggerSources returns the upstream node IDs whose results gate and
// feed nodeID, excluding loop feedback edges.
func (g *graph) triggerSources(nodeID string) []string {
	var out []string
	for _, e := range g.incoming[nodeID] {
		if g.feedbackEdges[e.ID] {
			continue
		}
		out = append(out, e.Source)
	}
	return out
}

// checkAcyclic rejects cycles that survive after feedback edges are
// removed; genuine iteration is modelled only through Loop nodes.
func (g *graph) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		for _, e := range g.outgoing[id] {
			if g.feedbackEdges[e.ID] {
				continue
			}
			switch color[e.Target] {
			case grey:
				return fmt.Errorf("%w: via edge %s -> %s", ErrCycle, e.Source, e.Target)
			case white:
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
