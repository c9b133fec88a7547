package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	runmodel "github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// route schedules the node's downstream work. Branching nodes select one
// handle and run a conditional chain; everything else fans out over its
// outgoing edges.
func (e *Engine) route(ctx context.Context, node *model.Node, result *runtime.Result, input map[string]interface{}, lc *loopCtx) error {
	if node.IsBranching() {
		return e.routeBranch(ctx, node, result, input, lc)
	}

	for _, edge := range e.g.outgoing[node.ID] {
		if node.Type == model.TypeLoop && edge.SourceHandle == model.HandleLoop {
			// Body edges are driven per iteration, not on done.
			continue
		}

		// A feedback edge aggregates this iteration's result into the
		// enclosing loop's buffer instead of re-triggering the loop.
		if c := lc.findLoop(edge.Target); c != nil {
			c.collect(result.Data)
			continue
		}
		if e.g.feedbackEdges[edge.ID] {
			e.bufferForLoop(edge.Target, result.Data)
			continue
		}

		if lc != nil {
			// Stay confined to the iteration's subgraph: run the target
			// synchronously once its other dependencies have arrived.
			if e.depsSettledOrVisited(edge.Target, lc) {
				if err := e.runNode(ctx, edge.Target, lc); err != nil {
					return err
				}
			}
			continue
		}
		e.queue.Enqueue(edge.Target, time.Now())
	}
	return nil
}

// routeBranch normalises the result to a handle, marks the unselected
// subgraphs skipped and runs a conditional chain per selected target.
func (e *Engine) routeBranch(ctx context.Context, node *model.Node, result *runtime.Result, input map[string]interface{}, lc *loopCtx) error {
	handle := normalizeHandle(result.Data)
	e.log.Debug("branch selected", "node_id", node.ID, "handle", handle)

	e.skipUnselected(ctx, node, handle, lc)

	targets := e.g.conditionalMap[node.ID][handle]
	for _, target := range targets {
		tn := e.g.nodes[target]
		if tn != nil && tn.Type == model.TypeLoop && lc.findLoop(target) == nil {
			// A loop fed by a branch aggregates the branch node's
			// original input, not the branch evaluation result.
			e.bufferForLoop(target, input)
		}
		if c := lc.findLoop(target); c != nil {
			c.collect(input)
			continue
		}
		if !e.depsSettledOrVisited(target, lc) {
			// Another upstream path completes the gate later.
			if lc == nil {
				e.queue.Enqueue(target, time.Now())
			}
			continue
		}
		if err := e.runNode(ctx, target, lc); err != nil {
			return err
		}
	}
	return nil
}

// normalizeHandle maps a node result onto a handle key.
func normalizeHandle(data map[string]interface{}) string {
	if data == nil {
		return model.HandleFalse
	}
	if truthy(data[model.HandleTrue]) {
		return model.HandleTrue
	}
	if truthy(data[model.HandleFalse]) {
		return model.HandleFalse
	}
	if v, ok := data["result"]; ok {
		return handleString(v)
	}
	if v, ok := data["output"]; ok {
		return handleString(v)
	}
	return fmt.Sprintf("%v", data)
}

func handleString(v interface{}) string {
	switch val := v.(type) {
	case bool:
		if val {
			return model.HandleTrue
		}
		return model.HandleFalse
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

// skipUnselected settles the subgraphs reachable only through the
// branch's unselected handles. Skipped nodes get no audit rows; they
// satisfy downstream dependency gates and run termination.
func (e *Engine) skipUnselected(ctx context.Context, node *model.Node, selected string, lc *loopCtx) {
	candidates := make(map[string]bool)
	for handle, targets := range e.g.conditionalMap[node.ID] {
		if handle == selected {
			continue
		}
		for _, t := range targets {
			e.collectReachable(t, candidates)
		}
	}
	if len(candidates) == 0 {
		return
	}

	// A candidate survives when any incoming edge is fed from outside
	// the dead set; removing it may revive its descendants, so iterate
	// to a fixpoint.
	for changed := true; changed; {
		changed = false
		for id := range candidates {
			if e.hasLiveSource(id, node.ID, selected, candidates) {
				delete(candidates, id)
				changed = true
			}
		}
	}

	e.mu.Lock()
	var toSkip []string
	for id := range candidates {
		if e.executed[id] || e.skipped[id] {
			continue
		}
		if lc != nil && lc.visited[id] {
			continue
		}
		e.skipped[id] = true
		e.nodeStatus[id] = runmodel.NodeStatusSkipped
		toSkip = append(toSkip, id)
	}
	e.mu.Unlock()

	for _, id := range toSkip {
		if e.nodeStore != nil {
			if err := e.nodeStore.SetNodeState(ctx, e.runID, id, runmodel.NodeStatusSkipped); err != nil {
				e.log.Warn("node store skip write failed", "node_id", id, "error", err)
			}
		}
	}
}

func (e *Engine) collectReachable(start string, into map[string]bool) {
	if into[start] {
		return
	}
	into[start] = true
	for _, edge := range e.g.outgoing[start] {
		e.collectReachable(edge.Target, into)
	}
}

// hasLiveSource reports whether id is fed by an edge whose source is
// neither in the dead candidate set nor the branch node's unselected
// handle.
func (e *Engine) hasLiveSource(id, branchID, selected string, dead map[string]bool) bool {
	for _, edge := range e.g.incoming[id] {
		if edge.Source == branchID {
			handle := edge.SourceHandle
			if handle == "" {
				handle = model.HandleDefault
			}
			if handle == selected {
				return true
			}
			continue
		}
		if dead[edge.Source] {
			continue
		}
		e.mu.Lock()
		skipped := e.skipped[edge.Source]
		e.mu.Unlock()
		if !skipped {
			return true
		}
	}
	return false
}

// bufferForLoop appends a payload to the loop's edge buffer.
func (e *Engine) bufferForLoop(loopID string, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edgeBuffers[loopID] = append(e.edgeBuffers[loopID], payload)
}
