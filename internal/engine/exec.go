package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	runmodel "github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
	"github.com/tradeflow-hq/tradeflow/internal/shared/events"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
	"github.com/tradeflow-hq/tradeflow/pkg/reference"
)

// runNode executes one node (or drives a Loop) and routes its result.
// Inside a loop iteration lc carries the per-item view and the
// iteration's visited set; otherwise the global settled set dedupes.
func (e *Engine) runNode(ctx context.Context, nodeID string, lc *loopCtx) error {
	node := e.g.nodes[nodeID]
	if node == nil {
		return fmt.Errorf("edge references unknown node %q", nodeID)
	}

	if lc != nil {
		if lc.visited[nodeID] {
			return nil
		}
		lc.visited[nodeID] = true
	} else if e.isSettled(nodeID) {
		return nil
	}

	if node.Type == model.TypeLoop {
		return e.runLoop(ctx, node, lc)
	}

	input := e.assembleInput(node, lc)
	maxAttempts := intValue(node.Values, "maxAttempts", 1)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	continueOnError := boolValue(node.Values, "continueOnError")

	var result *runtime.Result
	for tries := 1; ; tries++ {
		res, err := e.attemptNode(ctx, node, input)
		if err == nil {
			result = res
			break
		}

		if tries < maxAttempts {
			e.log.Warn("node attempt failed, retrying",
				"node_id", nodeID, "attempt", tries, "max_attempts", maxAttempts, "error", err)
			if e.metrics != nil {
				e.metrics.NodeRetries.WithLabelValues(string(node.EffectiveCategory())).Inc()
			}
			if serr := sleepCtx(ctx, e.cfg.FailureRetry); serr != nil {
				return serr
			}
			continue
		}

		if continueOnError {
			e.log.Warn("node failed, continuing per policy", "node_id", nodeID, "error", err)
			result = &runtime.Result{
				Success: false,
				Error:   err.Error(),
				Data:    map[string]interface{}{"success": false, "error": err.Error()},
			}
			break
		}

		e.setNodeStatus(ctx, nodeID, runmodel.NodeStatusFailed)
		return fmt.Errorf("node %s: %w", nodeID, err)
	}

	e.recordResult(ctx, node, result)
	return e.route(ctx, node, result, input, lc)
}

// attemptNode runs a single attempt with its audit row pair.
func (e *Engine) attemptNode(ctx context.Context, node *model.Node, input map[string]interface{}) (*runtime.Result, error) {
	attempt := e.nextAttempt(node.ID)
	e.setNodeStatus(ctx, node.ID, runmodel.NodeStatusRunning)

	exec := runmodel.NewNodeExecution(e.runID, node.ID, attempt, input)
	if e.audit != nil {
		if err := e.audit.Start(ctx, exec); err != nil {
			e.log.Warn("audit start write failed", "node_id", node.ID, "error", err)
		}
	}

	start := time.Now()
	res, err := e.executeOnce(ctx, node, input)
	duration := time.Since(start)

	category := string(node.EffectiveCategory())
	status := runmodel.NodeStatusCompleted
	if err != nil {
		status = runmodel.NodeStatusFailed
		exec.Finish(runmodel.NodeStatusFailed, nil, err.Error())
	} else {
		exec.Finish(runmodel.NodeStatusCompleted, res.Data, "")
	}
	if e.audit != nil {
		if aerr := e.audit.Finish(ctx, exec); aerr != nil {
			e.log.Warn("audit finish write failed", "node_id", node.ID, "error", aerr)
		}
	}
	if e.metrics != nil {
		e.metrics.NodeExecutionsTotal.WithLabelValues(category, string(status)).Inc()
		e.metrics.NodeExecutionDuration.WithLabelValues(category).Observe(duration.Seconds())
	}
	e.publishEvent(ctx, events.NodeExecuted, events.NodeExecutedPayload{
		RunID:      e.runID,
		WorkflowID: e.workflowID,
		NodeID:     node.ID,
		Status:     string(status),
		Attempt:    attempt,
		DurationMs: duration.Milliseconds(),
	})

	return res, err
}

// executeOnce dispatches the node to its registered executor.
func (e *Engine) executeOnce(ctx context.Context, node *model.Node, input map[string]interface{}) (*runtime.Result, error) {
	executor, err := e.registry.ForNode(node)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.type", node.Type),
		))
	defer span.End()

	res, err := executor.Execute(ctx, node, input, e.executorContext())
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("executor returned no result for node %s", node.ID)
	}
	if !res.Success {
		return nil, errors.New(res.Error)
	}
	return res, nil
}

func (e *Engine) executorContext() *runtime.Context {
	return &runtime.Context{
		UserID:      e.userID,
		WorkflowID:  e.workflowID,
		RunID:       e.runID,
		Logger:      e.log,
		Credentials: e.creds,
		ResolveParameters: func(n *model.Node, in map[string]interface{}) map[string]interface{} {
			return reference.NewResolver(in, e.lookupOutput).ResolveValues(n.Values)
		},
		GetPersistentValue: e.state.Get,
		SetPersistentValue: e.state.Set,
	}
}

// lookupOutput resolves a template reference name to a prior node's
// output: node ID first, display name second.
func (e *Engine) lookupOutput(name string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if res, ok := e.nodeResults[name]; ok {
		return res, true
	}
	for id, res := range e.nodeResults {
		if n := e.g.nodes[id]; n != nil && n.DisplayName() == name {
			return res, true
		}
	}
	return nil, false
}

// assembleInput builds the node's input payload. Inside a loop iteration
// only node.data plus the per-item loop view is used; otherwise upstream
// results merge in edge order, later overriding earlier.
func (e *Engine) assembleInput(node *model.Node, lc *loopCtx) map[string]interface{} {
	input := make(map[string]interface{}, len(node.Data)+4)
	for k, v := range node.Data {
		if k == "definition" {
			continue
		}
		input[k] = v
	}

	if lc != nil {
		if item, ok := lc.item.(map[string]interface{}); ok {
			for k, v := range item {
				input[k] = v
			}
		}
		input["loopItem"] = lc.item
		input["loopIndex"] = lc.index
		input["loopItems"] = lc.items
		return input
	}

	e.mu.Lock()
	for _, edge := range e.g.incoming[node.ID] {
		if e.g.feedbackEdges[edge.ID] {
			continue
		}
		if res, ok := e.nodeResults[edge.Source]; ok {
			for k, v := range res {
				input[k] = v
			}
		}
	}
	if node.Type == model.TypeLoop {
		if buf, ok := e.edgeBuffers[node.ID]; ok && len(buf) > 0 {
			input["_edgeBuf"] = append([]interface{}(nil), buf...)
			input["aggregatedData"] = flatten(buf)
		}
	}
	e.mu.Unlock()

	return input
}

func (e *Engine) recordResult(ctx context.Context, node *model.Node, result *runtime.Result) {
	e.mu.Lock()
	e.nodeResults[node.ID] = result.Data
	e.executed[node.ID] = true
	e.mu.Unlock()

	e.setNodeStatus(ctx, node.ID, runmodel.NodeStatusCompleted)
	if e.nodeStore != nil {
		if err := e.nodeStore.SetNodeOutput(ctx, e.runID, node.ID, result.Data); err != nil {
			e.log.Warn("node store output write failed", "node_id", node.ID, "error", err)
		}
	}
}

func (e *Engine) nextAttempt(nodeID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[nodeID]++
	return e.attempts[nodeID]
}

// depsSettledOrVisited reports whether every trigger source of nodeID is
// globally settled or already visited within the current iteration.
func (e *Engine) depsSettledOrVisited(nodeID string, lc *loopCtx) bool {
	for _, src := range e.g.triggerSources(nodeID) {
		if lc != nil && lc.visited[src] {
			continue
		}
		if !e.isSettled(src) {
			return false
		}
	}
	return true
}

// flatten spreads array payloads one level into a flat slice.
func flatten(buf []interface{}) []interface{} {
	out := make([]interface{}, 0, len(buf))
	for _, item := range buf {
		if arr, ok := item.([]interface{}); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, item)
	}
	return out
}

func intValue(values map[string]interface{}, key string, fallback int) int {
	switch v := values[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func boolValue(values map[string]interface{}, key string) bool {
	switch v := values[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}
