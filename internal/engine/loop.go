package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	runmodel "github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
	"github.com/tradeflow-hq/tradeflow/pkg/reference"
)

// loopCtx is the per-iteration view threaded through a loop body chain.
// Each iteration owns one instance; the body chain is a synchronous
// traversal, so visited needs no lock.
type loopCtx struct {
	loopID  string
	item    interface{}
	index   int
	items   []interface{}
	parent  *loopCtx
	visited map[string]bool
	collect func(payload interface{})
}

// findLoop walks the iteration chain looking for the loop with the given
// node ID. Safe on a nil receiver.
func (c *loopCtx) findLoop(nodeID string) *loopCtx {
	for x := c; x != nil; x = x.parent {
		if x.loopID == nodeID {
			return x
		}
	}
	return nil
}

// runLoop drives a Loop node: one pass of its "loop" subgraph per input
// item, then a "done" emission of the feedback aggregate in input order.
func (e *Engine) runLoop(ctx context.Context, node *model.Node, parent *loopCtx) error {
	input := e.assembleInput(node, parent)
	params := reference.NewResolver(input, e.lookupOutput).ResolveValues(node.Values)

	items, err := e.loopItems(params, input)
	if err != nil {
		e.setNodeStatus(ctx, node.ID, runmodel.NodeStatusFailed)
		return fmt.Errorf("loop %s: %w", node.ID, err)
	}

	batchSize := intValue(params, "batchSize", 1)
	if batchSize < 1 {
		batchSize = 1
	}
	throttle := time.Duration(intValue(params, "throttleMs", 0)) * time.Millisecond

	attempt := e.nextAttempt(node.ID)
	e.setNodeStatus(ctx, node.ID, runmodel.NodeStatusRunning)
	exec := runmodel.NewNodeExecution(e.runID, node.ID, attempt, input)
	if e.audit != nil {
		if aerr := e.audit.Start(ctx, exec); aerr != nil {
			e.log.Warn("audit start write failed", "node_id", node.ID, "error", aerr)
		}
	}

	var targets []string
	for _, edge := range e.g.outgoing[node.ID] {
		if edge.SourceHandle == model.HandleLoop {
			targets = append(targets, edge.Target)
		}
	}

	// One result slot per iteration keeps the done aggregate in input
	// order regardless of batch parallelism.
	slots := make([][]interface{}, len(items))
	runErr := e.runIterations(ctx, node.ID, parent, items, targets, batchSize, throttle, slots)

	// The buffer fed this pass; clear it so a later firing starts clean.
	e.mu.Lock()
	delete(e.edgeBuffers, node.ID)
	e.mu.Unlock()

	if runErr != nil {
		exec.Finish(runmodel.NodeStatusFailed, nil, runErr.Error())
		if e.audit != nil {
			if aerr := e.audit.Finish(ctx, exec); aerr != nil {
				e.log.Warn("audit finish write failed", "node_id", node.ID, "error", aerr)
			}
		}
		e.setNodeStatus(ctx, node.ID, runmodel.NodeStatusFailed)
		return runErr
	}

	var aggregated []interface{}
	for _, slot := range slots {
		aggregated = append(aggregated, flatten(slot)...)
	}
	result := runtime.OK(map[string]interface{}{
		"aggregated": aggregated,
		"count":      len(items),
	})

	exec.Finish(runmodel.NodeStatusCompleted, result.Data, "")
	if e.audit != nil {
		if aerr := e.audit.Finish(ctx, exec); aerr != nil {
			e.log.Warn("audit finish write failed", "node_id", node.ID, "error", aerr)
		}
	}

	e.recordResult(ctx, node, result)
	return e.route(ctx, node, result, input, parent)
}

// loopItems picks the input array: resolved values.inputArray first, then
// the aggregated upstream buffer.
func (e *Engine) loopItems(params, input map[string]interface{}) ([]interface{}, error) {
	if raw, ok := params["inputArray"]; ok && raw != nil {
		items, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("inputArray resolved to %T, want array", raw)
		}
		return items, nil
	}
	if raw, ok := input["aggregatedData"]; ok {
		if items, ok := raw.([]interface{}); ok {
			return items, nil
		}
	}
	return nil, fmt.Errorf("no input array: set values.inputArray or feed an upstream aggregate")
}

// runIterations executes the body once per item, sequentially by default
// or in parallel batches of batchSize.
func (e *Engine) runIterations(ctx context.Context, loopID string, parent *loopCtx, items []interface{}, targets []string, batchSize int, throttle time.Duration, slots [][]interface{}) error {
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				lc := &loopCtx{
					loopID:  loopID,
					item:    items[i],
					index:   i,
					items:   items,
					parent:  parent,
					visited: map[string]bool{loopID: true},
					collect: func(payload interface{}) {
						slots[i] = append(slots[i], payload)
					},
				}
				for _, target := range targets {
					if err := e.runNode(ctx, target, lc); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						return
					}
				}
			}(i)
		}
		wg.Wait()
		if firstErr != nil {
			return firstErr
		}

		if throttle > 0 && end < len(items) {
			if err := sleepCtx(ctx, throttle); err != nil {
				return err
			}
		}
	}
	return nil
}
