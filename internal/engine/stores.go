package engine

import (
	"context"
	"encoding/json"

	runmodel "github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
)

// RunStore finalises the workflow_runs row the caller created before
// constructing the engine.
type RunStore interface {
	Finish(ctx context.Context, runID string, status runmodel.RunStatus, result map[string]interface{}, errMsg string) error
}

// AuditStore is the append-only node_executions sink. Start inserts a
// running row; Finish records the attempt's terminal row.
type AuditStore interface {
	Start(ctx context.Context, exec *runmodel.NodeExecution) error
	Finish(ctx context.Context, exec *runmodel.NodeExecution) error
}

// NodeStore is the durable per-run sidecar for node states and outputs.
// Writes are fire-and-forget from the worker's perspective: failures are
// logged, never fatal.
type NodeStore interface {
	SetNodeState(ctx context.Context, runID, nodeID string, state runmodel.NodeStatus) error
	GetNodeState(ctx context.Context, runID, nodeID string) (runmodel.NodeStatus, error)
	SetNodeOutput(ctx context.Context, runID, nodeID string, payload map[string]interface{}) error
}

// StateStore loads and flushes the workflow's persistent key/value bag.
type StateStore interface {
	LoadState(ctx context.Context, workflowID string) (map[string]json.RawMessage, error)
	SaveState(ctx context.Context, workflowID string, state map[string]json.RawMessage) error
}
