// Package runtime defines the node executor contract and the category
// registry the engine dispatches through.
package runtime

import (
	"context"
	"encoding/json"

	"github.com/tradeflow-hq/tradeflow/internal/platform/logger"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// Result is the outcome of one node execution.
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// OK wraps a payload in a successful result.
func OK(data map[string]interface{}) *Result {
	return &Result{Success: true, Data: data}
}

// Executor runs one node. Implementations receive the node as authored,
// the assembled input payload and the execution context, and return a
// payload or an error. Transient failures should be returned as errors so
// the engine's retry policy applies.
type Executor interface {
	Execute(ctx context.Context, node *model.Node, input map[string]interface{}, ec *Context) (*Result, error)
}

// CredentialStore gives executors access to decrypted user credentials.
type CredentialStore interface {
	Get(ctx context.Context, userID, serviceType, name string) (map[string]interface{}, error)
}

// Context carries per-run services into executors.
type Context struct {
	UserID     string
	WorkflowID string
	RunID      string
	Logger     logger.Logger

	Credentials CredentialStore

	// ResolveParameters returns the node's values with templates resolved
	// against the given input plus prior node outputs.
	ResolveParameters func(node *model.Node, input map[string]interface{}) map[string]interface{}

	// Persistent state is workflow-scoped and durable: Set flushes before
	// returning.
	GetPersistentValue func(key string) (json.RawMessage, bool)
	SetPersistentValue func(ctx context.Context, key string, value json.RawMessage) error
}
