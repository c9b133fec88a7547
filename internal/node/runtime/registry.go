package runtime

import (
	"fmt"
	"sync"

	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// ErrUnsupportedCategory is returned when no executor is registered for a
// node's category.
type ErrUnsupportedCategory struct {
	Category model.Category
	NodeType string
}

func (e *ErrUnsupportedCategory) Error() string {
	return fmt.Sprintf("unsupported category %q for node type %q", e.Category, e.NodeType)
}

// Registry maps dispatch categories to executors. It is written once at
// startup and read concurrently by every run.
type Registry struct {
	mu        sync.RWMutex
	executors map[model.Category]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[model.Category]Executor),
	}
}

// Register registers an executor for a category.
func (r *Registry) Register(category model.Category, executor Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[category]; exists {
		return fmt.Errorf("category %q already registered", category)
	}
	r.executors[category] = executor
	return nil
}

// ForNode returns the executor for the node's effective category.
func (r *Registry) ForNode(n *model.Node) (Executor, error) {
	category := n.EffectiveCategory()

	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, exists := r.executors[category]
	if !exists {
		return nil, &ErrUnsupportedCategory{Category: category, NodeType: n.Type}
	}
	return executor, nil
}

// Categories returns the registered categories.
func (r *Registry) Categories() []model.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Category, 0, len(r.executors))
	for c := range r.executors {
		out = append(out, c)
	}
	return out
}
