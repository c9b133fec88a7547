package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// workflowLocks serialises persistent-state writes per workflow across
// concurrent runs in this process.
var workflowLocks sync.Map // workflowID → *sync.Mutex

func lockForWorkflow(workflowID string) *sync.Mutex {
	mu, _ := workflowLocks.LoadOrStore(workflowID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// stateManager is the run's view of the workflow-scoped persistent
// key/value bag. Every Set flushes through the StateStore before
// returning, so a later run observes the write.
type stateManager struct {
	workflowID string
	store      StateStore

	mu     sync.RWMutex
	values map[string]json.RawMessage
}

func newStateManager(workflowID string, store StateStore) *stateManager {
	return &stateManager{
		workflowID: workflowID,
		values:     make(map[string]json.RawMessage),
		store:      store,
	}
}

// Load replaces the in-memory bag with the stored one.
func (m *stateManager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	state, err := m.store.LoadState(ctx, m.workflowID)
	if err != nil {
		return fmt.Errorf("load persistent state for workflow %s: %w", m.workflowID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]json.RawMessage, len(state))
	for k, v := range state {
		m.values[k] = v
	}
	return nil
}

// Get returns the value for key.
func (m *stateManager) Get(key string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Set stores the value and flushes the whole bag under the workflow
// lock. The write is durable when Set returns.
func (m *stateManager) Set(ctx context.Context, key string, value json.RawMessage) error {
	wl := lockForWorkflow(m.workflowID)
	wl.Lock()
	defer wl.Unlock()

	m.mu.Lock()
	m.values[key] = value
	snapshot := make(map[string]json.RawMessage, len(m.values))
	for k, v := range m.values {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.SaveState(ctx, m.workflowID, snapshot); err != nil {
		return fmt.Errorf("flush persistent state for workflow %s: %w", m.workflowID, err)
	}
	return nil
}
