package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	"github.com/tradeflow-hq/tradeflow/internal/node/runtime/nodes"
	"github.com/tradeflow-hq/tradeflow/internal/platform/config"
	runmodel "github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// fastConfig keeps retry and poll delays short so tests stay quick.
func fastConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxParallel:    4,
		QueuePoll:      2 * time.Millisecond,
		ReadinessRetry: 2 * time.Millisecond,
		FailureRetry:   5 * time.Millisecond,
		StallBound:     100,
		DetectCycles:   true,
	}
}

type memRuns struct {
	mu       sync.Mutex
	status   runmodel.RunStatus
	result   map[string]interface{}
	errMsg   string
	finished bool
}

func (m *memRuns) Finish(_ context.Context, _ string, status runmodel.RunStatus, result map[string]interface{}, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.result = result
	m.errMsg = errMsg
	m.finished = true
	return nil
}

type memAudit struct {
	mu       sync.Mutex
	starts   []runmodel.NodeExecution
	finishes []runmodel.NodeExecution
}

func (m *memAudit) Start(_ context.Context, exec *runmodel.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, *exec)
	return nil
}

func (m *memAudit) Finish(_ context.Context, exec *runmodel.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishes = append(m.finishes, *exec)
	return nil
}

func (m *memAudit) finishesFor(nodeID string) []runmodel.NodeExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []runmodel.NodeExecution
	for _, e := range m.finishes {
		if e.NodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

type memStates struct {
	mu    sync.Mutex
	state map[string]json.RawMessage
	saves int
}

func (m *memStates) LoadState(context.Context, string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]json.RawMessage, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out, nil
}

func (m *memStates) SaveState(_ context.Context, _ string, state map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = make(map[string]json.RawMessage, len(state))
	for k, v := range state {
		m.state[k] = v
	}
	m.saves++
	return nil
}

type execFunc func(ctx context.Context, node *model.Node, input map[string]interface{}, ec *runtime.Context) (*runtime.Result, error)

func (f execFunc) Execute(ctx context.Context, node *model.Node, input map[string]interface{}, ec *runtime.Context) (*runtime.Result, error) {
	return f(ctx, node, input, ec)
}

func builtinRegistry(t *testing.T) *runtime.Registry {
	t.Helper()
	registry := runtime.NewRegistry()
	require.NoError(t, registry.Register(model.CategoryUtility, nodes.NewUtilityExecutor(nil, nil)))
	require.NoError(t, registry.Register(model.CategoryControlFlow, nodes.NewControlFlowExecutor()))
	require.NoError(t, registry.Register(model.CategoryIndicator, nodes.NewIndicatorExecutor()))
	return registry
}

type fixture struct {
	runs   *memRuns
	audit  *memAudit
	states *memStates
	engine *Engine
}

func newFixture(t *testing.T, wf *model.Workflow, registry *runtime.Registry, cfg config.EngineConfig) *fixture {
	t.Helper()
	f := &fixture{runs: &memRuns{}, audit: &memAudit{}, states: &memStates{}}
	f.engine = New(Params{
		RunID:    "run-1",
		Workflow: wf,
		UserID:   "user-1",
		Config:   cfg,
		Registry: registry,
		Runs:     f.runs,
		Audit:    f.audit,
		States:   f.states,
	})
	return f
}

func TestLinearIndicatorRun(t *testing.T) {
	wf := &model.Workflow{
		ID:     "wf-1",
		UserID: "user-1",
		Nodes: []model.Node{
			{ID: "A", Type: "Input", Category: model.CategoryUtility,
				Values: map[string]interface{}{"prices": []interface{}{
					1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, 10.0, 11.0, 12.0, 13.0, 14.0, 15.0,
				}}},
			{ID: "B", Type: "RSI", Category: model.CategoryIndicator,
				Values: map[string]interface{}{
					"indicator": "RSI",
					"period":    14,
					"prices":    "{{ $('A').json.prices }}",
				}},
		},
		Edges: []model.Edge{{ID: "e1", Source: "A", Target: "B"}},
	}

	f := newFixture(t, wf, builtinRegistry(t), fastConfig())
	results, err := f.engine.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, runmodel.RunStatusCompleted, f.runs.status)
	b, ok := results["B"].(map[string]interface{})
	require.True(t, ok, "result must contain B")
	assert.Equal(t, "RSI", b["indicator"])
	values, ok := b["values"].([]interface{})
	require.True(t, ok)
	assert.Len(t, values, 1)

	for _, id := range []string{"A", "B"} {
		finishes := f.audit.finishesFor(id)
		require.Len(t, finishes, 1, "one attempt for %s", id)
		assert.Equal(t, runmodel.NodeStatusCompleted, finishes[0].Status)
	}
}

func TestBranchSelectsOneHandle(t *testing.T) {
	wf := &model.Workflow{
		ID:     "wf-2",
		UserID: "user-1",
		Nodes: []model.Node{
			{ID: "A", Type: "Input", Category: model.CategoryUtility,
				Values: map[string]interface{}{"x": 5}},
			{ID: "B", Type: model.TypeIf,
				Values: map[string]interface{}{
					"conditions": []interface{}{map[string]interface{}{
						"left": "{{ $('A').json.x }}", "operator": ">", "right": "3",
					}},
					"logicalOp": "AND",
				}},
			{ID: "C", Type: "Transform", Values: map[string]interface{}{"value": "yes"}},
			{ID: "D", Type: "Transform", Values: map[string]interface{}{"value": "no"}},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "A", Target: "B"},
			{ID: "e2", Source: "B", Target: "C", SourceHandle: "true"},
			{ID: "e3", Source: "B", Target: "D", SourceHandle: "false"},
		},
	}

	f := newFixture(t, wf, builtinRegistry(t), fastConfig())
	results, err := f.engine.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, runmodel.RunStatusCompleted, f.runs.status)
	c, ok := results["C"].(map[string]interface{})
	require.True(t, ok, "selected branch must be in the result")
	assert.Equal(t, "yes", c["value"])

	assert.NotContains(t, results, "D")
	assert.Empty(t, f.audit.finishesFor("D"), "unselected branch writes no audit rows")
}

func TestRetryThenContinueOnError(t *testing.T) {
	registry := builtinRegistry(t)
	require.NoError(t, registry.Register(model.CategoryBroker, execFunc(
		func(context.Context, *model.Node, map[string]interface{}, *runtime.Context) (*runtime.Result, error) {
			return nil, errors.New("order rejected")
		})))

	wf := &model.Workflow{
		ID:     "wf-3",
		UserID: "user-1",
		Nodes: []model.Node{
			{ID: "A", Type: "Input", Category: model.CategoryUtility},
			{ID: "B", Type: "PlaceOrder", Category: model.CategoryBroker,
				Values: map[string]interface{}{"maxAttempts": 2, "continueOnError": true}},
		},
		Edges: []model.Edge{{ID: "e1", Source: "A", Target: "B"}},
	}

	f := newFixture(t, wf, registry, fastConfig())
	results, err := f.engine.Execute(context.Background())
	require.NoError(t, err, "continueOnError keeps the run alive")
	assert.Equal(t, runmodel.RunStatusCompleted, f.runs.status)

	finishes := f.audit.finishesFor("B")
	require.Len(t, finishes, 2)
	assert.Equal(t, 1, finishes[0].Attempt)
	assert.Equal(t, 2, finishes[1].Attempt)
	for _, e := range finishes {
		assert.Equal(t, runmodel.NodeStatusFailed, e.Status)
	}

	b, ok := results["B"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, b["success"])
	assert.Contains(t, b["error"], "order rejected")
}

func TestFailurePropagatesWithoutContinue(t *testing.T) {
	registry := builtinRegistry(t)
	require.NoError(t, registry.Register(model.CategoryBroker, execFunc(
		func(context.Context, *model.Node, map[string]interface{}, *runtime.Context) (*runtime.Result, error) {
			return nil, errors.New("order rejected")
		})))

	wf := &model.Workflow{
		ID:     "wf-4",
		UserID: "user-1",
		Nodes: []model.Node{
			{ID: "A", Type: "Input", Category: model.CategoryUtility},
			{ID: "B", Type: "PlaceOrder", Category: model.CategoryBroker},
		},
		Edges: []model.Edge{{ID: "e1", Source: "A", Target: "B"}},
	}

	f := newFixture(t, wf, registry, fastConfig())
	_, err := f.engine.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, runmodel.RunStatusFailed, f.runs.status)
	assert.Contains(t, f.runs.errMsg, "order rejected")
}

func loopWorkflow(batchSize int) *model.Workflow {
	return &model.Workflow{
		ID:     "wf-5",
		UserID: "user-1",
		Nodes: []model.Node{
			{ID: "L", Type: model.TypeLoop,
				Values: map[string]interface{}{
					"inputArray": []interface{}{
						map[string]interface{}{"v": 1.0},
						map[string]interface{}{"v": 2.0},
						map[string]interface{}{"v": 3.0},
					},
					"batchSize": batchSize,
				}},
			{ID: "M", Type: "Math",
				Values: map[string]interface{}{
					"operation": "multiply", "a": "{{ $json.v }}", "b": 10,
				}},
			{ID: "N", Type: "Collect", Category: model.CategoryUtility},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "L", Target: "M", SourceHandle: model.HandleLoop},
			{ID: "e2", Source: "M", Target: "L"},
			{ID: "e3", Source: "L", Target: "N", SourceHandle: model.HandleDone},
		},
	}
}

func TestLoopAggregatesInInputOrder(t *testing.T) {
	for _, batchSize := range []int{1, 3} {
		t.Run(fmt.Sprintf("batchSize=%d", batchSize), func(t *testing.T) {
			f := newFixture(t, loopWorkflow(batchSize), builtinRegistry(t), fastConfig())
			results, err := f.engine.Execute(context.Background())
			require.NoError(t, err)
			assert.Equal(t, runmodel.RunStatusCompleted, f.runs.status)

			n, ok := results["N"].(map[string]interface{})
			require.True(t, ok)
			aggregated, ok := n["aggregated"].([]interface{})
			require.True(t, ok, "done handle feeds the flat aggregate downstream")
			require.Len(t, aggregated, 3)

			for i, want := range []float64{10, 20, 30} {
				item, ok := aggregated[i].(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, want, item["result"], "aggregate preserves input order")
			}
		})
	}
}

func TestNoSourcesFailsRun(t *testing.T) {
	cfg := fastConfig()
	cfg.DetectCycles = false

	wf := &model.Workflow{
		ID:     "wf-6",
		UserID: "user-1",
		Nodes: []model.Node{
			{ID: "A", Type: "Input", Category: model.CategoryUtility},
			{ID: "B", Type: "Input", Category: model.CategoryUtility},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "A", Target: "B"},
			{ID: "e2", Source: "B", Target: "A"},
		},
	}

	f := newFixture(t, wf, builtinRegistry(t), cfg)
	_, err := f.engine.Execute(context.Background())
	require.ErrorIs(t, err, ErrNoSources)
	assert.Equal(t, runmodel.RunStatusFailed, f.runs.status)
}

func TestCycleDetectionRejectsNonLoopCycle(t *testing.T) {
	wf := &model.Workflow{
		ID:     "wf-7",
		UserID: "user-1",
		Nodes: []model.Node{
			{ID: "S", Type: "Input", Category: model.CategoryUtility},
			{ID: "A", Type: "Input", Category: model.CategoryUtility},
			{ID: "B", Type: "Input", Category: model.CategoryUtility},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "S", Target: "A"},
			{ID: "e2", Source: "A", Target: "B"},
			{ID: "e3", Source: "B", Target: "A"},
		},
	}

	f := newFixture(t, wf, builtinRegistry(t), fastConfig())
	_, err := f.engine.Execute(context.Background())
	require.ErrorIs(t, err, ErrCycle)
	assert.Equal(t, runmodel.RunStatusFailed, f.runs.status)
}

func TestDependencyStall(t *testing.T) {
	cfg := fastConfig()
	cfg.StallBound = 3

	// B waits on X, which exists as an edge source but never runs.
	wf := &model.Workflow{
		ID:     "wf-8",
		UserID: "user-1",
		Nodes: []model.Node{
			{ID: "A", Type: "Input", Category: model.CategoryUtility},
			{ID: "B", Type: "Input", Category: model.CategoryUtility},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "A", Target: "B"},
			{ID: "e2", Source: "X", Target: "B"},
		},
	}

	f := newFixture(t, wf, builtinRegistry(t), cfg)
	_, err := f.engine.Execute(context.Background())
	require.ErrorIs(t, err, ErrDependencyStall)
	assert.Equal(t, runmodel.RunStatusFailed, f.runs.status)
}

func TestPersistentStateDurability(t *testing.T) {
	registry := builtinRegistry(t)
	require.NoError(t, registry.Register(model.CategoryDataSource, execFunc(
		func(ctx context.Context, node *model.Node, input map[string]interface{}, ec *runtime.Context) (*runtime.Result, error) {
			if node.ID == "W" {
				if err := ec.SetPersistentValue(ctx, "position", json.RawMessage(`"long"`)); err != nil {
					return nil, err
				}
				return runtime.OK(map[string]interface{}{"written": true}), nil
			}
			v, ok := ec.GetPersistentValue("position")
			if !ok {
				return nil, errors.New("position not found")
			}
			return runtime.OK(map[string]interface{}{"position": string(v)}), nil
		})))

	states := &memStates{}
	writer := &model.Workflow{
		ID: "wf-9", UserID: "user-1",
		Nodes: []model.Node{{ID: "W", Type: "Tracker", Category: model.CategoryDataSource}},
	}
	reader := &model.Workflow{
		ID: "wf-9", UserID: "user-1",
		Nodes: []model.Node{{ID: "R", Type: "Tracker", Category: model.CategoryDataSource}},
	}

	run := func(wf *model.Workflow) (map[string]interface{}, error) {
		eng := New(Params{
			RunID:    "run-" + wf.Nodes[0].ID,
			Workflow: wf,
			UserID:   "user-1",
			Config:   fastConfig(),
			Registry: registry,
			Runs:     &memRuns{},
			Audit:    &memAudit{},
			States:   states,
		})
		return eng.Execute(context.Background())
	}

	_, err := run(writer)
	require.NoError(t, err)
	assert.Equal(t, 1, states.saves, "every set flushes")

	results, err := run(reader)
	require.NoError(t, err)
	r, ok := results["R"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, `"long"`, r["position"])
}
