// Package engine executes one workflow run: topological traversal with a
// parallel worker pool, conditional branch routing, loop aggregation via
// edge buffers, retry policy and per-node audit.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	"github.com/tradeflow-hq/tradeflow/internal/platform/config"
	"github.com/tradeflow-hq/tradeflow/internal/platform/logger"
	"github.com/tradeflow-hq/tradeflow/internal/platform/metrics"
	runmodel "github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
	"github.com/tradeflow-hq/tradeflow/internal/shared/events"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// EventPublisher emits domain events to the event bus. May be nil.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Params wires one engine instance. Registry, Runs, Audit and Logger are
// required; the rest degrade to no-ops when nil.
type Params struct {
	RunID      string
	Workflow   *model.Workflow
	UserID     string
	Config     config.EngineConfig

	Registry    *runtime.Registry
	Runs        RunStore
	Audit       AuditStore
	NodeStore   NodeStore
	States      StateStore
	Credentials runtime.CredentialStore

	Logger  logger.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Events  EventPublisher
}

// Engine owns the traversal state of a single run. Instances are
// single-use: construct, Execute once, discard.
type Engine struct {
	runID      string
	workflowID string
	userID     string
	wf         *model.Workflow
	g          *graph
	cfg        config.EngineConfig

	registry  *runtime.Registry
	runs      RunStore
	audit     AuditStore
	nodeStore NodeStore
	state     *stateManager
	creds     runtime.CredentialStore

	log     logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	events  EventPublisher

	queue *nodeQueue

	mu           sync.Mutex
	nodeResults  map[string]map[string]interface{}
	nodeStatus   map[string]runmodel.NodeStatus
	executed     map[string]bool
	skipped      map[string]bool
	attempts     map[string]int
	stallRetries map[string]int
	edgeBuffers  map[string][]interface{}
}

// New builds an engine for one run. Defaults are applied for zero-valued
// config fields so tests can pass a partial EngineConfig.
func New(p Params) *Engine {
	cfg := p.Config
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.QueuePoll <= 0 {
		cfg.QueuePoll = 50 * time.Millisecond
	}
	if cfg.ReadinessRetry <= 0 {
		cfg.ReadinessRetry = 100 * time.Millisecond
	}
	if cfg.FailureRetry <= 0 {
		cfg.FailureRetry = 500 * time.Millisecond
	}
	if cfg.StallBound <= 0 {
		cfg.StallBound = 100
	}

	log := p.Logger
	if log == nil {
		log = logger.NewNop()
	}
	tracer := p.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("engine")
	}

	return &Engine{
		runID:        p.RunID,
		workflowID:   p.Workflow.ID,
		userID:       p.UserID,
		wf:           p.Workflow,
		g:            buildGraph(p.Workflow),
		cfg:          cfg,
		registry:     p.Registry,
		runs:         p.Runs,
		audit:        p.Audit,
		nodeStore:    p.NodeStore,
		state:        newStateManager(p.Workflow.ID, p.States),
		creds:        p.Credentials,
		log:          log.WithFields(map[string]interface{}{"run_id": p.RunID, "workflow_id": p.Workflow.ID}),
		metrics:      p.Metrics,
		tracer:       tracer,
		events:       p.Events,
		queue:        newNodeQueue(),
		nodeResults:  make(map[string]map[string]interface{}),
		nodeStatus:   make(map[string]runmodel.NodeStatus),
		executed:     make(map[string]bool),
		skipped:      make(map[string]bool),
		attempts:     make(map[string]int),
		stallRetries: make(map[string]int),
		edgeBuffers:  make(map[string][]interface{}),
	}
}

// Execute runs the workflow to a terminal state, finalises the run row
// and returns the node result mapping. The caller bounds ctx with the
// watchdog timeout.
func (e *Engine) Execute(ctx context.Context) (map[string]interface{}, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.execute",
		trace.WithAttributes(
			attribute.String("run.id", e.runID),
			attribute.String("workflow.id", e.workflowID),
		))
	defer span.End()

	if e.metrics != nil {
		e.metrics.RunsInProgress.Inc()
		defer e.metrics.RunsInProgress.Dec()
	}
	e.publishEvent(ctx, events.RunStarted, events.RunStartedPayload{
		RunID:      e.runID,
		WorkflowID: e.workflowID,
		UserID:     e.userID,
		StartedAt:  start.UTC(),
	})

	err := e.run(ctx)

	results := e.resultsSnapshot()
	status := runmodel.RunStatusCompleted
	errMsg := ""
	if err != nil {
		status = runmodel.RunStatusFailed
		errMsg = err.Error()
		e.log.Error("run failed", "error", err)
	} else {
		e.log.Info("run completed", "nodes", len(results), "duration", time.Since(start).String())
	}

	if e.runs != nil {
		if ferr := e.runs.Finish(ctx, e.runID, status, results, errMsg); ferr != nil {
			e.log.Error("finalise run row", "error", ferr)
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveRun(e.workflowID, string(status), time.Since(start))
	}
	eventType := events.RunCompleted
	if err != nil {
		eventType = events.RunFailed
	}
	e.publishEvent(ctx, eventType, events.RunFinishedPayload{
		RunID:        e.runID,
		WorkflowID:   e.workflowID,
		Status:       string(status),
		ErrorMessage: errMsg,
		CompletedAt:  time.Now().UTC(),
	})

	return results, err
}

func (e *Engine) run(ctx context.Context) error {
	if e.cfg.DetectCycles {
		if err := e.g.checkAcyclic(); err != nil {
			return err
		}
	}
	if err := e.state.Load(ctx); err != nil {
		return err
	}

	sources := e.g.sourceNodes()
	if len(sources) == 0 {
		return ErrNoSources
	}
	now := time.Now()
	for _, id := range sources {
		e.queue.Enqueue(id, now)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for i := 0; i < e.cfg.MaxParallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.worker(ctx); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// worker is the blocking dequeue/gate/execute/route loop run by each of
// the maxParallel goroutines.
func (e *Engine) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.allSettled() {
			return nil
		}

		nodeID, ok := e.queue.Dequeue(time.Now())
		if e.metrics != nil {
			e.metrics.QueueDepth.Set(float64(e.queue.Len()))
		}
		if !ok {
			if err := sleepCtx(ctx, e.cfg.QueuePoll); err != nil {
				return err
			}
			continue
		}
		if e.isSettled(nodeID) {
			continue
		}

		ready, err := e.checkReady(nodeID)
		if err != nil {
			return err
		}
		if !ready {
			e.queue.Enqueue(nodeID, time.Now().Add(e.cfg.ReadinessRetry))
			continue
		}

		if err := e.runNode(ctx, nodeID, nil); err != nil {
			return err
		}
	}
}

// checkReady applies the dependency gate and the children-done gate. A
// false return means re-enqueue; the error fires when the stall counter
// crosses the safety bound.
func (e *Engine) checkReady(nodeID string) (bool, error) {
	ready := true
	for _, src := range e.g.triggerSources(nodeID) {
		if !e.isSettled(src) {
			ready = false
			break
		}
	}

	node := e.g.nodes[nodeID]
	if ready && node != nil && node.Type != model.TypeLoop {
		e.mu.Lock()
		for _, edge := range e.g.outgoing[nodeID] {
			if e.nodeStatus[edge.Target] == runmodel.NodeStatusRunning {
				ready = false
				break
			}
		}
		e.mu.Unlock()
	}

	if ready {
		return true, nil
	}

	e.mu.Lock()
	e.stallRetries[nodeID]++
	count := e.stallRetries[nodeID]
	e.mu.Unlock()
	if count > e.cfg.StallBound {
		return false, fmt.Errorf("%w: node %s after %d retries", ErrDependencyStall, nodeID, count)
	}
	return false, nil
}

func (e *Engine) isSettled(nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed[nodeID] || e.skipped[nodeID]
}

func (e *Engine) allSettled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.g.nodes {
		if !e.executed[id] && !e.skipped[id] {
			return false
		}
	}
	return true
}

func (e *Engine) resultsSnapshot() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]interface{}, len(e.nodeResults))
	for id, res := range e.nodeResults {
		out[id] = res
	}
	return out
}

func (e *Engine) setNodeStatus(ctx context.Context, nodeID string, status runmodel.NodeStatus) {
	e.mu.Lock()
	e.nodeStatus[nodeID] = status
	e.mu.Unlock()

	if e.nodeStore != nil {
		if err := e.nodeStore.SetNodeState(ctx, e.runID, nodeID, status); err != nil {
			e.log.Warn("node store state write failed", "node_id", nodeID, "error", err)
		}
	}
}

func (e *Engine) publishEvent(ctx context.Context, eventType string, payload interface{}) {
	if e.events == nil {
		return
	}
	ev, err := events.NewEvent(e.runID, "workflow_run", eventType, payload)
	if err != nil {
		e.log.Warn("encode event", "event_type", eventType, "error", err)
		return
	}
	ev.UserID = e.userID
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Warn("publish event", "event_type", eventType, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
