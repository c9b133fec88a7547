// Package service launches workflow runs: it creates the run row, builds
// a single-use engine and executes it.
package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/tradeflow-hq/tradeflow/internal/engine"
	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	"github.com/tradeflow-hq/tradeflow/internal/platform/config"
	"github.com/tradeflow-hq/tradeflow/internal/platform/logger"
	"github.com/tradeflow-hq/tradeflow/internal/platform/metrics"
	"github.com/tradeflow-hq/tradeflow/internal/run/domain/model"
	wfmodel "github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// RunRepo creates run rows and, as the engine's RunStore, finishes them.
type RunRepo interface {
	engine.RunStore
	Create(ctx context.Context, run *model.Run) error
}

// RunService wires the stores, registry and instrumentation every run
// shares.
type RunService struct {
	runs      RunRepo
	audit     engine.AuditStore
	nodeStore engine.NodeStore
	states    engine.StateStore
	registry  *runtime.Registry
	creds     runtime.CredentialStore
	cfg       config.EngineConfig

	log     logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	events  engine.EventPublisher
}

type Params struct {
	Runs        RunRepo
	Audit       engine.AuditStore
	NodeStore   engine.NodeStore
	States      engine.StateStore
	Registry    *runtime.Registry
	Credentials runtime.CredentialStore
	Config      config.EngineConfig

	Logger  logger.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Events  engine.EventPublisher
}

func New(p Params) *RunService {
	log := p.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &RunService{
		runs:      p.Runs,
		audit:     p.Audit,
		nodeStore: p.NodeStore,
		states:    p.States,
		registry:  p.Registry,
		creds:     p.Credentials,
		cfg:       p.Config,
		log:       log,
		metrics:   p.Metrics,
		tracer:    p.Tracer,
		events:    p.Events,
	}
}

// Launch creates a running run row and executes the workflow to a
// terminal state. The engine finalises the row; Launch returns the
// engine's error for the caller's logging.
func (s *RunService) Launch(ctx context.Context, wf *wfmodel.Workflow, initiatedBy string) error {
	run := model.NewRun(wf.ID, initiatedBy)
	if err := s.runs.Create(ctx, run); err != nil {
		return fmt.Errorf("create run row: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RunsStarted.WithLabelValues(initiatedBy).Inc()
	}
	s.log.Info("run launched", "run_id", run.ID, "workflow_id", wf.ID, "initiated_by", initiatedBy)

	eng := engine.New(engine.Params{
		RunID:       run.ID,
		Workflow:    wf,
		UserID:      wf.UserID,
		Config:      s.cfg,
		Registry:    s.registry,
		Runs:        s.runs,
		Audit:       s.audit,
		NodeStore:   s.nodeStore,
		States:      s.states,
		Credentials: s.creds,
		Logger:      s.log,
		Metrics:     s.metrics,
		Tracer:      s.tracer,
		Events:      s.events,
	})

	if _, err := eng.Execute(ctx); err != nil {
		return fmt.Errorf("run %s: %w", run.ID, err)
	}
	return nil
}
