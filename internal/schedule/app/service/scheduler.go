// Package service implements the cron-driven workflow scheduler.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tradeflow-hq/tradeflow/internal/platform/logger"
	"github.com/tradeflow-hq/tradeflow/internal/platform/metrics"
	"github.com/tradeflow-hq/tradeflow/internal/shared/events"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// RunLauncher starts one run of a workflow and blocks until it settles.
// Implemented by the run service; the scheduler fires it per cron tick.
type RunLauncher interface {
	Launch(ctx context.Context, wf *model.Workflow, initiatedBy string) error
}

// ScheduledSource lists the workflows to register on process start.
type ScheduledSource interface {
	FindScheduled(ctx context.Context) ([]*model.Workflow, error)
}

// EventPublisher emits scheduler lifecycle events. May be nil.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Entry describes one registered schedule.
type Entry struct {
	WorkflowID   string    `json:"workflowId"`
	UserID       string    `json:"userId"`
	Cron         string    `json:"cron"`
	NextFireTime time.Time `json:"nextFireTime"`
}

type registration struct {
	entryID  cron.EntryID
	userID   string
	cronSpec string
}

// Scheduler keeps the in-process cron registry, keyed by workflow ID.
type Scheduler struct {
	cron     *cron.Cron
	launcher RunLauncher
	watchdog time.Duration

	log     logger.Logger
	metrics *metrics.Metrics
	events  EventPublisher

	mu      sync.Mutex
	entries map[string]registration
}

// New creates a stopped scheduler; call Start to begin firing.
func New(launcher RunLauncher, watchdog time.Duration, log logger.Logger, m *metrics.Metrics, ev EventPublisher) *Scheduler {
	if watchdog <= 0 {
		watchdog = 10 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(),
		launcher: launcher,
		watchdog: watchdog,
		log:      log,
		metrics:  m,
		events:   ev,
		entries:  make(map[string]registration),
	}
}

// Start registers every active scheduled workflow and starts the cron
// loop. Individual registration failures are logged, not fatal: one
// broken workflow must not block the rest.
func (s *Scheduler) Start(ctx context.Context, source ScheduledSource) error {
	if source != nil {
		workflows, err := source.FindScheduled(ctx)
		if err != nil {
			return fmt.Errorf("load scheduled workflows: %w", err)
		}
		for _, wf := range workflows {
			if err := s.Schedule(ctx, wf, wf.ScheduleCron); err != nil {
				s.log.Error("skipping workflow with invalid schedule",
					"workflow_id", wf.ID, "cron", wf.ScheduleCron, "error", err)
			}
		}
	}
	s.cron.Start()
	return nil
}

// Schedule validates the cron spec and registers the workflow, replacing
// any existing entry.
func (s *Scheduler) Schedule(ctx context.Context, wf *model.Workflow, cronSpec string) error {
	schedule, err := cron.ParseStandard(cronSpec)
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", cronSpec, err)
	}
	next := schedule.Next(time.Now())
	if next.IsZero() || next.Before(time.Now()) {
		return fmt.Errorf("cron %q never fires in the future", cronSpec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[wf.ID]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.entries, wf.ID)
	}

	workflow := wf
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(workflow)
	}))
	s.entries[wf.ID] = registration{entryID: entryID, userID: wf.UserID, cronSpec: cronSpec}

	if s.metrics != nil {
		s.metrics.ScheduledWorkflows.Set(float64(len(s.entries)))
	}
	s.publish(ctx, wf, events.WorkflowScheduled)
	s.log.Info("workflow scheduled", "workflow_id", wf.ID, "cron", cronSpec, "next_fire", next)
	return nil
}

// Unschedule cancels and removes the workflow's entry. Unknown IDs are a
// no-op.
func (s *Scheduler) Unschedule(ctx context.Context, workflowID string) {
	s.mu.Lock()
	reg, ok := s.entries[workflowID]
	if ok {
		s.cron.Remove(reg.entryID)
		delete(s.entries, workflowID)
	}
	count := len(s.entries)
	s.mu.Unlock()

	if !ok {
		return
	}
	if s.metrics != nil {
		s.metrics.ScheduledWorkflows.Set(float64(count))
	}
	s.publish(ctx, &model.Workflow{ID: workflowID, UserID: reg.userID}, events.WorkflowUnscheduled)
	s.log.Info("workflow unscheduled", "workflow_id", workflowID)
}

// Update re-registers the workflow under a new cron spec; an empty spec
// unschedules it.
func (s *Scheduler) Update(ctx context.Context, wf *model.Workflow, cronSpec string) error {
	if cronSpec == "" {
		s.Unschedule(ctx, wf.ID)
		return nil
	}
	return s.Schedule(ctx, wf, cronSpec)
}

// List enumerates the registered schedules with their next fire times.
func (s *Scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for workflowID, reg := range s.entries {
		out = append(out, Entry{
			WorkflowID:   workflowID,
			UserID:       reg.userID,
			Cron:         reg.cronSpec,
			NextFireTime: s.cron.Entry(reg.entryID).Next,
		})
	}
	return out
}

// Shutdown cancels all entries and waits for in-flight fires to return.
func (s *Scheduler) Shutdown() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	s.entries = make(map[string]registration)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ScheduledWorkflows.Set(0)
	}
	s.log.Info("scheduler stopped")
}

// fire launches one run under the watchdog timeout.
func (s *Scheduler) fire(wf *model.Workflow) {
	if s.metrics != nil {
		s.metrics.ScheduleFires.WithLabelValues(wf.ID).Inc()
	}
	s.log.Info("schedule fired", "workflow_id", wf.ID)

	ctx, cancel := context.WithTimeout(context.Background(), s.watchdog)
	defer cancel()

	if err := s.launcher.Launch(ctx, wf, "scheduler"); err != nil {
		s.log.Error("scheduled run failed", "workflow_id", wf.ID, "error", err)
	}
}

func (s *Scheduler) publish(ctx context.Context, wf *model.Workflow, eventType string) {
	if s.events == nil {
		return
	}
	ev, err := events.NewEvent(wf.ID, "workflow", eventType, map[string]string{
		"workflowId": wf.ID,
		"userId":     wf.UserID,
	})
	if err != nil {
		s.log.Warn("encode scheduler event", "error", err)
		return
	}
	ev.UserID = wf.UserID
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish scheduler event", "error", err)
	}
}
