package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
}

func (f *fakeLauncher) Launch(_ context.Context, wf *model.Workflow, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, wf.ID)
	return nil
}

type fakeSource struct {
	workflows []*model.Workflow
}

func (f *fakeSource) FindScheduled(context.Context) ([]*model.Workflow, error) {
	return f.workflows, nil
}

func testWorkflow(id, cronSpec string) *model.Workflow {
	return &model.Workflow{ID: id, UserID: "user-1", IsActive: true, ScheduleCron: cronSpec}
}

func TestScheduleAndList(t *testing.T) {
	s := New(&fakeLauncher{}, time.Minute, nil, nil, nil)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(context.Background(), testWorkflow("wf-1", "*/5 * * * *"), "*/5 * * * *"))
	require.NoError(t, s.Schedule(context.Background(), testWorkflow("wf-2", "0 9 * * *"), "0 9 * * *"))

	entries := s.List()
	require.Len(t, entries, 2)
	byID := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byID[e.WorkflowID] = e
	}
	assert.Equal(t, "*/5 * * * *", byID["wf-1"].Cron)
	assert.Equal(t, "user-1", byID["wf-1"].UserID)
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	s := New(&fakeLauncher{}, time.Minute, nil, nil, nil)
	defer s.Shutdown()

	err := s.Schedule(context.Background(), testWorkflow("wf-1", "not a cron"), "not a cron")
	require.Error(t, err)
	assert.Empty(t, s.List())
}

func TestScheduleReplacesExistingEntry(t *testing.T) {
	s := New(&fakeLauncher{}, time.Minute, nil, nil, nil)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(context.Background(), testWorkflow("wf-1", "*/5 * * * *"), "*/5 * * * *"))
	require.NoError(t, s.Schedule(context.Background(), testWorkflow("wf-1", "*/10 * * * *"), "*/10 * * * *"))

	entries := s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "*/10 * * * *", entries[0].Cron)
}

func TestUnschedule(t *testing.T) {
	s := New(&fakeLauncher{}, time.Minute, nil, nil, nil)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(context.Background(), testWorkflow("wf-1", "*/5 * * * *"), "*/5 * * * *"))
	s.Unschedule(context.Background(), "wf-1")
	assert.Empty(t, s.List())

	// Unknown IDs are a no-op.
	s.Unschedule(context.Background(), "wf-unknown")
}

func TestUpdateWithEmptyCronUnschedules(t *testing.T) {
	s := New(&fakeLauncher{}, time.Minute, nil, nil, nil)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(context.Background(), testWorkflow("wf-1", "*/5 * * * *"), "*/5 * * * *"))
	require.NoError(t, s.Update(context.Background(), testWorkflow("wf-1", ""), ""))
	assert.Empty(t, s.List())
}

func TestStartRegistersScheduledWorkflows(t *testing.T) {
	source := &fakeSource{workflows: []*model.Workflow{
		testWorkflow("wf-1", "*/5 * * * *"),
		testWorkflow("wf-broken", "bogus"),
		testWorkflow("wf-2", "0 9 * * *"),
	}}

	s := New(&fakeLauncher{}, time.Minute, nil, nil, nil)
	defer s.Shutdown()

	require.NoError(t, s.Start(context.Background(), source))

	entries := s.List()
	assert.Len(t, entries, 2, "the broken workflow is skipped, not fatal")
}
