package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

func schedulerWorkflow(values map[string]interface{}) *model.Workflow {
	return &model.Workflow{
		ID: "wf-1",
		Nodes: []model.Node{
			{ID: "S", Type: model.TypeScheduler, Values: values},
		},
	}
}

func TestDeriveCron(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		want   string
	}{
		{
			name:   "every N minutes",
			values: map[string]interface{}{"mode": "minutes", "count": 5},
			want:   "*/5 * * * *",
		},
		{
			name:   "every N hours at minute",
			values: map[string]interface{}{"mode": "hours", "count": 2, "minute": 15},
			want:   "15 */2 * * *",
		},
		{
			name:   "daily at time via interval alias",
			values: map[string]interface{}{"interval": "days", "count": 1, "hour": 9, "minute": 30},
			want:   "30 9 */1 * *",
		},
		{
			name:   "weekly on listed days",
			values: map[string]interface{}{"mode": "weeks", "count": 1, "hour": 8, "minute": 0, "dow": []interface{}{1.0, 3.0, 5.0}},
			want:   "0 8 * * 1,3,5",
		},
		{
			name:   "monthly on day of month",
			values: map[string]interface{}{"mode": "months", "count": 3, "hour": 6, "minute": 45, "dom": 15},
			want:   "45 6 15 */3 *",
		},
		{
			name:   "cron passthrough",
			values: map[string]interface{}{"mode": "cron", "cron": "0 0 * * 0"},
			want:   "0 0 * * 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveCron(schedulerWorkflow(tt.values))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveCronErrors(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{"every N weeks unsupported", map[string]interface{}{"interval": "weeks", "count": 2}},
		{"unknown mode", map[string]interface{}{"mode": "fortnightly"}},
		{"zero count", map[string]interface{}{"mode": "minutes", "count": 0}},
		{"hour out of range", map[string]interface{}{"mode": "days", "count": 1, "hour": 24}},
		{"cron mode without expression", map[string]interface{}{"mode": "cron"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveCron(schedulerWorkflow(tt.values))
			assert.Error(t, err)
		})
	}
}

func TestDeriveCronSchedulerNodeCardinality(t *testing.T) {
	_, err := DeriveCron(&model.Workflow{ID: "wf-none"})
	assert.Error(t, err, "no Scheduler node")

	_, err = DeriveCron(&model.Workflow{
		ID: "wf-two",
		Nodes: []model.Node{
			{ID: "S1", Type: model.TypeScheduler},
			{ID: "S2", Type: model.TypeScheduler},
		},
	})
	assert.Error(t, err, "multiple Scheduler nodes")
}
