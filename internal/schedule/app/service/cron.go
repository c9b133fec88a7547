package service

import (
	"fmt"
	"strings"

	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// DeriveCron reads the workflow's single Scheduler node and emits a
// 5-field cron expression. Errors are returned to the caller; they never
// surface as run failures.
func DeriveCron(wf *model.Workflow) (string, error) {
	schedulers := wf.SchedulerNodes()
	switch len(schedulers) {
	case 0:
		return "", fmt.Errorf("workflow %s has no Scheduler node", wf.ID)
	case 1:
	default:
		return "", fmt.Errorf("workflow %s has %d Scheduler nodes, want exactly one", wf.ID, len(schedulers))
	}

	values := schedulers[0].Values
	mode := strVal(values, "mode")
	if mode == "" {
		mode = strVal(values, "interval")
	}

	count := intVal(values, "count", 1)
	hour := intVal(values, "hour", 0)
	minute := intVal(values, "minute", 0)
	dom := intVal(values, "dom", 1)

	if count < 1 {
		return "", fmt.Errorf("schedule count must be positive, got %d", count)
	}
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("schedule hour out of range: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return "", fmt.Errorf("schedule minute out of range: %d", minute)
	}

	switch mode {
	case "minutes":
		return fmt.Sprintf("*/%d * * * *", count), nil
	case "hours":
		return fmt.Sprintf("%d */%d * * *", minute, count), nil
	case "days", "daily":
		return fmt.Sprintf("%d %d */%d * *", minute, hour, count), nil
	case "weeks", "weekly":
		// Cron has no every-N-weeks notion; only weekly on listed days.
		if count != 1 {
			return "", fmt.Errorf("cron cannot express every %d weeks; only weekly (count=1) is supported", count)
		}
		dow, err := daysOfWeek(values)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * %s", minute, hour, dow), nil
	case "months", "monthly":
		if dom < 1 || dom > 31 {
			return "", fmt.Errorf("schedule day-of-month out of range: %d", dom)
		}
		return fmt.Sprintf("%d %d %d */%d *", minute, hour, dom, count), nil
	case "cron":
		expr := strVal(values, "cron")
		if expr == "" {
			return "", fmt.Errorf("cron mode needs a cron expression in values.cron")
		}
		return expr, nil
	default:
		return "", fmt.Errorf("unknown schedule mode %q", mode)
	}
}

func daysOfWeek(values map[string]interface{}) (string, error) {
	raw, ok := values["dow"].([]interface{})
	if !ok || len(raw) == 0 {
		return "0", nil
	}
	parts := make([]string, len(raw))
	for i, d := range raw {
		n := -1
		switch v := d.(type) {
		case float64:
			n = int(v)
		case int:
			n = v
		}
		if n < 0 || n > 6 {
			return "", fmt.Errorf("day-of-week out of range: %v", d)
		}
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ","), nil
}

func strVal(values map[string]interface{}, key string) string {
	s, _ := values[key].(string)
	return s
}

func intVal(values map[string]interface{}, key string, fallback int) int {
	switch v := values[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
