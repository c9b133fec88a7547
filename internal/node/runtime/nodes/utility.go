package nodes

import (
	"context"
	"fmt"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// WebhookTrigger dispatches an event to the user's registered webhooks.
// Implemented by the webhook delivery service.
type WebhookTrigger interface {
	Trigger(ctx context.Context, userID, event string, data map[string]interface{}) error
}

// UtilityExecutor handles trigger sources, pass-through display nodes and
// the webhook/httprequest legacy types.
type UtilityExecutor struct {
	http     runtime.Executor
	webhooks WebhookTrigger
}

func NewUtilityExecutor(httpExec runtime.Executor, webhooks WebhookTrigger) *UtilityExecutor {
	return &UtilityExecutor{http: httpExec, webhooks: webhooks}
}

func (e *UtilityExecutor) Execute(ctx context.Context, node *model.Node, input map[string]interface{}, ec *runtime.Context) (*runtime.Result, error) {
	switch node.Type {
	case model.TypeScheduler, "trigger":
		// Trigger sources emit their resolved values merged over whatever
		// payload the run was seeded with.
		return e.passthrough(node, input, ec), nil
	case "Visualize":
		return runtime.OK(input), nil
	case "webhook":
		return e.executeWebhook(ctx, node, input, ec)
	case "httprequest":
		if e.http == nil {
			return nil, fmt.Errorf("http executor not configured")
		}
		return e.http.Execute(ctx, node, input, ec)
	default:
		return e.passthrough(node, input, ec), nil
	}
}

func (e *UtilityExecutor) passthrough(node *model.Node, input map[string]interface{}, ec *runtime.Context) *runtime.Result {
	params := node.Values
	if ec != nil && ec.ResolveParameters != nil {
		params = ec.ResolveParameters(node, input)
	}

	out := make(map[string]interface{}, len(input)+len(params))
	for k, v := range input {
		out[k] = v
	}
	for k, v := range params {
		if k == "label" {
			continue
		}
		out[k] = v
	}
	return runtime.OK(out)
}

func (e *UtilityExecutor) executeWebhook(ctx context.Context, node *model.Node, input map[string]interface{}, ec *runtime.Context) (*runtime.Result, error) {
	if e.webhooks == nil {
		return nil, fmt.Errorf("webhook dispatcher not configured")
	}

	params := node.Values
	if ec != nil && ec.ResolveParameters != nil {
		params = ec.ResolveParameters(node, input)
	}
	event := getString(params, "event", "workflow.event")

	data := input
	if payload, ok := params["data"].(map[string]interface{}); ok {
		data = payload
	}

	userID := ""
	if ec != nil {
		userID = ec.UserID
	}
	if err := e.webhooks.Trigger(ctx, userID, event, data); err != nil {
		return nil, fmt.Errorf("trigger webhooks for event %q: %w", event, err)
	}
	return runtime.OK(map[string]interface{}{"event": event, "delivered": true}), nil
}
