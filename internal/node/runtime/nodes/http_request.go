package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPExecutor performs an outbound HTTP request configured by the node's
// values (method, url, headers, body). Network and 5xx failures are
// returned as errors so the engine's retry policy applies.
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, node *model.Node, input map[string]interface{}, ec *runtime.Context) (*runtime.Result, error) {
	params := node.Values
	if ec != nil && ec.ResolveParameters != nil {
		params = ec.ResolveParameters(node, input)
	}

	url := getString(params, "url", "")
	if url == "" {
		return nil, fmt.Errorf("http node has no url")
	}
	method := strings.ToUpper(getString(params, "method", http.MethodGet))

	var body io.Reader
	if raw, ok := params["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("request %s %s: status %d", method, url, resp.StatusCode)
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}
	return runtime.OK(map[string]interface{}{
		"status": resp.StatusCode,
		"body":   decoded,
	}), nil
}
