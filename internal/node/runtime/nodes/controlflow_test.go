package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

func ifNode(conditions []interface{}, logicalOp string) *model.Node {
	return &model.Node{
		ID:   "if-1",
		Type: model.TypeIf,
		Values: map[string]interface{}{
			"conditions": conditions,
			"logicalOp":  logicalOp,
		},
	}
}

func cond(left interface{}, op string, right interface{}) map[string]interface{} {
	return map[string]interface{}{"left": left, "operator": op, "right": right}
}

func TestIfConditions(t *testing.T) {
	exec := NewControlFlowExecutor()

	tests := []struct {
		name       string
		conditions []interface{}
		logicalOp  string
		want       string
	}{
		{"numeric greater", []interface{}{cond(5.0, ">", "3")}, "AND", "true"},
		{"numeric less fails", []interface{}{cond(2.0, ">", "3")}, "AND", "false"},
		{"string equals", []interface{}{cond("buy", "==", "buy")}, "AND", "true"},
		{"contains", []interface{}{cond("AAPL,MSFT", "contains", "MSFT")}, "AND", "true"},
		{"and needs all", []interface{}{cond(5.0, ">", 3.0), cond(1.0, ">", 3.0)}, "AND", "false"},
		{"or needs one", []interface{}{cond(5.0, ">", 3.0), cond(1.0, ">", 3.0)}, "OR", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := exec.Execute(context.Background(), ifNode(tt.conditions, tt.logicalOp), nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Data["result"])
		})
	}
}

func TestIfRejectsBadInput(t *testing.T) {
	exec := NewControlFlowExecutor()

	_, err := exec.Execute(context.Background(), ifNode(nil, "AND"), nil, nil)
	assert.Error(t, err, "no conditions")

	_, err = exec.Execute(context.Background(),
		ifNode([]interface{}{cond("abc", ">", "def")}, "AND"), nil, nil)
	assert.Error(t, err, "ordering operator on strings")
}

func TestSwitchSelectsCase(t *testing.T) {
	exec := NewControlFlowExecutor()
	node := &model.Node{
		ID:   "switch-1",
		Type: model.TypeSwitch,
		Values: map[string]interface{}{
			"value": "sell",
			"cases": []interface{}{
				map[string]interface{}{"when": "buy", "handle": "case1"},
				map[string]interface{}{"when": "sell", "handle": "case2"},
			},
		},
	}

	res, err := exec.Execute(context.Background(), node, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "case2", res.Data["result"])

	node.Values["value"] = "hold"
	res, err = exec.Execute(context.Background(), node, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.HandleDefault, res.Data["result"])
}

func TestEditFieldsOverlaysInput(t *testing.T) {
	exec := NewControlFlowExecutor()
	node := &model.Node{
		ID:   "edit-1",
		Type: "EditFields",
		Values: map[string]interface{}{
			"fields": map[string]interface{}{"side": "buy", "qty": 10},
		},
	}

	res, err := exec.Execute(context.Background(), node,
		map[string]interface{}{"symbol": "AAPL", "qty": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Data["symbol"])
	assert.Equal(t, "buy", res.Data["side"])
	assert.Equal(t, 10, res.Data["qty"], "configured fields override input")
}

func TestMathOperations(t *testing.T) {
	exec := NewControlFlowExecutor()

	tests := []struct {
		op   string
		want float64
	}{
		{"add", 12}, {"subtract", 8}, {"multiply", 20}, {"divide", 5},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			node := &model.Node{ID: "math-1", Type: "Math",
				Values: map[string]interface{}{"operation": tt.op, "a": 10.0, "b": 2.0}}
			res, err := exec.Execute(context.Background(), node, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Data["result"])
		})
	}

	node := &model.Node{ID: "math-2", Type: "Math",
		Values: map[string]interface{}{"operation": "divide", "a": 1.0, "b": 0.0}}
	_, err := exec.Execute(context.Background(), node, nil, nil)
	assert.Error(t, err, "division by zero")
}

func TestTransformEmitsValues(t *testing.T) {
	exec := NewControlFlowExecutor()
	node := &model.Node{ID: "t-1", Type: "Transform",
		Values: map[string]interface{}{"value": "yes", "label": "My Transform"}}

	res, err := exec.Execute(context.Background(), node, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", res.Data["value"])
	assert.NotContains(t, res.Data, "label")
}
