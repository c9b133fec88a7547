package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// ControlFlowExecutor evaluates branching conditions and the in-graph
// data-shaping primitives (EditFields, Math, Transform). Loop nodes are
// driven by the engine itself and never reach this executor.
type ControlFlowExecutor struct{}

func NewControlFlowExecutor() *ControlFlowExecutor {
	return &ControlFlowExecutor{}
}

func (e *ControlFlowExecutor) Execute(ctx context.Context, node *model.Node, input map[string]interface{}, ec *runtime.Context) (*runtime.Result, error) {
	params := node.Values
	if ec != nil && ec.ResolveParameters != nil {
		params = ec.ResolveParameters(node, input)
	}

	switch node.Type {
	case model.TypeIf:
		return e.executeIf(params)
	case model.TypeSwitch:
		return e.executeSwitch(params)
	case "EditFields":
		return e.executeEditFields(params, input)
	case "Math":
		return e.executeMath(params)
	case "Transform":
		return e.executeTransform(params)
	default:
		return nil, fmt.Errorf("unknown control-flow node type %q", node.Type)
	}
}

// executeIf evaluates values.conditions joined by values.logicalOp and
// emits the outcome under both the boolean handle key and "result".
func (e *ControlFlowExecutor) executeIf(params map[string]interface{}) (*runtime.Result, error) {
	raw, _ := params["conditions"].([]interface{})
	if len(raw) == 0 {
		return nil, fmt.Errorf("If node has no conditions")
	}
	logicalOp := strings.ToUpper(getString(params, "logicalOp", "AND"))

	outcome := logicalOp != "OR"
	for i, c := range raw {
		cond, ok := c.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("condition %d is not an object", i)
		}
		matched, err := evaluateCondition(cond)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		if logicalOp == "OR" {
			outcome = outcome || matched
		} else {
			outcome = outcome && matched
		}
	}

	if outcome {
		return runtime.OK(map[string]interface{}{"result": model.HandleTrue, "true": true}), nil
	}
	return runtime.OK(map[string]interface{}{"result": model.HandleFalse, "false": true}), nil
}

func evaluateCondition(cond map[string]interface{}) (bool, error) {
	left := cond["left"]
	right := cond["right"]
	op := getString(cond, "operator", "==")

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case "==", "equals":
			return lf == rf, nil
		case "!=", "notEquals":
			return lf != rf, nil
		}
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==", "equals":
		return ls == rs, nil
	case "!=", "notEquals":
		return ls != rs, nil
	case "contains":
		return strings.Contains(ls, rs), nil
	case "startsWith":
		return strings.HasPrefix(ls, rs), nil
	case "endsWith":
		return strings.HasSuffix(ls, rs), nil
	case ">", ">=", "<", "<=":
		return false, fmt.Errorf("operator %q needs numeric operands, got %q and %q", op, ls, rs)
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// executeSwitch matches values.value against values.cases and emits the
// matching case's handle, or "default".
func (e *ControlFlowExecutor) executeSwitch(params map[string]interface{}) (*runtime.Result, error) {
	value := fmt.Sprintf("%v", params["value"])
	cases, _ := params["cases"].([]interface{})

	for i, c := range cases {
		entry, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", entry["when"]) == value {
			handle := getString(entry, "handle", fmt.Sprintf("case%d", i+1))
			return runtime.OK(map[string]interface{}{"result": handle, "value": params["value"]}), nil
		}
	}
	return runtime.OK(map[string]interface{}{"result": model.HandleDefault, "value": params["value"]}), nil
}

// executeEditFields overlays the configured fields onto the input payload.
func (e *ControlFlowExecutor) executeEditFields(params map[string]interface{}, input map[string]interface{}) (*runtime.Result, error) {
	out := make(map[string]interface{}, len(input))
	for k, v := range input {
		out[k] = v
	}

	switch fields := params["fields"].(type) {
	case map[string]interface{}:
		for k, v := range fields {
			out[k] = v
		}
	case []interface{}:
		for _, f := range fields {
			entry, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			name := getString(entry, "name", "")
			if name == "" {
				continue
			}
			out[name] = entry["value"]
		}
	}
	return runtime.OK(out), nil
}

func (e *ControlFlowExecutor) executeMath(params map[string]interface{}) (*runtime.Result, error) {
	a, aok := toFloat(params["a"])
	b, bok := toFloat(params["b"])
	if !aok || !bok {
		return nil, fmt.Errorf("Math node needs numeric a and b, got %v and %v", params["a"], params["b"])
	}

	op := getString(params, "operation", "add")
	var result float64
	switch op {
	case "add", "+":
		result = a + b
	case "subtract", "-":
		result = a - b
	case "multiply", "*":
		result = a * b
	case "divide", "/":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = a / b
	default:
		return nil, fmt.Errorf("unknown math operation %q", op)
	}
	return runtime.OK(map[string]interface{}{"result": result}), nil
}

// executeTransform emits the resolved values as the node output.
func (e *ControlFlowExecutor) executeTransform(params map[string]interface{}) (*runtime.Result, error) {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == "label" {
			continue
		}
		out[k] = v
	}
	return runtime.OK(out), nil
}
