package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/tradeflow-hq/tradeflow/internal/node/runtime"
	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

// IndicatorExecutor computes technical indicators over a price series.
// The indicator is picked from values.indicator, falling back to the
// node type suffix ("Indicator.RSI" → "RSI").
type IndicatorExecutor struct{}

func NewIndicatorExecutor() *IndicatorExecutor {
	return &IndicatorExecutor{}
}

func (e *IndicatorExecutor) Execute(ctx context.Context, node *model.Node, input map[string]interface{}, ec *runtime.Context) (*runtime.Result, error) {
	params := node.Values
	if ec != nil && ec.ResolveParameters != nil {
		params = ec.ResolveParameters(node, input)
	}

	name := getString(params, "indicator", "")
	if name == "" {
		if i := strings.LastIndex(node.Type, "."); i >= 0 {
			name = node.Type[i+1:]
		} else {
			name = node.Type
		}
	}
	name = strings.ToUpper(name)

	prices, err := e.prices(params, input)
	if err != nil {
		return nil, err
	}
	period := getInt(params, "period", 14)
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	minLen := period
	if name == "RSI" {
		minLen = period + 1
	}
	if len(prices) < minLen {
		return nil, fmt.Errorf("%s needs at least %d prices, got %d", name, minLen, len(prices))
	}

	var values []float64
	switch name {
	case "RSI":
		values = rsi(prices, period)
	case "SMA":
		values = sma(prices, period)
	case "EMA":
		values = ema(prices, period)
	default:
		return nil, fmt.Errorf("unknown indicator %q", name)
	}

	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return runtime.OK(map[string]interface{}{
		"indicator": name,
		"period":    period,
		"values":    out,
	}), nil
}

// prices reads the series from values.prices, falling back to
// input.prices when the node is wired inline after a data source.
func (e *IndicatorExecutor) prices(params, input map[string]interface{}) ([]float64, error) {
	if raw, ok := params["prices"]; ok && raw != nil {
		return toFloatSlice(raw)
	}
	if raw, ok := input["prices"]; ok && raw != nil {
		return toFloatSlice(raw)
	}
	return nil, fmt.Errorf("no price series in values.prices or input.prices")
}

// rsi is Wilder's relative strength index: one value per price after the
// initial period window.
func rsi(prices []float64, period int) []float64 {
	gains := make([]float64, len(prices)-1)
	losses := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(prices)-period)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// sma is the simple moving average: one value per full window.
func sma(prices []float64, period int) []float64 {
	out := make([]float64, 0, len(prices)-period+1)
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// ema is the exponential moving average seeded with the SMA of the first
// window.
func ema(prices []float64, period int) []float64 {
	var seed float64
	for i := 0; i < period; i++ {
		seed += prices[i]
	}
	seed /= float64(period)

	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(prices)-period+1)
	out = append(out, seed)
	prev := seed
	for i := period; i < len(prices); i++ {
		prev = (prices[i]-prev)*k + prev
		out = append(out, prev)
	}
	return out
}
