package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-hq/tradeflow/internal/workflow/domain/model"
)

func pricesOf(vs ...float64) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func TestIndicatorRSI(t *testing.T) {
	exec := NewIndicatorExecutor()

	// 15 rising prices with period 14 produce exactly one value; all
	// gains and no losses pins RSI at 100.
	rising := make([]float64, 15)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	node := &model.Node{
		ID:   "rsi-1",
		Type: "Indicator.RSI",
		Values: map[string]interface{}{
			"prices": pricesOf(rising...),
			"period": 14,
		},
	}

	res, err := exec.Execute(context.Background(), node, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "RSI", res.Data["indicator"])
	assert.Equal(t, 14, res.Data["period"])
	values := res.Data["values"].([]interface{})
	require.Len(t, values, 1)
	assert.Equal(t, 100.0, values[0])
}

func TestIndicatorRSIWilderSmoothing(t *testing.T) {
	exec := NewIndicatorExecutor()
	node := &model.Node{
		ID:   "rsi-2",
		Type: "Indicator",
		Values: map[string]interface{}{
			"indicator": "rsi",
			"prices":    pricesOf(1, 2, 1, 2),
			"period":    2,
		},
	}

	res, err := exec.Execute(context.Background(), node, nil, nil)
	require.NoError(t, err)
	values := res.Data["values"].([]interface{})
	require.Len(t, values, 2)
	assert.InDelta(t, 50.0, values[0].(float64), 1e-9)
	assert.InDelta(t, 75.0, values[1].(float64), 1e-9)
}

func TestIndicatorSMA(t *testing.T) {
	exec := NewIndicatorExecutor()
	node := &model.Node{
		ID:   "sma-1",
		Type: "Indicator.SMA",
		Values: map[string]interface{}{
			"prices": pricesOf(1, 2, 3, 4, 5),
			"period": 3,
		},
	}

	res, err := exec.Execute(context.Background(), node, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{2.0, 3.0, 4.0}, res.Data["values"])
}

func TestIndicatorEMA(t *testing.T) {
	exec := NewIndicatorExecutor()
	node := &model.Node{
		ID:   "ema-1",
		Type: "Indicator.EMA",
		Values: map[string]interface{}{
			"prices": pricesOf(1, 2, 3, 4, 5),
			"period": 3,
		},
	}

	res, err := exec.Execute(context.Background(), node, nil, nil)
	require.NoError(t, err)
	// Seeded with SMA(1,2,3)=2, then smoothed with k=0.5.
	assert.Equal(t, []interface{}{2.0, 3.0, 4.0}, res.Data["values"])
}

func TestIndicatorReadsPricesFromInput(t *testing.T) {
	exec := NewIndicatorExecutor()
	node := &model.Node{
		ID:     "sma-2",
		Type:   "Indicator.SMA",
		Values: map[string]interface{}{"period": 2},
	}
	input := map[string]interface{}{"prices": pricesOf(10, 20, 30)}

	res, err := exec.Execute(context.Background(), node, input, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{15.0, 25.0}, res.Data["values"])
}

func TestIndicatorErrors(t *testing.T) {
	exec := NewIndicatorExecutor()

	tests := []struct {
		name string
		node *model.Node
	}{
		{
			"too few prices for RSI",
			&model.Node{ID: "e1", Type: "Indicator.RSI",
				Values: map[string]interface{}{"prices": pricesOf(1, 2, 3), "period": 3}},
		},
		{
			"unknown indicator",
			&model.Node{ID: "e2", Type: "Indicator.MACD",
				Values: map[string]interface{}{"prices": pricesOf(1, 2, 3), "period": 2}},
		},
		{
			"missing price series",
			&model.Node{ID: "e3", Type: "Indicator.SMA",
				Values: map[string]interface{}{"period": 2}},
		},
		{
			"non-positive period",
			&model.Node{ID: "e4", Type: "Indicator.SMA",
				Values: map[string]interface{}{"prices": pricesOf(1, 2), "period": 0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.Execute(context.Background(), tt.node, nil, nil)
			assert.Error(t, err)
		})
	}
}
