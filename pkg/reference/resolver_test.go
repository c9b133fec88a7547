package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLookup(outputs map[string]interface{}) LookupFunc {
	return func(name string) (interface{}, bool) {
		v, ok := outputs[name]
		return v, ok
	}
}

func TestResolveStringWholeTemplateKeepsType(t *testing.T) {
	r := NewResolver(map[string]interface{}{
		"prices": []interface{}{1.0, 2.0, 3.0},
		"count":  3.0,
		"flag":   true,
	}, nil)

	assert.Equal(t, []interface{}{1.0, 2.0, 3.0}, r.ResolveString("{{ $json.prices }}"))
	assert.Equal(t, 3.0, r.ResolveString("{{ $json.count }}"))
	assert.Equal(t, true, r.ResolveString("{{ $json.flag }}"))
}

func TestResolveStringInterpolatesText(t *testing.T) {
	r := NewResolver(map[string]interface{}{
		"symbol": "AAPL",
		"price":  187.5,
		"order":  map[string]interface{}{"qty": 10.0},
	}, nil)

	assert.Equal(t, "buy AAPL at 187.5", r.ResolveString("buy {{ $json.symbol }} at {{ $json.price }}"))
	// Objects interpolate as JSON.
	assert.Equal(t, `order: {"qty":10}`, r.ResolveString(`order: {{ $json.order }}`))
}

func TestResolveStringMissingPathKeepsPlaceholder(t *testing.T) {
	r := NewResolver(map[string]interface{}{"a": 1.0}, nil)

	assert.Equal(t, "{{ $json.missing }}", r.ResolveString("{{ $json.missing }}"))
	assert.Equal(t, "x={{ $json.missing }}", r.ResolveString("x={{ $json.missing }}"))
}

func TestResolveNodeReference(t *testing.T) {
	lookup := testLookup(map[string]interface{}{
		"Fetch": map[string]interface{}{
			"candles": []interface{}{
				map[string]interface{}{"close": 10.0},
				map[string]interface{}{"close": 20.0},
			},
		},
	})
	r := NewResolver(nil, lookup)

	assert.Equal(t, 20.0, r.ResolveString("{{ $('Fetch').json.candles[-1].close }}"))
	assert.Equal(t, 10.0, r.ResolveString(`{{ $("Fetch").json.candles[0].close }}`))
}

func TestResolveNodeReferenceUnwrapsJSONWrapper(t *testing.T) {
	lookup := testLookup(map[string]interface{}{
		"A": map[string]interface{}{
			"json": map[string]interface{}{"x": 5.0},
		},
	})
	r := NewResolver(nil, lookup)

	assert.Equal(t, 5.0, r.ResolveString("{{ $('A').json.x }}"))
}

func TestResolveValuesDeepAndReserved(t *testing.T) {
	r := NewResolver(map[string]interface{}{"v": 7.0}, nil)

	resolved := r.ResolveValues(map[string]interface{}{
		"credential_id": "{{ $json.v }}",
		"operation":     "{{ $json.v }}",
		"nested": map[string]interface{}{
			"list": []interface{}{"{{ $json.v }}", "static"},
		},
	})

	// Dispatch keys pass through untouched.
	assert.Equal(t, "{{ $json.v }}", resolved["credential_id"])
	assert.Equal(t, "{{ $json.v }}", resolved["operation"])

	nested := resolved["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	assert.Equal(t, 7.0, list[0])
	assert.Equal(t, "static", list[1])
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewResolver(map[string]interface{}{"v": 7.0}, nil)

	assert.Equal(t, "plain text", r.ResolveString("plain text"))

	once := r.ResolveString("value {{ $json.v }}")
	require.IsType(t, "", once)
	assert.Equal(t, once, r.ResolveString(once.(string)))
}

func TestParsePathQuotedKeysAndIndices(t *testing.T) {
	data := map[string]interface{}{
		"a.b": map[string]interface{}{
			"list": []interface{}{"x", "y", "z"},
		},
	}

	v, ok := lookupPath(data, `["a.b"].list[1]`)
	require.True(t, ok)
	assert.Equal(t, "y", v)

	v, ok = lookupPath(data, `['a.b'].list[-1]`)
	require.True(t, ok)
	assert.Equal(t, "z", v)

	_, ok = lookupPath(data, `["a.b"].list[3]`)
	assert.False(t, ok)
}
