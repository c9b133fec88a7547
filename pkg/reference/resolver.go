// Package reference resolves {{ ... }} templates in node parameter values
// against the run's prior node outputs and the current input payload.
package reference

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Template patterns. Two forms are recognised:
//
//	{{ $json.<path> }}            resolves against the node's merged input
//	{{ $('<Name>').json.<path> }} resolves against the named node's output
var (
	templatePattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)
	nodeRefPattern  = regexp.MustCompile(`^\$\(\s*['"](.+?)['"]\s*\)\.json(.*)$`)
	jsonRefPattern  = regexp.MustCompile(`^\$json(.*)$`)
)

// Reserved parameter keys passed through untouched; they drive executor
// dispatch, not data flow.
var reservedKeys = map[string]bool{
	"credential_id": true,
	"operation":     true,
}

// LookupFunc returns the output of a prior node by reference name (node ID
// first, display name second).
type LookupFunc func(name string) (interface{}, bool)

// Resolver substitutes templates in parameter values.
type Resolver struct {
	input  map[string]interface{}
	lookup LookupFunc
}

// NewResolver creates a resolver over the given merged input payload and
// prior-output lookup.
func NewResolver(input map[string]interface{}, lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = func(string) (interface{}, bool) { return nil, false }
	}
	return &Resolver{input: input, lookup: lookup}
}

// ResolveValues returns a copy of values with every template resolved,
// recursing into nested maps and arrays. Reserved dispatch keys are
// copied verbatim.
func (r *Resolver) ResolveValues(values map[string]interface{}) map[string]interface{} {
	if values == nil {
		return nil
	}
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if reservedKeys[k] {
			out[k] = v
			continue
		}
		out[k] = r.resolveValue(v)
	}
	return out
}

func (r *Resolver) resolveValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return r.ResolveString(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = r.resolveValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = r.resolveValue(inner)
		}
		return out
	default:
		return v
	}
}

// ResolveString resolves templates inside s. When the entire string is a
// single template the typed value is returned; otherwise matches are
// interpolated textually (objects and arrays as their JSON encoding).
// A template whose path cannot be resolved is left literally in place.
func (r *Resolver) ResolveString(s string) interface{} {
	if !strings.Contains(s, "{{") {
		return s
	}

	trimmed := strings.TrimSpace(s)
	if m := templatePattern.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		if val, ok := r.evaluate(m[1]); ok {
			return val
		}
		return s
	}

	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))
		val, ok := r.evaluate(inner)
		if !ok {
			return match
		}
		return toText(val)
	})
}

// evaluate resolves a single template expression. The second return is
// false when the path is missing, so the caller keeps the placeholder.
func (r *Resolver) evaluate(expr string) (interface{}, bool) {
	if m := nodeRefPattern.FindStringSubmatch(expr); m != nil {
		output, ok := r.lookup(m[1])
		if !ok {
			return nil, false
		}
		return lookupPath(unwrap(output), strings.TrimPrefix(m[2], "."))
	}

	if m := jsonRefPattern.FindStringSubmatch(expr); m != nil {
		return lookupPath(r.input, strings.TrimPrefix(m[1], "."))
	}

	return nil, false
}

// unwrap removes one {json: ...} wrapper level when present.
func unwrap(output interface{}) interface{} {
	if m, ok := output.(map[string]interface{}); ok {
		if inner, ok := m["json"]; ok {
			return inner
		}
	}
	return output
}

func toText(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
