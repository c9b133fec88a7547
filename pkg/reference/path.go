package reference

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a parsed path: a map key or an array index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits dot-notation with bracket indexing into segments.
// Supported forms: a.b.c, a[0].b, a[-1], a["quoted.key"], ['k'][2].
func parsePath(path string) ([]segment, error) {
	var segs []segment
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end == -1 {
				return nil, fmt.Errorf("unterminated bracket in path %q", path)
			}
			inner := path[i+1 : i+end]
			i += end + 1
			if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
				segs = append(segs, segment{key: inner[1 : len(inner)-1]})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q in path %q", inner, path)
			}
			segs = append(segs, segment{index: idx, isIndex: true})
		default:
			end := strings.IndexAny(path[i:], ".[")
			if end == -1 {
				segs = append(segs, segment{key: path[i:]})
				i = len(path)
			} else {
				segs = append(segs, segment{key: path[i : i+end]})
				i += end
			}
		}
	}
	return segs, nil
}

// lookupPath traverses data along the parsed path. Negative indices count
// from the end of the array (-1 = last).
func lookupPath(data interface{}, path string) (interface{}, bool) {
	if strings.TrimSpace(path) == "" {
		return data, true
	}
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	current := data
	for _, s := range segs {
		if s.isIndex {
			arr, ok := current.([]interface{})
			if !ok {
				return nil, false
			}
			idx := s.index
			if idx < 0 {
				idx += len(arr)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
			continue
		}

		switch m := current.(type) {
		case map[string]interface{}:
			v, ok := m[s.key]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]string:
			v, ok := m[s.key]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}
