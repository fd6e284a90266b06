package techpack

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// setPath sets value at a dotted path inside doc. Missing objects along the
// path are created; numeric segments index arrays, and an index equal to the
// array length appends.
func setPath(doc json.RawMessage, path string, value json.RawMessage) (json.RawMessage, error) {
	var root any
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &root); err != nil {
			return nil, fmt.Errorf("decode stored analysis: %w", err)
		}
	}

	var v any
	if len(value) > 0 {
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("%w: value is not valid JSON", ErrInvalidJSON)
		}
	}

	root, err := setIn(root, strings.Split(path, "."), v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(root)
}

func setIn(node any, segs []string, v any) (any, error) {
	if len(segs) == 0 {
		return v, nil
	}
	key := segs[0]
	if key == "" {
		return nil, fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}

	switch n := node.(type) {
	case map[string]any:
		child, err := setIn(n[key], segs[1:], v)
		if err != nil {
			return nil, err
		}
		n[key] = child
		return n, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i > len(n) {
			return nil, fmt.Errorf("%w: index %q out of range", ErrInvalidPath, key)
		}
		if i == len(n) {
			n = append(n, nil)
		}
		child, err := setIn(n[i], segs[1:], v)
		if err != nil {
			return nil, err
		}
		n[i] = child
		return n, nil
	case nil:
		child, err := setIn(nil, segs[1:], v)
		if err != nil {
			return nil, err
		}
		return map[string]any{key: child}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not an object or array", ErrInvalidPath, key)
	}
}
