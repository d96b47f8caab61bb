// Package tree manipulates JSON value trees (map[string]any, []any, float64, string, bool, nil).
//
// Trees are treated as immutable: every mutating helper returns a new root and
// shares untouched branches with the old one.
package tree

import (
	"encoding/json"
	"strings"
)

// Sep separates path segments.
const Sep = "/"

// Join builds a path from segments.
func Join(segs ...string) string { return strings.Join(segs, Sep) }

// Get returns the node at segs, or nil.
func Get(v any, segs []string) any {
	for _, s := range segs {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[s]
	}
	return v
}

// Set returns a copy of v with val placed at segs. A nil val deletes the node,
// and maps left empty are pruned. A non-map node on the way is replaced by a map.
func Set(v any, segs []string, val any) any {
	if len(segs) == 0 {
		return val
	}
	m, _ := v.(map[string]any)
	out := make(map[string]any, len(m)+1)
	for k, x := range m {
		out[k] = x
	}
	child := Set(out[segs[0]], segs[1:], val)
	if child == nil {
		delete(out, segs[0])
	} else {
		out[segs[0]] = child
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Clone deep-copies maps and slices.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = Clone(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = Clone(x)
		}
		return out
	default:
		return v
	}
}

// Normalize converts any JSON-marshalable value (structs included) into a plain
// tree, dropping null members and empty maps. The result is nil for "nothing".
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return prune(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			if p := prune(x); p == nil {
				delete(t, k)
			} else {
				t[k] = p
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = prune(x)
		}
		return t
	default:
		return v
	}
}

// Decode maps a tree onto out. A nil tree leaves out untouched.
func Decode(v any, out any) error {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Explode splits the value written at prefix into documents keyed by their
// first depth segments. Scalars above depth become leaf documents.
func Explode(prefix []string, v any, depth int) map[string]any {
	out := make(map[string]any)
	explode(prefix, v, depth, out)
	return out
}

func explode(prefix []string, v any, depth int, out map[string]any) {
	if v == nil {
		return
	}
	if len(prefix) >= depth {
		out[Join(prefix...)] = v
		return
	}
	m, ok := v.(map[string]any)
	if !ok {
		out[Join(prefix...)] = v
		return
	}
	for k, child := range m {
		next := make([]string, len(prefix)+1)
		copy(next, prefix)
		next[len(prefix)] = k
		explode(next, child, depth, out)
	}
}
