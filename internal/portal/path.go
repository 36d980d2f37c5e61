package portal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/marcus/portal/internal/color"
)

var (
	// ErrInvalidPath is returned for empty path segments or array indexes
	// past the end of a list.
	ErrInvalidPath = errors.New("invalid field path")
	// ErrInvalidColor is returned when a color field is set to a value that
	// is not a color.
	ErrInvalidColor = errors.New("invalid color value")
	// ErrInvalidTransparency is returned when a transparency field is set
	// to a value that is not a number.
	ErrInvalidTransparency = errors.New("invalid transparency value")
	// ErrInvalidValue is returned when a value does not fit the field it
	// is written to, such as a number for a title or a string for a link.
	ErrInvalidValue = errors.New("invalid value for field")
)

// SplitPath splits a dotted field path. "roles" is accepted for "links".
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	if segs[0] == "roles" {
		segs[0] = "links"
	}
	return segs, nil
}

// With returns a copy of c with the dotted path set to value. A nil value
// removes the field. Values under branding.colors are normalized and
// rejected with ErrInvalidColor when they are not colors; values under
// branding.transparency are clamped. A value the schema cannot hold at path
// is rejected with ErrInvalidValue.
func (c Config) With(path string, value any) (Config, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return Config{}, err
	}
	value, err = normalizeFieldValue(segs, value)
	if err != nil {
		return Config{}, err
	}

	tree, err := c.tree()
	if err != nil {
		return Config{}, err
	}
	updated, err := setPath(tree, segs, value)
	if err != nil {
		return Config{}, fmt.Errorf("set %s: %w", path, err)
	}
	data, err := json.Marshal(updated)
	if err != nil {
		return Config{}, fmt.Errorf("set %s: %w", path, err)
	}
	out, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	if value != nil {
		if err := out.holds(path, value); err != nil {
			return Config{}, err
		}
	}
	return out, nil
}

// holds checks that the value at path still carries everything in want
// after a round trip through the schema. Fields the schema adds (empty
// link fields) are allowed; anything dropped or changed is not.
func (c Config) holds(path string, want any) error {
	wantData, err := json.Marshal(want)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, path, err)
	}
	got, ok := c.Lookup(path)
	if !ok {
		return fmt.Errorf("%w: %s=%s", ErrInvalidValue, path, wantData)
	}
	w, err1 := decodeTree(wantData)
	g, err2 := decodeTree(got)
	if err1 != nil || err2 != nil || !subsumes(w, g) {
		return fmt.Errorf("%w: %s=%s", ErrInvalidValue, path, wantData)
	}
	return nil
}

func decodeTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	err := dec.Decode(&v)
	return v, err
}

// subsumes reports whether got contains want. Nulls inside want count as
// absent.
func subsumes(want, got any) bool {
	switch w := want.(type) {
	case nil:
		return true
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			if wv == nil {
				continue
			}
			gv, ok := g[k]
			if !ok || !subsumes(wv, gv) {
				return false
			}
		}
		return true
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !subsumes(w[i], g[i]) {
				return false
			}
		}
		return true
	case json.Number:
		g, ok := got.(json.Number)
		if !ok {
			return false
		}
		wf, err1 := w.Float64()
		gf, err2 := g.Float64()
		return err1 == nil && err2 == nil && wf == gf
	default:
		return want == got
	}
}

// Lookup returns the JSON encoding of the value at path.
func (c Config) Lookup(path string) (json.RawMessage, bool) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	tree, err := c.tree()
	if err != nil {
		return nil, false
	}
	var node any = tree
	for _, seg := range segs {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[seg]
			if !ok {
				return nil, false
			}
			node = child
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(n) {
				return nil, false
			}
			node = n[i]
		default:
			return nil, false
		}
	}
	data, err := json.Marshal(node)
	if err != nil {
		return nil, false
	}
	return data, true
}

// tree returns c as generic JSON values, numbers kept as json.Number.
func (c Config) tree() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func setPath(node any, segs []string, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg, rest := segs[0], segs[1:]

	switch n := node.(type) {
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i > len(n) {
			return nil, fmt.Errorf("%w: index %q", ErrInvalidPath, seg)
		}
		if value == nil && len(rest) == 0 {
			if i < len(n) {
				n = append(n[:i:i], n[i+1:]...)
			}
			return n, nil
		}
		if value == nil && i == len(n) {
			return n, nil
		}
		var child any
		if i < len(n) {
			child = n[i]
		}
		v, err := setPath(child, rest, value)
		if err != nil {
			return nil, err
		}
		if i == len(n) {
			return append(n, v), nil
		}
		n[i] = v
		return n, nil

	case map[string]any:
		if value == nil && len(rest) == 0 {
			delete(n, seg)
			return n, nil
		}
		if _, ok := n[seg]; !ok && value == nil {
			return n, nil
		}
		v, err := setPath(n[seg], rest, value)
		if err != nil {
			return nil, err
		}
		n[seg] = v
		return n, nil

	default:
		if value == nil {
			return node, nil
		}
		// Scalars and missing nodes are replaced by a new container.
		var fresh any = map[string]any{}
		if _, err := strconv.Atoi(seg); err == nil {
			fresh = []any{}
		}
		return setPath(fresh, segs, value)
	}
}

func normalizeFieldValue(segs []string, value any) (any, error) {
	if value == nil || len(segs) < 2 || segs[0] != "branding" {
		return value, nil
	}
	switch segs[1] {
	case "colors":
		if len(segs) == 3 {
			return normalizeColorValue(segs[2], value)
		}
		if len(segs) == 2 {
			m, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: colors must be an object", ErrInvalidColor)
			}
			out := make(map[string]any, len(m))
			for k, v := range m {
				n, err := normalizeColorValue(k, v)
				if err != nil {
					return nil, err
				}
				out[k] = n
			}
			return out, nil
		}
	case "transparency":
		if len(segs) == 3 {
			return normalizeTransparencyValue(segs[2], value)
		}
	}
	return value, nil
}

func normalizeColorValue(key string, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidColor, key)
	}
	n, ok := color.Normalize(s)
	if !ok {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidColor, key, s)
	}
	return n, nil
}

func normalizeTransparencyValue(key string, value any) (any, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidTransparency, key, value)
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTransparency, key, v)
		}
		f = n
	default:
		return nil, fmt.Errorf("%w: %s=%v", ErrInvalidTransparency, key, value)
	}
	n, ok := color.NormalizeAlpha(f)
	if !ok {
		return nil, fmt.Errorf("%w: %s=%v", ErrInvalidTransparency, key, value)
	}
	return n, nil
}

// ParseValue interprets a command-line value: valid JSON is decoded, anything
// else is taken as a plain string.
func ParseValue(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return v
}
