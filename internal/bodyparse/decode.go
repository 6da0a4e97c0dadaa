package bodyparse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

var (
	errNotObject    = errors.New("json body is not an object")
	errTrailingData = errors.New("json body has trailing data")
)

// decodeJSON accepts exactly one JSON object. Numbers stay json.Number so
// large integers survive a round trip through the log.
func decodeJSON(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return m, nil
}

const (
	// maxFormParams caps how many pairs are read; the rest are ignored.
	maxFormParams = 1000
	// maxFormDepth caps bracket nesting; deeper brackets stay in the key.
	maxFormDepth = 5
)

// decodeForm parses application/x-www-form-urlencoded with bracket nesting:
//
//	a=1&a=2        {"a": ["1", "2"]}
//	a[b]=c         {"a": {"b": "c"}}
//	a[]=x&a[]=y    {"a": ["x", "y"]}
//
// When a key is used with two shapes, the first shape wins and the later
// value is dropped.
func decodeForm(raw []byte) (map[string]any, error) {
	out := make(map[string]any)
	pairs := strings.Split(string(raw), "&")
	if len(pairs) > maxFormParams {
		pairs = pairs[:maxFormParams]
	}
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("decode form key %q: %w", k, err)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("decode form value for %q: %w", key, err)
		}
		if key == "" {
			continue
		}
		assign(out, splitKey(key), val)
	}
	return out, nil
}

// splitKey turns "a[b][]" into ["a", "b", ""].
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 {
		return []string{key}
	}
	segs := []string{key[:open]}
	rest := key[open:]
	for depth := 0; rest != ""; depth++ {
		if depth == maxFormDepth || rest[0] != '[' {
			segs = append(segs, rest)
			break
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			segs = append(segs, rest)
			break
		}
		segs = append(segs, rest[1:end])
		rest = rest[end+1:]
	}
	return segs
}

func assign(m map[string]any, segs []string, val string) {
	key := segs[0]
	if len(segs) == 1 {
		switch cur := m[key].(type) {
		case nil:
			m[key] = val
		case string:
			m[key] = []any{cur, val}
		case []any:
			m[key] = append(cur, val)
		}
		return
	}

	if segs[1] == "" {
		switch cur := m[key].(type) {
		case nil:
			m[key] = []any{appendValue(segs[2:], val)}
		case string:
			m[key] = []any{cur, appendValue(segs[2:], val)}
		case []any:
			m[key] = append(cur, appendValue(segs[2:], val))
		}
		return
	}

	child, ok := m[key].(map[string]any)
	if !ok {
		if m[key] != nil {
			return
		}
		child = make(map[string]any)
		m[key] = child
	}
	assign(child, segs[1:], val)
}

// appendValue builds the element appended for "a[]" or "a[][b]".
func appendValue(rest []string, val string) any {
	if len(rest) == 0 {
		return val
	}
	m := make(map[string]any)
	assign(m, rest, val)
	return m
}
