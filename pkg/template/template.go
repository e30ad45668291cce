// Package template resolves ${path} expressions in task input parameters
// against the data accumulated by a workflow run.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrUnterminatedExpression = errors.New("unterminated expression")

const (
	openDelim  = "${"
	closeDelim = "}"
)

// Resolver evaluates templates against one data snapshot.
type Resolver struct {
	raw []byte
}

// NewResolver snapshots data as JSON so paths resolve the same way workers see it.
func NewResolver(data map[string]any) (*Resolver, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template data: %w", err)
	}

	return &Resolver{raw: raw}, nil
}

// Resolve is a shortcut for NewResolver(data).Map(params).
func Resolve(params map[string]any, data map[string]any) (map[string]any, error) {
	resolver, err := NewResolver(data)
	if err != nil {
		return nil, err
	}

	return resolver.Map(params)
}

// Map resolves every value of params recursively. A nil map resolves to an empty one.
func (r *Resolver) Map(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))

	for key, value := range params {
		resolved, err := r.Value(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		out[key] = resolved
	}

	return out, nil
}

// Value resolves a single template value. A string made only of one
// expression keeps the referenced value's type, expressions embedded in a
// longer string are interpolated as text.
func (r *Resolver) Value(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.String(v)
	case map[string]any:
		return r.Map(v)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			resolved, err := r.Value(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return value, nil
	}
}

// String resolves the expressions found in s.
func (r *Resolver) String(s string) (any, error) {
	if path, ok := wholeExpression(s); ok {
		return r.lookup(path), nil
	}

	var (
		out  strings.Builder
		rest = s
	)

	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			out.WriteString(rest)

			return out.String(), nil
		}

		end := strings.Index(rest[start:], closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("%w in %q", ErrUnterminatedExpression, s)
		}

		out.WriteString(rest[:start])

		path := strings.TrimSpace(rest[start+len(openDelim) : start+end])
		out.WriteString(r.text(path))

		rest = rest[start+end+len(closeDelim):]
	}
}

func (r *Resolver) lookup(path string) any {
	result := gjson.GetBytes(r.raw, path)
	if !result.Exists() {
		return nil
	}

	return result.Value()
}

func (r *Resolver) text(path string) string {
	result := gjson.GetBytes(r.raw, path)
	if !result.Exists() {
		return ""
	}

	if result.Type == gjson.String {
		return result.Str
	}

	return result.Raw
}

func wholeExpression(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, openDelim) || !strings.HasSuffix(trimmed, closeDelim) {
		return "", false
	}

	inner := trimmed[len(openDelim) : len(trimmed)-len(closeDelim)]
	if strings.Contains(inner, openDelim) || strings.Contains(inner, closeDelim) {
		return "", false
	}

	return strings.TrimSpace(inner), true
}
