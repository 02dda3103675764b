// Package runtimeconfig edits the backend's runtime settings: a fixed field
// set, local edits diffed against the last persisted snapshot and pushed
// after a debounce.
package runtimeconfig

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindSecret
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindSecret:
		return "secret"
	default:
		return "string"
	}
}

type Field struct {
	Key     string
	Label   string
	Kind    Kind
	Options []string
	Min     float64
	Max     float64
	Step    float64
	Help    string
}

// Fields is the editable set, in display order.
var Fields = []Field{
	{Key: "AGENT_PIPELINE_VERSION", Label: "Pipeline", Kind: KindString, Options: []string{"v0_1", "v1_0"}, Help: "agent pipeline used for new turns"},
	{Key: "LLM_MODEL", Label: "Model", Kind: KindString, Options: []string{"gpt-4.1-mini", "gpt-4.1", "gpt-4o-mini"}, Help: "chat completion model"},
	{Key: "SEARCH_TOP_K", Label: "Top K", Kind: KindInt, Min: 1, Max: 50, Step: 1, Help: "chunks passed to the prompt"},
	{Key: "SEARCH_LIMIT", Label: "Search limit", Kind: KindInt, Min: 1, Max: 100, Step: 1, Help: "candidates fetched before reranking"},
	{Key: "SEARCH_SCORE_THRESHOLD", Label: "Score threshold", Kind: KindFloat, Min: 0, Max: 1, Step: 0.05, Help: "minimum similarity score"},
	{Key: "RERANKER_ENABLED", Label: "Reranker", Kind: KindBool, Help: "rerank search candidates"},
	{Key: "CHUNK_MAX_LENGTH", Label: "Chunk length", Kind: KindInt, Min: 100, Max: 4000, Step: 100, Help: "max characters per chunk"},
	{Key: "CHUNK_OVERLAP", Label: "Chunk overlap", Kind: KindInt, Min: 0, Max: 1000, Step: 50, Help: "characters shared by adjacent chunks"},
	{Key: "OPENAI_API_KEY", Label: "OpenAI key", Kind: KindSecret, Help: "api key used by the backend"},
}

func Lookup(key string) (Field, bool) {
	key = strings.ToUpper(strings.TrimSpace(key))
	for _, f := range Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Coerce converts a user or JSON value to the field's canonical form:
// float64 for numbers, bool, or string.
func (f Field) Coerce(value any) (any, error) {
	switch f.Kind {
	case KindInt, KindFloat:
		n, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Key, err)
		}
		if f.Kind == KindInt {
			n = math.Round(n)
		}
		if f.Max > f.Min {
			n = math.Max(f.Min, math.Min(f.Max, n))
		}
		return n, nil
	case KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%s: invalid bool %q", f.Key, v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("%s: invalid bool %v", f.Key, value)
	default:
		if value == nil {
			return "", nil
		}
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return fmt.Sprint(value), nil
	}
}

// Adjust steps a value by delta: numbers move by Step within bounds, bools
// toggle, option lists cycle. Free-form strings are left alone.
func (f Field) Adjust(value any, delta int) any {
	switch f.Kind {
	case KindInt, KindFloat:
		n, err := toFloat(value)
		if err != nil {
			n = f.Min
		}
		step := f.Step
		if step <= 0 {
			step = 1
		}
		next, _ := f.Coerce(roundStep(n+float64(delta)*step, step))
		return next
	case KindBool:
		b, _ := value.(bool)
		if delta == 0 {
			return b
		}
		return !b
	case KindString:
		if len(f.Options) == 0 || delta == 0 {
			return value
		}
		current, _ := value.(string)
		idx := -1
		for i, option := range f.Options {
			if option == current {
				idx = i
				break
			}
		}
		if idx < 0 {
			return f.Options[0]
		}
		n := len(f.Options)
		return f.Options[((idx+delta)%n+n)%n]
	default:
		return value
	}
}

// Format renders a value for display. Secrets are masked.
func (f Field) Format(value any) string {
	switch f.Kind {
	case KindSecret:
		s, _ := value.(string)
		if s == "" {
			return "(unset)"
		}
		if len(s) <= 4 {
			return "****"
		}
		return "****" + s[len(s)-4:]
	case KindInt, KindFloat:
		n, err := toFloat(value)
		if err != nil {
			return "-"
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case KindBool:
		if b, ok := value.(bool); ok && b {
			return "on"
		}
		return "off"
	default:
		s, _ := value.(string)
		if s == "" {
			return "-"
		}
		return s
	}
}

// Diff returns the known fields whose local value differs from persisted.
// Keys missing from local are not part of the diff.
func Diff(local, persisted map[string]any) map[string]any {
	diff := map[string]any{}
	for _, f := range Fields {
		lv, ok := local[f.Key]
		if !ok {
			continue
		}
		lc, err := f.Coerce(lv)
		if err != nil {
			continue
		}
		pv, ok := persisted[f.Key]
		if ok {
			if pc, err := f.Coerce(pv); err == nil && pc == lc {
				continue
			}
		}
		diff[f.Key] = lc
	}
	return diff
}

// normalize keeps the known keys of values in canonical form.
func normalize(values map[string]any) map[string]any {
	out := make(map[string]any, len(Fields))
	for _, f := range Fields {
		v, ok := values[f.Key]
		if !ok {
			continue
		}
		if c, err := f.Coerce(v); err == nil {
			out[f.Key] = c
		}
	}
	return out
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("invalid number %v", value)
}

func roundStep(n, step float64) float64 {
	return math.Round(math.Round(n/step)*step*1e6) / 1e6
}
