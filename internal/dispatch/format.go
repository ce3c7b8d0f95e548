package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is the textual wire format the model is asked to answer in.
type Format string

const (
	FormatJSON Format = "JSON"
	FormatYAML Format = "YAML"
	FormatTOML Format = "TOML"
)

// Tag returns the format name used inside the prompt scaffolding.
func (f Format) Tag() string { return string(f) }

// Marshal serializes a value in the format, used for exemplar priming.
func (f Format) Marshal(v any) (string, error) {
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		return string(b), err
	case FormatYAML:
		b, err := yaml.Marshal(v)
		return string(b), err
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("dispatch: unknown format %q", f)
	}
}

// Parse reads raw model output into a generic value with string-keyed maps,
// suitable for schema validation. Markdown fences are stripped first; models
// add them despite instructions.
func (f Format) Parse(raw string) (any, error) {
	raw = stripFences(raw)
	switch f {
	case FormatJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return normalizeKeys(v), nil
	case FormatTOML:
		var v map[string]any
		if err := toml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return normalizeKeys(v), nil
	default:
		return nil, fmt.Errorf("dispatch: unknown format %q", f)
	}
}

// stripFences removes a single surrounding markdown code fence, with or
// without a language tag.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line.
		first := strings.TrimSpace(s[:i])
		if len(first) <= 8 && !strings.ContainsAny(first, "{[") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// normalizeKeys rewrites nested maps to string keys so the JSON-schema
// validator accepts values parsed from YAML and TOML.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeKeys(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeKeys(val)
		}
		return out
	default:
		return v
	}
}
