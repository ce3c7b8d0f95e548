package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Target describes a typed dispatch destination: a schema derived from T,
// exemplar instances for few-shot priming, and decoding from any supported
// format. Build one per response type and reuse it; schema reflection and
// compilation happen once.
type Target[T any] struct {
	schemaJSON string
	compiled   *jsonschema.Schema
	exemplars  []T
}

// NewTarget reflects a JSON schema from T and compiles it for validation.
func NewTarget[T any](exemplars ...T) (*Target[T], error) {
	reflector := &invopop.Reflector{DoNotReference: true}
	schema := reflector.Reflect(new(T))
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("target.json", strings.NewReader(string(schemaJSON))); err != nil {
		return nil, fmt.Errorf("dispatch: add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("target.json")
	if err != nil {
		return nil, fmt.Errorf("dispatch: compile schema: %w", err)
	}

	return &Target[T]{
		schemaJSON: string(schemaJSON),
		compiled:   compiled,
		exemplars:  exemplars,
	}, nil
}

// SchemaJSON returns the derived JSON schema.
func (t *Target[T]) SchemaJSON() string { return t.schemaJSON }

// Prompt renders the full dispatch prompt around the caller's task text.
// The scaffolding is fixed; downstream parsing depends on it.
func (t *Target[T]) Prompt(format Format, task string) (string, error) {
	var examples []string
	for _, ex := range t.exemplars {
		s, err := format.Marshal(ex)
		if err != nil {
			return "", fmt.Errorf("dispatch: marshal exemplar: %w", err)
		}
		examples = append(examples, strings.TrimRight(s, "\n"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<%s_SCHEMA>%s</%s_SCHEMA>\n", format.Tag(), t.schemaJSON, format.Tag())
	fmt.Fprintf(&b, "<EXAMPLES>%s</EXAMPLES>\n", strings.Join(examples, "\n\n"))
	fmt.Fprintf(&b, "<TASK>%s</TASK>\n", task)
	fmt.Fprintf(&b, "Please respond with a valid %s object only, without any additional comments, explanations, or markdown fences.", format.Tag())
	return b.String(), nil
}

// Validate checks a parsed generic value against the compiled schema.
func (t *Target[T]) Validate(v any) error {
	return t.compiled.Validate(v)
}

// Decode converts a validated generic value into T by round-tripping
// through JSON.
func (t *Target[T]) Decode(v any) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}
