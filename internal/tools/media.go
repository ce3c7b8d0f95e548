package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// MediaGenerator is the external generative-media capability. Every method
// returns a URI to the produced artifact.
type MediaGenerator interface {
	RetouchImages(ctx context.Context, imageURIs []string) ([]string, error)
	GenerateCreative(ctx context.Context, brief string) (string, error)
	GenerateCreativeFromBundle(ctx context.Context, bundleID string) (string, error)
	GenerateStyle(ctx context.Context, reference string) (string, error)
	VocalTour(ctx context.Context, propertyID string) (string, error)
}

// RetouchImagesTool enhances listing photos. Costs one credit per image.
type RetouchImagesTool struct {
	Media MediaGenerator
}

func (t *RetouchImagesTool) Name() string { return "retouch_images" }

func (t *RetouchImagesTool) Description() string {
	return "Enhance one or more listing photos and return URIs to the retouched versions."
}

func (t *RetouchImagesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"image_uris": {
				"type": "array",
				"items": {"type": "string", "minLength": 1},
				"minItems": 1
			}
		},
		"required": ["image_uris"],
		"additionalProperties": false
	}`)
}

// Cost is one credit per image. Unparseable parameters price at zero; the
// schema check rejects them before the ledger is consulted.
func (t *RetouchImagesTool) Cost(params json.RawMessage) int64 {
	var p struct {
		ImageURIs []string `json:"image_uris"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return 0
	}
	return int64(len(p.ImageURIs))
}

func (t *RetouchImagesTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		ImageURIs []string `json:"image_uris"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	retouched, err := t.Media.RetouchImages(ctx, p.ImageURIs)
	if err != nil {
		return nil, err
	}
	full, err := json.MarshalIndent(map[string]any{"retouched": retouched}, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: string(full),
		User: fmt.Sprintf("Retouched %d images", len(retouched)),
	}, nil
}

// singleURITool covers the fixed-cost generative tools that take one string
// parameter and return one artifact URI.
type singleURITool struct {
	name        string
	description string
	paramName   string
	generate    func(ctx context.Context, arg string) (string, error)
	userMsg     string
}

func (t *singleURITool) Name() string        { return t.name }
func (t *singleURITool) Description() string { return t.description }

func (t *singleURITool) Schema() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			%q: {"type": "string", "minLength": 1}
		},
		"required": [%q],
		"additionalProperties": false
	}`, t.paramName, t.paramName))
}

func (t *singleURITool) Cost(json.RawMessage) int64 { return 1 }

func (t *singleURITool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p map[string]string
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	uri, err := t.generate(ctx, p[t.paramName])
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: fmt.Sprintf(`{"uri": %q}`, uri),
		User: t.userMsg,
	}, nil
}

// NewGenerateCreativeTool builds a marketing creative from a text brief.
func NewGenerateCreativeTool(media MediaGenerator) Tool {
	return &singleURITool{
		name:        "generate_creative",
		description: "Generate a marketing creative (video montage) from a text brief.",
		paramName:   "brief",
		generate:    media.GenerateCreative,
		userMsg:     "Generated creative",
	}
}

// NewGenerateCreativeFromBundleTool builds a creative from an uploaded
// asset bundle.
func NewGenerateCreativeFromBundleTool(media MediaGenerator) Tool {
	return &singleURITool{
		name:        "generate_creative_from_bundle",
		description: "Generate a marketing creative from a previously uploaded asset bundle.",
		paramName:   "bundle_id",
		generate:    media.GenerateCreativeFromBundle,
		userMsg:     "Generated creative from bundle",
	}
}

// NewGenerateStyleTool derives a reusable visual style from a reference.
func NewGenerateStyleTool(media MediaGenerator) Tool {
	return &singleURITool{
		name:        "generate_style",
		description: "Derive a reusable visual style from a reference image or description.",
		paramName:   "reference",
		generate:    media.GenerateStyle,
		userMsg:     "Generated style",
	}
}

// NewVocalTourTool narrates a property walkthrough.
func NewVocalTourTool(media MediaGenerator) Tool {
	return &singleURITool{
		name:        "vocal_tour",
		description: "Generate a narrated audio tour for a property listing.",
		paramName:   "property_id",
		generate:    media.VocalTour,
		userMsg:     "Generated vocal tour",
	}
}
