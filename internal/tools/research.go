package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// PropertyResearchTool is a free composite: searches the web for a property
// address and reads the top results into one report.
type PropertyResearchTool struct {
	Client WebClient
}

func (t *PropertyResearchTool) Name() string { return "property_research" }

func (t *PropertyResearchTool) Description() string {
	return "Research a property address: search listings, records, and neighborhood data, and summarize the sources found."
}

func (t *PropertyResearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"address": {"type": "string", "minLength": 1}
		},
		"required": ["address"],
		"additionalProperties": false
	}`)
}

func (t *PropertyResearchTool) Cost(json.RawMessage) int64 { return 0 }

func (t *PropertyResearchTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	results, err := t.Client.Search(ctx, p.Address+" property listing records", 5)
	if err != nil {
		return nil, err
	}

	type source struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Excerpt string `json:"excerpt"`
	}
	report := struct {
		Address string   `json:"address"`
		Sources []source `json:"sources"`
	}{Address: p.Address}

	// Read at most the top two pages; the rest stay as snippets.
	for i, r := range results {
		excerpt := r.Snippet
		if i < 2 {
			if content, err := t.Client.Fetch(ctx, r.URL); err == nil {
				excerpt = truncate(content, 2000)
			}
		}
		report.Sources = append(report.Sources, source{Title: r.Title, URL: r.URL, Excerpt: excerpt})
	}

	full, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: string(full),
		User: fmt.Sprintf("Researched %s across %d sources", p.Address, len(report.Sources)),
	}, nil
}

// truncate bounds s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
