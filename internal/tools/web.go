package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebClient is the external web capability behind the search and browse
// tools.
type WebClient interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Fetch(ctx context.Context, url string) (string, error)
}

const defaultSearchLimit = 8

// WebSearchTool searches the web. Read-only, free.
type WebSearchTool struct {
	Client WebClient
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return a ranked list of results with titles, URLs, and snippets."
}

func (t *WebSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"max_results": {"type": "integer", "minimum": 1, "maximum": 25}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

func (t *WebSearchTool) Cost(json.RawMessage) int64 { return 0 }

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if p.MaxResults <= 0 {
		p.MaxResults = defaultSearchLimit
	}

	results, err := t.Client.Search(ctx, p.Query, p.MaxResults)
	if err != nil {
		return nil, err
	}

	full, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, err
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Found %d results for %q", len(results), p.Query)
	for i, r := range results {
		if i == 3 {
			break
		}
		fmt.Fprintf(&user, "\n- %s", r.Title)
	}
	return &Result{Full: string(full), User: user.String()}, nil
}

// BrowsePageTool fetches one page as readable text. Read-only, free.
type BrowsePageTool struct {
	Client WebClient
}

func (t *BrowsePageTool) Name() string { return "browse_page" }

func (t *BrowsePageTool) Description() string {
	return "Fetch a web page by URL and return its readable text content."
}

func (t *BrowsePageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "minLength": 1}
		},
		"required": ["url"],
		"additionalProperties": false
	}`)
}

func (t *BrowsePageTool) Cost(json.RawMessage) int64 { return 0 }

func (t *BrowsePageTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	content, err := t.Client.Fetch(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: content,
		User: fmt.Sprintf("Read %s (%d characters)", p.URL, len(content)),
	}, nil
}
