package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document is one stored document's metadata plus content.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// DocumentStore is the capability behind the document CRUD tools.
type DocumentStore interface {
	CreateDocument(ctx context.Context, ownerID, title, content string) (string, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, ownerID string) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// DocumentCreateTool stores a new document.
type DocumentCreateTool struct {
	Store DocumentStore
}

func (t *DocumentCreateTool) Name() string { return "document_create" }

func (t *DocumentCreateTool) Description() string {
	return "Store a document with a title and text content."
}

func (t *DocumentCreateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		},
		"required": ["title", "content"],
		"additionalProperties": false
	}`)
}

func (t *DocumentCreateTool) Cost(json.RawMessage) int64 { return 0 }

func (t *DocumentCreateTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	id, err := t.Store.CreateDocument(ctx, InvocationFrom(ctx).Owner.UserID, p.Title, p.Content)
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: fmt.Sprintf(`{"document_id": %q, "title": %q}`, id, p.Title),
		User: fmt.Sprintf("Saved document %q", p.Title),
	}, nil
}

// DocumentGetTool retrieves a document by id.
type DocumentGetTool struct {
	Store DocumentStore
}

func (t *DocumentGetTool) Name() string { return "document_get" }

func (t *DocumentGetTool) Description() string {
	return "Retrieve a stored document by its id."
}

func (t *DocumentGetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"document_id": {"type": "string", "minLength": 1}
		},
		"required": ["document_id"],
		"additionalProperties": false
	}`)
}

func (t *DocumentGetTool) Cost(json.RawMessage) int64 { return 0 }

func (t *DocumentGetTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	doc, err := t.Store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return nil, err
	}
	full, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: string(full),
		User: fmt.Sprintf("Retrieved document %q", doc.Title),
	}, nil
}

// DocumentListTool lists the acting user's documents.
type DocumentListTool struct {
	Store DocumentStore
}

func (t *DocumentListTool) Name() string { return "document_list" }

func (t *DocumentListTool) Description() string {
	return "List the user's stored documents."
}

func (t *DocumentListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}, "additionalProperties": false}`)
}

func (t *DocumentListTool) Cost(json.RawMessage) int64 { return 0 }

func (t *DocumentListTool) Execute(ctx context.Context, _ json.RawMessage) (*Result, error) {
	docs, err := t.Store.ListDocuments(ctx, InvocationFrom(ctx).Owner.UserID)
	if err != nil {
		return nil, err
	}
	// Listings carry metadata only; content stays out of the LLM context
	// until the agent asks for a specific document.
	for i := range docs {
		docs[i].Content = ""
	}
	full, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: string(full),
		User: fmt.Sprintf("You have %d documents", len(docs)),
	}, nil
}

// DocumentDeleteTool removes a document.
type DocumentDeleteTool struct {
	Store DocumentStore
}

func (t *DocumentDeleteTool) Name() string { return "document_delete" }

func (t *DocumentDeleteTool) Description() string {
	return "Delete a stored document by its id."
}

func (t *DocumentDeleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"document_id": {"type": "string", "minLength": 1}
		},
		"required": ["document_id"],
		"additionalProperties": false
	}`)
}

func (t *DocumentDeleteTool) Cost(json.RawMessage) int64 { return 0 }

func (t *DocumentDeleteTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if err := t.Store.DeleteDocument(ctx, p.DocumentID); err != nil {
		return nil, err
	}
	return &Result{
		Full: fmt.Sprintf(`{"deleted": %q}`, p.DocumentID),
		User: "Deleted document",
	}, nil
}
