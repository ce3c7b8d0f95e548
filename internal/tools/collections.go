package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection is a user-defined grouping of research items.
type Collection struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ItemCount   int    `json:"item_count"`
}

// CollectionStore is the capability behind the collection CRUD tools.
type CollectionStore interface {
	CreateCollection(ctx context.Context, ownerID, name, description string) (string, error)
	ListCollections(ctx context.Context, ownerID string) ([]Collection, error)
	AddCollectionItem(ctx context.Context, collectionID, content string) (string, error)
	DeleteCollection(ctx context.Context, collectionID string) error
}

// CollectionCreateTool creates a collection owned by the acting user.
type CollectionCreateTool struct {
	Store CollectionStore
}

func (t *CollectionCreateTool) Name() string { return "collection_create" }

func (t *CollectionCreateTool) Description() string {
	return "Create a named collection for organizing research findings."
}

func (t *CollectionCreateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"description": {"type": "string"}
		},
		"required": ["name"],
		"additionalProperties": false
	}`)
}

func (t *CollectionCreateTool) Cost(json.RawMessage) int64 { return 0 }

func (t *CollectionCreateTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	id, err := t.Store.CreateCollection(ctx, InvocationFrom(ctx).Owner.UserID, p.Name, p.Description)
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: fmt.Sprintf(`{"collection_id": %q, "name": %q}`, id, p.Name),
		User: fmt.Sprintf("Created collection %q", p.Name),
	}, nil
}

// CollectionListTool lists the acting user's collections.
type CollectionListTool struct {
	Store CollectionStore
}

func (t *CollectionListTool) Name() string { return "collection_list" }

func (t *CollectionListTool) Description() string {
	return "List the user's collections with item counts."
}

func (t *CollectionListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}, "additionalProperties": false}`)
}

func (t *CollectionListTool) Cost(json.RawMessage) int64 { return 0 }

func (t *CollectionListTool) Execute(ctx context.Context, _ json.RawMessage) (*Result, error) {
	cols, err := t.Store.ListCollections(ctx, InvocationFrom(ctx).Owner.UserID)
	if err != nil {
		return nil, err
	}
	full, err := json.MarshalIndent(cols, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: string(full),
		User: fmt.Sprintf("You have %d collections", len(cols)),
	}, nil
}

// CollectionAddItemTool appends an item to a collection.
type CollectionAddItemTool struct {
	Store CollectionStore
}

func (t *CollectionAddItemTool) Name() string { return "collection_add_item" }

func (t *CollectionAddItemTool) Description() string {
	return "Add a text item to an existing collection."
}

func (t *CollectionAddItemTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"collection_id": {"type": "string", "minLength": 1},
			"content": {"type": "string", "minLength": 1}
		},
		"required": ["collection_id", "content"],
		"additionalProperties": false
	}`)
}

func (t *CollectionAddItemTool) Cost(json.RawMessage) int64 { return 0 }

func (t *CollectionAddItemTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		CollectionID string `json:"collection_id"`
		Content      string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	itemID, err := t.Store.AddCollectionItem(ctx, p.CollectionID, p.Content)
	if err != nil {
		return nil, err
	}
	return &Result{
		Full: fmt.Sprintf(`{"item_id": %q, "collection_id": %q}`, itemID, p.CollectionID),
		User: "Added item to collection",
	}, nil
}

// CollectionDeleteTool removes a collection.
type CollectionDeleteTool struct {
	Store CollectionStore
}

func (t *CollectionDeleteTool) Name() string { return "collection_delete" }

func (t *CollectionDeleteTool) Description() string {
	return "Delete a collection and its items."
}

func (t *CollectionDeleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"collection_id": {"type": "string", "minLength": 1}
		},
		"required": ["collection_id"],
		"additionalProperties": false
	}`)
}

func (t *CollectionDeleteTool) Cost(json.RawMessage) int64 { return 0 }

func (t *CollectionDeleteTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p struct {
		CollectionID string `json:"collection_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if err := t.Store.DeleteCollection(ctx, p.CollectionID); err != nil {
		return nil, err
	}
	return &Result{
		Full: fmt.Sprintf(`{"deleted": %q}`, p.CollectionID),
		User: "Deleted collection",
	}, nil
}
