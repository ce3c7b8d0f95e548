// Package artifacts persists the research artifacts users build up across
// sessions: collections of findings and standalone documents. It backs the
// corresponding tool families with a SQL repository.
package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/propfolio/researchd/internal/tools"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collections_owner ON collections (owner_id);

CREATE TABLE IF NOT EXISTS collection_items (
	id TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collection_items_collection ON collection_items (collection_id);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (owner_id);
`

// SQLRepository implements the collection and document capabilities over a
// SQL database.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository wraps db and ensures the schema exists.
func NewSQLRepository(db *sql.DB) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("artifacts: db is required")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("artifacts: migrate: %w", err)
	}
	return &SQLRepository{db: db}, nil
}

func (r *SQLRepository) CreateCollection(ctx context.Context, ownerID, name, description string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO collections (id, owner_id, name, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, name, description, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("artifacts: create collection: %w", err)
	}
	return id, nil
}

func (r *SQLRepository) ListCollections(ctx context.Context, ownerID string) ([]tools.Collection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, COUNT(i.id)
		FROM collections c
		LEFT JOIN collection_items i ON i.collection_id = c.id
		WHERE c.owner_id = ?
		GROUP BY c.id
		ORDER BY c.created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("artifacts: list collections: %w", err)
	}
	defer rows.Close()

	var out []tools.Collection
	for rows.Next() {
		var c tools.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ItemCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepository) AddCollectionItem(ctx context.Context, collectionID, content string) (string, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM collections WHERE id = ?`, collectionID).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("artifacts: lookup collection: %w", err)
	}
	if exists == 0 {
		return "", fmt.Errorf("artifacts: collection %s not found", collectionID)
	}

	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO collection_items (id, collection_id, content, created_at) VALUES (?, ?, ?, ?)`,
		id, collectionID, content, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("artifacts: add item: %w", err)
	}
	return id, nil
}

func (r *SQLRepository) DeleteCollection(ctx context.Context, collectionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("artifacts: delete collection: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_items WHERE collection_id = ?`, collectionID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, collectionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("artifacts: collection %s not found", collectionID)
	}
	return tx.Commit()
}

func (r *SQLRepository) CreateDocument(ctx context.Context, ownerID, title, content string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, title, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, title, content, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("artifacts: create document: %w", err)
	}
	return id, nil
}

func (r *SQLRepository) GetDocument(ctx context.Context, id string) (*tools.Document, error) {
	var d tools.Document
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, content FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.Title, &d.Content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifacts: document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: get document: %w", err)
	}
	return &d, nil
}

func (r *SQLRepository) ListDocuments(ctx context.Context, ownerID string) ([]tools.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title FROM documents WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("artifacts: list documents: %w", err)
	}
	defer rows.Close()

	var out []tools.Document
	for rows.Next() {
		var d tools.Document
		if err := rows.Scan(&d.ID, &d.Title); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *SQLRepository) DeleteDocument(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("artifacts: delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("artifacts: document %s not found", id)
	}
	return nil
}
