package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/inklet/inklet/internal/patch"
)

// Postgres is the Store backed by a PostgreSQL database, for deployments
// where several sync services share one backend.
type Postgres struct {
	db    *sql.DB
	codec *patch.Codec
}

// OpenPostgres connects to the database named by the connection string and
// bootstraps the documents table if it does not exist.
func OpenPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	p := &Postgres{db: db, codec: patch.NewCodec()}
	if err := p.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return p, nil
}

func (p *Postgres) createTable() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			version    BIGINT NOT NULL DEFAULT 1 CHECK (version >= 1),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_documents_updated_at
		ON documents (updated_at DESC)
	`)
	return err
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := p.db.QueryRowContext(ctx, `
		SELECT id, content, version, created_at, updated_at
		FROM documents
		WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", id, err)
	}
	return doc, nil
}

func (p *Postgres) Create(ctx context.Context, id, content string) (Document, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	var doc Document
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, content, version, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, content, version, created_at, updated_at
	`, id, content, now).Scan(&doc.ID, &doc.Content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// DO NOTHING swallowed the insert: the id is taken.
		return Document{}, fmt.Errorf("create %s: %w", id, ErrExists)
	}
	if err != nil {
		return Document{}, fmt.Errorf("create %s: %w", id, err)
	}
	return doc, nil
}

// ApplyPatch locks the row, verifies the expected version, applies the
// patch, and writes back content and version+1 in one transaction, so
// concurrent writers serialize on the row lock and exactly one of two
// racing saves sees a conflict.
func (p *Postgres) ApplyPatch(ctx context.Context, id, patchText string, expectedVersion int64) (Document, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("apply patch %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	var doc Document
	err = tx.QueryRowContext(ctx, `
		SELECT id, content, version, created_at, updated_at
		FROM documents
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&doc.ID, &doc.Content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("apply patch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("apply patch %s: %w", id, err)
	}

	if doc.Version != expectedVersion {
		return Document{}, &ConflictError{ID: id, ExpectedVersion: expectedVersion, CurrentVersion: doc.Version}
	}
	next, err := patchContent(p.codec, doc.Content, patchText, id)
	if err != nil {
		return Document{}, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET content = $1, version = version + 1, updated_at = $2
		WHERE id = $3
	`, next, now, id); err != nil {
		return Document{}, fmt.Errorf("apply patch %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("apply patch %s: commit: %w", id, err)
	}

	doc.Content = next
	doc.Version++
	doc.UpdatedAt = now
	return doc, nil
}

func (p *Postgres) List(ctx context.Context) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, content, version, created_at, updated_at
		FROM documents
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return nil
}
