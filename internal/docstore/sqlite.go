package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/inklet/inklet/internal/patch"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added descending index on documents.updated_at
const currentSchemaVersion = 1

// SQLite is the Store backed by a SQLite database file. Uses WAL mode so
// readers are not blocked by the single writer.
type SQLite struct {
	db    *sql.DB
	codec *patch.Codec
}

// OpenSQLite creates or opens a SQLite database at the given path
// (":memory:" for an ephemeral store) and applies pragmas and migrations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Idempotent: safe to call on an existing database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY on the CAS update path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, codec: patch.NewCodec()}, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content, version, created_at, updated_at
		FROM documents
		WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", id, err)
	}
	return doc, nil
}

func (s *SQLite) Create(ctx context.Context, id, content string) (Document, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
	`, id, content, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Document{}, fmt.Errorf("create %s: %w", id, ErrExists)
		}
		return Document{}, fmt.Errorf("create %s: %w", id, err)
	}

	return Document{ID: id, Content: content, Version: 1, CreatedAt: now, UpdatedAt: now}, nil
}

// ApplyPatch runs the compare-and-swap inside a transaction: read under
// the version check, apply the patch, write back with version+1. The
// single-connection pool serializes writers, and the transaction keeps the
// read-modify-write atomic against any future pool change.
func (s *SQLite) ApplyPatch(ctx context.Context, id, patchText string, expectedVersion int64) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("apply patch %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	var doc Document
	err = tx.QueryRowContext(ctx, `
		SELECT id, content, version, created_at, updated_at
		FROM documents
		WHERE id = ?
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
	next, err := patchContent(s.codec, doc.Content, patchText, id)
	if err != nil {
		return Document{}, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET content = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, next, now, id, expectedVersion); err != nil {
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

func (s *SQLite) List(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
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

// patchContent parses and applies a wire-form patch, mapping codec errors
// onto the store taxonomy. Shared by the SQL-backed stores.
func patchContent(codec *patch.Codec, content, patchText, id string) (string, error) {
	p, err := codec.Parse(patchText)
	if err != nil {
		return "", fmt.Errorf("apply patch %s: %w: %v", id, ErrBadPatch, err)
	}
	next, err := codec.Apply(content, p)
	if err != nil {
		if errors.Is(err, patch.ErrApplyMismatch) {
			return "", fmt.Errorf("apply patch %s: %w", id, ErrPatchMismatch)
		}
		return "", fmt.Errorf("apply patch %s: %w", id, err)
	}
	return next, nil
}

// isUniqueViolation reports whether err is a primary key collision.
// Matched on the error text to avoid importing the driver's cgo error
// types here.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the updated_at index for databases created before the
// index existed in schema.sql. CREATE INDEX IF NOT EXISTS makes this a
// no-op on fresh databases.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_documents_updated_at
		ON documents(updated_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
