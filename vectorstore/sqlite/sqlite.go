// Package sqlite provides a persistent vectorstore.Index on top of the pure
// Go modernc.org/sqlite driver. Embeddings are stored as little-endian
// float32 blobs and searched with an in-process cosine scan per namespace.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/embedding"
	"github.com/hupe1980/agenthub/vectorstore"
)

// Store is a SQLite backed vectorstore.Index.
type Store struct {
	db       *sql.DB
	embedder embedding.Embedder
}

var _ vectorstore.Index = (*Store)(nil)

// Open opens (or creates) the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string, e embedding.Embedder) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, embedder: e}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS namespaces (
			name TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			embedding BLOB NOT NULL,
			PRIMARY KEY (namespace, id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateOrGetNamespace implements vectorstore.Index.
func (s *Store) CreateOrGetNamespace(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO namespaces(name) VALUES (?)`, name)
	if err != nil {
		return fmt.Errorf("create namespace %q: %w", name, err)
	}
	return nil
}

// Add implements vectorstore.Index. Existing IDs are replaced.
func (s *Store) Add(ctx context.Context, name string, docs []vectorstore.Document, metadata map[string]any) ([]string, error) {
	if len(docs) == 0 {
		return nil, s.CreateOrGetNamespace(ctx, name)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vectors), len(docs))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO namespaces(name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("create namespace %q: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO documents(namespace, id, content, metadata, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = core.NewID()
		}
		md, err := json.Marshal(vectorstore.MergeMetadata(metadata, d.Metadata))
		if err != nil {
			return nil, fmt.Errorf("encode metadata for %q: %w", d.ID, err)
		}
		blob, err := encodeVector(vectors[i])
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, name, d.ID, d.Content, string(md), blob); err != nil {
			return nil, fmt.Errorf("insert %q: %w", d.ID, err)
		}
		ids[i] = d.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Search implements vectorstore.Index.
func (s *Store) Search(ctx context.Context, name, query string, k int, optFns ...func(o *vectorstore.SearchOptions)) ([]vectorstore.Hit, error) {
	opts := vectorstore.SearchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := s.requireNamespace(ctx, name); err != nil {
		return nil, err
	}

	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM documents WHERE namespace = ? ORDER BY rowid`, name)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var (
			id, content, rawMD string
			blob               []byte
		)
		if err := rows.Scan(&id, &content, &rawMD, &blob); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}

		md := map[string]any{}
		if err := json.Unmarshal([]byte(rawMD), &md); err != nil {
			return nil, fmt.Errorf("decode metadata for %q: %w", id, err)
		}
		if !vectorstore.MatchFilter(md, opts.Filter) {
			continue
		}

		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", id, err)
		}
		score, err := embedding.CosineSimilarity(qv, vec)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", id, err)
		}
		hits = append(hits, vectorstore.Hit{ID: id, Content: content, Metadata: md, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return vectorstore.TopK(hits, k, opts.ScoreThreshold), nil
}

// DeleteNamespace implements vectorstore.Index.
func (s *Store) DeleteNamespace(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE namespace = ?`, name); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return tx.Commit()
}

// DeleteDocuments implements vectorstore.Index.
func (s *Store) DeleteDocuments(ctx context.Context, name string, ids []string) error {
	if err := s.requireNamespace(ctx, name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE namespace = ? AND id = ?`, name, id); err != nil {
			return fmt.Errorf("delete %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// ListNamespaces implements vectorstore.Index.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Count implements vectorstore.Index.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	if err := s.requireNamespace(ctx, name); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE namespace = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *Store) requireNamespace(ctx context.Context, name string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM namespaces WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return vectorstore.NamespaceNotFound(name)
	}
	if err != nil {
		return fmt.Errorf("lookup namespace %q: %w", name, err)
	}
	return nil
}
