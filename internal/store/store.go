// Package store implements durable persistence for ontology exports and
// RAG examples (spec §6's "Persisted state layout") over an embedded
// SQLite database, so a process restart does not lose induced ontologies
// or the accumulated example history the RAG store holds in memory.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nl2sql/sqlcore/internal/ontology"
	"github.com/nl2sql/sqlcore/internal/rag"
)

// Store wraps a SQLite database holding the two persisted tables this core
// needs: ontology exports (one row per connection key, overwritten on
// rebuild) and RAG examples (one row per dedupe ID, overwritten on
// re-import, replayed into an in-memory
// rag.Store at startup). Grounded on the same busy-timeout/WAL pragma
// idiom as internal/dialect.OpenSQLite, since both are modernc.org/sqlite
// over database/sql.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path (use ":memory:" for
// tests) and ensures its schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ontologies (
			connection_key TEXT PRIMARY KEY,
			source_hash    TEXT NOT NULL,
			filename       TEXT NOT NULL,
			yaml_blob      BLOB NOT NULL,
			generated_at   TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rag_entries (
			id          TEXT PRIMARY KEY,
			question    TEXT NOT NULL,
			sql_text    TEXT NOT NULL,
			dialect     TEXT NOT NULL,
			schema_name TEXT,
			success     INTEGER NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveOntology persists ont's YAML export, overwriting any prior export
// for the same connectionKey (spec §6: one document per connection
// snapshot hash, effectively one live document per connection since a
// rebuild supersedes the previous one). tableCount is the table count of
// the snapshot ont was built from, forwarded to ontology.Export for the
// metadata.table_count field.
func (s *Store) SaveOntology(ctx context.Context, connectionKey string, ont *ontology.Ontology, tableCount int) (filename string, err error) {
	filename, data, err := ontology.Export(connectionKey, ont, tableCount)
	if err != nil {
		return "", fmt.Errorf("store: export ontology: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ontologies (connection_key, source_hash, filename, yaml_blob, generated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(connection_key) DO UPDATE SET
			source_hash = excluded.source_hash,
			filename = excluded.filename,
			yaml_blob = excluded.yaml_blob,
			generated_at = excluded.generated_at`,
		connectionKey, ont.SourceHash, filename, data, ont.GeneratedAt,
	)
	if err != nil {
		return "", fmt.Errorf("store: save ontology: %w", err)
	}
	return filename, nil
}

// LoadOntology returns the persisted ontology for connectionKey, if any,
// letting build_ontology skip regeneration when the snapshot hash matches
// (spec §4.4: idempotent for a given snapshot hash).
func (s *Store) LoadOntology(ctx context.Context, connectionKey string) (*ontology.Ontology, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT yaml_blob FROM ontologies WHERE connection_key = ?`, connectionKey,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load ontology: %w", err)
	}
	ont, err := ontology.Decode(blob)
	if err != nil {
		return nil, false, fmt.Errorf("store: unmarshal ontology: %w", err)
	}
	return ont, true, nil
}

// SaveRAGEntry durably records e alongside the in-memory chromem-go copy,
// so RAG history survives a restart. Uses the same dedupe key rag.Store
// uses internally, so re-importing an already-seen (question, sql,
// dialect) overwrites rather than duplicates.
func (s *Store) SaveRAGEntry(ctx context.Context, e rag.Entry) error {
	id := rag.DedupeID(e)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_entries (id, question, sql_text, dialect, schema_name, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			sql_text = excluded.sql_text,
			dialect = excluded.dialect,
			schema_name = excluded.schema_name,
			success = excluded.success,
			created_at = excluded.created_at`,
		id, e.Question, e.SQL, e.Dialect, e.SchemaName, boolToInt(e.Success), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store: save rag entry: %w", err)
	}
	return nil
}

// LoadRAGEntries returns every persisted RAG example, oldest first, for
// replay into a fresh in-memory rag.Store at startup.
func (s *Store) LoadRAGEntries(ctx context.Context) ([]rag.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question, sql_text, dialect, schema_name, success FROM rag_entries ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: load rag entries: %w", err)
	}
	defer rows.Close()

	var out []rag.Entry
	for rows.Next() {
		var e rag.Entry
		var schemaName sql.NullString
		var success int
		if err := rows.Scan(&e.Question, &e.SQL, &e.Dialect, &schemaName, &success); err != nil {
			return nil, fmt.Errorf("store: scan rag entry: %w", err)
		}
		e.SchemaName = schemaName.String
		e.Success = success != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearRAGEntries removes every persisted RAG example (rag.clear()).
func (s *Store) ClearRAGEntries(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rag_entries`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
