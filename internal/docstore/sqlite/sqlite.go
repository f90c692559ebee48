// Package sqlite implements the docstore interfaces on an embedded SQLite
// database.
//
// One table holds every collection: documents are JSON bodies keyed by
// (collection, id) with a version counter. Transactions use optimistic
// concurrency — reads record the version they saw (or that the document was
// absent), writes are staged in memory, and commit re-checks every recorded
// version inside a single SQLite write transaction before applying anything.
// A mismatch aborts with apperror.ErrConflict and the caller retries.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the store builds
// and cross-compiles without a C toolchain, and tests run against ":memory:".
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// compile-time check that *DB implements docstore.Store
var _ docstore.Store = (*DB)(nil)

// DB is the SQLite-backed document store. The access rules are fixed at
// construction: there is no way to reach a document without passing them.
type DB struct {
	conn  *sql.DB
	rules docstore.RuleSet
}

// New opens (or creates) the document store at dbPath and installs rules as
// the access policy. Use ":memory:" for tests.
func New(dbPath string, rules docstore.RuleSet) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("docstore: opening database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY churn and keeps ":memory:" databases coherent (every pool
	// connection to ":memory:" would otherwise be a separate database).
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: pinging database: %w", err)
	}

	// WAL lets reads proceed while a commit is in flight; busy_timeout makes
	// concurrent writers queue briefly instead of failing immediately.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("docstore: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, rules: rules}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: running migrations: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT    NOT NULL,
			id         TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

// NewID returns a fresh document key. xid values are short, sortable, and
// collision-free without coordination, which is all a document key needs.
func (db *DB) NewID() string {
	return xid.New().String()
}

// querier is satisfied by both *sql.DB and *sql.Tx so readDoc can run inside
// or outside a commit transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// readDoc loads one document. Returns apperror.ErrNotFound when absent.
func (db *DB) readDoc(ctx context.Context, q querier, collection, id string) (*docstore.Document, error) {
	var (
		raw                  string
		version              int64
		createdAt, updatedAt time.Time
	)
	err := q.QueryRowContext(ctx,
		`SELECT data, version, created_at, updated_at
		 FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&raw, &version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound(collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: reading %s/%s: %w", collection, id, err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("docstore: decoding %s/%s: %w", collection, id, err)
	}
	return &docstore.Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		Version:    version,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

// check evaluates the collection's access rule. Collections without a rule
// are unreachable — that keeps a typo'd collection name from silently
// becoming a policy hole.
func (db *DB) check(op docstore.Op, as docstore.Requester, collection string, existing, proposed *docstore.Document, look docstore.Lookup) error {
	rule, ok := db.rules[collection]
	if !ok {
		return apperror.Forbidden("no access rules for collection " + collection)
	}
	return rule(op, as, existing, proposed, look)
}

// plainLookup reads directly from the connection, for rule evaluation outside
// transactions.
func (db *DB) plainLookup(ctx context.Context) docstore.Lookup {
	return func(collection, id string) (*docstore.Document, error) {
		return db.readDoc(ctx, db.conn, collection, id)
	}
}
