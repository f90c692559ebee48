package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"
)

// Get reads a single document outside any transaction, after the collection's
// get rule has allowed it. For missing documents the rule is still consulted
// (with a nil existing doc), so a denied requester cannot probe for existence.
func (db *DB) Get(ctx context.Context, as docstore.Requester, collection, id string) (*docstore.Document, error) {
	doc, err := db.readDoc(ctx, db.conn, collection, id)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	judged := doc
	if judged == nil {
		// Key-only document so the rule can judge a read of a missing key.
		judged = &docstore.Document{Collection: collection, ID: id}
	}
	if ruleErr := db.check(docstore.OpGet, as, collection, judged, nil, db.plainLookup(ctx)); ruleErr != nil {
		return nil, ruleErr
	}
	if err != nil {
		return nil, err // not found, and the requester was allowed to know
	}
	return doc, nil
}

// fieldPattern restricts List filters to simple top-level field names, which
// is all the application queries by. Anything fancier would be string-spliced
// into a JSON path, so reject it outright.
var fieldPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// List returns the documents in collection whose data[field] equals value,
// each vetted by the collection's get rule. One denial fails the whole query:
// a requester either may see the result set or may not, there is no silent
// filtering to mask policy mistakes.
func (db *DB) List(ctx context.Context, as docstore.Requester, collection, field string, value any) ([]docstore.Document, error) {
	if !fieldPattern.MatchString(field) {
		return nil, apperror.ValidationFailed("field", "invalid filter field "+field)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, data, version, created_at, updated_at
		 FROM documents
		 WHERE collection = ? AND json_extract(data, ?) = ?
		 ORDER BY created_at DESC`,
		collection, "$."+field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: listing %s by %s: %w", collection, field, err)
	}
	defer rows.Close()

	look := db.plainLookup(ctx)
	var docs []docstore.Document
	for rows.Next() {
		var (
			doc docstore.Document
			raw string
		)
		doc.Collection = collection
		if err := rows.Scan(&doc.ID, &raw, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("docstore: scanning %s row: %w", collection, err)
		}
		if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
			return nil, fmt.Errorf("docstore: decoding %s/%s: %w", collection, doc.ID, err)
		}
		if ruleErr := db.check(docstore.OpGet, as, collection, &doc, nil, look); ruleErr != nil {
			return nil, ruleErr
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: listing %s: %w", collection, err)
	}
	return docs, nil
}

// Add inserts a new document under a generated key.
func (db *DB) Add(ctx context.Context, as docstore.Requester, collection string, data map[string]any) (string, error) {
	id := db.NewID()

	proposed := &docstore.Document{Collection: collection, ID: id, Data: data}
	if ruleErr := db.check(docstore.OpCreate, as, collection, nil, proposed, db.plainLookup(ctx)); ruleErr != nil {
		return "", ruleErr
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("docstore: encoding %s document: %w", collection, err)
	}

	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		collection, id, string(raw), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("docstore: inserting %s/%s: %w", collection, id, err)
	}
	return id, nil
}
