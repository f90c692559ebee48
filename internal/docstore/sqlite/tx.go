package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"
)

type docKey struct {
	collection string
	id         string
}

// staged is the pending state of one document inside a transaction.
type staged struct {
	deleted bool
	data    map[string]any
}

// tx buffers a transaction: reads record the version they observed (0 when
// the document was absent — so a concurrent create still conflicts), writes
// are staged in memory and applied at commit after every recorded version has
// been re-checked. Not safe for concurrent use, matching the contract of
// RunTransaction's callback.
type tx struct {
	db     *DB
	ctx    context.Context
	as     docstore.Requester
	reads  map[docKey]int64
	writes map[docKey]*staged
}

var _ docstore.Tx = (*tx)(nil)

// read returns the transaction's view of a document: staged writes shadow the
// database. Database reads are recorded in the read set. Returns (nil, nil)
// for a document that does not exist in this view.
func (t *tx) read(collection, id string) (*docstore.Document, error) {
	key := docKey{collection, id}
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return nil, nil
		}
		return &docstore.Document{
			Collection: collection,
			ID:         id,
			Data:       w.data,
			Version:    t.reads[key],
		}, nil
	}

	doc, err := t.db.readDoc(t.ctx, t.db.conn, collection, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			if _, seen := t.reads[key]; !seen {
				t.reads[key] = 0
			}
			return nil, nil
		}
		return nil, err
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = doc.Version
	}
	return doc, nil
}

// lookup is the rule-evaluation view: same overlay semantics as read, so a
// rule can see documents written earlier in the same transaction.
func (t *tx) lookup(collection, id string) (*docstore.Document, error) {
	doc, err := t.read(collection, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperror.NotFound(collection, id)
	}
	return doc, nil
}

func (t *tx) Get(collection, id string) (*docstore.Document, error) {
	doc, err := t.read(collection, id)
	if err != nil {
		return nil, err
	}
	judged := doc
	if judged == nil {
		judged = &docstore.Document{Collection: collection, ID: id}
	}
	if ruleErr := t.db.check(docstore.OpGet, t.as, collection, judged, nil, t.lookup); ruleErr != nil {
		return nil, ruleErr
	}
	if doc == nil {
		return nil, apperror.NotFound(collection, id)
	}
	return doc, nil
}

func (t *tx) Set(collection, id string, data map[string]any) error {
	existing, err := t.read(collection, id)
	if err != nil {
		return err
	}

	op := docstore.OpCreate
	if existing != nil {
		op = docstore.OpUpdate
	}
	proposed := &docstore.Document{Collection: collection, ID: id, Data: data}
	if ruleErr := t.db.check(op, t.as, collection, existing, proposed, t.lookup); ruleErr != nil {
		return ruleErr
	}

	t.writes[docKey{collection, id}] = &staged{data: data}
	return nil
}

func (t *tx) Update(collection, id string, fields map[string]any) error {
	existing, err := t.read(collection, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperror.NotFound(collection, id)
	}

	// Merge on a copy; a nil field value clears the field.
	merged := make(map[string]any, len(existing.Data)+len(fields))
	for k, v := range existing.Data {
		merged[k] = v
	}
	for k, v := range fields {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	proposed := &docstore.Document{Collection: collection, ID: id, Data: merged}
	if ruleErr := t.db.check(docstore.OpUpdate, t.as, collection, existing, proposed, t.lookup); ruleErr != nil {
		return ruleErr
	}

	t.writes[docKey{collection, id}] = &staged{data: merged}
	return nil
}

func (t *tx) Delete(collection, id string) error {
	existing, err := t.read(collection, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperror.NotFound(collection, id)
	}
	if ruleErr := t.db.check(docstore.OpDelete, t.as, collection, existing, nil, t.lookup); ruleErr != nil {
		return ruleErr
	}

	t.writes[docKey{collection, id}] = &staged{deleted: true}
	return nil
}

// RunTransaction executes fn once and atomically commits its staged writes.
//
// Commit protocol: open a SQL transaction, re-read the version of every
// document in the read set, and abort with apperror.ErrConflict if anything
// changed since fn observed it. Only then are the staged writes applied, each
// bumping its document's version. The caller owns retries — this function
// never re-runs fn on its own, so side effects inside fn happen at most once
// per call.
func (db *DB) RunTransaction(ctx context.Context, as docstore.Requester, fn func(tx docstore.Tx) error) error {
	txn := &tx{
		db:     db,
		ctx:    ctx,
		as:     as,
		reads:  make(map[docKey]int64),
		writes: make(map[docKey]*staged),
	}

	if err := fn(txn); err != nil {
		return err
	}
	if len(txn.writes) == 0 {
		return nil // read-only transactions have nothing to validate
	}
	return db.commit(ctx, txn)
}

func (db *DB) commit(ctx context.Context, txn *tx) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: beginning commit: %w", err)
	}
	defer sqlTx.Rollback()

	// Validate the read set.
	for key, observed := range txn.reads {
		var current int64
		err := sqlTx.QueryRowContext(ctx,
			`SELECT version FROM documents WHERE collection = ? AND id = ?`,
			key.collection, key.id,
		).Scan(&current)
		if err == sql.ErrNoRows {
			current = 0
		} else if err != nil {
			return fmt.Errorf("docstore: validating %s/%s: %w", key.collection, key.id, err)
		}
		if current != observed {
			return apperror.Conflict(key.collection, key.id)
		}
	}

	// Apply staged writes.
	now := time.Now().UTC()
	for key, w := range txn.writes {
		if w.deleted {
			if _, err := sqlTx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`,
				key.collection, key.id,
			); err != nil {
				return fmt.Errorf("docstore: deleting %s/%s: %w", key.collection, key.id, err)
			}
			continue
		}

		raw, err := json.Marshal(w.data)
		if err != nil {
			return fmt.Errorf("docstore: encoding %s/%s: %w", key.collection, key.id, err)
		}
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, data, version, created_at, updated_at)
			 VALUES (?, ?, ?, 1, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET
			   data = excluded.data,
			   version = documents.version + 1,
			   updated_at = excluded.updated_at`,
			key.collection, key.id, string(raw), now, now,
		); err != nil {
			return fmt.Errorf("docstore: writing %s/%s: %w", key.collection, key.id, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("docstore: committing: %w", err)
	}
	return nil
}
