// Package docstore defines the transactional document store consumed by the
// membership services, plus the hook through which declarative access rules
// are evaluated on every operation.
//
// The contract mirrors a hosted document database: collections of JSON
// documents addressed by string keys, single-document reads and auto-keyed
// inserts outside transactions, and an optimistic-concurrency transaction
// primitive for multi-document read-modify-write. If any document read inside
// a transaction is modified by another writer before commit, the whole
// transaction aborts with apperror.ErrConflict and nothing is applied.
package docstore

import (
	"context"
	"time"
)

// Collection names used by the application.
const (
	Users    = "users"
	Families = "families"
	Stories  = "stories"
	Devices  = "devices"
)

// Document is a raw record as stored: the decoded JSON body plus the
// bookkeeping the store maintains. Version increments on every successful
// write and is what transactions check at commit time.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Requester identifies who is performing an operation, as established by the
// identity boundary.
//
// System requesters are trusted server-side flows (join, invited signup,
// member removal) that must touch documents the acting user could not write
// directly — the equivalent of running with admin credentials against a
// hosted store. They still carry the acting UserID for logging. Everything
// client-shaped runs as a plain authenticated requester and is judged by the
// rules in full.
type Requester struct {
	UserID        string
	Authenticated bool
	System        bool
}

// AsUser returns the requester for an authenticated end user.
func AsUser(userID string) Requester {
	return Requester{UserID: userID, Authenticated: userID != ""}
}

// AsSystem returns a trusted requester acting on behalf of userID.
func AsSystem(userID string) Requester {
	return Requester{UserID: userID, Authenticated: true, System: true}
}

// Op is the kind of operation a rule is asked to judge.
type Op int

const (
	OpGet Op = iota
	OpCreate
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Lookup is a read scoped to the operation being judged: inside a transaction
// it sees that transaction's staged writes, so a rule can reason about
// documents written earlier in the same transaction. Returns
// apperror.ErrNotFound for missing documents.
type Lookup func(collection, id string) (*Document, error)

// Rule judges one operation against one collection. existing is nil for
// creates, proposed is nil for gets and deletes. For a get of a missing
// document, existing carries only the collection and key (nil Data), so the
// rule can still judge whether the requester may learn the document is
// absent. A nil return allows the operation; any error (conventionally
// apperror.Forbidden) denies it and, in a transaction, aborts the
// transaction.
type Rule func(op Op, as Requester, existing, proposed *Document, look Lookup) error

// RuleSet maps collection names to their rule. Operations on collections with
// no rule are denied outright — a collection must opt in to be reachable.
type RuleSet map[string]Rule

// Tx exposes reads and writes scoped to one transaction. All methods evaluate
// the access rules immediately; writes are staged and applied atomically at
// commit, after every read's version has been re-validated.
type Tx interface {
	// Get reads a document, recording it in the transaction's read set.
	// Returns apperror.ErrNotFound (also recorded, so a concurrent create
	// conflicts) when the document does not exist.
	Get(collection, id string) (*Document, error)

	// Set stages a full write of the document, creating it if absent.
	Set(collection, id string, data map[string]any) error

	// Update stages a field-merge into an existing document. Returns
	// apperror.ErrNotFound if the document does not exist.
	Update(collection, id string, fields map[string]any) error

	// Delete stages removal of an existing document.
	Delete(collection, id string) error
}

// Store is the document store consumed by the services.
type Store interface {
	// Get reads a single document outside any transaction.
	Get(ctx context.Context, as Requester, collection, id string) (*Document, error)

	// List returns the documents in a collection whose data field equals
	// value. Every returned document is checked against the collection's
	// get rule; a single denial fails the whole list.
	List(ctx context.Context, as Requester, collection, field string, value any) ([]Document, error)

	// Add inserts a document under a freshly generated key and returns it.
	Add(ctx context.Context, as Requester, collection string, data map[string]any) (string, error)

	// NewID returns a fresh document key for two-phase creates (generate
	// the id, then write inside a transaction).
	NewID() string

	// RunTransaction executes fn once and commits its staged writes
	// atomically. Returns apperror.ErrConflict if any document read by fn
	// changed before commit; callers retry a bounded number of times.
	RunTransaction(ctx context.Context, as Requester, fn func(tx Tx) error) error
}
