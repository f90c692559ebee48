package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"
)

// Tests run against ":memory:" — fast, isolated, destroyed on close. The
// rule sets are deliberately minimal: the CRUD and concurrency tests use an
// allow-everything policy so they exercise the store alone, and the policy
// tests install purpose-built rules. The real application policy has its own
// tests in internal/policy.

func allow(docstore.Op, docstore.Requester, *docstore.Document, *docstore.Document, docstore.Lookup) error {
	return nil
}

func allowAll() docstore.RuleSet {
	return docstore.RuleSet{
		docstore.Users:    allow,
		docstore.Families: allow,
	}
}

func newTestStore(t *testing.T, rules docstore.RuleSet) *DB {
	t.Helper()
	db, err := New(":memory:", rules)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var anyone = docstore.AsUser("tester")

// =========================================================================
// NON-TRANSACTIONAL READS AND WRITES
// =========================================================================

func TestAddAndGet(t *testing.T) {
	db := newTestStore(t, allowAll())
	ctx := context.Background()

	id, err := db.Add(ctx, anyone, docstore.Users, map[string]any{"displayName": "Amina"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if id == "" {
		t.Fatal("Add() returned empty id")
	}

	doc, err := db.Get(ctx, anyone, docstore.Users, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.Data["displayName"] != "Amina" {
		t.Errorf("Data[displayName] = %v, want Amina", doc.Data["displayName"])
	}
	if doc.Version != 1 {
		t.Errorf("Version = %d, want 1 for a fresh document", doc.Version)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := newTestStore(t, allowAll())

	_, err := db.Get(context.Background(), anyone, docstore.Users, "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGet_CollectionWithoutRuleIsUnreachable(t *testing.T) {
	db := newTestStore(t, allowAll())

	_, err := db.Get(context.Background(), anyone, "secrets", "x")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Get() on ruleless collection error = %v, want ErrForbidden", err)
	}
}

func TestGet_DeniedRequesterCannotProbeExistence(t *testing.T) {
	// The get rule runs even when the document is missing, so a denied
	// requester gets the same answer for present and absent keys.
	authOnly := func(_ docstore.Op, as docstore.Requester, _, _ *docstore.Document, _ docstore.Lookup) error {
		if !as.Authenticated {
			return apperror.Forbidden("sign in first")
		}
		return nil
	}
	db := newTestStore(t, docstore.RuleSet{docstore.Users: authOnly})

	_, err := db.Get(context.Background(), docstore.Requester{}, docstore.Users, "missing")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Get() error = %v, want ErrForbidden (not ErrNotFound) for denied requester", err)
	}
}

func TestList_FiltersByField(t *testing.T) {
	db := newTestStore(t, allowAll())
	ctx := context.Background()

	for _, m := range []map[string]any{
		{"title": "The farm", "familyId": "f1"},
		{"title": "The wedding", "familyId": "f1"},
		{"title": "Elsewhere", "familyId": "f2"},
	} {
		if _, err := db.Add(ctx, anyone, docstore.Users, m); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	docs, err := db.List(ctx, anyone, docstore.Users, "familyId", "f1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("List() returned %d documents, want 2", len(docs))
	}
	for _, d := range docs {
		if d.Data["familyId"] != "f1" {
			t.Errorf("List() returned document with familyId %v", d.Data["familyId"])
		}
	}
}

func TestList_RejectsInvalidFilterField(t *testing.T) {
	db := newTestStore(t, allowAll())

	_, err := db.List(context.Background(), anyone, docstore.Users, "x') OR 1=1 --", "v")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("List() error = %v, want ErrValidation for hostile field name", err)
	}
}

// =========================================================================
// TRANSACTIONS
// =========================================================================

func TestTransaction_CommitsAllWrites(t *testing.T) {
	db := newTestStore(t, allowAll())
	ctx := context.Background()

	err := db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		if err := tx.Set(docstore.Families, "f1", map[string]any{"adminId": "u1"}); err != nil {
			return err
		}
		return tx.Set(docstore.Users, "u1", map[string]any{"familyId": "f1"})
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}

	for _, probe := range []struct{ collection, id string }{
		{docstore.Families, "f1"},
		{docstore.Users, "u1"},
	} {
		if _, err := db.Get(ctx, anyone, probe.collection, probe.id); err != nil {
			t.Errorf("Get(%s/%s) after commit: %v", probe.collection, probe.id, err)
		}
	}
}

func TestTransaction_ReadsSeeStagedWrites(t *testing.T) {
	db := newTestStore(t, allowAll())

	err := db.RunTransaction(context.Background(), anyone, func(tx docstore.Tx) error {
		if err := tx.Set(docstore.Users, "u1", map[string]any{"displayName": "Amina"}); err != nil {
			return err
		}
		doc, err := tx.Get(docstore.Users, "u1")
		if err != nil {
			return err
		}
		if doc.Data["displayName"] != "Amina" {
			t.Errorf("staged read returned %v, want the staged write", doc.Data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
}

func TestTransaction_UpdateMergesAndClearsFields(t *testing.T) {
	db := newTestStore(t, allowAll())
	ctx := context.Background()

	seed := func() {
		err := db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
			return tx.Set(docstore.Users, "u1", map[string]any{
				"displayName": "Amina",
				"familyId":    "f1",
			})
		})
		if err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}
	seed()

	// Merge one field, clear another with a nil value.
	err := db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		return tx.Update(docstore.Users, "u1", map[string]any{
			"bio":      "grandmother of six",
			"familyId": nil,
		})
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}

	doc, err := db.Get(ctx, anyone, docstore.Users, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.Data["displayName"] != "Amina" {
		t.Errorf("merge lost untouched field displayName: %v", doc.Data)
	}
	if doc.Data["bio"] != "grandmother of six" {
		t.Errorf("merge did not apply bio: %v", doc.Data)
	}
	if _, ok := doc.Data["familyId"]; ok {
		t.Errorf("nil field value should clear familyId, data = %v", doc.Data)
	}
	if doc.Version != 2 {
		t.Errorf("Version = %d, want 2 after one update", doc.Version)
	}
}

func TestTransaction_UpdateMissingDocument(t *testing.T) {
	db := newTestStore(t, allowAll())

	err := db.RunTransaction(context.Background(), anyone, func(tx docstore.Tx) error {
		return tx.Update(docstore.Users, "missing", map[string]any{"bio": "x"})
	})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Update() on missing doc error = %v, want ErrNotFound", err)
	}
}

func TestTransaction_ConflictOnConcurrentWrite(t *testing.T) {
	db := newTestStore(t, allowAll())
	ctx := context.Background()

	err := db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		return tx.Set(docstore.Families, "f1", map[string]any{"adminId": "u1", "memberIds": []any{"u1"}})
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	// The outer transaction reads f1, then another writer sneaks in a
	// commit before the outer one finishes. The outer commit must abort.
	err = db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.Families, "f1"); err != nil {
			return err
		}

		if err := db.RunTransaction(ctx, anyone, func(inner docstore.Tx) error {
			return inner.Set(docstore.Families, "f1", map[string]any{"adminId": "u1", "memberIds": []any{"u1", "u2"}})
		}); err != nil {
			return err
		}

		return tx.Set(docstore.Families, "f1", map[string]any{"adminId": "u1", "memberIds": []any{"u1", "u3"}})
	})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("RunTransaction() error = %v, want ErrConflict", err)
	}

	// The interleaved writer's state survives; the losing transaction
	// applied nothing.
	doc, err := db.Get(ctx, anyone, docstore.Families, "f1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	members, _ := doc.Data["memberIds"].([]any)
	if len(members) != 2 || members[1] != "u2" {
		t.Errorf("memberIds = %v, want the interleaved writer's [u1 u2]", members)
	}
}

func TestTransaction_ConflictOnConcurrentCreate(t *testing.T) {
	// Reading an absent document records "absent" in the read set: a
	// concurrent create of that document must still conflict, otherwise two
	// racing provisioning runs could both create.
	db := newTestStore(t, allowAll())
	ctx := context.Background()

	err := db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.Users, "u1"); !errors.Is(err, apperror.ErrNotFound) {
			t.Fatalf("expected u1 absent, got %v", err)
		}

		if err := db.RunTransaction(ctx, anyone, func(inner docstore.Tx) error {
			return inner.Set(docstore.Users, "u1", map[string]any{"displayName": "first writer"})
		}); err != nil {
			return err
		}

		return tx.Set(docstore.Users, "u1", map[string]any{"displayName": "second writer"})
	})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("RunTransaction() error = %v, want ErrConflict", err)
	}

	doc, err := db.Get(ctx, anyone, docstore.Users, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.Data["displayName"] != "first writer" {
		t.Errorf("displayName = %v, want the first writer to win", doc.Data["displayName"])
	}
}

func TestTransaction_NothingAppliedWhenCallbackFails(t *testing.T) {
	db := newTestStore(t, allowAll())
	ctx := context.Background()

	failure := errors.New("injected failure")
	err := db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		if err := tx.Set(docstore.Families, "f1", map[string]any{"adminId": "u1"}); err != nil {
			return err
		}
		if err := tx.Set(docstore.Users, "u1", map[string]any{"familyId": "f1"}); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("RunTransaction() error = %v, want the injected failure", err)
	}

	// Neither write may have landed.
	if _, err := db.Get(ctx, anyone, docstore.Families, "f1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("family document exists after failed transaction: %v", err)
	}
	if _, err := db.Get(ctx, anyone, docstore.Users, "u1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("user document exists after failed transaction: %v", err)
	}
}

func TestTransaction_RuleDenialAbortsWholeTransaction(t *testing.T) {
	noCreates := func(op docstore.Op, _ docstore.Requester, _, _ *docstore.Document, _ docstore.Lookup) error {
		if op == docstore.OpCreate {
			return apperror.Forbidden("creates are not allowed here")
		}
		return nil
	}
	db := newTestStore(t, docstore.RuleSet{
		docstore.Families: allow,
		docstore.Users:    noCreates,
	})
	ctx := context.Background()

	err := db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		if err := tx.Set(docstore.Families, "f1", map[string]any{"adminId": "u1"}); err != nil {
			return err
		}
		return tx.Set(docstore.Users, "u1", map[string]any{"familyId": "f1"})
	})
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("RunTransaction() error = %v, want ErrForbidden", err)
	}

	// The allowed family write staged before the denial must not land.
	if _, err := db.Get(ctx, anyone, docstore.Families, "f1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("family document exists after denied transaction: %v", err)
	}
}

func TestTransaction_RulesSeeStagedWrites(t *testing.T) {
	// A create rule that requires a related document to exist must accept
	// one staged earlier in the same transaction.
	userNeedsFamily := func(op docstore.Op, _ docstore.Requester, _, proposed *docstore.Document, look docstore.Lookup) error {
		if op != docstore.OpCreate {
			return nil
		}
		famID, _ := proposed.Data["familyId"].(string)
		if _, err := look(docstore.Families, famID); err != nil {
			return apperror.Forbidden("user's family does not exist")
		}
		return nil
	}
	db := newTestStore(t, docstore.RuleSet{
		docstore.Families: allow,
		docstore.Users:    userNeedsFamily,
	})

	err := db.RunTransaction(context.Background(), anyone, func(tx docstore.Tx) error {
		if err := tx.Set(docstore.Families, "f1", map[string]any{"adminId": "u1"}); err != nil {
			return err
		}
		return tx.Set(docstore.Users, "u1", map[string]any{"familyId": "f1"})
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v; the rule should see the staged family", err)
	}
}

func TestTransaction_Delete(t *testing.T) {
	db := newTestStore(t, allowAll())
	ctx := context.Background()

	err := db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		return tx.Set(docstore.Users, "u1", map[string]any{"displayName": "Amina"})
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	err = db.RunTransaction(ctx, anyone, func(tx docstore.Tx) error {
		return tx.Delete(docstore.Users, "u1")
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}

	if _, err := db.Get(ctx, anyone, docstore.Users, "u1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestTransaction_ReadOnlyCommitsNothing(t *testing.T) {
	db := newTestStore(t, allowAll())

	err := db.RunTransaction(context.Background(), anyone, func(tx docstore.Tx) error {
		_, err := tx.Get(docstore.Users, "missing")
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read-only RunTransaction() error = %v", err)
	}
}
