package policy

import (
	"errors"
	"testing"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"
)

// fixedLookup serves rule evaluations from an in-memory document set, playing
// the part of the store's transaction-scoped lookup.
func fixedLookup(docs map[string]map[string]any) docstore.Lookup {
	return func(collection, id string) (*docstore.Document, error) {
		data, ok := docs[collection+"/"+id]
		if !ok {
			return nil, apperror.NotFound(collection, id)
		}
		return &docstore.Document{Collection: collection, ID: id, Data: data}, nil
	}
}

func doc(collection, id string, data map[string]any) *docstore.Document {
	return &docstore.Document{Collection: collection, ID: id, Data: data}
}

// familyF1 is a two-member family administered by u1, shared across cases.
func familyF1() map[string]any {
	return map[string]any{
		"familyName": "The Ahmeds",
		"adminId":    "u1",
		"memberIds":  []any{"u1", "u2"},
	}
}

func TestUsersRule(t *testing.T) {
	look := fixedLookup(map[string]map[string]any{
		"families/f1": familyF1(),
	})

	tests := []struct {
		name     string
		op       docstore.Op
		as       docstore.Requester
		existing *docstore.Document
		proposed *docstore.Document
		wantDeny bool
	}{
		{
			name:     "unauthenticated read denied",
			op:       docstore.OpGet,
			as:       docstore.Requester{},
			existing: doc(docstore.Users, "u1", map[string]any{"displayName": "Amina"}),
			wantDeny: true,
		},
		{
			name:     "owner reads own document",
			op:       docstore.OpGet,
			as:       docstore.AsUser("u1"),
			existing: doc(docstore.Users, "u1", map[string]any{"displayName": "Amina"}),
		},
		{
			name:     "reading someone else's document denied",
			op:       docstore.OpGet,
			as:       docstore.AsUser("u2"),
			existing: doc(docstore.Users, "u1", map[string]any{"displayName": "Amina"}),
			wantDeny: true,
		},
		{
			name:     "probing a missing foreign key denied",
			op:       docstore.OpGet,
			as:       docstore.AsUser("u2"),
			existing: doc(docstore.Users, "u1", nil), // key-only: document absent
			wantDeny: true,
		},
		{
			name:     "create pointing at a family the user belongs to",
			op:       docstore.OpCreate,
			as:       docstore.AsUser("u2"),
			proposed: doc(docstore.Users, "u2", map[string]any{"familyId": "f1"}),
		},
		{
			name:     "create pointing at a family the user is not in",
			op:       docstore.OpCreate,
			as:       docstore.AsUser("u9"),
			proposed: doc(docstore.Users, "u9", map[string]any{"familyId": "f1"}),
			wantDeny: true,
		},
		{
			name:     "create under someone else's key denied",
			op:       docstore.OpCreate,
			as:       docstore.AsUser("u2"),
			proposed: doc(docstore.Users, "u1", map[string]any{}),
			wantDeny: true,
		},
		{
			name:     "profile update keeping familyId",
			op:       docstore.OpUpdate,
			as:       docstore.AsUser("u1"),
			existing: doc(docstore.Users, "u1", map[string]any{"familyId": "f1"}),
			proposed: doc(docstore.Users, "u1", map[string]any{"familyId": "f1", "bio": "new bio"}),
		},
		{
			name:     "profile update moving familyId denied",
			op:       docstore.OpUpdate,
			as:       docstore.AsUser("u1"),
			existing: doc(docstore.Users, "u1", map[string]any{"familyId": "f1"}),
			proposed: doc(docstore.Users, "u1", map[string]any{"familyId": "f2"}),
			wantDeny: true,
		},
		{
			name:     "delete denied even for the owner",
			op:       docstore.OpDelete,
			as:       docstore.AsUser("u1"),
			existing: doc(docstore.Users, "u1", map[string]any{}),
			wantDeny: true,
		},
		{
			name:     "system requester bypasses everything",
			op:       docstore.OpUpdate,
			as:       docstore.AsSystem("u9"),
			existing: doc(docstore.Users, "u1", map[string]any{"familyId": "f1"}),
			proposed: doc(docstore.Users, "u1", map[string]any{"familyId": "f2"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := usersRule(tt.op, tt.as, tt.existing, tt.proposed, look)
			if tt.wantDeny && err == nil {
				t.Error("rule allowed the operation, want denial")
			}
			if !tt.wantDeny && err != nil {
				t.Errorf("rule denied the operation: %v", err)
			}
		})
	}
}

func TestFamiliesRule(t *testing.T) {
	look := fixedLookup(nil)

	tests := []struct {
		name     string
		op       docstore.Op
		as       docstore.Requester
		existing *docstore.Document
		proposed *docstore.Document
		wantDeny bool
	}{
		{
			name:     "member reads their family",
			op:       docstore.OpGet,
			as:       docstore.AsUser("u2"),
			existing: doc(docstore.Families, "f1", familyF1()),
		},
		{
			name:     "non-member read denied",
			op:       docstore.OpGet,
			as:       docstore.AsUser("u9"),
			existing: doc(docstore.Families, "f1", familyF1()),
			wantDeny: true,
		},
		{
			name:     "probing a missing family denied",
			op:       docstore.OpGet,
			as:       docstore.AsUser("u1"),
			existing: doc(docstore.Families, "f99", nil),
			wantDeny: true,
		},
		{
			name: "creator provisions their own family",
			op:   docstore.OpCreate,
			as:   docstore.AsUser("u1"),
			proposed: doc(docstore.Families, "f1", map[string]any{
				"adminId":   "u1",
				"memberIds": []any{"u1"},
			}),
		},
		{
			name: "creating a family for someone else denied",
			op:   docstore.OpCreate,
			as:   docstore.AsUser("u1"),
			proposed: doc(docstore.Families, "f1", map[string]any{
				"adminId":   "u2",
				"memberIds": []any{"u2"},
			}),
			wantDeny: true,
		},
		{
			name: "creating a family with pre-filled members denied",
			op:   docstore.OpCreate,
			as:   docstore.AsUser("u1"),
			proposed: doc(docstore.Families, "f1", map[string]any{
				"adminId":   "u1",
				"memberIds": []any{"u1", "u2"},
			}),
			wantDeny: true,
		},
		{
			name:     "member renames the family",
			op:       docstore.OpUpdate,
			as:       docstore.AsUser("u2"),
			existing: doc(docstore.Families, "f1", familyF1()),
			proposed: doc(docstore.Families, "f1", map[string]any{
				"familyName": "New Name",
				"adminId":    "u1",
				"memberIds":  []any{"u1", "u2"},
			}),
		},
		{
			name:     "non-admin removing a member denied",
			op:       docstore.OpUpdate,
			as:       docstore.AsUser("u2"),
			existing: doc(docstore.Families, "f1", familyF1()),
			proposed: doc(docstore.Families, "f1", map[string]any{
				"adminId":   "u1",
				"memberIds": []any{"u1"},
			}),
			wantDeny: true,
		},
		{
			name:     "non-admin transferring ownership denied",
			op:       docstore.OpUpdate,
			as:       docstore.AsUser("u2"),
			existing: doc(docstore.Families, "f1", familyF1()),
			proposed: doc(docstore.Families, "f1", map[string]any{
				"adminId":   "u2",
				"memberIds": []any{"u1", "u2"},
			}),
			wantDeny: true,
		},
		{
			name:     "delete denied",
			op:       docstore.OpDelete,
			as:       docstore.AsUser("u1"),
			existing: doc(docstore.Families, "f1", familyF1()),
			wantDeny: true,
		},
		{
			name:     "system requester may touch any family",
			op:       docstore.OpUpdate,
			as:       docstore.AsSystem("u9"),
			existing: doc(docstore.Families, "f1", familyF1()),
			proposed: doc(docstore.Families, "f1", map[string]any{
				"adminId":   "u1",
				"memberIds": []any{"u1", "u2", "u9"},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := familiesRule(tt.op, tt.as, tt.existing, tt.proposed, look)
			if tt.wantDeny && err == nil {
				t.Error("rule allowed the operation, want denial")
			}
			if !tt.wantDeny && err != nil {
				t.Errorf("rule denied the operation: %v", err)
			}
		})
	}
}

func TestFamilyResourceRule(t *testing.T) {
	look := fixedLookup(map[string]map[string]any{
		"families/f1": familyF1(),
	})

	storiesRule := familyResourceRule(true)
	devicesRule := familyResourceRule(false)

	t.Run("member creates a story in their family", func(t *testing.T) {
		err := storiesRule(docstore.OpCreate, docstore.AsUser("u2"), nil,
			doc(docstore.Stories, "s1", map[string]any{"familyId": "f1", "title": "The farm"}), look)
		if err != nil {
			t.Errorf("rule denied: %v", err)
		}
	})

	t.Run("outsider creating a story in f1 denied", func(t *testing.T) {
		err := storiesRule(docstore.OpCreate, docstore.AsUser("u9"), nil,
			doc(docstore.Stories, "s1", map[string]any{"familyId": "f1"}), look)
		if !errors.Is(err, apperror.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("story without familyId rejected", func(t *testing.T) {
		err := storiesRule(docstore.OpCreate, docstore.AsUser("u1"), nil,
			doc(docstore.Stories, "s1", map[string]any{"title": "orphan"}), look)
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})

	t.Run("outsider reading a story denied", func(t *testing.T) {
		err := storiesRule(docstore.OpGet, docstore.AsUser("u9"),
			doc(docstore.Stories, "s1", map[string]any{"familyId": "f1"}), nil, look)
		if !errors.Is(err, apperror.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("moving a story between families denied", func(t *testing.T) {
		err := storiesRule(docstore.OpUpdate, docstore.AsUser("u1"),
			doc(docstore.Stories, "s1", map[string]any{"familyId": "f1"}),
			doc(docstore.Stories, "s1", map[string]any{"familyId": "f2"}), look)
		if !errors.Is(err, apperror.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("member deletes a story", func(t *testing.T) {
		err := storiesRule(docstore.OpDelete, docstore.AsUser("u1"),
			doc(docstore.Stories, "s1", map[string]any{"familyId": "f1"}), nil, look)
		if err != nil {
			t.Errorf("rule denied: %v", err)
		}
	})

	t.Run("deleting a device denied even for members", func(t *testing.T) {
		err := devicesRule(docstore.OpDelete, docstore.AsUser("u1"),
			doc(docstore.Devices, "d1", map[string]any{"familyId": "f1"}), nil, look)
		if !errors.Is(err, apperror.ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})
}
