// Package policy holds the declarative access rules the document store
// evaluates on every operation.
//
// The rules are the defense-in-depth boundary between client-shaped requests
// and family data: even if a handler or service has a bug, nothing reaches a
// document this package does not allow. Each rule is a pure predicate over
// (operation, requester, existing doc, proposed doc) plus a transaction-scoped
// lookup for cross-document checks — no side effects, evaluated synchronously
// before any mutation commits.
//
// System requesters are trusted server-side flows (join, invited signup,
// member removal) and pass unconditionally; everything else is judged in full.
package policy

import (
	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"
	"github.com/memora-app/memora/internal/model"
)

// Rules returns the access rule set for the application's collections.
// Collections not listed here are unreachable through the store.
func Rules() docstore.RuleSet {
	return docstore.RuleSet{
		docstore.Users:    usersRule,
		docstore.Families: familiesRule,
		docstore.Stories:  familyResourceRule(true),
		docstore.Devices:  familyResourceRule(false),
	}
}

// usersRule: a user document is readable and writable only by its owner, and
// the generic write path may never move the familyId pointer — that field
// belongs to the provisioning and join flows.
func usersRule(op docstore.Op, as docstore.Requester, existing, proposed *docstore.Document, look docstore.Lookup) error {
	if as.System {
		return nil
	}
	if !as.Authenticated {
		return apperror.Forbidden("sign in required")
	}

	docID := ruleDocID(existing, proposed)
	if docID != as.UserID {
		return apperror.Forbidden("user documents are self-access only")
	}

	switch op {
	case docstore.OpGet:
		return nil

	case docstore.OpCreate:
		u, err := model.DecodeUser(proposed.ID, proposed.Data)
		if err != nil {
			return err
		}
		// A user document may only be born pointing at a family the user is
		// already a member of (the provisioning transaction stages the family
		// write first, so its membership is visible here).
		if u.FamilyID != "" {
			return requireMember(look, u.FamilyID, as.UserID)
		}
		return nil

	case docstore.OpUpdate:
		u, err := model.DecodeUser(proposed.ID, proposed.Data)
		if err != nil {
			return err
		}
		prev, err := model.DecodeUser(existing.ID, existing.Data)
		if err != nil {
			return err
		}
		if u.FamilyID != prev.FamilyID {
			return apperror.Forbidden("familyId cannot be changed through a profile update")
		}
		return nil

	default:
		return apperror.Forbidden("user documents cannot be deleted")
	}
}

// familiesRule: creation must not impersonate (the creator is the admin and
// the sole member), reads are member-only, updates are member-only with
// member removal reserved for the admin. Families are never deleted.
func familiesRule(op docstore.Op, as docstore.Requester, existing, proposed *docstore.Document, look docstore.Lookup) error {
	if as.System {
		return nil
	}
	if !as.Authenticated {
		return apperror.Forbidden("sign in required")
	}

	switch op {
	case docstore.OpCreate:
		fam, err := model.DecodeFamily(proposed.ID, proposed.Data)
		if err != nil {
			return err
		}
		if fam.AdminID != as.UserID {
			return apperror.Forbidden("a family must be created by its admin")
		}
		if len(fam.MemberIDs) != 1 || fam.MemberIDs[0] != as.UserID {
			return apperror.Forbidden("a new family's members must be exactly its creator")
		}
		return nil

	case docstore.OpGet:
		if existing == nil || existing.Data == nil {
			return apperror.Forbidden("not a member of this family")
		}
		fam, err := model.DecodeFamily(existing.ID, existing.Data)
		if err != nil {
			return err
		}
		if !fam.HasMember(as.UserID) {
			return apperror.Forbidden("not a member of this family")
		}
		return nil

	case docstore.OpUpdate:
		prev, err := model.DecodeFamily(existing.ID, existing.Data)
		if err != nil {
			return err
		}
		next, err := model.DecodeFamily(proposed.ID, proposed.Data)
		if err != nil {
			return err
		}
		if !prev.HasMember(as.UserID) {
			return apperror.Forbidden("not a member of this family")
		}
		if next.AdminID != prev.AdminID && as.UserID != prev.AdminID {
			return apperror.Forbidden("only the admin can transfer ownership")
		}
		for _, m := range prev.MemberIDs {
			if !next.HasMember(m) && as.UserID != prev.AdminID {
				return apperror.Forbidden("only the admin can remove members")
			}
		}
		return nil

	default:
		return apperror.Forbidden("family documents cannot be deleted")
	}
}

// familyResourceRule gates a family-owned sub-resource collection (stories,
// devices): every operation requires membership of the owning family, looked
// up through the document's familyId. deletable says whether members may
// delete records (stories yes, devices no).
func familyResourceRule(deletable bool) docstore.Rule {
	return func(op docstore.Op, as docstore.Requester, existing, proposed *docstore.Document, look docstore.Lookup) error {
		if as.System {
			return nil
		}
		if !as.Authenticated {
			return apperror.Forbidden("sign in required")
		}

		switch op {
		case docstore.OpCreate:
			familyID, _ := proposed.Data["familyId"].(string)
			if familyID == "" {
				return apperror.ValidationFailed("familyId", "resource has no familyId")
			}
			return requireMember(look, familyID, as.UserID)

		case docstore.OpGet, docstore.OpUpdate, docstore.OpDelete:
			if op == docstore.OpDelete && !deletable {
				return apperror.Forbidden("this resource cannot be deleted")
			}
			if existing == nil || existing.Data == nil {
				return apperror.Forbidden("not a member of this family")
			}
			familyID, _ := existing.Data["familyId"].(string)
			if err := requireMember(look, familyID, as.UserID); err != nil {
				return err
			}
			if op == docstore.OpUpdate {
				if next, _ := proposed.Data["familyId"].(string); next != familyID {
					return apperror.Forbidden("a resource cannot move between families")
				}
			}
			return nil

		default:
			return apperror.Forbidden("operation not permitted")
		}
	}
}

// requireMember checks that userID is in family familyID's member set.
func requireMember(look docstore.Lookup, familyID, userID string) error {
	famDoc, err := look(docstore.Families, familyID)
	if err != nil {
		return apperror.Forbidden("not a member of this family")
	}
	fam, err := model.DecodeFamily(famDoc.ID, famDoc.Data)
	if err != nil {
		return err
	}
	if !fam.HasMember(userID) {
		return apperror.Forbidden("not a member of this family")
	}
	return nil
}

// ruleDocID returns the document key of whichever side of the operation is
// populated.
func ruleDocID(existing, proposed *docstore.Document) string {
	if existing != nil {
		return existing.ID
	}
	if proposed != nil {
		return proposed.ID
	}
	return ""
}
