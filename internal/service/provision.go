// Package service contains the business logic layer: provisioning, family
// membership, stories, devices, and authentication orchestration.
//
// Services accept primitives and domain types, never HTTP types, and return
// domain errors from the apperror taxonomy — the handler layer translates
// those to status codes. Every multi-document mutation goes through the
// document store's transaction primitive; services own the bounded retry on
// optimistic-concurrency conflicts.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/docstore"
	"github.com/memora-app/memora/internal/model"
)

// txAttempts bounds how many times a conflicted transaction is retried before
// the failure surfaces to the caller.
const txAttempts = 3

// ProvisioningService guarantees that a freshly authenticated identity ends
// up with exactly one user document and exactly one family — created or
// joined — no matter how many times provisioning runs or how many copies run
// concurrently. A double-clicked signup, a retried network call, and a login
// racing a signup all converge on the same single outcome.
type ProvisioningService struct {
	store  docstore.Store
	logger *slog.Logger
}

func NewProvisioningService(store docstore.Store, logger *slog.Logger) *ProvisioningService {
	return &ProvisioningService{store: store, logger: logger}
}

// Provision attaches identity to a user document and a family.
//
// With no inviteFamilyID a new family is created with the user as admin and
// sole member; with one, the user joins that family instead. Either way the
// user document and the family write commit in one transaction — a failure
// leaves nothing behind. If the user document already exists the call is a
// no-op, which is what makes the whole routine safe to call on every login.
//
// Conflicted transactions are retried up to txAttempts times; exhaustion
// surfaces as apperror.ErrProvisioning.
func (s *ProvisioningService) Provision(ctx context.Context, identity auth.Identity, displayName, familyName, inviteFamilyID string) error {
	if identity.UserID == "" {
		return apperror.Unauthenticated("provisioning requires a verified identity")
	}

	var lastErr error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err := s.provisionOnce(ctx, identity, displayName, familyName, inviteFamilyID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return err
		}
		lastErr = err
		s.logger.Warn("provisioning transaction conflicted, retrying",
			slog.String("userID", identity.UserID),
			slog.Int("attempt", attempt),
		)
	}

	s.logger.Error("provisioning retries exhausted", slog.String("userID", identity.UserID))
	return apperror.ProvisioningExhausted(lastErr)
}

func (s *ProvisioningService) provisionOnce(ctx context.Context, identity auth.Identity, displayName, familyName, inviteFamilyID string) error {
	uid := identity.UserID

	display := strings.TrimSpace(displayName)
	if display == "" {
		display = strings.TrimSpace(identity.DisplayName)
	}
	if display == "" {
		display = placeholderName(uid)
	}

	if inviteFamilyID != "" {
		return s.joinExisting(ctx, identity, display, inviteFamilyID)
	}
	return s.createNew(ctx, identity, display, familyName)
}

// createNew provisions a brand-new family with the user as its admin. It runs
// under the user's own requester: the access rules vet family creation
// (admin = creator, members = {creator}) exactly as they would a client
// write.
func (s *ProvisioningService) createNew(ctx context.Context, identity auth.Identity, display, familyName string) error {
	uid := identity.UserID

	name := strings.TrimSpace(familyName)
	if name == "" {
		name = display + "'s Family"
	}

	famID := s.store.NewID()
	created := false

	err := s.store.RunTransaction(ctx, docstore.AsUser(uid), func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.Users, uid); err == nil {
			return nil // already provisioned — at most one effect per userId, ever
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		fam := &model.Family{
			ID:               famID,
			FamilyName:       name,
			AdminID:          uid,
			MemberIDs:        []string{uid},
			SubscriptionTier: model.TierFree,
			CreatedAt:        time.Now(),
		}
		if err := tx.Set(docstore.Families, famID, fam.Encode()); err != nil {
			return err
		}

		user := &model.User{
			UserID:      uid,
			Email:       identity.Email,
			DisplayName: display,
			FamilyID:    famID,
		}
		if err := tx.Set(docstore.Users, uid, user.Encode()); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return err
	}

	if created {
		s.logger.Info("provisioned new family",
			slog.String("userID", uid),
			slog.String("familyID", famID),
			slog.String("familyName", name),
		)
	}
	return nil
}

// joinExisting provisions the user into an already existing family, the
// invited-signup path. The membership union and the user document commit
// together; a vanished family fails the whole thing rather than leaving a
// user with a dangling familyId.
func (s *ProvisioningService) joinExisting(ctx context.Context, identity auth.Identity, display, inviteFamilyID string) error {
	uid := identity.UserID
	joined := false

	err := s.store.RunTransaction(ctx, docstore.AsSystem(uid), func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.Users, uid); err == nil {
			return nil
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		famDoc, err := tx.Get(docstore.Families, inviteFamilyID)
		if err != nil {
			return err // FamilyNotFound: no orphan user document gets written
		}
		fam, err := model.DecodeFamily(famDoc.ID, famDoc.Data)
		if err != nil {
			return err
		}

		fam.AddMember(uid)
		if err := tx.Update(docstore.Families, fam.ID, map[string]any{
			"memberIds": fam.MemberIDs,
		}); err != nil {
			return err
		}

		user := &model.User{
			UserID:      uid,
			Email:       identity.Email,
			DisplayName: display,
			FamilyID:    fam.ID,
		}
		if err := tx.Set(docstore.Users, uid, user.Encode()); err != nil {
			return err
		}
		joined = true
		return nil
	})
	if err != nil {
		return err
	}

	if joined {
		s.logger.Info("provisioned user into existing family",
			slog.String("userID", uid),
			slog.String("familyID", inviteFamilyID),
		)
	}
	return nil
}

// placeholderName generates a display name for identities that arrive without
// one (some OAuth accounts hide the profile name).
func placeholderName(uid string) string {
	suffix := uid
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "Storyteller " + suffix
}
