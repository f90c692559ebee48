package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"
	"github.com/memora-app/memora/internal/email"
	"github.com/memora-app/memora/internal/invite"
	"github.com/memora-app/memora/internal/model"
)

// FamilyService handles membership changes on already-provisioned users:
// switching families, inviting new relatives, and removing members. All
// mutations run server-side under the system requester — a client can never
// write another family's member list directly, the access rules forbid it.
type FamilyService struct {
	store   docstore.Store
	invites *invite.Signer
	mailer  *email.Mailer
	baseURL string
	logger  *slog.Logger
}

func NewFamilyService(store docstore.Store, invites *invite.Signer, mailer *email.Mailer, baseURL string, logger *slog.Logger) *FamilyService {
	return &FamilyService{
		store:   store,
		invites: invites,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Get returns the acting user's own family.
func (s *FamilyService) Get(ctx context.Context, actingUserID string) (*model.Family, error) {
	famID, err := s.familyIDOf(ctx, actingUserID)
	if err != nil {
		return nil, err
	}
	famDoc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Families, famID)
	if err != nil {
		return nil, err
	}
	return model.DecodeFamily(famDoc.ID, famDoc.Data)
}

// Join moves an existing user into the target family. The member-list union
// on the target, the removal from the previous family, and the familyId flip
// on the user document all commit in one transaction — there is no moment
// where the user document and the member lists disagree.
//
// A user who administers their current family cannot switch out of it; the
// family would be left headless.
func (s *FamilyService) Join(ctx context.Context, actingUserID, familyID string) error {
	familyID = strings.TrimSpace(familyID)
	if familyID == "" {
		return apperror.ValidationFailed("familyId", "a family id is required")
	}

	err := withConflictRetry(s.logger, "join family", func() error {
		return s.joinOnce(ctx, actingUserID, familyID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("user joined family",
		slog.String("userID", actingUserID),
		slog.String("familyID", familyID),
	)
	return nil
}

func (s *FamilyService) joinOnce(ctx context.Context, actingUserID, familyID string) error {
	return s.store.RunTransaction(ctx, docstore.AsSystem(actingUserID), func(tx docstore.Tx) error {
		userDoc, err := tx.Get(docstore.Users, actingUserID)
		if err != nil {
			return err
		}
		user, err := model.DecodeUser(userDoc.ID, userDoc.Data)
		if err != nil {
			return err
		}

		famDoc, err := tx.Get(docstore.Families, familyID)
		if err != nil {
			return err // FamilyNotFound
		}
		fam, err := model.DecodeFamily(famDoc.ID, famDoc.Data)
		if err != nil {
			return err
		}

		previous := user.FamilyID
		if previous != "" && previous != familyID {
			if err := s.leavePrevious(tx, actingUserID, previous); err != nil {
				return err
			}
		}

		if fam.AddMember(actingUserID) {
			if err := tx.Update(docstore.Families, fam.ID, map[string]any{
				"memberIds": fam.MemberIDs,
			}); err != nil {
				return err
			}
		}

		return tx.Update(docstore.Users, actingUserID, map[string]any{
			"familyId": familyID,
		})
	})
}

// leavePrevious drops the user from the family they are switching away from.
// A previous family that has since been deleted is fine to skip. An admin
// who is the sole member abandons the family, which is removed outright —
// every first sign-in creates a single-member family, so this is the normal
// case when someone accepts an invitation later. An admin with other members
// cannot switch; the family would be left headless.
func (s *FamilyService) leavePrevious(tx docstore.Tx, userID, previousFamilyID string) error {
	prevDoc, err := tx.Get(docstore.Families, previousFamilyID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	prev, err := model.DecodeFamily(prevDoc.ID, prevDoc.Data)
	if err != nil {
		return err
	}

	if prev.AdminID == userID {
		if len(prev.MemberIDs) > 1 {
			return apperror.ValidationFailed("familyId",
				"family admins cannot leave a family that still has members")
		}
		return tx.Delete(docstore.Families, prev.ID)
	}

	if prev.RemoveMember(userID) {
		return tx.Update(docstore.Families, prev.ID, map[string]any{
			"memberIds": prev.MemberIDs,
		})
	}
	return nil
}

// JoinWithToken resolves a signed invitation token and joins its family.
func (s *FamilyService) JoinWithToken(ctx context.Context, actingUserID, token string) error {
	famID, err := s.invites.Verify(token)
	if err != nil {
		return apperror.ValidationFailed("invite", "the invitation link is invalid or has expired")
	}
	return s.Join(ctx, actingUserID, famID)
}

// InviteLink mints a signed invitation link for the acting user's family.
// Anyone who signs up through the link lands in that family.
func (s *FamilyService) InviteLink(ctx context.Context, actingUserID string) (string, error) {
	fam, err := s.Get(ctx, actingUserID)
	if err != nil {
		return "", err
	}
	token, err := s.invites.Issue(fam.ID, actingUserID, invite.DefaultTTL)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/signup?invite=" + url.QueryEscape(token), nil
}

// InviteByEmail mints an invite link and mails it to the given address.
func (s *FamilyService) InviteByEmail(ctx context.Context, actingUserID, toEmail string) error {
	toEmail = strings.TrimSpace(toEmail)
	if toEmail == "" || !strings.Contains(toEmail, "@") {
		return apperror.ValidationFailed("email", "a valid email address is required")
	}

	link, err := s.InviteLink(ctx, actingUserID)
	if err != nil {
		return err
	}

	userDoc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Users, actingUserID)
	if err != nil {
		return err
	}
	user, err := model.DecodeUser(userDoc.ID, userDoc.Data)
	if err != nil {
		return err
	}
	fam, err := s.Get(ctx, actingUserID)
	if err != nil {
		return err
	}

	if err := s.mailer.SendFamilyInvite(ctx, toEmail, user.DisplayName, fam.FamilyName, link); err != nil {
		return err
	}

	s.logger.Info("family invitation sent",
		slog.String("userID", actingUserID),
		slog.String("familyID", fam.ID),
	)
	return nil
}

// RemoveMember removes another member from the acting user's family. Only
// the family admin may remove members, and the admin cannot remove
// themselves. The removed member's user document is detached from the family
// in the same transaction so the bidirectional link never dangles.
func (s *FamilyService) RemoveMember(ctx context.Context, actingUserID, memberID string) error {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return apperror.ValidationFailed("memberId", "a member id is required")
	}
	if memberID == actingUserID {
		return apperror.ValidationFailed("memberId", "the admin cannot remove themselves")
	}

	err := withConflictRetry(s.logger, "remove member", func() error {
		return s.removeMemberOnce(ctx, actingUserID, memberID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("member removed from family",
		slog.String("adminID", actingUserID),
		slog.String("memberID", memberID),
	)
	return nil
}

func (s *FamilyService) removeMemberOnce(ctx context.Context, actingUserID, memberID string) error {
	return s.store.RunTransaction(ctx, docstore.AsSystem(actingUserID), func(tx docstore.Tx) error {
		actingDoc, err := tx.Get(docstore.Users, actingUserID)
		if err != nil {
			return err
		}
		acting, err := model.DecodeUser(actingDoc.ID, actingDoc.Data)
		if err != nil {
			return err
		}
		if acting.FamilyID == "" {
			return apperror.Forbidden("you do not belong to a family")
		}

		famDoc, err := tx.Get(docstore.Families, acting.FamilyID)
		if err != nil {
			return err
		}
		fam, err := model.DecodeFamily(famDoc.ID, famDoc.Data)
		if err != nil {
			return err
		}
		if fam.AdminID != actingUserID {
			return apperror.Forbidden("only the family admin can remove members")
		}

		if !fam.RemoveMember(memberID) {
			return apperror.NotFound("member", memberID)
		}
		if err := tx.Update(docstore.Families, fam.ID, map[string]any{
			"memberIds": fam.MemberIDs,
		}); err != nil {
			return err
		}

		// Detach the removed member's own document, unless they already
		// moved to another family on their own.
		memberDoc, err := tx.Get(docstore.Users, memberID)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		member, err := model.DecodeUser(memberDoc.ID, memberDoc.Data)
		if err != nil {
			return err
		}
		if member.FamilyID == fam.ID {
			return tx.Update(docstore.Users, memberID, map[string]any{
				"familyId": nil,
			})
		}
		return nil
	})
}

// familyIDOf resolves the family the acting user belongs to.
func (s *FamilyService) familyIDOf(ctx context.Context, actingUserID string) (string, error) {
	userDoc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Users, actingUserID)
	if err != nil {
		return "", err
	}
	user, err := model.DecodeUser(userDoc.ID, userDoc.Data)
	if err != nil {
		return "", err
	}
	if user.FamilyID == "" {
		return "", apperror.Forbidden("you do not belong to a family")
	}
	return user.FamilyID, nil
}

// withConflictRetry reruns fn while it keeps failing with a transaction
// conflict, up to txAttempts times. The final conflict surfaces as-is.
func withConflictRetry(logger *slog.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, apperror.ErrConflict) {
			return err
		}
		lastErr = err
		logger.Warn("transaction conflicted, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
		)
	}
	return lastErr
}
