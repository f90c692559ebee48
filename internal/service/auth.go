package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/identity"
	"github.com/memora-app/memora/internal/invite"
)

const minPasswordLength = 8

// AuthService handles signup and login. Every successful authentication ends
// with provisioning: either path may be the identity's very first visit, and
// provisioning is idempotent, so it is always safe to run. A login that
// finds a half-provisioned account (signup crashed between the account and
// the documents) repairs it here.
type AuthService struct {
	accounts    identity.Store
	tokens      *auth.TokenService
	passwords   *auth.PasswordService
	provisioner *ProvisioningService
	invites     *invite.Signer
	logger      *slog.Logger
}

func NewAuthService(accounts identity.Store, tokens *auth.TokenService, passwords *auth.PasswordService, provisioner *ProvisioningService, invites *invite.Signer, logger *slog.Logger) *AuthService {
	return &AuthService{
		accounts:    accounts,
		tokens:      tokens,
		passwords:   passwords,
		provisioner: provisioner,
		invites:     invites,
		logger:      logger,
	}
}

// AuthResult is what a successful signup or login hands back to the handler.
type AuthResult struct {
	Identity auth.Identity
	Token    string
}

// Signup registers a credential account, provisions the user's documents and
// family, and signs them in. An inviteToken routes the new user into the
// inviter's family instead of creating a fresh one.
func (s *AuthService) Signup(ctx context.Context, email, password, displayName, familyName, inviteToken string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "a valid email address is required")
	}
	if len(password) < minPasswordLength {
		return nil, apperror.ValidationFailed("password", "password must be at least 8 characters")
	}

	inviteFamilyID, err := s.resolveInvite(inviteToken)
	if err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	acct := &identity.Account{
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		return nil, err
	}

	return s.finish(ctx, acct, displayName, familyName, inviteFamilyID)
}

// Login authenticates an email/password account. Invalid email and wrong
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	acct, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthenticated("invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if acct.PasswordHash == "" {
		// Google-only account; there is no password to check.
		return nil, apperror.Unauthenticated("invalid email or password")
	}
	if err := s.passwords.Verify(acct.PasswordHash, password); err != nil {
		return nil, apperror.Unauthenticated("invalid email or password")
	}

	return s.finish(ctx, acct, acct.DisplayName, "", "")
}

// LoginOrRegisterGoogle signs in a Google identity, creating the account on
// first contact. A pending invite token carried through the OAuth round trip
// places first-time users into the inviter's family.
func (s *AuthService) LoginOrRegisterGoogle(ctx context.Context, gUser *auth.GoogleUser, inviteToken string) (*AuthResult, error) {
	inviteFamilyID, err := s.resolveInvite(inviteToken)
	if err != nil {
		return nil, err
	}

	acct := &identity.Account{
		Email:       strings.TrimSpace(strings.ToLower(gUser.Email)),
		DisplayName: strings.TrimSpace(gUser.Name),
		GoogleID:    gUser.Sub,
	}
	if err := s.accounts.UpsertGoogle(ctx, acct); err != nil {
		return nil, err
	}

	return s.finish(ctx, acct, gUser.Name, "", inviteFamilyID)
}

// Identity returns the identity behind a session's account id.
func (s *AuthService) Identity(ctx context.Context, accountID string) (*auth.Identity, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &auth.Identity{
		UserID:      acct.ID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
	}, nil
}

// finish runs provisioning for the authenticated account and mints a session
// token. A provisioning failure leaves the account intact: the next login
// retries it.
func (s *AuthService) finish(ctx context.Context, acct *identity.Account, displayName, familyName, inviteFamilyID string) (*AuthResult, error) {
	id := auth.Identity{
		UserID:      acct.ID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
	}

	if err := s.provisioner.Provision(ctx, id, displayName, familyName, inviteFamilyID); err != nil {
		s.logger.Error("provisioning failed after authentication",
			slog.String("userID", acct.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	token, err := s.tokens.Generate(acct.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Identity: id, Token: token}, nil
}

// resolveInvite turns an invite token into a family id. Signed tokens are
// the norm; older invite links carried the bare family id, which still works
// at signup.
func (s *AuthService) resolveInvite(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil
	}
	famID, err := s.invites.Verify(token)
	if err == nil {
		return famID, nil
	}
	if !strings.Contains(token, ".") {
		return token, nil // legacy bare family id
	}
	return "", apperror.ValidationFailed("invite", "the invitation link is invalid or has expired")
}
