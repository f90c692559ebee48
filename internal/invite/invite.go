// Package invite issues and verifies signed invitation tokens.
//
// An invitation used to be a bare familyId in a shareable URL — anyone who
// ever saw a link could join the family forever. Tokens close that gap: the
// familyId travels inside an HMAC-signed JWT with a 7-day expiry, so links
// cannot be forged and go stale on their own. There is no revocation list;
// the expiry bounds the blast radius of a leaked link.
package invite

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "memora-invite"

// DefaultTTL is how long an invitation link stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// Signer issues and verifies invitation tokens. It deliberately uses its own
// secret, separate from the session-token secret: an invite token must never
// double as a login.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("invite: signing secret must be at least 16 characters")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// inviteClaims carries the target family. The inviter travels in the
// standard subject claim for logging; joining does not depend on it.
type inviteClaims struct {
	FamilyID string `json:"familyId"`
	jwt.RegisteredClaims
}

// Issue creates a token inviting the holder into familyID, signed on behalf
// of inviterID.
func (s *Signer) Issue(familyID, inviterID string, ttl time.Duration) (string, error) {
	if familyID == "" {
		return "", errors.New("invite: familyID is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()

	c := inviteClaims{
		FamilyID: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   inviterID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("invite: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the token and returns the familyID it invites to. Expired or
// tampered tokens fail; so do session tokens, because the issuer differs.
func (s *Signer) Verify(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&inviteClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("invite: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("invite: invitation expired")
		}
		return "", fmt.Errorf("invite: invalid invitation: %w", err)
	}

	c, ok := token.Claims.(*inviteClaims)
	if !ok || !token.Valid || c.FamilyID == "" {
		return "", errors.New("invite: invalid invitation claims")
	}
	return c.FamilyID, nil
}
