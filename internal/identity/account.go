// Package identity is the identity-provider boundary: it stores login
// accounts (email/password or Google) and hands the rest of the system a
// verified, stable user ID.
//
// Accounts are deliberately separate from the document store's user profile
// documents: credentials never live next to family data, and the membership
// ledger only ever sees the opaque account ID.
package identity

import (
	"context"
	"time"
)

// Account is a login account. Exactly one of PasswordHash or GoogleID is set
// depending on how the person signed up; an email/password account that later
// links Google keeps both.
type Account struct {
	ID           string    // opaque internal ID (xid), the system-wide userId
	Email        string    // unique, used for password login
	DisplayName  string
	PasswordHash string    // bcrypt hash, empty for Google-only accounts
	GoogleID     string    // Google's "sub" claim, empty for password accounts
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	// UpsertGoogle creates an account for a first-seen Google identity or
	// refreshes the profile fields of a returning one, keying on GoogleID.
	// account.ID is populated either way.
	UpsertGoogle(ctx context.Context, account *Account) error
}
