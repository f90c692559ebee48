package model

import (
	"github.com/memora-app/memora/internal/apperror"
)

// User is the profile document for an authenticated identity.
//
// The document key equals the identity provider's userId — we never invent a
// second identifier for people. FamilyID is a denormalized back-reference into
// the owning Family's memberIds: convenient for lookups, never authoritative
// on its own. Only the provisioning and join flows may write it; the generic
// profile-update path leaves it alone (and the access policy enforces that
// independently of this package).
type User struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarID    string `json:"avatarId,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
	FamilyID    string `json:"familyId,omitempty"` // empty until provisioned
}

// DecodeUser builds a User from raw document data, folding legacy field
// aliases ("id" for userId, "name" for displayName) into the canonical shape.
// The document key wins over any userId field embedded in the data.
func DecodeUser(id string, data map[string]any) (*User, error) {
	u := &User{
		UserID:      id,
		Email:       str(data, "email"),
		DisplayName: str(data, "displayName", "name"),
		AvatarID:    str(data, "avatarId"),
		AvatarURL:   str(data, "avatarUrl"),
		Bio:         str(data, "bio"),
		FamilyID:    str(data, "familyId"),
	}
	if u.UserID == "" {
		u.UserID = str(data, "userId", "id")
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// Encode converts the User into document data for storage.
func (u *User) Encode() map[string]any {
	data := map[string]any{
		"userId":      u.UserID,
		"email":       u.Email,
		"displayName": u.DisplayName,
	}
	if u.AvatarID != "" {
		data["avatarId"] = u.AvatarID
	}
	if u.AvatarURL != "" {
		data["avatarUrl"] = u.AvatarURL
	}
	if u.Bio != "" {
		data["bio"] = u.Bio
	}
	if u.FamilyID != "" {
		data["familyId"] = u.FamilyID
	}
	return data
}

// Validate rejects documents that don't conform to the schema even after
// alias normalization.
func (u *User) Validate() error {
	if u.UserID == "" {
		return apperror.ValidationFailed("userId", "user document has no userId")
	}
	if u.AvatarID != "" && u.AvatarURL != "" {
		return apperror.ValidationFailed("avatarId", "avatarId and avatarUrl are mutually exclusive")
	}
	return nil
}
