package model

import (
	"time"

	"github.com/memora-app/memora/internal/apperror"
)

// Subscription tiers. Billing is out of scope; the tier only gates the
// free-plan story quota.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// Family is the account-level grouping that owns stories, devices, and
// members. It is the source of truth for membership: memberIds is
// authoritative, each member's User.FamilyID is a denormalized pointer kept
// consistent by the provisioning and join transactions.
//
// Invariants, checked by Validate and relied on everywhere:
//   - AdminID is always present in MemberIDs
//   - MemberIDs contains no duplicates
type Family struct {
	ID               string    `json:"id"`
	FamilyName       string    `json:"familyName"`
	AdminID          string    `json:"adminId"`
	MemberIDs        []string  `json:"memberIds"`
	SubscriptionTier string    `json:"subscriptionTier"`
	CreatedAt        time.Time `json:"createdAt"`
}

func DecodeFamily(id string, data map[string]any) (*Family, error) {
	f := &Family{
		ID:               id,
		FamilyName:       str(data, "familyName", "name"),
		AdminID:          str(data, "adminId"),
		MemberIDs:        stringSlice(data, "memberIds"),
		SubscriptionTier: str(data, "subscriptionTier"),
		CreatedAt:        timestamp(data, "createdAt"),
	}
	if f.SubscriptionTier == "" {
		f.SubscriptionTier = TierFree
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Family) Encode() map[string]any {
	members := make([]any, len(f.MemberIDs))
	for i, m := range f.MemberIDs {
		members[i] = m
	}
	data := map[string]any{
		"familyName":       f.FamilyName,
		"adminId":          f.AdminID,
		"memberIds":        members,
		"subscriptionTier": f.SubscriptionTier,
	}
	if !f.CreatedAt.IsZero() {
		data["createdAt"] = f.CreatedAt.UTC().Format(timeLayout)
	}
	return data
}

func (f *Family) Validate() error {
	if f.AdminID == "" {
		return apperror.ValidationFailed("adminId", "family document has no adminId")
	}
	if !f.HasMember(f.AdminID) {
		return apperror.ValidationFailed("adminId", "family admin must be a member")
	}
	seen := make(map[string]bool, len(f.MemberIDs))
	for _, m := range f.MemberIDs {
		if seen[m] {
			return apperror.ValidationFailed("memberIds", "duplicate member "+m)
		}
		seen[m] = true
	}
	return nil
}

func (f *Family) HasMember(userID string) bool {
	for _, m := range f.MemberIDs {
		if m == userID {
			return true
		}
	}
	return false
}

// AddMember appends userID with set-union semantics: adding an existing
// member is a no-op, and the reported bool says whether anything changed.
func (f *Family) AddMember(userID string) bool {
	if f.HasMember(userID) {
		return false
	}
	f.MemberIDs = append(f.MemberIDs, userID)
	return true
}

// RemoveMember deletes userID from the member set, reporting whether it was
// present. Callers are responsible for never removing the admin.
func (f *Family) RemoveMember(userID string) bool {
	for i, m := range f.MemberIDs {
		if m == userID {
			f.MemberIDs = append(f.MemberIDs[:i], f.MemberIDs[i+1:]...)
			return true
		}
	}
	return false
}
