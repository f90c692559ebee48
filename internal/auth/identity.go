package auth

// Identity is a verified caller identity as established by signup, login, or
// the Google OAuth callback. UserID is stable and opaque; downstream code
// (provisioning in particular) treats it as the one true key for the person.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}
