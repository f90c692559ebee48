package auth

import (
	"context"
	"net/http"
)

// contextKey is an unexported type for context keys in this package: only
// this package can create one, so no other package can shadow or read the
// userID value.
type contextKey string

const userIDKey contextKey = "userID"

// RequireAuth enforces authentication on protected routes. It reads the
// session JWT from the "token" HttpOnly cookie, validates it, and stores the
// userID in the request context. Missing or invalid tokens end the request
// with 401.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				http.Error(w, `{"error":"unauthenticated","message":"please sign in"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext retrieves the authenticated user's ID from the request
// context. Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie("token")
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
