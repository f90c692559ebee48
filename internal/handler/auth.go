package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/service"
)

// sessionDuration is how long the session cookie lives; it matches the JWT
// lifetime issued by the token service.
const sessionDuration = 24 * time.Hour

// AuthHandler exposes signup, login, the Google OAuth flow, and session
// management. Every successful authentication path runs through
// AuthService, which also provisions the user's family — by the time a
// session cookie is set, the user has a user document and a family.
type AuthHandler struct {
	svc    *service.AuthService
	google *auth.GoogleProvider
	logger *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, google *auth.GoogleProvider, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, google: google, logger: logger}
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	FamilyName  string `json:"familyName"`
	Invite      string `json:"invite"` // optional invite token from the signup link
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// HandleSignup registers a new account and provisions its family.
//
// HTTP: POST /auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.Signup(r.Context(), req.Email, req.Password, req.DisplayName, req.FamilyName, req.Invite)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:      res.Identity.UserID,
		Email:       res.Identity.Email,
		DisplayName: res.Identity.DisplayName,
	})
}

// HandleLogin authenticates an email/password account.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:      res.Identity.UserID,
		Email:       res.Identity.Email,
		DisplayName: res.Identity.DisplayName,
	})
}

// HandleGoogleLogin redirects the browser to Google's consent page.
//
// HTTP: GET /auth/google/login?invite=xxx
//
// CSRF PROTECTION VIA STATE:
// A random state value is stored in a short-lived HttpOnly cookie and
// verified on callback, proving the callback belongs to a flow this server
// started. An invite token, if present, rides along in its own cookie so
// the callback can route a first-time user into the inviter's family.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if invite := r.URL.Query().Get("invite"); invite != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     "pending_invite",
			Value:    invite,
			Path:     "/",
			MaxAge:   600,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the OAuth flow: verify state, exchange the
// code for a Google profile, sign the user in (registering and provisioning
// on first contact), set the session cookie, and send them to the app.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// State and invite cookies are single-use.
	clearCookie(w, "oauth_state")
	inviteToken := ""
	if c, err := r.Cookie("pending_invite"); err == nil {
		inviteToken = c.Value
		clearCookie(w, "pending_invite")
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	gUser, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: Google exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	res, err := h.svc.LoginOrRegisterGoogle(r.Context(), gUser, inviteToken)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed",
			slog.String("googleSub", gUser.Sub),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.logger.Info("user authenticated via Google", slog.String("userID", res.Identity.UserID))

	h.setSessionCookie(w, res.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /auth/logout
//
// Sessions are stateless JWTs, so logout just deletes the client-side
// cookie; the token itself expires on its own schedule.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, "token")
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the identity behind the current session.
//
// HTTP: GET /api/me/identity
// Auth: required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthenticated",
			Message: "please sign in",
		})
		return
	}

	id, err := h.svc.Identity(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:      id.UserID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
	})
}

// setSessionCookie stores the JWT in an HttpOnly cookie. JavaScript cannot
// read it, and SameSite=Lax keeps it off cross-site POSTs.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionDuration.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
