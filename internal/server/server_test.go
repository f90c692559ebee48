package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memora-app/memora/internal/config"
	"github.com/memora-app/memora/internal/server"
)

// newTestServer assembles the real server against in-memory databases, so
// these tests cover routing, middleware, handlers, services, policy, and the
// store together — the request path exactly as deployed, minus the network.
func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Port:           0,
		DocstorePath:   ":memory:",
		IdentityDBPath: ":memory:",
		AppBaseURL:     "https://memora.example",
		SessionSecret:  "session-secret-16-chars-ok",
		InviteSecret:   "invite-secret-16-chars-long",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := server.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	return srv.Handler()
}

// signup registers a user and returns their session cookie.
func signup(t *testing.T, h http.Handler, email, displayName, familyName string) *http.Cookie {
	t.Helper()

	body := fmt.Sprintf(`{"email":%q,"password":"correct horse","displayName":%q,"familyName":%q}`,
		email, displayName, familyName)
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, "signup body: %s", rr.Body.String())
	for _, c := range rr.Result().Cookies() {
		if c.Name == "token" && c.Value != "" {
			return c
		}
	}
	t.Fatal("signup set no session cookie")
	return nil
}

func getJSON(t *testing.T, h http.Handler, cookie *http.Cookie, path string, out any) int {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rr.Body).Decode(out))
	}
	return rr.Code
}

func postJSON(t *testing.T, h http.Handler, cookie *http.Cookie, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSignupProvisionsProfileAndFamily(t *testing.T) {
	h := newTestServer(t)

	cookie := signup(t, h, "amina@example.com", "Amina", "The Ahmeds")

	var profile struct {
		UserID   string `json:"userId"`
		FamilyID string `json:"familyId"`
	}
	code := getJSON(t, h, cookie, "/api/me", &profile)
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, profile.UserID)
	assert.NotEmpty(t, profile.FamilyID, "signup must leave the user in a family")

	var family struct {
		FamilyName string   `json:"familyName"`
		AdminID    string   `json:"adminId"`
		MemberIDs  []string `json:"memberIds"`
	}
	code = getJSON(t, h, cookie, "/api/family", &family)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "The Ahmeds", family.FamilyName)
	assert.Equal(t, profile.UserID, family.AdminID)
	assert.Equal(t, []string{profile.UserID}, family.MemberIDs)
}

func TestAPIRequiresSession(t *testing.T) {
	h := newTestServer(t)

	for _, path := range []string{"/api/me", "/api/family", "/api/stories", "/api/devices"} {
		code := getJSON(t, h, nil, path, nil)
		assert.Equal(t, http.StatusUnauthorized, code, "path %s", path)
	}
}

func TestLogin(t *testing.T) {
	h := newTestServer(t)
	signup(t, h, "amina@example.com", "Amina", "")

	rr := postJSON(t, h, nil, "/auth/login", `{"email":"amina@example.com","password":"correct horse"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = postJSON(t, h, nil, "/auth/login", `{"email":"amina@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var errRes struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errRes))
	assert.Equal(t, "unauthenticated", errRes.Error)
}

func TestJoinFlowOverHTTP(t *testing.T) {
	h := newTestServer(t)

	aminaCookie := signup(t, h, "amina@example.com", "Amina", "The Ahmeds")
	bilalCookie := signup(t, h, "bilal@example.com", "Bilal", "")

	// Amina mints an invite link; Bilal joins through its token.
	rr := postJSON(t, h, aminaCookie, "/api/family/invite-link", `{}`)
	require.Equal(t, http.StatusOK, rr.Code, "invite-link body: %s", rr.Body.String())

	var linkRes struct {
		InviteLink string `json:"inviteLink"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&linkRes))
	require.Contains(t, linkRes.InviteLink, "invite=")

	token := linkRes.InviteLink[len("https://memora.example/signup?invite="):]
	rr = postJSON(t, h, bilalCookie, "/api/family/join", fmt.Sprintf(`{"invite":%q}`, token))
	require.Equal(t, http.StatusOK, rr.Code, "join body: %s", rr.Body.String())

	var family struct {
		FamilyName string   `json:"familyName"`
		MemberIDs  []string `json:"memberIds"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&family))
	assert.Equal(t, "The Ahmeds", family.FamilyName)
	assert.Len(t, family.MemberIDs, 2)
}

func TestJoinUnknownFamilyIs404(t *testing.T) {
	h := newTestServer(t)
	cookie := signup(t, h, "bilal@example.com", "Bilal", "")

	rr := postJSON(t, h, cookie, "/api/family/join", `{"familyId":"f99"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var errRes struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errRes))
	assert.Equal(t, "not_found", errRes.Error)
}

func TestProfileUpdate(t *testing.T) {
	h := newTestServer(t)
	cookie := signup(t, h, "amina@example.com", "Amina", "")

	req := httptest.NewRequest(http.MethodPut, "/api/me", bytes.NewBufferString(`{"bio":"grandmother of six"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var profile struct {
		Bio string `json:"bio"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&profile))
	assert.Equal(t, "grandmother of six", profile.Bio)
}

func TestStoryEndpoints(t *testing.T) {
	h := newTestServer(t)
	cookie := signup(t, h, "amina@example.com", "Amina", "")

	rr := postJSON(t, h, cookie, "/api/stories",
		`{"title":"The farm in summer","audioUrl":"https://cdn/a.m4a"}`)
	require.Equal(t, http.StatusCreated, rr.Code, "create body: %s", rr.Body.String())

	var story struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&story))
	assert.Equal(t, "uploading", story.Status)

	var stories []json.RawMessage
	code := getJSON(t, h, cookie, "/api/stories", &stories)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, stories, 1)

	// Missing title is a validation error.
	rr = postJSON(t, h, cookie, "/api/stories", `{"audioUrl":"https://cdn/a.m4a"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeviceEndpoints(t *testing.T) {
	h := newTestServer(t)
	cookie := signup(t, h, "amina@example.com", "Amina", "")

	rr := postJSON(t, h, cookie, "/api/devices", `{"boxId":"BOX-0042"}`)
	require.Equal(t, http.StatusCreated, rr.Code, "register body: %s", rr.Body.String())

	var device struct {
		ID          string `json:"id"`
		PairingCode string `json:"pairingCode"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&device))
	require.NotEmpty(t, device.PairingCode)

	rr = postJSON(t, h, cookie, "/api/devices/"+device.ID+"/activate",
		fmt.Sprintf(`{"pairingCode":%q}`, device.PairingCode))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = postJSON(t, h, cookie, "/api/devices/"+device.ID+"/activate", `{"pairingCode":"nope"}`)
	assert.Equal(t, http.StatusOK, rr.Code, "re-activating an active device is a no-op")
}

func TestLogoutClearsCookie(t *testing.T) {
	h := newTestServer(t)
	cookie := signup(t, h, "amina@example.com", "Amina", "")

	rr := postJSON(t, h, cookie, "/auth/logout", "")
	require.Equal(t, http.StatusOK, rr.Code)

	cleared := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == "token" && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout must expire the session cookie")
}
