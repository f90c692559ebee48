package handler

import (
	"log/slog"
	"net/http"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/docstore"
	"github.com/memora-app/memora/internal/model"
)

// ProfileHandler serves the signed-in user's own profile document. It talks
// to the document store directly under the user's requester — the access
// rules enforce that users can only ever read and edit their own document,
// so there is no service-layer authorization to duplicate here.
type ProfileHandler struct {
	store  docstore.Store
	logger *slog.Logger
}

func NewProfileHandler(store docstore.Store, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{store: store, logger: logger}
}

// HandleGet returns the user's profile.
//
// HTTP: GET /api/me
// Auth: required
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	doc, err := h.store.Get(r.Context(), docstore.AsUser(userID), docstore.Users, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := model.DecodeUser(doc.ID, doc.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type profileUpdateRequest struct {
	DisplayName *string `json:"displayName"`
	Bio         *string `json:"bio"`
	AvatarID    *string `json:"avatarId"`
	AvatarURL   *string `json:"avatarUrl"`
}

// HandlePut updates the editable fields of the user's profile. familyId and
// userId are not in the request shape at all; the access rules reject them
// even if a crafted request tried.
//
// HTTP: PUT /api/me
// Auth: required
func (h *ProfileHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req profileUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	fields := map[string]any{}
	if req.DisplayName != nil {
		fields["displayName"] = *req.DisplayName
	}
	if req.Bio != nil {
		fields["bio"] = *req.Bio
	}
	if req.AvatarID != nil {
		// Picking a built-in avatar clears any custom photo, and vice versa.
		fields["avatarId"] = *req.AvatarID
		fields["avatarUrl"] = nil
	}
	if req.AvatarURL != nil {
		fields["avatarUrl"] = *req.AvatarURL
		fields["avatarId"] = nil
	}
	if len(fields) == 0 {
		h.HandleGet(w, r)
		return
	}

	err := h.store.RunTransaction(r.Context(), docstore.AsUser(userID), func(tx docstore.Tx) error {
		return tx.Update(docstore.Users, userID, fields)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("profile updated", slog.String("userID", userID))
	h.HandleGet(w, r)
}
