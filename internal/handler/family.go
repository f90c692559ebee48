package handler

import (
	"log/slog"
	"net/http"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/service"
)

// FamilyHandler exposes the family endpoints: viewing one's family, joining
// another, inviting relatives, and removing members.
type FamilyHandler struct {
	svc    *service.FamilyService
	logger *slog.Logger
}

func NewFamilyHandler(svc *service.FamilyService, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{svc: svc, logger: logger}
}

// HandleGet returns the signed-in user's family.
//
// HTTP: GET /api/family
// Auth: required
func (h *FamilyHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	fam, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}

type joinRequest struct {
	FamilyID string `json:"familyId"`
	Invite   string `json:"invite"` // signed invite token; familyId wins if both set
}

// HandleJoin moves the signed-in user into another family, by signed invite
// token or by raw family id.
//
// HTTP: POST /api/family/join
// Auth: required
func (h *FamilyHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req joinRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var err error
	if req.FamilyID != "" {
		err = h.svc.Join(r.Context(), userID, req.FamilyID)
	} else {
		err = h.svc.JoinWithToken(r.Context(), userID, req.Invite)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	fam, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}

// HandleInviteLink mints a shareable invite link for the user's family.
//
// HTTP: POST /api/family/invite-link
// Auth: required
func (h *FamilyHandler) HandleInviteLink(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	link, err := h.svc.InviteLink(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"inviteLink": link})
}

type inviteEmailRequest struct {
	Email string `json:"email"`
}

// HandleInviteEmail mails an invite link to the given address.
//
// HTTP: POST /api/family/invite
// Auth: required
func (h *FamilyHandler) HandleInviteEmail(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req inviteEmailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.svc.InviteByEmail(r.Context(), userID, req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "invitation sent"})
}

// HandleRemoveMember removes a member from the admin's family.
//
// HTTP: DELETE /api/family/members/{memberID}
// Auth: required (family admin only, enforced by the service)
func (h *FamilyHandler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	memberID := r.PathValue("memberID")

	if err := h.svc.RemoveMember(r.Context(), userID, memberID); err != nil {
		writeError(w, err)
		return
	}

	fam, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}
