package handler

import (
	"log/slog"
	"net/http"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/service"
)

// StoryHandler exposes the story endpoints for the signed-in user's family.
type StoryHandler struct {
	svc    *service.StoryService
	logger *slog.Logger
}

func NewStoryHandler(svc *service.StoryService, logger *slog.Logger) *StoryHandler {
	return &StoryHandler{svc: svc, logger: logger}
}

type createStoryRequest struct {
	Title    string `json:"title"`
	Narrator string `json:"narrator"`
	AudioURL string `json:"audioUrl"`
}

// HandleCreate registers a newly uploaded recording.
//
// HTTP: POST /api/stories
// Auth: required
func (h *StoryHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req createStoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	story, err := h.svc.Create(r.Context(), userID, req.Title, req.Narrator, req.AudioURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, story)
}

// HandleList returns the family's stories, newest first.
//
// HTTP: GET /api/stories
// Auth: required
func (h *StoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	stories, err := h.svc.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stories)
}

// HandleGet returns one story.
//
// HTTP: GET /api/stories/{id}
// Auth: required
func (h *StoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	story, err := h.svc.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}

type transcriptionRequest struct {
	Transcription string `json:"transcription"`
}

// HandleSetTranscription attaches transcription text and completes the story.
//
// HTTP: PUT /api/stories/{id}/transcription
// Auth: required
func (h *StoryHandler) HandleSetTranscription(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req transcriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	storyID := r.PathValue("id")
	if err := h.svc.SetTranscription(r.Context(), userID, storyID, req.Transcription); err != nil {
		writeError(w, err)
		return
	}

	story, err := h.svc.Get(r.Context(), userID, storyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}

// HandleDonate flags a completed story as donated to the archive.
//
// HTTP: POST /api/stories/{id}/donate
// Auth: required
func (h *StoryHandler) HandleDonate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	storyID := r.PathValue("id")
	if err := h.svc.MarkDonated(r.Context(), userID, storyID); err != nil {
		writeError(w, err)
		return
	}

	story, err := h.svc.Get(r.Context(), userID, storyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}
