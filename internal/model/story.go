package model

import (
	"time"

	"github.com/memora-app/memora/internal/apperror"
)

// Story lifecycle states. A story starts as "uploading" while the narration
// audio is still in flight, moves to "transcribing" once handed to the
// transcription pipeline, and ends at "completed" or "failed".
const (
	StoryUploading    = "uploading"
	StoryTranscribing = "transcribing"
	StoryCompleted    = "completed"
	StoryFailed       = "failed"
)

// Story is an audio narration owned by a family. FamilyID scopes access: the
// policy only lets members of that family read or write the record.
type Story struct {
	ID            string    `json:"id"`
	FamilyID      string    `json:"familyId"`
	Title         string    `json:"title"`
	Narrator      string    `json:"narrator"`
	AudioURL      string    `json:"audioUrl"`
	Transcription string    `json:"transcription,omitempty"`
	Status        string    `json:"status"`
	ImageID       string    `json:"imageId,omitempty"`
	IsDonated     bool      `json:"isDonated"`
	CreatedAt     time.Time `json:"createdAt"`
}

func DecodeStory(id string, data map[string]any) (*Story, error) {
	s := &Story{
		ID:            id,
		FamilyID:      str(data, "familyId"),
		Title:         str(data, "title"),
		Narrator:      str(data, "narrator"),
		AudioURL:      str(data, "audioUrl"),
		Transcription: str(data, "transcription"),
		Status:        str(data, "status"),
		ImageID:       str(data, "imageId"),
		IsDonated:     boolean(data, "isDonated"),
		CreatedAt:     timestamp(data, "createdAt"),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Story) Encode() map[string]any {
	data := map[string]any{
		"familyId":  s.FamilyID,
		"title":     s.Title,
		"narrator":  s.Narrator,
		"audioUrl":  s.AudioURL,
		"status":    s.Status,
		"isDonated": s.IsDonated,
	}
	if s.Transcription != "" {
		data["transcription"] = s.Transcription
	}
	if s.ImageID != "" {
		data["imageId"] = s.ImageID
	}
	if !s.CreatedAt.IsZero() {
		data["createdAt"] = s.CreatedAt.UTC().Format(timeLayout)
	}
	return data
}

func (s *Story) Validate() error {
	if s.FamilyID == "" {
		return apperror.ValidationFailed("familyId", "story document has no familyId")
	}
	switch s.Status {
	case StoryUploading, StoryTranscribing, StoryCompleted, StoryFailed:
	default:
		return apperror.ValidationFailed("status", "unknown story status "+s.Status)
	}
	return nil
}
