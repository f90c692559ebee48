package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/memora-app/memora/internal/apperror"
	"github.com/memora-app/memora/internal/docstore"
	"github.com/memora-app/memora/internal/model"
)

// FreeTierStoryLimit caps how many stories a free-tier family can keep.
const FreeTierStoryLimit = 10

const maxTitleLength = 200

// StoryService manages the recorded memories of a family.
type StoryService struct {
	store  docstore.Store
	logger *slog.Logger
}

func NewStoryService(store docstore.Store, logger *slog.Logger) *StoryService {
	return &StoryService{store: store, logger: logger}
}

// Create registers a newly uploaded recording for the acting user's family.
// The story starts in the uploading state; transcription moves it along.
// Free-tier families are held to FreeTierStoryLimit stories.
func (s *StoryService) Create(ctx context.Context, actingUserID, title, narrator, audioURL string) (*model.Story, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "a title is required")
	}
	if len(title) > maxTitleLength {
		return nil, apperror.ValidationFailed("title", "title is too long")
	}
	if strings.TrimSpace(audioURL) == "" {
		return nil, apperror.ValidationFailed("audioUrl", "an audio recording is required")
	}

	userDoc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Users, actingUserID)
	if err != nil {
		return nil, err
	}
	user, err := model.DecodeUser(userDoc.ID, userDoc.Data)
	if err != nil {
		return nil, err
	}
	if user.FamilyID == "" {
		return nil, apperror.Forbidden("you do not belong to a family")
	}

	if err := s.checkQuota(ctx, actingUserID, user.FamilyID); err != nil {
		return nil, err
	}

	if strings.TrimSpace(narrator) == "" {
		narrator = user.DisplayName
	}

	story := &model.Story{
		FamilyID:  user.FamilyID,
		Title:     title,
		Narrator:  narrator,
		AudioURL:  audioURL,
		Status:    model.StoryUploading,
		CreatedAt: time.Now(),
	}
	id, err := s.store.Add(ctx, docstore.AsUser(actingUserID), docstore.Stories, story.Encode())
	if err != nil {
		return nil, err
	}
	story.ID = id

	s.logger.Info("story created",
		slog.String("storyID", id),
		slog.String("familyID", user.FamilyID),
		slog.String("userID", actingUserID),
	)
	return story, nil
}

func (s *StoryService) checkQuota(ctx context.Context, actingUserID, familyID string) error {
	famDoc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Families, familyID)
	if err != nil {
		return err
	}
	fam, err := model.DecodeFamily(famDoc.ID, famDoc.Data)
	if err != nil {
		return err
	}
	if fam.SubscriptionTier != model.TierFree {
		return nil
	}

	existing, err := s.store.List(ctx, docstore.AsUser(actingUserID), docstore.Stories, "familyId", familyID)
	if err != nil {
		return err
	}
	if len(existing) >= FreeTierStoryLimit {
		return apperror.Forbidden("the free plan is limited to 10 stories; upgrade to premium to keep more")
	}
	return nil
}

// List returns all stories of the acting user's family, newest first.
func (s *StoryService) List(ctx context.Context, actingUserID string) ([]model.Story, error) {
	famID, err := s.familyID(ctx, actingUserID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, docstore.AsUser(actingUserID), docstore.Stories, "familyId", famID)
	if err != nil {
		return nil, err
	}

	stories := make([]model.Story, 0, len(docs))
	for _, d := range docs {
		story, err := model.DecodeStory(d.ID, d.Data)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *story)
	}
	return stories, nil
}

// Get returns a single story the acting user can see.
func (s *StoryService) Get(ctx context.Context, actingUserID, storyID string) (*model.Story, error) {
	doc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Stories, storyID)
	if err != nil {
		return nil, err
	}
	return model.DecodeStory(doc.ID, doc.Data)
}

// SetTranscription records the transcription text and completes the story.
func (s *StoryService) SetTranscription(ctx context.Context, actingUserID, storyID, transcription string) error {
	if strings.TrimSpace(transcription) == "" {
		return apperror.ValidationFailed("transcription", "transcription text is required")
	}
	return s.store.RunTransaction(ctx, docstore.AsUser(actingUserID), func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.Stories, storyID); err != nil {
			return err
		}
		return tx.Update(docstore.Stories, storyID, map[string]any{
			"transcription": transcription,
			"status":        model.StoryCompleted,
		})
	})
}

// MarkDonated flags a completed story as donated to the archive. Only
// completed stories qualify.
func (s *StoryService) MarkDonated(ctx context.Context, actingUserID, storyID string) error {
	return s.store.RunTransaction(ctx, docstore.AsUser(actingUserID), func(tx docstore.Tx) error {
		doc, err := tx.Get(docstore.Stories, storyID)
		if err != nil {
			return err
		}
		story, err := model.DecodeStory(doc.ID, doc.Data)
		if err != nil {
			return err
		}
		if story.Status != model.StoryCompleted {
			return apperror.ValidationFailed("status", "only completed stories can be donated")
		}
		return tx.Update(docstore.Stories, storyID, map[string]any{
			"isDonated": true,
		})
	})
}

func (s *StoryService) familyID(ctx context.Context, actingUserID string) (string, error) {
	userDoc, err := s.store.Get(ctx, docstore.AsUser(actingUserID), docstore.Users, actingUserID)
	if err != nil {
		return "", err
	}
	user, err := model.DecodeUser(userDoc.ID, userDoc.Data)
	if err != nil {
		return "", err
	}
	if user.FamilyID == "" {
		return "", apperror.Forbidden("you do not belong to a family")
	}
	return user.FamilyID, nil
}
