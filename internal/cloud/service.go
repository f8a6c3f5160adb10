// Package cloud is the server side of the remote store: per-user title
// documents, the per-record variant and cover uploads.
package cloud

import (
	"context"
	"fmt"
	"time"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/sync"
	"chaptertrack/pkg/models"
)

// Publisher is satisfied by *sync.Hub.
type Publisher interface {
	Publish(e sync.TitlesEvent)
}

// Service holds the rules shared by the HTTP and gRPC front ends.
type Service struct {
	Repo   *Repo
	Events Publisher
	Now    func() time.Time
}

func NewService(repo *Repo, events Publisher) *Service {
	return &Service{Repo: repo, Events: events, Now: time.Now}
}

// Document returns the user's document, empty if they never synced.
func (s *Service) Document(ctx context.Context, userID string) (models.TitlesDocument, error) {
	doc, err := s.Repo.GetDocument(ctx, userID)
	if err != nil {
		return models.TitlesDocument{}, err
	}
	if doc == nil {
		return models.TitlesDocument{UserID: userID, Titles: []models.Title{}}, nil
	}
	return *doc, nil
}

// Replace stores titles as the user's whole collection and stamps
// lastSync.
func (s *Service) Replace(ctx context.Context, userID string, titles []models.Title, source string) (models.TitlesDocument, error) {
	if err := validateCollection(titles); err != nil {
		return models.TitlesDocument{}, err
	}
	if titles == nil {
		titles = []models.Title{}
	}

	doc := models.TitlesDocument{
		Titles:   titles,
		LastSync: s.Now().UTC(),
		UserID:   userID,
	}
	if err := s.Repo.ReplaceDocument(ctx, doc); err != nil {
		return models.TitlesDocument{}, err
	}

	s.publish(sync.TitlesEvent{Type: sync.TitlesSyncedType, UserID: userID, Count: len(titles), Source: source})
	return doc, nil
}

func (s *Service) Records(ctx context.Context, userID string) ([]models.Title, error) {
	return s.Repo.ListRecords(ctx, userID)
}

// Upsert applies one record, keeping the stored copy when it is newer.
// The returned title is what the server holds afterwards.
func (s *Service) Upsert(ctx context.Context, userID string, t models.Title, source string) (models.Title, bool, error) {
	if err := t.Validate(); err != nil {
		return models.Title{}, false, apperr.Validation(err.Error())
	}

	applied, err := s.Repo.UpsertRecord(ctx, userID, t)
	if err != nil {
		return models.Title{}, false, err
	}
	if !applied {
		stored, err := s.Repo.GetRecord(ctx, userID, t.ID)
		if err != nil || stored == nil {
			return models.Title{}, false, fmt.Errorf("reload record %s: %w", t.ID, err)
		}
		return *stored, false, nil
	}

	s.publish(sync.TitlesEvent{Type: sync.TitleUpdatedType, UserID: userID, TitleID: t.ID, Source: source})
	return t, true, nil
}

func (s *Service) Delete(ctx context.Context, userID, titleID, source string) error {
	ok, err := s.Repo.DeleteRecord(ctx, userID, titleID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotFound
	}
	s.publish(sync.TitlesEvent{Type: sync.TitleDeletedType, UserID: userID, TitleID: titleID, Source: source})
	return nil
}

func (s *Service) publish(e sync.TitlesEvent) {
	if s.Events == nil {
		return
	}
	e.At = s.Now().UTC()
	s.Events.Publish(e)
}

func validateCollection(titles []models.Title) error {
	seen := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		if err := t.Validate(); err != nil {
			return apperr.Validation(err.Error())
		}
		if _, dup := seen[t.ID]; dup {
			return apperr.Validation(fmt.Sprintf("duplicate id %s", t.ID))
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}
