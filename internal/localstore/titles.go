package localstore

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"chaptertrack/internal/apperr"
	"chaptertrack/pkg/models"
)

// TitleStore keeps the whole collection as one JSON array under
// TitlesKey.
//
// Load is the forgiving read: failures are logged and the collection
// reads as empty. The titles service lists and counts through it so an
// unreadable collection does not break browsing. Every other path uses
// LoadStrict, SaveStrict or Update, which fail before anything is
// written.
type TitleStore struct {
	repo   *Repo
	logger *log.Logger
	queue  *writeQueue

	// held across read-modify-write cycles
	rmw sync.Mutex
}

func NewTitleStore(repo *Repo, logger *log.Logger) *TitleStore {
	if logger == nil {
		logger = log.Default()
	}
	s := &TitleStore{repo: repo, logger: logger}
	s.queue = newWriteQueue(func(ctx context.Context, value string) error {
		return repo.Put(ctx, TitlesKey, value)
	})
	return s
}

func (s *TitleStore) Load(ctx context.Context) []models.Title {
	titles, err := s.LoadStrict(ctx)
	if err != nil {
		s.logger.Printf("[localstore] load titles: %v", err)
		return []models.Title{}
	}
	return titles
}

func (s *TitleStore) LoadStrict(ctx context.Context) ([]models.Title, error) {
	s.queue.flush()

	raw, ok, err := s.repo.Get(ctx, TitlesKey)
	if err != nil {
		return nil, apperr.Storage("read titles", err)
	}
	if !ok || raw == "" {
		return []models.Title{}, nil
	}

	var titles []models.Title
	if err := json.Unmarshal([]byte(raw), &titles); err != nil {
		return nil, apperr.Storage("decode titles", err)
	}
	if titles == nil {
		titles = []models.Title{}
	}
	return titles, nil
}

// SaveStrict queues a write and waits for it, or for the write that
// superseded it, to land.
func (s *TitleStore) SaveStrict(ctx context.Context, titles []models.Title) error {
	b, err := encodeTitles(titles)
	if err != nil {
		return apperr.Storage("encode titles", err)
	}
	select {
	case err := <-s.queue.enqueue(b):
		if err != nil {
			return apperr.Storage("write titles", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update runs fn on the current collection and stores what it returns.
// Concurrent Update calls never interleave. If fn fails nothing is
// written.
func (s *TitleStore) Update(ctx context.Context, fn func([]models.Title) ([]models.Title, error)) error {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	titles, err := s.LoadStrict(ctx)
	if err != nil {
		return err
	}
	next, err := fn(titles)
	if err != nil {
		return err
	}
	return s.SaveStrict(ctx, next)
}

// Flush waits for queued writes.
func (s *TitleStore) Flush() {
	s.queue.flush()
}

func encodeTitles(titles []models.Title) (string, error) {
	if titles == nil {
		titles = []models.Title{}
	}
	b, err := json.Marshal(titles)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
