// Package titles is the local collection as the CLI edits it: every
// change goes through the local store's read-modify-write and refreshes
// lastUpdate so the next sync picks it up.
package titles

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chaptertrack/internal/apperr"
	"chaptertrack/pkg/models"
)

// Store is the part of *localstore.TitleStore the service needs. Reads
// go through the forgiving Load, so an unreadable collection lists as
// empty; writes go through Update and fail instead.
type Store interface {
	Load(ctx context.Context) []models.Title
	Update(ctx context.Context, fn func([]models.Title) ([]models.Title, error)) error
}

type Service struct {
	Store  Store
	Now    func() time.Time
	Logger *log.Logger
}

func NewService(store Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{Store: store, Now: time.Now, Logger: logger}
}

// Draft holds the user-supplied fields of a new title.
type Draft struct {
	Name           string
	CurrentChapter float64
	LastChapter    *float64
	SiteURL        string
	ReleaseDay     *int
	CoverURI       string
}

// Patch changes only the non-nil fields. ClearX removes an optional one.
type Patch struct {
	Name             *string
	CurrentChapter   *float64
	LastChapter      *float64
	ClearLastChapter bool
	SiteURL          *string
	ReleaseDay       *int
	ClearReleaseDay  bool
	CoverURI         *string
}

func (s *Service) Add(ctx context.Context, d Draft) (models.Title, error) {
	t := models.Title{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(d.Name),
		CurrentChapter: d.CurrentChapter,
		LastChapter:    d.LastChapter,
		SiteURL:        strings.TrimSpace(d.SiteURL),
		ReleaseDay:     d.ReleaseDay,
		CoverURI:       d.CoverURI,
	}
	t.Touch(s.Now())
	if err := t.Validate(); err != nil {
		return models.Title{}, apperr.Validation(err.Error())
	}

	err := s.Store.Update(ctx, func(all []models.Title) ([]models.Title, error) {
		return append(all, t), nil
	})
	if err != nil {
		return models.Title{}, err
	}
	s.Logger.Printf("[titles] added %s (%s)", t.ID, t.Name)
	return t, nil
}

// Get returns a live title.
func (s *Service) Get(ctx context.Context, id string) (models.Title, error) {
	all := s.Store.Load(ctx)
	i := indexOf(all, id)
	if i < 0 || all[i].Deleted() {
		return models.Title{}, notFound(id)
	}
	return all[i], nil
}

func (s *Service) Edit(ctx context.Context, id string, p Patch) (models.Title, error) {
	return s.mutate(ctx, id, func(t *models.Title) {
		if p.Name != nil {
			t.Name = strings.TrimSpace(*p.Name)
		}
		if p.CurrentChapter != nil {
			t.CurrentChapter = *p.CurrentChapter
		}
		if p.LastChapter != nil {
			t.LastChapter = models.Float(*p.LastChapter)
		}
		if p.ClearLastChapter {
			t.LastChapter = nil
		}
		if p.SiteURL != nil {
			t.SiteURL = strings.TrimSpace(*p.SiteURL)
		}
		if p.ReleaseDay != nil {
			t.ReleaseDay = models.Int(*p.ReleaseDay)
		}
		if p.ClearReleaseDay {
			t.ReleaseDay = nil
		}
		if p.CoverURI != nil {
			t.CoverURI = *p.CoverURI
		}
	})
}

// Step moves the current chapter by delta whole chapters, dropping any
// half chapter and never going below zero.
func (s *Service) Step(ctx context.Context, id string, delta int) (models.Title, error) {
	return s.mutate(ctx, id, func(t *models.Title) {
		t.CurrentChapter = math.Max(0, math.Trunc(t.CurrentChapter)+float64(delta))
	})
}

// Delete turns the title into a tombstone so the removal syncs, and
// returns the tombstone.
func (s *Service) Delete(ctx context.Context, id string) (models.Title, error) {
	t, err := s.mutate(ctx, id, func(t *models.Title) {
		t.DeletedAt = models.FormatTimestamp(s.Now())
	})
	if err == nil {
		s.Logger.Printf("[titles] deleted %s", id)
	}
	return t, err
}

// Purge drops the record outright, tombstone or not.
func (s *Service) Purge(ctx context.Context, id string) error {
	err := s.Store.Update(ctx, func(all []models.Title) ([]models.Title, error) {
		i := indexOf(all, id)
		if i < 0 {
			return nil, notFound(id)
		}
		return append(all[:i], all[i+1:]...), nil
	})
	if err == nil {
		s.Logger.Printf("[titles] purged %s", id)
	}
	return err
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*models.Title)) (models.Title, error) {
	var out models.Title
	err := s.Store.Update(ctx, func(all []models.Title) ([]models.Title, error) {
		i := indexOf(all, id)
		if i < 0 || all[i].Deleted() {
			return nil, notFound(id)
		}
		t := all[i]
		fn(&t)
		if err := t.Validate(); err != nil {
			return nil, apperr.Validation(err.Error())
		}
		t.Touch(s.Now())
		all[i] = t
		out = t
		return all, nil
	})
	return out, err
}

// SortOrder picks the listing order.
type SortOrder int

const (
	SortByName SortOrder = iota
	SortByLastUpdate
	SortByReleaseDay
)

var sortNames = map[SortOrder]string{
	SortByName:       "name",
	SortByLastUpdate: "updated",
	SortByReleaseDay: "release-day",
}

func (o SortOrder) String() string {
	if s, ok := sortNames[o]; ok {
		return s
	}
	return fmt.Sprintf("SortOrder(%d)", int(o))
}

func ParseSortOrder(s string) (SortOrder, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortByName, nil
	}
	for o, name := range sortNames {
		if name == s {
			return o, nil
		}
	}
	return 0, apperr.Validation(fmt.Sprintf("unknown sort order %q (name, updated, release-day)", s))
}

type Query struct {
	Search string
	Sort   SortOrder
}

// List returns the live titles whose name contains the search text,
// ignoring case.
func (s *Service) List(ctx context.Context, q Query) ([]models.Title, error) {
	all := s.Store.Load(ctx)
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]models.Title, 0, len(all))
	for _, t := range all {
		if t.Deleted() {
			continue
		}
		if needle != "" && !strings.Contains(t.NameKey(), needle) {
			continue
		}
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch q.Sort {
		case SortByLastUpdate:
			if !a.UpdatedAt().Equal(b.UpdatedAt()) {
				return a.UpdatedAt().After(b.UpdatedAt())
			}
		case SortByReleaseDay:
			da, db := releaseKey(a), releaseKey(b)
			if da != db {
				return da < db
			}
		}
		return a.NameKey() < b.NameKey()
	})
	return out, nil
}

// titles without a release day sort last
func releaseKey(t models.Title) int {
	if t.HasReleaseDay() {
		return *t.ReleaseDay
	}
	return 7
}

// Stats summarizes the live collection.
type Stats struct {
	Reading   int    `json:"reading"`
	Completed int    `json:"completed"`
	Overdue   int    `json:"overdue"`
	ByDay     [7]int `json:"byDay"`
}

// Stats counts reading and completed titles, the titles per release day,
// and the titles releasing today that were not touched yet today.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return ComputeStats(s.Store.Load(ctx), s.Now()), nil
}

func ComputeStats(all []models.Title, now time.Time) Stats {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	var st Stats
	for _, t := range all {
		if t.Deleted() {
			continue
		}
		if t.Completed() {
			st.Completed++
		} else {
			st.Reading++
		}
		if !t.HasReleaseDay() {
			continue
		}
		st.ByDay[*t.ReleaseDay]++
		if *t.ReleaseDay == int(now.Weekday()) && t.LastUpdate != "" && t.UpdatedAt().In(now.Location()).Before(today) {
			st.Overdue++
		}
	}
	return st
}

// TapAction is what selecting a title in a list does.
type TapAction string

const (
	TapEdit    TapAction = "edit"
	TapOpenURL TapAction = "open_url"
	TapCopyURL TapAction = "copy_url"
)

func ParseTapAction(s string) (TapAction, error) {
	switch a := TapAction(strings.ToLower(strings.TrimSpace(s))); a {
	case TapEdit, TapOpenURL, TapCopyURL:
		return a, nil
	case "":
		return TapEdit, nil
	default:
		return "", apperr.Validation(fmt.Sprintf("unknown tap action %q", s))
	}
}

// Resolve falls back to editing when the title has no site to open.
func (a TapAction) Resolve(t models.Title) TapAction {
	if a != TapEdit && t.SiteURL == "" {
		return TapEdit
	}
	return a
}

func indexOf(all []models.Title, id string) int {
	for i := range all {
		if all[i].ID == id {
			return i
		}
	}
	return -1
}

func notFound(id string) error {
	return apperr.Wrap(apperr.CodeNotFound, "title "+id+" not found", nil)
}

// IsNotFound reports whether err is a missing-title error.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
