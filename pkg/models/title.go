package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Title is one tracked serialized work. JSON names match the backup
// files written by the mobile app so exports stay interchangeable.
type Title struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	CurrentChapter float64  `json:"currentChapter"`
	LastChapter    *float64 `json:"lastChapter,omitempty"`
	SiteURL        string   `json:"siteUrl,omitempty"`
	ReleaseDay     *int     `json:"releaseDay,omitempty"` // 0 = Sunday ... 6 = Saturday
	LastUpdate     string   `json:"lastUpdate,omitempty"` // RFC 3339, conflict-resolution key
	ThumbnailURI   string   `json:"thumbnailUri,omitempty"`
	CoverURI       string   `json:"coverUri,omitempty"`
	DeletedAt      string   `json:"deletedAt,omitempty"` // tombstone marker
}

// UpdatedAt parses LastUpdate. Missing or malformed timestamps are the
// Unix epoch so they always lose against a real mutation.
func (t Title) UpdatedAt() time.Time {
	return ParseTimestamp(t.LastUpdate)
}

// Completed reports whether the reader caught up with the last chapter.
func (t Title) Completed() bool {
	return t.LastChapter != nil && t.CurrentChapter >= *t.LastChapter
}

// Deleted reports whether the record is a tombstone.
func (t Title) Deleted() bool {
	return t.DeletedAt != ""
}

// Touch refreshes LastUpdate. Every mutation must call it.
func (t *Title) Touch(now time.Time) {
	t.LastUpdate = FormatTimestamp(now)
}

// HasReleaseDay reports whether ReleaseDay holds a valid weekday.
func (t Title) HasReleaseDay() bool {
	return t.ReleaseDay != nil && *t.ReleaseDay >= 0 && *t.ReleaseDay <= 6
}

// NameKey is the case-insensitive key used for search, sort and
// import de-duplication.
func (t Title) NameKey() string {
	return strings.ToLower(strings.TrimSpace(t.Name))
}

// Validate checks the record invariants that do not depend on the rest
// of the collection.
func (t Title) Validate() error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return errors.New("id is required")
	case strings.TrimSpace(t.Name) == "":
		return fmt.Errorf("title %s: name is required", t.ID)
	case t.CurrentChapter < 0 || math.IsNaN(t.CurrentChapter) || math.IsInf(t.CurrentChapter, 0):
		return fmt.Errorf("title %s: currentChapter must be a number >= 0", t.ID)
	case t.LastChapter != nil && (*t.LastChapter < 0 || math.IsNaN(*t.LastChapter)):
		return fmt.Errorf("title %s: lastChapter must be >= 0", t.ID)
	case t.ReleaseDay != nil && !t.HasReleaseDay():
		return fmt.Errorf("title %s: releaseDay must be 0-6", t.ID)
	}
	return nil
}

var epoch = time.Unix(0, 0).UTC()

// ParseTimestamp accepts RFC 3339 with or without fractional seconds.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return epoch
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return epoch
	}
	return ts
}

// FormatTimestamp renders the JavaScript toISOString shape the app wrote.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Float and Int build optional fields.
func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
