// Package backup writes the collection to JSON or CSV files and merges
// JSON backups back into the local store.
package backup

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chaptertrack/internal/apperr"
	"chaptertrack/pkg/models"
)

type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JSON, CSV:
		return f, nil
	case "":
		return JSON, nil
	default:
		return "", apperr.Validation(fmt.Sprintf("unknown backup format %q (json, csv)", s))
	}
}

// FileName is the default backup name for the day of now.
func FileName(now time.Time, f Format) string {
	return fmt.Sprintf("minhas-leituras-backup-%s.%s", now.UTC().Format("2006-01-02"), f)
}

// Store is the part of *localstore.TitleStore backups need.
type Store interface {
	LoadStrict(ctx context.Context) ([]models.Title, error)
	Update(ctx context.Context, fn func([]models.Title) ([]models.Title, error)) error
}

// Export writes the live titles to w.
func Export(ctx context.Context, store Store, w io.Writer, f Format) (int, error) {
	all, err := store.LoadStrict(ctx)
	if err != nil {
		return 0, err
	}
	live := make([]models.Title, 0, len(all))
	for _, t := range all {
		if !t.Deleted() {
			live = append(live, t)
		}
	}

	switch f {
	case CSV:
		err = WriteCSV(w, live)
	default:
		err = WriteJSON(w, live)
	}
	if err != nil {
		return 0, fmt.Errorf("write %s backup: %w", f, err)
	}
	return len(live), nil
}

// WriteJSON writes a pretty-printed array.
func WriteJSON(w io.Writer, titles []models.Title) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(titles)
}

var csvHeader = []string{"id", "name", "currentChapter", "lastChapter", "siteUrl", "releaseDay", "lastUpdate", "coverUri"}

func WriteCSV(w io.Writer, titles []models.Title) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range titles {
		last, day := "", ""
		if t.LastChapter != nil {
			last = formatChapter(*t.LastChapter)
		}
		if t.ReleaseDay != nil {
			day = strconv.Itoa(*t.ReleaseDay)
		}
		if err := cw.Write([]string{
			t.ID,
			t.Name,
			formatChapter(t.CurrentChapter),
			last,
			t.SiteURL,
			day,
			t.LastUpdate,
			t.CoverURI,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatChapter(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Report counts what an import did.
type Report struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Parse decodes and validates a JSON backup. Records without an id get
// a new one. Any invalid record rejects the whole payload.
func Parse(r io.Reader) ([]models.Title, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}

	var loose []map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, apperr.Validation("backup must be a JSON array of titles: " + err.Error())
	}
	for i, rec := range loose {
		if name, ok := rec["name"].(string); !ok || strings.TrimSpace(name) == "" {
			return nil, apperr.Validation(fmt.Sprintf("entry %d: name must be a non-empty string", i))
		}
		if _, ok := rec["currentChapter"].(float64); !ok {
			return nil, apperr.Validation(fmt.Sprintf("entry %d: currentChapter must be a number", i))
		}
		if id, present := rec["id"]; present && id != nil {
			if _, ok := id.(string); !ok {
				return nil, apperr.Validation(fmt.Sprintf("entry %d: id must be a string", i))
			}
		}
	}

	var titles []models.Title
	if err := json.Unmarshal(raw, &titles); err != nil {
		return nil, apperr.Validation(fmt.Sprintf("decode titles: %v", err))
	}
	for i := range titles {
		if strings.TrimSpace(titles[i].ID) == "" {
			titles[i].ID = uuid.NewString()
		}
		if err := titles[i].Validate(); err != nil {
			return nil, apperr.Validation(fmt.Sprintf("entry %d: %v", i, err))
		}
	}
	return titles, nil
}

// Import parses r and merges it into the store by case-insensitive name.
// A name match keeps the existing id and takes the imported fields only
// when they are newer. Nothing is written when the payload is invalid.
func Import(ctx context.Context, store Store, r io.Reader, now time.Time) (Report, error) {
	incoming, err := Parse(r)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	err = store.Update(ctx, func(all []models.Title) ([]models.Title, error) {
		var merged []models.Title
		merged, rep = Merge(all, incoming, now)
		return merged, nil
	})
	if err != nil {
		return Report{}, err
	}
	return rep, nil
}

// Merge folds incoming into existing. Ids clashing with an existing
// record of another name are regenerated. Added records are stamped
// with now so a sync treats them as new.
func Merge(existing, incoming []models.Title, now time.Time) ([]models.Title, Report) {
	result := append([]models.Title(nil), existing...)
	byName := make(map[string]int, len(result))
	ids := make(map[string]bool, len(result))
	for i, t := range result {
		ids[t.ID] = true
		if !t.Deleted() {
			byName[t.NameKey()] = i
		}
	}

	var rep Report
	for _, t := range incoming {
		if i, ok := byName[t.NameKey()]; ok {
			cur := result[i]
			if !t.UpdatedAt().After(cur.UpdatedAt()) {
				rep.Unchanged++
				continue
			}
			t.ID = cur.ID
			t.DeletedAt = ""
			result[i] = t
			rep.Updated++
			continue
		}

		if ids[t.ID] {
			t.ID = uuid.NewString()
		}
		t.DeletedAt = ""
		t.Touch(now)
		ids[t.ID] = true
		byName[t.NameKey()] = len(result)
		result = append(result, t)
		rep.Added++
	}
	return result, rep
}
