// Package merge reconciles two copies of a title collection.
//
// A merge is directional: records from the incoming collection are
// applied onto the base collection, the destination being updated.
// Conflicts between copies of the same id are settled last-write-wins
// on Title.LastUpdate, with the base copy kept on a tie so that a
// repeated merge without intervening changes is a no-op.
package merge

import (
	"strings"
	"time"

	"chaptertrack/pkg/models"
)

// Direction tells the engine which store is the destination.
type Direction int

const (
	// Download applies the remote copy onto the local one.
	Download Direction = iota
	// Upload applies the local copy onto the remote one.
	Upload
)

func (d Direction) String() string {
	switch d {
	case Download:
		return "download"
	case Upload:
		return "upload"
	default:
		return "unknown"
	}
}

// AbsencePolicy decides what a record present on only one side means.
type AbsencePolicy int

const (
	// AbsenceDeletes treats every incoming-only record as new and every
	// base-only record as deleted on the incoming side.
	AbsenceDeletes AbsencePolicy = iota
	// AbsenceByLastSync consults the last sync both sides agreed on. A
	// one-sided record is taken as deleted on the side that lacks it only
	// when its id was part of that sync and it has not been modified
	// since. Any other one-sided record is new, whatever its timestamp.
	AbsenceByLastSync
)

// Options configure one directional pass.
type Options struct {
	Direction Direction
	Absence   AbsencePolicy
	Watermark time.Time
	// Synced holds the ids present on both sides after the last agreed
	// sync. Empty on a first sync, which keeps every one-sided record.
	Synced map[string]bool
}

// Result is the reconciled collection plus a per-id account of what
// happened to each record.
type Result struct {
	Titles []models.Title

	Added   []string // incoming-only records accepted as new
	Updated []string // matches won by the incoming copy
	Kept    []string // matches and base-only records that stayed as they were
	Removed []string // base-only records dropped as deleted on the incoming side
	Dropped []string // incoming-only records dropped as deleted on the base side

	// PushImages lists winning incoming records that still reference
	// device-local images. Only filled for Upload.
	PushImages []string
}

// Changed reports whether the destination differs from base.
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Updated) > 0 || len(r.Removed) > 0
}

// Merge applies incoming onto base.
func Merge(base, incoming []models.Title, opts Options) Result {
	base = Dedupe(base)
	incoming = Dedupe(incoming)

	var res Result

	pending := make(map[string]struct{}, len(base))
	byID := make(map[string]models.Title, len(base))
	for _, b := range base {
		pending[b.ID] = struct{}{}
		byID[b.ID] = b
	}

	winners := make(map[string]models.Title, len(incoming))
	var added []models.Title

	for _, in := range incoming {
		b, ok := byID[in.ID]
		if !ok {
			if opts.goneFromOtherSide(in) {
				res.Dropped = append(res.Dropped, in.ID)
				continue
			}
			added = append(added, in)
			res.Added = append(res.Added, in.ID)
			if opts.Direction == Upload && HasLocalImage(in) {
				res.PushImages = append(res.PushImages, in.ID)
			}
			continue
		}

		delete(pending, in.ID)
		if incomingWins(b, in, opts.Direction) {
			winners[in.ID] = in
			res.Updated = append(res.Updated, in.ID)
			if opts.Direction == Upload && HasLocalImage(in) {
				res.PushImages = append(res.PushImages, in.ID)
			}
		} else {
			winners[b.ID] = b
			res.Kept = append(res.Kept, b.ID)
		}
	}

	out := make([]models.Title, 0, len(base)+len(added))
	for _, b := range base {
		if w, ok := winners[b.ID]; ok {
			out = append(out, w)
			continue
		}
		if _, unmatched := pending[b.ID]; !unmatched {
			continue
		}
		if opts.Absence == AbsenceDeletes || opts.goneFromOtherSide(b) {
			res.Removed = append(res.Removed, b.ID)
			continue
		}
		out = append(out, b)
		res.Kept = append(res.Kept, b.ID)
	}
	out = append(out, added...)

	res.Titles = out
	return res
}

// goneFromOtherSide applies the absence policy to a one-sided record.
// Under AbsenceDeletes it only answers for incoming-only records, which
// are always new.
func (o Options) goneFromOtherSide(t models.Title) bool {
	if o.Absence != AbsenceByLastSync || !o.Synced[t.ID] {
		return false
	}
	return o.Watermark.IsZero() || !t.UpdatedAt().After(o.Watermark)
}

// IDs returns the ids of titles as a set.
func IDs(titles []models.Title) map[string]bool {
	out := make(map[string]bool, len(titles))
	for _, t := range titles {
		out[t.ID] = true
	}
	return out
}

func incomingWins(base, in models.Title, dir Direction) bool {
	bt, it := base.UpdatedAt(), in.UpdatedAt()
	if it.After(bt) {
		return true
	}
	if it.Before(bt) {
		return false
	}
	// Local file URIs mean nothing on another device, so on upload the
	// owning copy is pushed when the image went from local to nothing or
	// the other way round.
	return dir == Upload && imageOwnershipChanged(base, in)
}

func imageOwnershipChanged(base, in models.Title) bool {
	return flipped(base.CoverURI, in.CoverURI) || flipped(base.ThumbnailURI, in.ThumbnailURI)
}

func flipped(a, b string) bool {
	return (IsLocalRef(a) && b == "") || (a == "" && IsLocalRef(b))
}

// IsLocalRef reports whether an image reference points at the device
// rather than at a fetchable URL.
func IsLocalRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	lower := strings.ToLower(ref)
	return !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://")
}

// HasLocalImage reports whether any image reference of t is local.
func HasLocalImage(t models.Title) bool {
	return IsLocalRef(t.CoverURI) || IsLocalRef(t.ThumbnailURI)
}

// Dedupe keeps one record per id, the most recently updated one, at the
// position of its first occurrence. Records without an id are dropped.
func Dedupe(titles []models.Title) []models.Title {
	pos := make(map[string]int, len(titles))
	out := make([]models.Title, 0, len(titles))
	for _, t := range titles {
		if t.ID == "" {
			continue
		}
		if i, ok := pos[t.ID]; ok {
			if t.UpdatedAt().After(out[i].UpdatedAt()) {
				out[i] = t
			}
			continue
		}
		pos[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}

// PruneTombstones drops deleted records last touched before cutoff.
func PruneTombstones(titles []models.Title, cutoff time.Time) []models.Title {
	out := make([]models.Title, 0, len(titles))
	for _, t := range titles {
		if t.Deleted() && t.UpdatedAt().Before(cutoff) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Live filters tombstones out of a collection.
func Live(titles []models.Title) []models.Title {
	out := make([]models.Title, 0, len(titles))
	for _, t := range titles {
		if !t.Deleted() {
			out = append(out, t)
		}
	}
	return out
}
