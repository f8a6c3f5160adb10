// Package syncer runs the two-way reconciliation between the device
// collection and the cloud document.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/identity"
	"chaptertrack/internal/merge"
	"chaptertrack/internal/remote"
	"chaptertrack/pkg/models"
)

// LocalStore is satisfied by *localstore.TitleStore.
type LocalStore interface {
	LoadStrict(ctx context.Context) ([]models.Title, error)
	Update(ctx context.Context, fn func([]models.Title) ([]models.Title, error)) error
}

// Watermarks is satisfied by *localstore.Settings. Besides the time of
// the last agreed sync it keeps the ids both sides held at that point.
type Watermarks interface {
	LastSync(ctx context.Context) (time.Time, error)
	SetLastSync(ctx context.Context, t time.Time) error
	SyncedIDs(ctx context.Context) ([]string, error)
	SetSyncedIDs(ctx context.Context, ids []string) error
}

// lastSync is the agreed state one run starts from.
type lastSync struct {
	at     time.Time
	synced map[string]bool
}

func (l lastSync) options(dir merge.Direction) merge.Options {
	return merge.Options{
		Direction: dir,
		Absence:   merge.AbsenceByLastSync,
		Watermark: l.at,
		Synced:    l.synced,
	}
}

type Engine struct {
	Local    LocalStore
	Remote   remote.Store
	Uploader remote.CoverUploader // nil skips image pushes
	Marks    Watermarks

	// Tombstones older than this and older than the last sync are purged.
	Retention time.Duration

	Logger *log.Logger
	Now    func() time.Time

	group singleflight.Group
}

func NewEngine(local LocalStore, rs remote.Store, uploader remote.CoverUploader, marks Watermarks, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		Local:     local,
		Remote:    rs,
		Uploader:  uploader,
		Marks:     marks,
		Retention: 30 * 24 * time.Hour,
		Logger:    logger,
		Now:       time.Now,
	}
}

type Result struct {
	Upload   merge.Result
	Download merge.Result

	CoversUploaded int
	Pruned         int
	Watermark      time.Time // the previous agreed sync, zero on first sync
	SyncedAt       time.Time

	// Shared is set when the caller joined a sync already in flight.
	Shared bool
}

// Sync uploads then downloads. Concurrent calls for the same account
// share one run. A failure in either direction leaves that direction's
// destination untouched.
func (e *Engine) Sync(ctx context.Context, id identity.Identity) (Result, error) {
	if err := id.Require(); err != nil {
		return Result{}, err
	}

	v, err, shared := e.group.Do(id.UserID, func() (any, error) {
		return e.run(ctx, id)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	res.Shared = shared
	return res, nil
}

func (e *Engine) run(ctx context.Context, id identity.Identity) (Result, error) {
	started := e.Now().UTC()

	watermark, err := e.Marks.LastSync(ctx)
	if err != nil {
		return Result{}, err
	}
	synced, err := e.Marks.SyncedIDs(ctx)
	if err != nil {
		return Result{}, err
	}
	last := lastSync{at: watermark, synced: make(map[string]bool, len(synced))}
	for _, i := range synced {
		last.synced[i] = true
	}
	res := Result{Watermark: watermark}

	up, covers, pruned, err := e.upload(ctx, id, last, started)
	if err != nil {
		return Result{}, fmt.Errorf("upload: %w", err)
	}
	res.Upload, res.CoversUploaded, res.Pruned = up, covers, pruned

	down, remoteIDs, err := e.download(ctx, id, last, started)
	if err != nil {
		return Result{}, fmt.Errorf("download: %w", err)
	}
	res.Download = down

	// ids held by both sides at the end of this run
	agreed := make([]string, 0, len(down.Titles))
	for _, t := range down.Titles {
		if remoteIDs[t.ID] {
			agreed = append(agreed, t.ID)
		}
	}
	if err := e.Marks.SetSyncedIDs(ctx, agreed); err != nil {
		return Result{}, err
	}
	if err := e.Marks.SetLastSync(ctx, started); err != nil {
		return Result{}, err
	}
	res.SyncedAt = started

	e.Logger.Printf("[sync] user=%s up(+%d ~%d -%d) down(+%d ~%d -%d) covers=%d pruned=%d",
		id.UserID,
		len(up.Added), len(up.Updated), len(up.Removed),
		len(down.Added), len(down.Updated), len(down.Removed),
		covers, pruned)
	return res, nil
}

// upload merges the device copy onto the cloud copy and writes the
// cloud copy when it changed.
func (e *Engine) upload(ctx context.Context, id identity.Identity, last lastSync, now time.Time) (merge.Result, int, int, error) {
	local, err := e.Local.LoadStrict(ctx)
	if err != nil {
		return merge.Result{}, 0, 0, err
	}
	doc, err := e.Remote.Load(ctx, id)
	if err != nil {
		return merge.Result{}, 0, 0, err
	}

	res := merge.Merge(doc.Titles, local, last.options(merge.Upload))

	covers, err := e.pushImages(ctx, id, res.Titles, res.PushImages)
	if err != nil {
		return merge.Result{}, 0, 0, err
	}

	titles := merge.PruneTombstones(res.Titles, e.pruneCutoff(last.at, now))
	pruned := len(res.Titles) - len(titles)
	res.Titles = titles

	if !res.Changed() && covers == 0 && pruned == 0 && len(doc.Titles) == len(titles) {
		return res, 0, 0, nil
	}
	if _, err := e.Remote.Save(ctx, id, titles); err != nil {
		return merge.Result{}, 0, 0, err
	}
	return res, covers, pruned, nil
}

// download re-reads the cloud copy and merges it onto the device copy
// inside one local read-modify-write.
func (e *Engine) download(ctx context.Context, id identity.Identity, last lastSync, now time.Time) (merge.Result, map[string]bool, error) {
	doc, err := e.Remote.Load(ctx, id)
	if err != nil {
		return merge.Result{}, nil, err
	}

	var res merge.Result
	err = e.Local.Update(ctx, func(local []models.Title) ([]models.Title, error) {
		res = merge.Merge(local, doc.Titles, last.options(merge.Download))
		res.Titles = merge.PruneTombstones(res.Titles, e.pruneCutoff(last.at, now))
		return res.Titles, nil
	})
	if err != nil {
		return merge.Result{}, nil, err
	}
	return res, merge.IDs(doc.Titles), nil
}

// pushImages uploads the device-local images of the listed records and
// rewrites their references in titles. A missing file is logged and
// left alone; a failed upload aborts the sync.
func (e *Engine) pushImages(ctx context.Context, id identity.Identity, titles []models.Title, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if e.Uploader == nil {
		e.Logger.Printf("[sync] %d records with local images, no uploader configured", len(ids))
		return 0, nil
	}

	want := make(map[string]bool, len(ids))
	for _, i := range ids {
		want[i] = true
	}

	uploaded := make(map[string]string)
	upload := func(ref string) (string, error) {
		if !merge.IsLocalRef(ref) {
			return ref, nil
		}
		if url, ok := uploaded[ref]; ok {
			return url, nil
		}
		url, err := e.Uploader.UploadCover(ctx, id, ref)
		if err != nil {
			if errors.Is(err, apperr.ErrStorage) {
				e.Logger.Printf("[sync] skip image %s: %v", ref, err)
				return ref, nil
			}
			return "", err
		}
		uploaded[ref] = url
		return url, nil
	}

	for i := range titles {
		if !want[titles[i].ID] {
			continue
		}
		cover, err := upload(titles[i].CoverURI)
		if err != nil {
			return 0, err
		}
		thumb, err := upload(titles[i].ThumbnailURI)
		if err != nil {
			return 0, err
		}
		titles[i].CoverURI, titles[i].ThumbnailURI = cover, thumb
	}
	return len(uploaded), nil
}

// pruneCutoff only lets tombstones go once they are past the retention
// window and were already part of an agreed sync.
func (e *Engine) pruneCutoff(watermark, now time.Time) time.Time {
	if watermark.IsZero() || e.Retention <= 0 {
		return time.Time{}
	}
	cutoff := now.Add(-e.Retention)
	if watermark.Before(cutoff) {
		return watermark
	}
	return cutoff
}
