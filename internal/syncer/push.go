package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/identity"
	"chaptertrack/internal/merge"
	"chaptertrack/internal/remote"
	"chaptertrack/pkg/models"
)

// Pusher moves single records between the device and the cloud without
// a full sync. It never touches the last-sync state: records it pushes
// show up on both sides and the next sync agrees on them as usual.
type Pusher struct {
	Local  LocalStore
	Remote remote.RecordStore
	Logger *log.Logger
}

func NewPusher(local LocalStore, rs remote.RecordStore, logger *log.Logger) *Pusher {
	if logger == nil {
		logger = log.Default()
	}
	return &Pusher{Local: local, Remote: rs, Logger: logger}
}

type PushOutcome int

const (
	Pushed PushOutcome = iota
	CloudKept
	// records with device-local images wait for a full sync, which
	// uploads the images first
	Deferred
)

// Push upserts t. When the cloud keeps its copy, a newer cloud copy
// replaces the device one.
func (p *Pusher) Push(ctx context.Context, id identity.Identity, t models.Title) (PushOutcome, error) {
	if merge.HasLocalImage(t) {
		p.Logger.Printf("[sync] %s has a local image, left for the next sync", t.ID)
		return Deferred, nil
	}
	stored, applied, err := p.Remote.Upsert(ctx, id, t)
	if err != nil {
		return 0, fmt.Errorf("push %s: %w", t.ID, err)
	}
	if applied {
		p.Logger.Printf("[sync] pushed %s", t.ID)
		return Pushed, nil
	}

	err = p.Local.Update(ctx, func(all []models.Title) ([]models.Title, error) {
		for i := range all {
			if all[i].ID == stored.ID && stored.UpdatedAt().After(all[i].UpdatedAt()) {
				all[i] = stored
			}
		}
		return all, nil
	})
	if err != nil {
		return 0, fmt.Errorf("adopt cloud copy of %s: %w", t.ID, err)
	}
	p.Logger.Printf("[sync] cloud kept its copy of %s", t.ID)
	return CloudKept, nil
}

// Purge removes titleID from the cloud. A record the cloud does not
// have counts as purged.
func (p *Pusher) Purge(ctx context.Context, id identity.Identity, titleID string) error {
	if err := p.Remote.Delete(ctx, id, titleID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("purge %s: %w", titleID, err)
	}
	p.Logger.Printf("[sync] purged %s", titleID)
	return nil
}

// Drift lists the ids whose device and cloud copies differ.
type Drift struct {
	Ahead     []string `json:"ahead"`     // newer on this device
	Behind    []string `json:"behind"`    // newer in the cloud
	LocalOnly []string `json:"localOnly"`
	CloudOnly []string `json:"cloudOnly"`
}

func (d Drift) InSync() bool {
	return len(d.Ahead)+len(d.Behind)+len(d.LocalOnly)+len(d.CloudOnly) == 0
}

// Drift compares the device collection with the cloud records, in
// device order then cloud order.
func (p *Pusher) Drift(ctx context.Context, id identity.Identity) (Drift, error) {
	local, err := p.Local.LoadStrict(ctx)
	if err != nil {
		return Drift{}, err
	}
	cloud, err := p.Remote.Records(ctx, id)
	if err != nil {
		return Drift{}, fmt.Errorf("list cloud records: %w", err)
	}

	byID := make(map[string]models.Title, len(cloud))
	for _, t := range cloud {
		byID[t.ID] = t
	}

	var d Drift
	seen := make(map[string]bool, len(local))
	for _, t := range local {
		seen[t.ID] = true
		c, ok := byID[t.ID]
		switch {
		case !ok:
			d.LocalOnly = append(d.LocalOnly, t.ID)
		case t.UpdatedAt().After(c.UpdatedAt()):
			d.Ahead = append(d.Ahead, t.ID)
		case c.UpdatedAt().After(t.UpdatedAt()):
			d.Behind = append(d.Behind, t.ID)
		}
	}
	for _, t := range cloud {
		if !seen[t.ID] {
			d.CloudOnly = append(d.CloudOnly, t.ID)
		}
	}
	return d, nil
}
