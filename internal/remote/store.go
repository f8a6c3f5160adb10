// Package remote is the client side of the cloud copy. Every call takes
// the signed-in identity explicitly and fails with
// apperr.ErrUnauthenticated before any I/O when it is missing.
package remote

import (
	"context"

	"chaptertrack/internal/identity"
	"chaptertrack/pkg/models"
)

// Store is the whole-document variant used by the sync engine.
type Store interface {
	Load(ctx context.Context, id identity.Identity) (models.TitlesDocument, error)
	Save(ctx context.Context, id identity.Identity, titles []models.Title) (models.TitlesDocument, error)
}

// RecordStore is the per-record variant.
type RecordStore interface {
	Records(ctx context.Context, id identity.Identity) ([]models.Title, error)
	Upsert(ctx context.Context, id identity.Identity, t models.Title) (models.Title, bool, error)
	Delete(ctx context.Context, id identity.Identity, titleID string) error
}

// CoverUploader pushes a device-local image and returns its public URL.
type CoverUploader interface {
	UploadCover(ctx context.Context, id identity.Identity, localPath string) (string, error)
}
