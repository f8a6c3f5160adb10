package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"chaptertrack/internal/apperr"
	"chaptertrack/pkg/models"
)

// Settings covers the small per-device values: reminder preference,
// notification permission and the last agreed sync time.
type Settings struct {
	repo   *Repo
	logger *log.Logger
}

func NewSettings(repo *Repo, logger *log.Logger) *Settings {
	if logger == nil {
		logger = log.Default()
	}
	return &Settings{repo: repo, logger: logger}
}

// Preference returns the stored reminder preference, or the default
// when nothing valid is stored.
func (s *Settings) Preference(ctx context.Context) models.NotificationPreference {
	raw, ok, err := s.repo.Get(ctx, PreferencesKey)
	if err != nil {
		s.logger.Printf("[localstore] load preference: %v", err)
		return models.DefaultNotificationPreference()
	}
	if !ok {
		return models.DefaultNotificationPreference()
	}

	var p models.NotificationPreference
	if err := json.Unmarshal([]byte(raw), &p); err != nil || !p.Valid() {
		s.logger.Printf("[localstore] bad preference %q, using default", raw)
		return models.DefaultNotificationPreference()
	}
	return p
}

func (s *Settings) SetPreference(ctx context.Context, p models.NotificationPreference) error {
	if !p.Valid() {
		return apperr.Validation(fmt.Sprintf("invalid reminder time %02d:%02d", p.Hour, p.Minute))
	}
	b, err := json.Marshal(p)
	if err != nil {
		return apperr.Storage("encode preference", err)
	}
	if err := s.repo.Put(ctx, PreferencesKey, string(b)); err != nil {
		return apperr.Storage("write preference", err)
	}
	return nil
}

// PermissionState mirrors the states an OS reports for notifications.
type PermissionState string

const (
	PermissionUndetermined PermissionState = "undetermined"
	PermissionGranted      PermissionState = "granted"
	PermissionDenied       PermissionState = "denied"
)

func (s *Settings) Permission(ctx context.Context) (PermissionState, error) {
	raw, ok, err := s.repo.Get(ctx, PermissionKey)
	if err != nil {
		return PermissionUndetermined, apperr.Storage("read permission", err)
	}
	switch st := PermissionState(raw); {
	case !ok:
		return PermissionUndetermined, nil
	case st == PermissionGranted || st == PermissionDenied:
		return st, nil
	default:
		return PermissionUndetermined, nil
	}
}

func (s *Settings) SetPermission(ctx context.Context, st PermissionState) error {
	if err := s.repo.Put(ctx, PermissionKey, string(st)); err != nil {
		return apperr.Storage("write permission", err)
	}
	return nil
}

// LastSync is the zero time until the first successful sync.
func (s *Settings) LastSync(ctx context.Context) (time.Time, error) {
	raw, ok, err := s.repo.Get(ctx, LastSyncKey)
	if err != nil {
		return time.Time{}, apperr.Storage("read last sync", err)
	}
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Printf("[localstore] bad last sync %q, treating as never", raw)
		return time.Time{}, nil
	}
	return ts, nil
}

func (s *Settings) SetLastSync(ctx context.Context, t time.Time) error {
	if err := s.repo.Put(ctx, LastSyncKey, t.UTC().Format(time.RFC3339Nano)); err != nil {
		return apperr.Storage("write last sync", err)
	}
	return nil
}

// SyncedIDs returns the ids both sides held after the last sync.
func (s *Settings) SyncedIDs(ctx context.Context) ([]string, error) {
	raw, ok, err := s.repo.Get(ctx, SyncedIDsKey)
	if err != nil {
		return nil, apperr.Storage("read synced ids", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.Printf("[localstore] bad synced ids, treating as none: %v", err)
		return nil, nil
	}
	return ids, nil
}

func (s *Settings) SetSyncedIDs(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return apperr.Storage("encode synced ids", err)
	}
	if err := s.repo.Put(ctx, SyncedIDsKey, string(b)); err != nil {
		return apperr.Storage("write synced ids", err)
	}
	return nil
}

// ClearLastSync forgets the watermark and the synced ids, e.g. after
// signing out, so the next sync with any account starts as a union.
func (s *Settings) ClearLastSync(ctx context.Context) error {
	for _, key := range []string{LastSyncKey, SyncedIDsKey} {
		if err := s.repo.Delete(ctx, key); err != nil {
			return apperr.Storage("clear last sync", err)
		}
	}
	return nil
}
