package reminders

import (
	"context"

	"chaptertrack/internal/localstore"
)

// StoredPermissions keeps the notification permission in the local
// settings. Prompt asks the user; without one a request keeps the stored
// answer.
type StoredPermissions struct {
	Settings *localstore.Settings
	Prompt   func(ctx context.Context) (bool, error)
}

func (p StoredPermissions) Granted(ctx context.Context) (bool, error) {
	st, err := p.Settings.Permission(ctx)
	if err != nil {
		return false, err
	}
	return st == localstore.PermissionGranted, nil
}

func (p StoredPermissions) Request(ctx context.Context) (bool, error) {
	if p.Prompt == nil {
		return p.Granted(ctx)
	}
	ok, err := p.Prompt(ctx)
	if err != nil {
		return false, err
	}
	st := localstore.PermissionDenied
	if ok {
		st = localstore.PermissionGranted
	}
	if err := p.Settings.SetPermission(ctx, st); err != nil {
		return false, err
	}
	return ok, nil
}
