package remote

import (
	"context"
	"net/http"
	"time"

	"chaptertrack/internal/identity"
	"chaptertrack/pkg/models"
)

type AuthResult struct {
	Token     string             `json:"token"`
	User      models.UserProfile `json:"user"`
	ExpiresAt time.Time          `json:"expires_at"`
}

func (s *HTTPStore) Register(ctx context.Context, username, email, password string) (AuthResult, error) {
	payload := map[string]string{"username": username, "email": email, "password": password}
	var res AuthResult
	err := s.doJSON(ctx, http.MethodPost, "/auth/register", "", payload, &res)
	return res, err
}

func (s *HTTPStore) Login(ctx context.Context, email, password string) (AuthResult, error) {
	payload := map[string]string{"email": email, "password": password}
	var res AuthResult
	err := s.doJSON(ctx, http.MethodPost, "/auth/login", "", payload, &res)
	return res, err
}

// Logout revokes every token of the account on the server.
func (s *HTTPStore) Logout(ctx context.Context, id identity.Identity) error {
	if err := id.Require(); err != nil {
		return err
	}
	return s.doJSON(ctx, http.MethodPost, "/auth/logout", id.Token, nil, nil)
}

func (s *HTTPStore) Me(ctx context.Context, id identity.Identity) (models.UserProfile, error) {
	if err := id.Require(); err != nil {
		return models.UserProfile{}, err
	}
	var p models.UserProfile
	err := s.doJSON(ctx, http.MethodGet, "/users/me", id.Token, nil, &p)
	return p, err
}

// RequestDeletion schedules the account for deletion after the grace
// period. The server revokes the session as part of it.
func (s *HTTPStore) RequestDeletion(ctx context.Context, id identity.Identity) (models.UserProfile, error) {
	if err := id.Require(); err != nil {
		return models.UserProfile{}, err
	}
	var p models.UserProfile
	err := s.doJSON(ctx, http.MethodPost, "/users/me/deletion", id.Token, nil, &p)
	return p, err
}

func (s *HTTPStore) CancelDeletion(ctx context.Context, id identity.Identity) (models.UserProfile, error) {
	if err := id.Require(); err != nil {
		return models.UserProfile{}, err
	}
	var p models.UserProfile
	err := s.doJSON(ctx, http.MethodDelete, "/users/me/deletion", id.Token, nil, &p)
	return p, err
}

// ChangePassword revokes every session of the account, this one
// included; sign in again with the new password afterwards.
func (s *HTTPStore) ChangePassword(ctx context.Context, id identity.Identity, oldPassword, newPassword string) error {
	if err := id.Require(); err != nil {
		return err
	}
	payload := map[string]string{"old_password": oldPassword, "new_password": newPassword}
	return s.doJSON(ctx, http.MethodPost, "/auth/change-password", id.Token, payload, nil)
}
