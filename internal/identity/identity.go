// Package identity is the signed-in account as the client sees it.
// Remote and sync calls take an Identity explicitly; the zero value
// means signed out.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chaptertrack/internal/apperr"
)

type Identity struct {
	UserID    string
	Username  string
	Email     string
	Token     string
	ExpiresAt time.Time
}

func (id Identity) Empty() bool {
	return id.UserID == "" || id.Token == ""
}

// Require fails with ErrUnauthenticated for a signed-out or expired
// identity.
func (id Identity) Require() error {
	if id.Empty() {
		return apperr.ErrUnauthenticated
	}
	if !id.ExpiresAt.IsZero() && time.Now().After(id.ExpiresAt) {
		return apperr.Wrap(apperr.CodeUnauthenticated, "session expired, please log in again", nil)
	}
	return nil
}

// claims mirrors what the server signs. The client never holds the
// secret, so the token is decoded without verification; the server
// checks it on every call.
type claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

func FromToken(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperr.ErrUnauthenticated
	}

	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Identity{}, fmt.Errorf("decode token: %w", err)
	}
	uid := c.UserID
	if uid == "" {
		uid = c.Subject
	}
	if uid == "" {
		return Identity{}, errors.New("decode token: no user id")
	}

	id := Identity{
		UserID:   uid,
		Username: c.Username,
		Email:    c.Email,
		Token:    token,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}

type tokenData struct {
	Token string `json:"token"`
}

func Save(path, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tokenData{Token: token}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load returns the zero Identity when no token file exists.
func Load(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Identity{}, nil
		}
		return Identity{}, fmt.Errorf("read token: %w", err)
	}
	var td tokenData
	if err := json.Unmarshal(data, &td); err != nil {
		return Identity{}, fmt.Errorf("parse token file: %w", err)
	}
	if strings.TrimSpace(td.Token) == "" {
		return Identity{}, nil
	}
	return FromToken(td.Token)
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
