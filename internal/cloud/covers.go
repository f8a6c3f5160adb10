package cloud

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CoverStore keeps uploaded cover images on disk under
// users/<uid>/covers/<file> and serves them below BaseURL + "/files".
type CoverStore struct {
	Dir     string
	BaseURL string
}

var allowedCoverExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

var ErrUnsupportedImage = errors.New("unsupported image type")

// Save writes r as a new cover of userID and returns its public URL.
func (s CoverStore) Save(userID, filename string, r io.Reader) (string, error) {
	if err := checkUserID(userID); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedCoverExt[ext] {
		return "", ErrUnsupportedImage
	}

	rel := path.Join("users", userID, "covers", uuid.NewString()+ext)
	dst := filepath.Join(s.Dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create cover dir: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create cover: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write cover: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close cover: %w", err)
	}

	return s.BaseURL + "/files/" + rel, nil
}

// RemoveUser deletes every cover of userID.
func (s CoverStore) RemoveUser(userID string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.Dir, "users", userID)); err != nil {
		return fmt.Errorf("remove covers: %w", err)
	}
	return nil
}

func checkUserID(userID string) error {
	if userID == "" || userID == "." || userID == ".." || strings.ContainsAny(userID, `/\`) {
		return fmt.Errorf("bad user id %q", userID)
	}
	return nil
}
