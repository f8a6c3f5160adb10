package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/identity"
	"chaptertrack/pkg/models"
)

type HTTPStore struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

var (
	_ Store         = (*HTTPStore)(nil)
	_ RecordStore   = (*HTTPStore)(nil)
	_ CoverUploader = (*HTTPStore)(nil)
)

func (s *HTTPStore) Load(ctx context.Context, id identity.Identity) (models.TitlesDocument, error) {
	if err := id.Require(); err != nil {
		return models.TitlesDocument{}, err
	}
	var doc models.TitlesDocument
	if err := s.doJSON(ctx, http.MethodGet, "/users/titles", id.Token, nil, &doc); err != nil {
		return models.TitlesDocument{}, err
	}
	if doc.Titles == nil {
		doc.Titles = []models.Title{}
	}
	return doc, nil
}

func (s *HTTPStore) Save(ctx context.Context, id identity.Identity, titles []models.Title) (models.TitlesDocument, error) {
	if err := id.Require(); err != nil {
		return models.TitlesDocument{}, err
	}
	if titles == nil {
		titles = []models.Title{}
	}
	payload := models.TitlesDocument{Titles: titles, UserID: id.UserID}
	var doc models.TitlesDocument
	if err := s.doJSON(ctx, http.MethodPut, "/users/titles", id.Token, payload, &doc); err != nil {
		return models.TitlesDocument{}, err
	}
	return doc, nil
}

func (s *HTTPStore) Records(ctx context.Context, id identity.Identity) ([]models.Title, error) {
	if err := id.Require(); err != nil {
		return nil, err
	}
	var resp struct {
		Items []models.Title `json:"items"`
	}
	if err := s.doJSON(ctx, http.MethodGet, "/users/titles/records", id.Token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []models.Title{}
	}
	return resp.Items, nil
}

func (s *HTTPStore) Upsert(ctx context.Context, id identity.Identity, t models.Title) (models.Title, bool, error) {
	if err := id.Require(); err != nil {
		return models.Title{}, false, err
	}
	var resp struct {
		Applied bool         `json:"applied"`
		Title   models.Title `json:"title"`
	}
	if err := s.doJSON(ctx, http.MethodPut, "/users/titles/"+url.PathEscape(t.ID), id.Token, t, &resp); err != nil {
		return models.Title{}, false, err
	}
	return resp.Title, resp.Applied, nil
}

func (s *HTTPStore) Delete(ctx context.Context, id identity.Identity, titleID string) error {
	if err := id.Require(); err != nil {
		return err
	}
	return s.doJSON(ctx, http.MethodDelete, "/users/titles/"+url.PathEscape(titleID), id.Token, nil, nil)
}

func (s *HTTPStore) UploadCover(ctx context.Context, id identity.Identity, localPath string) (string, error) {
	if err := id.Require(); err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", apperr.Storage("open cover "+localPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", apperr.Storage("read cover "+localPath, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/users/covers", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+id.Token)

	var resp struct {
		URL string `json:"url"`
	}
	if err := s.send(req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (s *HTTPStore) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.send(req, out)
}

func (s *HTTPStore) send(req *http.Request, out any) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperr.Network(fmt.Sprintf("%s %s", req.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Network("read response", err)
	}
	if resp.StatusCode >= 300 {
		return statusError(req.Method, req.URL.Path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Network("decode response", err)
	}
	return nil
}

// statusError maps an HTTP failure onto the error taxonomy.
func statusError(method, path string, code int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	cause := fmt.Errorf("%s %s: %d %s", method, path, code, msg)

	switch {
	case code == http.StatusUnauthorized:
		return apperr.Wrap(apperr.CodeUnauthenticated, "server rejected the session, please log in again", cause)
	case code == http.StatusNotFound:
		return apperr.Wrap(apperr.CodeNotFound, msg, cause)
	case code == http.StatusBadRequest || code == http.StatusConflict ||
		code == http.StatusUnsupportedMediaType || code == http.StatusForbidden:
		return apperr.Wrap(apperr.CodeValidation, msg, cause)
	default:
		return apperr.Network("remote operation failed", cause)
	}
}
