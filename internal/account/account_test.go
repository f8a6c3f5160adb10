package account

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"chaptertrack/internal/auth"
	"chaptertrack/internal/cloud"
	"chaptertrack/internal/sync"
	"chaptertrack/pkg/database"
	"chaptertrack/pkg/models"
)

type events []sync.TitlesEvent

func (e *events) Publish(ev sync.TitlesEvent) { *e = append(*e, ev) }

type fixture struct {
	router *gin.Engine
	users  *auth.Repo
	titles *cloud.Repo
	tokens auth.TokenService
	covers cloud.CoverStore
	now    time.Time
	user   auth.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := database.Open(database.Config{Path: filepath.Join(dir, "cloud.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db, database.Server); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{
		users:  auth.NewRepo(db),
		titles: cloud.NewRepo(db),
		tokens: auth.TokenService{Secret: []byte("s"), Issuer: "test", Duration: time.Hour},
		covers: cloud.CoverStore{Dir: filepath.Join(dir, "covers"), BaseURL: "http://cdn.test"},
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		user:   auth.User{ID: "u1", Username: "reader", Email: "r@example.com", PasswordHash: "x"},
	}
	if err := f.users.CreateUser(context.Background(), f.user); err != nil {
		t.Fatal(err)
	}

	h := NewHandler(f.users, 0)
	h.Now = func() time.Time { return f.now }

	r := gin.New()
	g := r.Group("/users")
	g.Use(auth.AuthMiddleware(f.tokens, f.users))
	h.RegisterRoutes(g)
	f.router = r
	return f
}

// token signs with the current token version, like a fresh login.
func (f *fixture) token(t *testing.T) string {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), f.user.ID)
	if err != nil || u == nil {
		t.Fatalf("load user: %v", err)
	}
	tok, _, err := f.tokens.Sign(u)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string) (int, models.UserProfile) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var p models.UserProfile
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
			t.Fatalf("decode profile: %v", err)
		}
	}
	return w.Code, p
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	code, p := f.do(t, http.MethodGet, "/users/me", f.token(t))
	if code != http.StatusOK || p.ID != "u1" || p.Username != "reader" || p.PendingDeletion {
		t.Fatalf("GET /users/me = %d %+v", code, p)
	}
}

func TestDeletionRequestAndCancel(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)

	code, p := f.do(t, http.MethodPost, "/users/me/deletion", tok)
	if code != http.StatusOK || !p.PendingDeletion || p.DeletionScheduledDate == nil {
		t.Fatalf("request deletion = %d %+v", code, p)
	}
	if want := f.now.Add(DefaultGrace); !p.DeletionScheduledDate.Equal(want) {
		t.Fatalf("scheduled %v, want %v", p.DeletionScheduledDate, want)
	}

	// the old session is revoked
	if code, _ := f.do(t, http.MethodGet, "/users/me", tok); code != http.StatusUnauthorized {
		t.Fatalf("old token after deletion request = %d", code)
	}

	code, p = f.do(t, http.MethodDelete, "/users/me/deletion", f.token(t))
	if code != http.StatusOK || p.PendingDeletion || p.DeletionScheduledDate != nil {
		t.Fatalf("cancel deletion = %d %+v", code, p)
	}
}

func TestPurgeDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := auth.User{ID: "u2", Username: "other", Email: "o@example.com", PasswordHash: "x"}
	if err := f.users.CreateUser(ctx, other); err != nil {
		t.Fatal(err)
	}
	doc := models.TitlesDocument{UserID: "u1", LastSync: f.now, Titles: []models.Title{{ID: "a", Name: "A"}}}
	if err := f.titles.ReplaceDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if _, err := f.covers.Save("u1", "c.png", bytes.NewReader([]byte("png"))); err != nil {
		t.Fatal(err)
	}

	if err := f.users.ScheduleDeletion(ctx, "u1", f.now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := f.users.ScheduleDeletion(ctx, "u2", f.now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	var ev events
	p := NewPurger(f.users, f.titles, f.covers, &ev, time.Hour, log.New(io.Discard, "", 0))
	p.Now = func() time.Time { return f.now }

	n, err := p.PurgeDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PurgeDue = %d, %v", n, err)
	}

	if u, _ := f.users.GetByID(ctx, "u1"); u != nil {
		t.Fatal("u1 still exists")
	}
	if u, _ := f.users.GetByID(ctx, "u2"); u == nil {
		t.Fatal("u2 purged before its grace period ended")
	}
	if d, err := f.titles.GetDocument(ctx, "u1"); err != nil || d != nil {
		t.Fatalf("document left behind: %+v, %v", d, err)
	}
	if _, err := os.Stat(filepath.Join(f.covers.Dir, "users", "u1")); !os.IsNotExist(err) {
		t.Fatalf("covers left behind: %v", err)
	}
	if len(ev) != 1 || ev[0].Type != sync.AccountDeleteType || ev[0].UserID != "u1" {
		t.Fatalf("events = %+v", ev)
	}

	// nothing left to do
	if n, err := p.PurgeDue(ctx); err != nil || n != 0 {
		t.Fatalf("second PurgeDue = %d, %v", n, err)
	}
}
