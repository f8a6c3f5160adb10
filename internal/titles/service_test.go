package titles

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/localstore"
	"chaptertrack/pkg/database"
	"chaptertrack/pkg/models"
)

var quiet = log.New(io.Discard, "", 0)

func newService(t *testing.T, now time.Time) (*Service, *localstore.TitleStore) {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "local.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db, database.Client); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := localstore.NewTitleStore(localstore.NewRepo(db), quiet)
	s := NewService(store, quiet)
	s.Now = func() time.Time { return now }
	return s, store
}

func names(ts []models.Title) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newService(t, now)

	added, err := s.Add(ctx, Draft{Name: "  Frieren ", CurrentChapter: 12.5, ReleaseDay: models.Int(2)})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" || added.Name != "Frieren" || added.LastUpdate != "2024-05-01T12:00:00.000Z" {
		t.Fatalf("unexpected title %+v", added)
	}

	got, err := s.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(added, got); diff != "" {
		t.Fatalf("Get mismatch (-want +got):\n%s", diff)
	}
}

func TestAddValidation(t *testing.T) {
	s, _ := newService(t, time.Now())
	tests := []Draft{
		{Name: "   "},
		{Name: "x", CurrentChapter: -1},
		{Name: "x", ReleaseDay: models.Int(7)},
		{Name: "x", LastChapter: models.Float(-3)},
	}
	for _, d := range tests {
		if _, err := s.Add(context.Background(), d); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Add(%+v) err = %v, want ErrValidation", d, err)
		}
	}
}

func TestStep(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, time.Now())

	tests := []struct {
		start float64
		delta int
		want  float64
	}{
		{10, 1, 11},
		{10.5, 1, 11},
		{10.5, -1, 9},
		{0, -1, 0},
		{0.5, -1, 0},
	}
	for _, tt := range tests {
		added, err := s.Add(ctx, Draft{Name: "t", CurrentChapter: tt.start})
		if err != nil {
			t.Fatal(err)
		}
		got, err := s.Step(ctx, added.ID, tt.delta)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if got.CurrentChapter != tt.want {
			t.Errorf("Step(%v, %d) = %v, want %v", tt.start, tt.delta, got.CurrentChapter, tt.want)
		}
	}
}

func TestEditTouchesLastUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	added, err := s.Add(ctx, Draft{Name: "a", LastChapter: models.Float(10), ReleaseDay: models.Int(1)})
	if err != nil {
		t.Fatal(err)
	}

	s.Now = func() time.Time { return time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC) }
	name := "b"
	got, err := s.Edit(ctx, added.ID, Patch{Name: &name, ClearLastChapter: true, ClearReleaseDay: true})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.Name != "b" || got.LastChapter != nil || got.ReleaseDay != nil {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.LastUpdate != "2024-05-02T00:00:00.000Z" {
		t.Fatalf("lastUpdate = %s", got.LastUpdate)
	}

	bad := 9
	if _, err := s.Edit(ctx, added.ID, Patch{ReleaseDay: &bad}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("invalid edit err = %v", err)
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	added, err := s.Add(ctx, Draft{Name: "gone"})
	if err != nil {
		t.Fatal(err)
	}
	tomb, err := s.Delete(ctx, added.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !tomb.Deleted() || tomb.ID != added.ID {
		t.Fatalf("Delete returned %+v, want the tombstone", tomb)
	}

	if _, err := s.Get(ctx, added.ID); !IsNotFound(err) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if _, err := s.Delete(ctx, added.ID); !IsNotFound(err) {
		t.Fatalf("second Delete err = %v", err)
	}
	list, err := s.List(ctx, Query{})
	if err != nil || len(list) != 0 {
		t.Fatalf("List = %v, %v", list, err)
	}

	raw, err := store.LoadStrict(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 1 || !raw[0].Deleted() {
		t.Fatalf("tombstone missing from store: %+v", raw)
	}
}

func TestPurgeRemovesRecord(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	keep, err := s.Add(ctx, Draft{Name: "keep"})
	if err != nil {
		t.Fatal(err)
	}
	gone, err := s.Add(ctx, Draft{Name: "gone"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete(ctx, gone.ID); err != nil {
		t.Fatal(err)
	}

	if err := s.Purge(ctx, gone.ID); err != nil {
		t.Fatalf("Purge of tombstone: %v", err)
	}
	if err := s.Purge(ctx, gone.ID); !IsNotFound(err) {
		t.Fatalf("second Purge err = %v", err)
	}
	raw, err := store.LoadStrict(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]models.Title{keep}, raw); diff != "" {
		t.Fatalf("store (-want +got):\n%s", diff)
	}
}

func TestListSearchAndSort(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t, time.Now())
	seed := []models.Title{
		{ID: "1", Name: "one piece", ReleaseDay: models.Int(0), LastUpdate: "2024-05-03T00:00:00.000Z"},
		{ID: "2", Name: "Blue Lock", ReleaseDay: models.Int(3), LastUpdate: "2024-05-01T00:00:00.000Z"},
		{ID: "3", Name: "Piece of Cake", LastUpdate: "2024-05-02T00:00:00.000Z"},
		{ID: "4", Name: "Apothecary", ReleaseDay: models.Int(0)},
	}
	if err := store.SaveStrict(ctx, seed); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		q    Query
		want []string
	}{
		{Query{}, []string{"Apothecary", "Blue Lock", "one piece", "Piece of Cake"}},
		{Query{Search: "PIECE"}, []string{"one piece", "Piece of Cake"}},
		{Query{Sort: SortByLastUpdate}, []string{"one piece", "Piece of Cake", "Blue Lock", "Apothecary"}},
		{Query{Sort: SortByReleaseDay}, []string{"Apothecary", "one piece", "Blue Lock", "Piece of Cake"}},
	}
	for _, tt := range tests {
		got, err := s.List(ctx, tt.q)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(tt.want, names(got)); diff != "" {
			t.Errorf("List(%+v) (-want +got):\n%s", tt.q, diff)
		}
	}
}

func TestUnreadableCollection(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "local.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db, database.Client); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := localstore.NewRepo(db)
	if err := repo.Put(ctx, localstore.TitlesKey, "[{broken"); err != nil {
		t.Fatal(err)
	}
	s := NewService(localstore.NewTitleStore(repo, quiet), quiet)

	list, err := s.List(ctx, Query{})
	if err != nil || len(list) != 0 {
		t.Fatalf("List = %v, %v; want empty", list, err)
	}
	st, err := s.Stats(ctx)
	if err != nil || st != (Stats{}) {
		t.Fatalf("Stats = %+v, %v; want zero", st, err)
	}
	if _, err := s.Get(ctx, "a"); !IsNotFound(err) {
		t.Fatalf("Get err = %v, want not found", err)
	}

	// writes still refuse to replace what they cannot read
	if _, err := s.Add(ctx, Draft{Name: "A"}); !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("Add err = %v, want ErrStorage", err)
	}
	raw, ok, err := repo.Get(ctx, localstore.TitlesKey)
	if err != nil || !ok || raw != "[{broken" {
		t.Fatalf("blob = %q, %v, %v; want untouched", raw, ok, err)
	}
}

func TestParseSortOrder(t *testing.T) {
	for _, o := range []SortOrder{SortByName, SortByLastUpdate, SortByReleaseDay} {
		got, err := ParseSortOrder(o.String())
		if err != nil || got != o {
			t.Fatalf("ParseSortOrder(%q) = %v, %v", o.String(), got, err)
		}
	}
	if _, err := ParseSortOrder("random"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestComputeStats(t *testing.T) {
	// Wednesday afternoon
	now := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	all := []models.Title{
		{ID: "a", Name: "a", CurrentChapter: 10, LastChapter: models.Float(10), ReleaseDay: models.Int(3), LastUpdate: "2024-04-30T10:00:00.000Z"},
		{ID: "b", Name: "b", CurrentChapter: 3, ReleaseDay: models.Int(3), LastUpdate: "2024-05-01T09:00:00.000Z"},
		{ID: "c", Name: "c", CurrentChapter: 3, ReleaseDay: models.Int(3)},
		{ID: "d", Name: "d", ReleaseDay: models.Int(6), LastUpdate: "2024-04-01T00:00:00.000Z"},
		{ID: "e", Name: "e"},
		{ID: "f", Name: "f", ReleaseDay: models.Int(3), LastUpdate: "2024-04-01T00:00:00.000Z", DeletedAt: "2024-04-02T00:00:00.000Z"},
	}
	want := Stats{Reading: 4, Completed: 1, Overdue: 1, ByDay: [7]int{0, 0, 0, 3, 0, 0, 1}}
	if diff := cmp.Diff(want, ComputeStats(all, now)); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
}

func TestTapActionResolve(t *testing.T) {
	withSite := models.Title{SiteURL: "https://example.com/x"}
	tests := []struct {
		in   string
		t    models.Title
		want TapAction
	}{
		{"", withSite, TapEdit},
		{"copy_url", withSite, TapCopyURL},
		{"OPEN_URL", withSite, TapOpenURL},
		{"open_url", models.Title{}, TapEdit},
	}
	for _, tt := range tests {
		a, err := ParseTapAction(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := a.Resolve(tt.t); got != tt.want {
			t.Errorf("Resolve(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseTapAction("share"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
