package merge

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chaptertrack/pkg/models"
)

var (
	t1 = "2025-03-01T10:00:00.000Z"
	t2 = "2025-03-02T10:00:00.000Z"
)

func title(id, name string, chapter float64, lastUpdate string) models.Title {
	return models.Title{ID: id, Name: name, CurrentChapter: chapter, LastUpdate: lastUpdate}
}

func TestLastWriteWins(t *testing.T) {
	local := []models.Title{title("a", "Local", 3, t1)}
	remote := []models.Title{title("a", "Remote", 5, t2)}

	res := Merge(local, remote, Options{Direction: Download})

	if diff := cmp.Diff(remote, res.Titles); diff != "" {
		t.Fatalf("merged collection mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, res.Updated); diff != "" {
		t.Fatalf("Updated mismatch:\n%s", diff)
	}
}

func TestOlderIncomingLoses(t *testing.T) {
	local := []models.Title{title("a", "Local", 7, t2)}
	remote := []models.Title{title("a", "Remote", 5, t1)}

	res := Merge(local, remote, Options{Direction: Download})

	if diff := cmp.Diff(local, res.Titles); diff != "" {
		t.Fatalf("base copy should survive (-want +got):\n%s", diff)
	}
	if res.Changed() {
		t.Fatal("result should report no change")
	}
}

func TestTieKeepsBase(t *testing.T) {
	for _, dir := range []Direction{Download, Upload} {
		t.Run(dir.String(), func(t *testing.T) {
			base := []models.Title{title("a", "Base", 1, t1)}
			incoming := []models.Title{title("a", "Incoming", 2, t1)}

			res := Merge(base, incoming, Options{Direction: dir})

			if diff := cmp.Diff(base, res.Titles); diff != "" {
				t.Fatalf("tie must keep base (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMissingTimestampIsEpoch(t *testing.T) {
	base := []models.Title{title("a", "Base", 1, "")}
	incoming := []models.Title{title("a", "Incoming", 2, t1)}

	res := Merge(base, incoming, Options{Direction: Download})
	if res.Titles[0].Name != "Incoming" {
		t.Fatalf("timestamped copy should beat missing timestamp, got %q", res.Titles[0].Name)
	}

	res = Merge(incoming, []models.Title{title("a", "NoStamp", 9, "not-a-date")}, Options{Direction: Download})
	if res.Titles[0].Name != "Incoming" {
		t.Fatalf("malformed timestamp should lose, got %q", res.Titles[0].Name)
	}
}

func TestNewRecordPropagation(t *testing.T) {
	local := []models.Title{title("a", "A", 1, t1)}
	remote := []models.Title{title("a", "A", 1, t1), title("b", "B", 4, t2)}

	res := Merge(local, remote, Options{Direction: Download})

	want := []models.Title{title("a", "A", 1, t1), title("b", "B", 4, t2)}
	if diff := cmp.Diff(want, res.Titles); diff != "" {
		t.Fatalf("new record missing (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b"}, res.Added); diff != "" {
		t.Fatalf("Added mismatch:\n%s", diff)
	}
}

func TestDeletionPropagation(t *testing.T) {
	base := []models.Title{title("a", "A", 1, t1), title("gone", "Gone", 2, t1)}
	incoming := []models.Title{title("a", "A", 1, t1)}

	res := Merge(base, incoming, Options{Direction: Upload})

	for _, tt := range res.Titles {
		if tt.ID == "gone" {
			t.Fatal("record removed on incoming side must not survive")
		}
	}
	if diff := cmp.Diff([]string{"gone"}, res.Removed); diff != "" {
		t.Fatalf("Removed mismatch:\n%s", diff)
	}
}

func TestIdempotentDownload(t *testing.T) {
	local := []models.Title{
		title("a", "A local", 3, t2),
		title("b", "B local", 1, t1),
		title("c", "C only local", 1, t1),
	}
	remote := []models.Title{
		title("a", "A remote", 2, t1),
		title("b", "B remote", 5, t2),
		title("d", "D only remote", 1, t1),
	}

	first := Merge(local, remote, Options{Direction: Download})
	second := Merge(first.Titles, remote, Options{Direction: Download})

	if diff := cmp.Diff(first.Titles, second.Titles); diff != "" {
		t.Fatalf("second merge changed the collection (-first +second):\n%s", diff)
	}
	if second.Changed() {
		t.Fatalf("second merge reported changes: %+v", second)
	}
}

func TestUploadPushesLocalImageOnTie(t *testing.T) {
	local := title("a", "A", 1, t1)
	local.CoverURI = "file:///data/covers/a.jpg"
	remote := title("a", "A", 1, t1)

	res := Merge([]models.Title{remote}, []models.Title{local}, Options{Direction: Upload})

	if res.Titles[0].CoverURI != local.CoverURI {
		t.Fatalf("owning copy should win on upload, got cover %q", res.Titles[0].CoverURI)
	}
	if diff := cmp.Diff([]string{"a"}, res.PushImages); diff != "" {
		t.Fatalf("PushImages mismatch:\n%s", diff)
	}

	down := Merge([]models.Title{local}, []models.Title{remote}, Options{Direction: Download})
	if down.Titles[0].CoverURI != local.CoverURI {
		t.Fatal("image policy must not apply on download")
	}
	if len(down.PushImages) != 0 {
		t.Fatal("download never pushes images")
	}
}

func TestLastSyncAbsence(t *testing.T) {
	watermark := models.ParseTimestamp("2025-03-01T12:00:00.000Z")
	opts := Options{
		Direction: Upload,
		Absence:   AbsenceByLastSync,
		Watermark: watermark,
		Synced:    map[string]bool{"deleted-locally": true, "deleted-remotely": true, "edited-after-delete": true},
	}

	base := []models.Title{
		title("deleted-locally", "Old", 1, t1),       // synced, untouched since, missing locally
		title("new-elsewhere", "Fresh", 1, t2),       // created on another device
		title("restored-elsewhere", "Backup", 1, t1), // never synced, old timestamp
	}
	incoming := []models.Title{
		title("new-here", "Mine", 1, t2),            // created locally
		title("deleted-remotely", "Stale", 1, t1),   // synced, remote dropped it
		title("edited-after-delete", "Edit", 2, t2), // synced, edited after the last sync
		title("imported-here", "Imported", 1, t1),   // never synced, old timestamp
	}

	res := Merge(base, incoming, opts)

	got := map[string]bool{}
	for _, tt := range res.Titles {
		got[tt.ID] = true
	}
	want := map[string]bool{
		"new-elsewhere":       true,
		"restored-elsewhere":  true,
		"new-here":            true,
		"edited-after-delete": true,
		"imported-here":       true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"deleted-remotely"}, res.Dropped); diff != "" {
		t.Fatalf("Dropped mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"deleted-locally"}, res.Removed); diff != "" {
		t.Fatalf("Removed mismatch:\n%s", diff)
	}
}

func TestFirstSyncIsUnion(t *testing.T) {
	base := []models.Title{title("a", "A", 1, t1)}
	incoming := []models.Title{title("b", "B", 1, t1)}

	res := Merge(base, incoming, Options{
		Direction: Upload,
		Absence:   AbsenceByLastSync,
		Watermark: models.ParseTimestamp(t2),
	})

	if len(res.Titles) != 2 {
		t.Fatalf("first sync should keep both sides, got %d records", len(res.Titles))
	}
}

func TestTombstoneWinsByTimestamp(t *testing.T) {
	live := title("a", "A", 4, t1)
	tomb := title("a", "A", 4, t2)
	tomb.DeletedAt = t2

	res := Merge([]models.Title{live}, []models.Title{tomb}, Options{Direction: Download})

	if !res.Titles[0].Deleted() {
		t.Fatal("newer tombstone should replace the live copy")
	}
	if len(Live(res.Titles)) != 0 {
		t.Fatal("Live should hide tombstones")
	}
}

func TestDedupeKeepsNewest(t *testing.T) {
	in := []models.Title{
		title("a", "old", 1, t1),
		title("b", "B", 1, t1),
		title("a", "new", 2, t2),
		{Name: "no id"},
	}
	got := Dedupe(in)
	want := []models.Title{title("a", "new", 2, t2), title("b", "B", 1, t1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Dedupe mismatch (-want +got):\n%s", diff)
	}
}

func TestPruneTombstones(t *testing.T) {
	oldTomb := title("old", "Old", 1, t1)
	oldTomb.DeletedAt = t1
	newTomb := title("new", "New", 1, t2)
	newTomb.DeletedAt = t2
	live := title("live", "Live", 1, t1)

	cutoff := models.ParseTimestamp(t1).Add(time.Hour)
	got := PruneTombstones([]models.Title{oldTomb, newTomb, live}, cutoff)

	want := []models.Title{newTomb, live}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("PruneTombstones mismatch (-want +got):\n%s", diff)
	}
}

func TestIsLocalRef(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"", false},
		{"https://cdn.example/a.jpg", false},
		{"HTTP://cdn.example/a.jpg", false},
		{"file:///storage/a.jpg", true},
		{"/home/me/.chaptertrack/a.png", true},
		{"content://media/external/1234", true},
	}
	for _, tt := range tests {
		if got := IsLocalRef(tt.ref); got != tt.want {
			t.Errorf("IsLocalRef(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}
