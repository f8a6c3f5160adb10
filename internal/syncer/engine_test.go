package syncer

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/identity"
	"chaptertrack/internal/merge"
	"chaptertrack/pkg/models"
)

type memLocal struct {
	mu     sync.Mutex
	titles []models.Title
	err    error
}

func (m *memLocal) LoadStrict(ctx context.Context) ([]models.Title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]models.Title(nil), m.titles...), nil
}

func (m *memLocal) Update(ctx context.Context, fn func([]models.Title) ([]models.Title, error)) error {
	cur, err := m.LoadStrict(ctx)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.titles = next
	m.mu.Unlock()
	return nil
}

type memRemote struct {
	mu      sync.Mutex
	titles  []models.Title
	loads   atomic.Int32
	saves   atomic.Int32
	saveErr error
	gate    chan struct{} // when set, Load waits on it
}

func (m *memRemote) Load(ctx context.Context, id identity.Identity) (models.TitlesDocument, error) {
	m.loads.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.TitlesDocument{Titles: append([]models.Title(nil), m.titles...), UserID: id.UserID}, nil
}

func (m *memRemote) Save(ctx context.Context, id identity.Identity, titles []models.Title) (models.TitlesDocument, error) {
	if m.saveErr != nil {
		return models.TitlesDocument{}, m.saveErr
	}
	m.saves.Add(1)
	m.mu.Lock()
	m.titles = append([]models.Title(nil), titles...)
	m.mu.Unlock()
	return models.TitlesDocument{Titles: titles, UserID: id.UserID}, nil
}

type memMarks struct {
	at     time.Time
	synced []string
}

func (m *memMarks) LastSync(context.Context) (time.Time, error) { return m.at, nil }

func (m *memMarks) SetLastSync(_ context.Context, t time.Time) error {
	m.at = t
	return nil
}

func (m *memMarks) SyncedIDs(context.Context) ([]string, error) { return m.synced, nil }

func (m *memMarks) SetSyncedIDs(_ context.Context, ids []string) error {
	m.synced = ids
	return nil
}

type fakeUploader struct {
	calls []string
	err   error
}

func (f *fakeUploader) UploadCover(_ context.Context, _ identity.Identity, path string) (string, error) {
	f.calls = append(f.calls, path)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/" + path, nil
}

var (
	me  = identity.Identity{UserID: "u1", Token: "tok"}
	day = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func ts(t time.Time) string { return models.FormatTimestamp(t) }

type rig struct {
	local  *memLocal
	remote *memRemote
	marks  *memMarks
	up     *fakeUploader
	engine *Engine
	now    time.Time
}

func newRig(local, remote []models.Title) *rig {
	r := &rig{
		local:  &memLocal{titles: local},
		remote: &memRemote{titles: remote},
		marks:  &memMarks{},
		up:     &fakeUploader{},
		now:    day,
	}
	r.engine = NewEngine(r.local, r.remote, r.up, r.marks, log.New(io.Discard, "", 0))
	r.engine.Now = func() time.Time { return r.now }
	return r
}

func ids(titles []models.Title) []string {
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		out = append(out, t.ID)
	}
	return out
}

func TestSyncRequiresIdentity(t *testing.T) {
	r := newRig(nil, nil)
	_, err := r.engine.Sync(context.Background(), identity.Identity{})
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("err = %v", err)
	}
	if r.remote.loads.Load() != 0 {
		t.Fatal("remote touched without identity")
	}
}

func TestFirstSyncIsUnion(t *testing.T) {
	r := newRig(
		[]models.Title{{ID: "a", Name: "A", LastUpdate: ts(day.Add(-48 * time.Hour))}},
		[]models.Title{{ID: "b", Name: "B", LastUpdate: ts(day.Add(-72 * time.Hour))}},
	)

	res, err := r.engine.Sync(context.Background(), me)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a"}, ids(r.remote.titles)); diff != "" {
		t.Fatalf("remote ids (-want +got):\n%s", diff)
	}
	// local keeps its own order, new records go last
	if diff := cmp.Diff([]string{"a", "b"}, ids(r.local.titles)); diff != "" {
		t.Fatalf("local ids (-want +got):\n%s", diff)
	}
	if !r.marks.at.Equal(day) || !res.SyncedAt.Equal(day) {
		t.Fatalf("watermark = %v", r.marks.at)
	}
}

func TestLastWriteWinsBothWays(t *testing.T) {
	older, newer := ts(day.Add(-2*time.Hour)), ts(day.Add(-time.Hour))
	r := newRig(
		[]models.Title{
			{ID: "a", Name: "A", CurrentChapter: 5, LastUpdate: newer},
			{ID: "b", Name: "B", CurrentChapter: 1, LastUpdate: older},
		},
		[]models.Title{
			{ID: "a", Name: "A", CurrentChapter: 4, LastUpdate: older},
			{ID: "b", Name: "B", CurrentChapter: 9, LastUpdate: newer},
		},
	)
	r.marks.at = day.Add(-24 * time.Hour)

	if _, err := r.engine.Sync(context.Background(), me); err != nil {
		t.Fatal(err)
	}
	want := []models.Title{
		{ID: "a", Name: "A", CurrentChapter: 5, LastUpdate: newer},
		{ID: "b", Name: "B", CurrentChapter: 9, LastUpdate: newer},
	}
	if diff := cmp.Diff(want, r.local.titles); diff != "" {
		t.Fatalf("local (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, r.remote.titles); diff != "" {
		t.Fatalf("remote (-want +got):\n%s", diff)
	}
}

func TestSecondSyncWritesNothing(t *testing.T) {
	r := newRig([]models.Title{{ID: "a", Name: "A", LastUpdate: ts(day.Add(-time.Hour))}}, nil)
	ctx := context.Background()

	if _, err := r.engine.Sync(ctx, me); err != nil {
		t.Fatal(err)
	}
	saves := r.remote.saves.Load()
	before := append([]models.Title(nil), r.local.titles...)

	r.now = day.Add(time.Minute)
	res, err := r.engine.Sync(ctx, me)
	if err != nil {
		t.Fatal(err)
	}
	if r.remote.saves.Load() != saves {
		t.Fatal("idempotent sync wrote the remote copy")
	}
	if res.Download.Changed() || res.Upload.Changed() {
		t.Fatalf("second sync changed something: %+v", res)
	}
	if diff := cmp.Diff(before, r.local.titles); diff != "" {
		t.Fatalf("local changed (-want +got):\n%s", diff)
	}
}

func TestHardDeleteOfSyncedRecordPropagates(t *testing.T) {
	synced := ts(day.Add(-48 * time.Hour))
	r := newRig(
		[]models.Title{
			{ID: "a", Name: "A", LastUpdate: synced},
			{ID: "fresh", Name: "Fresh", LastUpdate: ts(day.Add(-time.Hour))},
		},
		nil, // "a" was removed from the cloud by another device
	)
	r.marks.at = day.Add(-24 * time.Hour)
	r.marks.synced = []string{"a"}

	res, err := r.engine.Sync(context.Background(), me)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"fresh"}, ids(r.local.titles)); diff != "" {
		t.Fatalf("local (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"fresh"}, ids(r.remote.titles)); diff != "" {
		t.Fatalf("remote (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, res.Upload.Dropped); diff != "" {
		t.Fatalf("dropped (-want +got):\n%s", diff)
	}
}

func TestOldRecordAddedAfterSyncSurvives(t *testing.T) {
	ctx := context.Background()
	r := newRig([]models.Title{{ID: "a", Name: "A", LastUpdate: ts(day.Add(-time.Hour))}}, nil)
	if _, err := r.engine.Sync(ctx, me); err != nil {
		t.Fatal(err)
	}

	// a backup entry restored with its original, older timestamp
	r.local.titles = append(r.local.titles, models.Title{ID: "b", Name: "B", LastUpdate: ts(day.Add(-30 * 24 * time.Hour))})
	r.now = day.Add(time.Hour)
	if _, err := r.engine.Sync(ctx, me); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(r.local.titles)); diff != "" {
		t.Fatalf("local (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(r.remote.titles)); diff != "" {
		t.Fatalf("remote (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, r.marks.synced); diff != "" {
		t.Fatalf("synced ids (-want +got):\n%s", diff)
	}
}

func TestLateUploadFromOtherDeviceIsKept(t *testing.T) {
	ctx := context.Background()
	r := newRig([]models.Title{{ID: "a", Name: "A", LastUpdate: ts(day.Add(-time.Hour))}}, nil)
	if _, err := r.engine.Sync(ctx, me); err != nil {
		t.Fatal(err)
	}

	// created offline elsewhere before our last sync, uploaded only now
	r.remote.titles = append(r.remote.titles, models.Title{ID: "c", Name: "C", LastUpdate: ts(day.Add(-30 * time.Minute))})
	r.now = day.Add(time.Hour)
	if _, err := r.engine.Sync(ctx, me); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "c"}, ids(r.remote.titles)); diff != "" {
		t.Fatalf("remote (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "c"}, ids(r.local.titles)); diff != "" {
		t.Fatalf("local (-want +got):\n%s", diff)
	}
}

func TestTombstonePropagatesAndIsHidden(t *testing.T) {
	r := newRig(
		[]models.Title{{ID: "a", Name: "A", LastUpdate: ts(day.Add(-time.Hour)), DeletedAt: ts(day.Add(-time.Hour))}},
		[]models.Title{{ID: "a", Name: "A", LastUpdate: ts(day.Add(-5 * time.Hour))}},
	)
	r.marks.at = day.Add(-24 * time.Hour)

	if _, err := r.engine.Sync(context.Background(), me); err != nil {
		t.Fatal(err)
	}
	if len(r.remote.titles) != 1 || !r.remote.titles[0].Deleted() {
		t.Fatalf("remote = %+v, want tombstone", r.remote.titles)
	}
	if live := merge.Live(r.local.titles); len(live) != 0 {
		t.Fatalf("live local = %+v", live)
	}
}

func TestOldTombstonesArePruned(t *testing.T) {
	old := ts(day.Add(-60 * 24 * time.Hour))
	r := newRig(
		[]models.Title{{ID: "a", Name: "A", LastUpdate: old, DeletedAt: old}},
		[]models.Title{{ID: "a", Name: "A", LastUpdate: old, DeletedAt: old}},
	)
	r.marks.at = day.Add(-24 * time.Hour)

	res, err := r.engine.Sync(context.Background(), me)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.local.titles) != 0 || len(r.remote.titles) != 0 {
		t.Fatalf("tombstone survived: local=%v remote=%v", r.local.titles, r.remote.titles)
	}
	if res.Pruned != 1 {
		t.Fatalf("Pruned = %d", res.Pruned)
	}
}

func TestRemoteFailureLeavesStoresUntouched(t *testing.T) {
	local := []models.Title{{ID: "a", Name: "A", LastUpdate: ts(day)}}
	r := newRig(local, nil)
	r.remote.saveErr = apperr.Network("put", errors.New("connection reset"))

	_, err := r.engine.Sync(context.Background(), me)
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("err = %v", err)
	}
	if diff := cmp.Diff(local, r.local.titles); diff != "" {
		t.Fatalf("local changed (-want +got):\n%s", diff)
	}
	if !r.marks.at.IsZero() {
		t.Fatal("watermark advanced after a failed sync")
	}
}

func TestLocalFailureAbortsBeforeRemoteWrite(t *testing.T) {
	r := newRig(nil, []models.Title{{ID: "b", Name: "B"}})
	r.local.err = apperr.Storage("read", errors.New("disk gone"))

	_, err := r.engine.Sync(context.Background(), me)
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("err = %v", err)
	}
	if r.remote.saves.Load() != 0 {
		t.Fatal("remote written after local failure")
	}
}

func TestLocalImagesArePushed(t *testing.T) {
	r := newRig(
		[]models.Title{{ID: "a", Name: "A", CoverURI: "/photos/a.png", ThumbnailURI: "/photos/a.png", LastUpdate: ts(day)}},
		nil,
	)

	res, err := r.engine.Sync(context.Background(), me)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"/photos/a.png"}, r.up.calls); diff != "" {
		t.Fatalf("uploads (-want +got):\n%s", diff)
	}
	if res.CoversUploaded != 1 {
		t.Fatalf("CoversUploaded = %d", res.CoversUploaded)
	}
	if got := r.remote.titles[0]; got.CoverURI != "https://cdn.test//photos/a.png" || got.ThumbnailURI != got.CoverURI {
		t.Fatalf("remote refs = %q %q", got.CoverURI, got.ThumbnailURI)
	}
	if r.local.titles[0].CoverURI != "/photos/a.png" {
		t.Fatalf("local ref rewritten: %q", r.local.titles[0].CoverURI)
	}

	r.now = day.Add(time.Minute)
	if _, err := r.engine.Sync(context.Background(), me); err != nil {
		t.Fatal(err)
	}
	if len(r.up.calls) != 1 {
		t.Fatalf("image uploaded again: %v", r.up.calls)
	}
}

func TestUploadFailureAborts(t *testing.T) {
	r := newRig([]models.Title{{ID: "a", Name: "A", CoverURI: "/p.png", LastUpdate: ts(day)}}, nil)
	r.up.err = apperr.Network("upload", errors.New("timeout"))

	if _, err := r.engine.Sync(context.Background(), me); !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("err = %v", err)
	}
	if r.remote.saves.Load() != 0 {
		t.Fatal("remote written after failed upload")
	}
}

func TestConcurrentSyncsAreCoalesced(t *testing.T) {
	r := newRig([]models.Title{{ID: "a", Name: "A", LastUpdate: ts(day)}}, nil)
	r.remote.gate = make(chan struct{})

	const callers = 4
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.engine.Sync(context.Background(), me)
		}(i)
	}

	// wait until the leader is parked in Load, then give joiners time
	for r.remote.loads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(r.remote.gate)
	wg.Wait()

	shared := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Shared {
			shared++
		}
	}
	if shared != callers {
		t.Fatalf("shared = %d, want %d", shared, callers)
	}
	// one run: one load per direction
	if n := r.remote.loads.Load(); n != 2 {
		t.Fatalf("remote loads = %d, want 2", n)
	}
}
