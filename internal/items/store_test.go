package items

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	item := &WorkItem{
		ID:               "vid-1",
		JobID:            "job-1",
		Source:           "@channel",
		Title:            "A title",
		Timestamp:        "20240131",
		Duration:         90 * time.Second,
		Stage:            StageDiscovery,
		Status:           StatusProcessing,
		HasAltTranscript: true,
	}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := *item
	if err := store.Create(ctx, &dup); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Create should return ErrAlreadyExists, got %v", err)
	}

	ok, err := store.Update(ctx, "missing", Advance(StageDownload, StatusProcessing, ""))
	if err != nil || ok {
		t.Fatalf("Update on missing id = %v, %v; want false, nil", ok, err)
	}

	ok, err = store.Update(ctx, item.ID, Advance(StageDownload, StatusProcessing, "/a/media.mp4"))
	if err != nil || !ok {
		t.Fatalf("Update advance = %v, %v", ok, err)
	}
	ok, err = store.Update(ctx, item.ID, Advance(StageDiscovery, StatusProcessing, ""))
	if !ok || !errors.Is(err, ErrStageRegression) {
		t.Fatalf("regressing Update = %v, %v; want true, ErrStageRegression", ok, err)
	}

	got, err := store.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != StageDownload || got.Status != StatusProcessing || got.ArtifactPointer != "/a/media.mp4" {
		t.Fatalf("unexpected item: %+v", got)
	}
	if got.Duration != 90*time.Second || !got.HasAltTranscript || got.Timestamp != "20240131" || got.Source != "@channel" {
		t.Fatalf("identity fields not persisted: %+v", got)
	}

	if _, err := store.Update(ctx, item.ID, Fail(StageDownload, "download failed")); err != nil {
		t.Fatalf("Update fail: %v", err)
	}
	got, _ = store.Get(ctx, item.ID)
	if got.Status != StatusFailed || got.Error != "download failed" || got.ArtifactPointer != "/a/media.mp4" {
		t.Fatalf("fail update mismatch: %+v", got)
	}

	// A late handoff commit must not revive a FAILED item; only a reset does.
	ok, err = store.Update(ctx, item.ID, Advance(StageAudioExtraction, StatusProcessing, "/a/audio.wav"))
	if !ok || !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("Update on FAILED item = %v, %v; want true, ErrTerminalStatus", ok, err)
	}
	if got, _ = store.Get(ctx, item.ID); got.Status != StatusFailed || got.Stage != StageDownload {
		t.Fatalf("terminal status overwritten: %+v", got)
	}
	if _, err := store.Update(ctx, item.ID, Reset(StageDownload)); err != nil {
		t.Fatalf("Update reset: %v", err)
	}
	if got, _ = store.Get(ctx, item.ID); got.Status != StatusProcessing || got.Error != "" {
		t.Fatalf("reset mismatch: %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing should be ErrNotFound, got %v", err)
	}

	if err := store.Create(ctx, &WorkItem{ID: "vid-2", JobID: "job-1", Stage: StageDiscovery}); err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if err := store.Create(ctx, &WorkItem{ID: "vid-3", JobID: "job-2", Stage: StageDiscovery}); err != nil {
		t.Fatalf("Create other job: %v", err)
	}
	list, err := store.ListByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByJob returned %d items, want 2", len(list))
	}
	if list[1].Status != StatusProcessing {
		t.Fatalf("default status should be PROCESSING, got %q", list[1].Status)
	}
}

func TestSQLiteStore_Contract(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "items.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStore_ReopenKeepsItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Create(ctx, &WorkItem{ID: "x", JobID: "j", Stage: StageDiscovery}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, "x"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestTimeoutStore_Contract(t *testing.T) {
	exerciseStore(t, WithTimeout(NewMemoryStore(), time.Second))
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("CONDENSER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONDENSER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer store.Close()
	if _, err := store.pool.Exec(ctx, `TRUNCATE work_items`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseStore(t, store)
}
