package stages

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/events"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/stage"
	"github.com/jo-hoe/condenser/internal/targets"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0o600)
}

type fakeDownloader struct {
	captionsErr error
	mediaErr    error

	mediaCalls      atomic.Int32
	transcriptCalls atomic.Int32
}

func (f *fakeDownloader) DownloadMedia(ctx context.Context, id, dst string) error {
	f.mediaCalls.Add(1)
	if f.mediaErr != nil {
		return f.mediaErr
	}
	return writeFile(dst, "media of "+id)
}

func (f *fakeDownloader) DownloadTranscript(ctx context.Context, id, dst string) error {
	f.transcriptCalls.Add(1)
	if f.captionsErr != nil {
		return f.captionsErr
	}
	return writeFile(dst, "caption words of "+id+"\n")
}

type fakeExtractor struct {
	calls atomic.Int32
}

func (f *fakeExtractor) ExtractAudio(ctx context.Context, src, dst string) error {
	f.calls.Add(1)
	if !artifacts.Exists(src) {
		return errors.New("source missing")
	}
	return writeFile(dst, "RIFF audio")
}

type fakeTranscriber struct {
	err   error
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, chunkDir string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "spoken words [unintelligible] more words", nil
}

type fakeSummarizer struct {
	err   error
	calls atomic.Int32
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "- condensed: " + text, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	items []string
	docs  []string
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, item *items.WorkItem, markdown string) ([]targets.TargetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item.ID)
	f.docs = append(f.docs, markdown)
	if f.err != nil {
		return nil, f.err
	}
	return []targets.TargetResult{{TargetName: "fake", Location: "mem:" + item.ID}}, nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.items...)
}

// fakeFetcher serves a fixed listing and counts detail lookups per id.
type fakeFetcher struct {
	mu      sync.Mutex
	list    []stage.Candidate
	details map[string]*stage.Details
	fetched map[string]int
}

func newFetcher(ds ...*stage.Details) *fakeFetcher {
	f := &fakeFetcher{details: map[string]*stage.Details{}, fetched: map[string]int{}}
	for _, d := range ds {
		f.list = append(f.list, stage.Candidate{ID: d.ID, Title: d.Title})
		f.details[d.ID] = d
	}
	return f
}

func (f *fakeFetcher) ListCandidates(ctx context.Context, source string) ([]stage.Candidate, error) {
	return f.list, nil
}

func (f *fakeFetcher) FetchDetails(ctx context.Context, id string) (*stage.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched[id]++
	d, ok := f.details[id]
	if !ok {
		return nil, errors.New("unknown id")
	}
	cp := *d
	return &cp, nil
}

func (f *fakeFetcher) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[id]
}

func video(id string, captions bool) *stage.Details {
	return &stage.Details{ID: id, Title: "Video " + id, Timestamp: "20240301", Duration: 5 * time.Minute, HasAltTranscript: captions}
}

// recorder is an event channel keeping every event type it receives.
type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}

func newItem(id string, captions bool) *items.WorkItem {
	return &items.WorkItem{
		ID:               id,
		JobID:            "job",
		Source:           "@chan",
		Title:            "Video " + id,
		Timestamp:        "20240301",
		Duration:         5 * time.Minute,
		Stage:            items.StageDownload,
		Status:           items.StatusProcessing,
		HasAltTranscript: captions,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
