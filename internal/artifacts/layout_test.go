package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jo-hoe/condenser/internal/items"
)

func sampleItem() *items.WorkItem {
	return &items.WorkItem{ID: "abc123", Source: "@chan", Title: `What: is "this"?`, Timestamp: "20240131"}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		`a/b\c:d*e?f"g<h>i|j`: "a_b_c_d_e_f_g_h_i_j",
		"  spaced   out  ":    "spaced out",
		"...":                 "untitled",
		"":                    "untitled",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPath_IsDeterministicAndStageNamed(t *testing.T) {
	l := NewLayout("/data")
	it := sampleItem()
	a := l.Path(it, KindAudio)
	b := l.Path(sampleItem(), KindAudio)
	if a != b {
		t.Fatalf("paths differ for identical identity: %q vs %q", a, b)
	}
	want := filepath.Join("/data", "@chan", "What_ is _this__-20240131-abc123", "audio_extraction", "audio.wav")
	if a != want {
		t.Fatalf("audio path = %q, want %q", a, want)
	}

	// Mutable pipeline state must not move artifacts.
	moved := sampleItem()
	moved.Stage = items.StageSummarization
	moved.Status = items.StatusFailed
	moved.ArtifactPointer = "/elsewhere"
	if l.Path(moved, KindSummary) != l.Path(it, KindSummary) {
		t.Fatalf("path depends on mutable state")
	}
	if !strings.Contains(l.Path(it, KindSummary), filepath.Join("summarization", "summary.md")) {
		t.Fatalf("summary path = %q", l.Path(it, KindSummary))
	}
}

func TestBaseName_TruncatesLongTitles(t *testing.T) {
	it := &items.WorkItem{ID: "id1", Title: strings.Repeat("ä", 300)}
	base := BaseName(it)
	if !strings.HasSuffix(base, "-unknown-id1") {
		t.Fatalf("base name = %q", base)
	}
	if n := len([]rune(strings.TrimSuffix(base, "-unknown-id1"))); n != 100 {
		t.Fatalf("title part has %d runes, want 100", n)
	}
}

func TestPromote(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, ".download-1", "media.webm")
	if err := os.MkdirAll(filepath.Dir(src), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(src, []byte("video"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := filepath.Join(dir, "item", "download", "media.mp4")
	if err := Promote(src, dst); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !Exists(dst) || Exists(src) {
		t.Fatalf("file not moved to %s", dst)
	}
	if err := Promote(src, dst); err == nil {
		t.Fatalf("promoting a missing file should fail")
	}
}

func TestWriteFileAndExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x", "transcription", "transcript.txt")
	if Exists(path) {
		t.Fatalf("missing file reported as existing")
	}
	if err := WriteFile(path, []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !Exists(path) {
		t.Fatalf("written file not found")
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
	empty := filepath.Join(dir, "empty.txt")
	_ = os.WriteFile(empty, nil, 0o600)
	if Exists(empty) {
		t.Fatalf("empty file must not count as an artifact")
	}
	if Exists(dir) {
		t.Fatalf("directory must not count as an artifact")
	}
}

func TestCleanup_KeepsSummary(t *testing.T) {
	l := NewLayout(t.TempDir())
	it := sampleItem()
	for _, k := range []Kind{KindMedia, KindAudio, KindTranscript, KindSummary} {
		if err := WriteFile(l.Path(it, k), []byte(string(k))); err != nil {
			t.Fatalf("write %s: %v", k, err)
		}
	}
	if err := WriteFile(filepath.Join(l.Path(it, KindChunks), "chunk_0000.wav"), []byte("c")); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	if removed, err := l.Cleanup(it, RetentionPolicy{}); err != nil || len(removed) != 0 {
		t.Fatalf("disabled cleanup removed %v, %v", removed, err)
	}

	removed, err := l.Cleanup(it, RetentionPolicy{CleanupIntermediate: true, KeepTranscript: true})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("removed %v, want media, audio and chunks", removed)
	}
	if Exists(l.Path(it, KindMedia)) || Exists(l.Path(it, KindAudio)) {
		t.Fatalf("intermediates still present")
	}
	if !Exists(l.Path(it, KindTranscript)) || !Exists(l.Path(it, KindSummary)) {
		t.Fatalf("transcript and summary must be kept")
	}

	if _, err := l.Cleanup(it, RetentionPolicy{CleanupIntermediate: true}); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if Exists(l.Path(it, KindTranscript)) || !Exists(l.Path(it, KindSummary)) {
		t.Fatalf("transcript should go, summary must stay")
	}
}
