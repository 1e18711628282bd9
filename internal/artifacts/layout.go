// Package artifacts maps WorkItems to a deterministic on-disk layout so every stage can find its input and
// detect already produced output.
package artifacts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/items"
)

// Kind names one artifact of an item.
type Kind string

const (
	KindMedia      Kind = "media"
	KindCaptions   Kind = "captions"
	KindAudio      Kind = "audio"
	KindChunks     Kind = "chunks"
	KindTranscript Kind = "transcript"
	KindSummary    Kind = "summary"
)

type location struct {
	dir  string
	file string
}

// Artifacts live under the directory of the stage that produces them.
var locations = map[Kind]location{
	KindMedia:      {dir: "download", file: "media.mp4"},
	KindCaptions:   {dir: "download", file: "captions.vtt"},
	KindAudio:      {dir: "audio_extraction", file: "audio.wav"},
	KindChunks:     {dir: "transcription", file: "chunks"},
	KindTranscript: {dir: "transcription", file: "transcript.txt"},
	KindSummary:    {dir: "summarization", file: "summary.md"},
}

// Layout computes artifact paths below Root.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

var reUnsafe = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// Sanitize makes s safe to use as a single path element.
func Sanitize(s string) string {
	s = reUnsafe.ReplaceAllString(s, "_")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " .")
	if s == "" {
		return "untitled"
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimRight(string(r[:n]), " .")
}

// BaseName is the stable directory name of an item: title, upload date and external id.
func BaseName(it *items.WorkItem) string {
	ts := it.Timestamp
	if ts == "" {
		ts = "unknown"
	}
	title := truncateRunes(Sanitize(it.Title), common.MaxTitleLength)
	return fmt.Sprintf("%s-%s-%s", title, Sanitize(ts), Sanitize(it.ID))
}

// ItemDir returns the directory holding every artifact of it.
func (l Layout) ItemDir(it *items.WorkItem) string {
	source := it.Source
	if source == "" {
		source = "default"
	}
	return filepath.Join(l.Root, Sanitize(source), BaseName(it))
}

// Path returns where the artifact of the given kind lives. It only depends on identity fields of it.
func (l Layout) Path(it *items.WorkItem, kind Kind) string {
	loc, ok := locations[kind]
	if !ok {
		loc = location{dir: "misc", file: string(kind)}
	}
	return filepath.Join(l.ItemDir(it), loc.dir, loc.file)
}

// Exists reports whether path is a non-empty regular file.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// WriteFile writes data next to path and renames it into place, so readers never see a partial artifact.
func WriteFile(path string, data []byte) error {
	return WriteFrom(path, bytes.NewReader(data))
}

// WriteFrom streams r into path atomically.
func WriteFrom(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ensure artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// Promote moves a finished file produced by an external tool to its final artifact path.
func Promote(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("ensure artifact dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("promote artifact: %w", err)
	}
	return nil
}

// RetentionPolicy decides which artifacts survive terminal success. The summary always survives.
type RetentionPolicy struct {
	CleanupIntermediate bool
	KeepTranscript      bool
}

// Cleanup removes intermediate artifacts of a finished item and returns the removed paths.
func (l Layout) Cleanup(it *items.WorkItem, p RetentionPolicy) ([]string, error) {
	if !p.CleanupIntermediate {
		return nil, nil
	}
	kinds := []Kind{KindMedia, KindCaptions, KindAudio, KindChunks}
	if !p.KeepTranscript {
		kinds = append(kinds, KindTranscript)
	}
	var removed []string
	var errs []error
	for _, k := range kinds {
		path := l.Path(it, k)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", k, err))
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
