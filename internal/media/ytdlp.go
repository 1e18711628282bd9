package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/stage"
)

// ErrNoCaptions is returned by DownloadTranscript when the item has no captions in the configured language.
var ErrNoCaptions = errors.New("no captions available")

var _ stage.MetadataFetcher = (*YtDlp)(nil)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// YtDlp lists channel uploads and downloads media or captions through the yt-dlp CLI.
type YtDlp struct {
	log     *slog.Logger
	binary  string
	lang    string
	cookies string
}

type YtDlpOption func(*YtDlp)

func WithCaptionLanguage(lang string) YtDlpOption {
	return func(y *YtDlp) {
		if lang != "" {
			y.lang = lang
		}
	}
}

func WithCookiesFile(path string) YtDlpOption {
	return func(y *YtDlp) { y.cookies = path }
}

func NewYtDlp(log *slog.Logger, binary string, opts ...YtDlpOption) *YtDlp {
	if log == nil {
		log = slog.Default()
	}
	if binary == "" {
		binary = "yt-dlp"
	}
	y := &YtDlp{log: log, binary: binary, lang: "en"}
	for _, o := range opts {
		o(y)
	}
	return y
}

// SourceURL turns a source identifier into the URL of its upload list. Full URLs pass through unchanged,
// "@handle" names a channel handle and anything else is treated as a channel id.
func SourceURL(source string) string {
	source = strings.TrimSpace(source)
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return source
	case strings.HasPrefix(source, "@"):
		return "https://www.youtube.com/" + source + "/videos"
	default:
		return "https://www.youtube.com/channel/" + source + "/videos"
	}
}

// ItemURL is the canonical watch URL for an item id.
func ItemURL(id string) string {
	return watchURLPrefix + id
}

type playlistInfo struct {
	Entries []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"entries"`
}

type itemInfo struct {
	ID                string                     `json:"id"`
	Title             string                     `json:"title"`
	UploadDate        string                     `json:"upload_date"`
	Timestamp         int64                      `json:"timestamp"`
	Duration          float64                    `json:"duration"`
	Subtitles         map[string]json.RawMessage `json:"subtitles"`
	AutomaticCaptions map[string]json.RawMessage `json:"automatic_captions"`
}

func (y *YtDlp) baseArgs() []string {
	args := []string{"--no-warnings", "--no-progress"}
	if y.cookies != "" {
		args = append(args, "--cookies", y.cookies)
	}
	return args
}

// ListCandidates returns the source's uploads, newest first, without resolving each entry.
func (y *YtDlp) ListCandidates(ctx context.Context, source string) ([]stage.Candidate, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("source identifier required")
	}
	args := append(y.baseArgs(), "--flat-playlist", "-J", SourceURL(source))
	out, err := run(ctx, y.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", source, err)
	}
	var info playlistInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("list %s: decode: %w", source, err)
	}
	cands := make([]stage.Candidate, 0, len(info.Entries))
	for _, e := range info.Entries {
		if e.ID == "" {
			continue
		}
		cands = append(cands, stage.Candidate{ID: e.ID, Title: e.Title})
	}
	return cands, nil
}

func (y *YtDlp) FetchDetails(ctx context.Context, id string) (*stage.Details, error) {
	args := append(y.baseArgs(), "-J", "--skip-download", ItemURL(id))
	out, err := run(ctx, y.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("details %s: %w", id, err)
	}
	var info itemInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("details %s: decode: %w", id, err)
	}
	d := &stage.Details{
		ID:               info.ID,
		Title:            info.Title,
		Duration:         time.Duration(info.Duration * float64(time.Second)),
		HasAltTranscript: hasLanguage(info.Subtitles, y.lang) || hasLanguage(info.AutomaticCaptions, y.lang),
	}
	if d.ID == "" {
		d.ID = id
	}
	switch {
	case info.UploadDate != "":
		d.Timestamp = info.UploadDate
	case info.Timestamp > 0:
		d.Timestamp = time.Unix(info.Timestamp, 0).UTC().Format("20060102")
	}
	return d, nil
}

// hasLanguage matches lang exactly or as a regional variant ("en" matches "en-US").
func hasLanguage(tracks map[string]json.RawMessage, lang string) bool {
	for k := range tracks {
		if k == lang || strings.HasPrefix(k, lang+"-") {
			return true
		}
	}
	return false
}

// DownloadMedia downloads the best available audio/video of id into dst.
func (y *YtDlp) DownloadMedia(ctx context.Context, id, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	work, err := os.MkdirTemp(dir, ".download-")
	if err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	args := append(y.baseArgs(),
		"-f", "bv*+ba/b",
		"--merge-output-format", "mp4",
		"-o", filepath.Join(work, "media.%(ext)s"),
		ItemURL(id),
	)
	if _, err := run(ctx, y.binary, args...); err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	produced, err := firstMatch(filepath.Join(work, "media.*"))
	if err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	if err := artifacts.Promote(produced, dst); err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	y.log.Debug("media downloaded", "id", id, "path", dst)
	return nil
}

// DownloadTranscript fetches creator or automatic captions for id and writes their plain text to dst.
// It returns ErrNoCaptions when nothing usable exists.
func (y *YtDlp) DownloadTranscript(ctx context.Context, id, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("captions %s: %w", id, err)
	}
	work, err := os.MkdirTemp(dir, ".captions-")
	if err != nil {
		return fmt.Errorf("captions %s: %w", id, err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	args := append(y.baseArgs(),
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", y.lang+".*,"+y.lang,
		"--sub-format", "vtt",
		"-o", filepath.Join(work, "captions.%(ext)s"),
		ItemURL(id),
	)
	if _, err := run(ctx, y.binary, args...); err != nil {
		return fmt.Errorf("captions %s: %w", id, err)
	}
	vtt, err := firstMatch(filepath.Join(work, "*.vtt"))
	if err != nil {
		return fmt.Errorf("captions %s: %w", id, ErrNoCaptions)
	}
	f, err := os.Open(vtt) //nolint:gosec
	if err != nil {
		return fmt.Errorf("captions %s: %w", id, err)
	}
	text, err := VTTToText(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("captions %s: %w", id, err)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("captions %s: %w", id, ErrNoCaptions)
	}
	if err := artifacts.WriteFile(dst, []byte(text+"\n")); err != nil {
		return fmt.Errorf("captions %s: %w", id, err)
	}
	return nil
}
