package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jo-hoe/condenser/internal/artifacts"
)

// Ffmpeg extracts and splits audio with the ffmpeg CLI.
type Ffmpeg struct {
	binary string
}

func NewFfmpeg(binary string) *Ffmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Ffmpeg{binary: binary}
}

// ExtractAudio writes the audio track of src to dst as mono 16kHz PCM WAV. dst only appears once complete.
func (f *Ffmpeg) ExtractAudio(ctx context.Context, src, dst string) error {
	if src == "" || dst == "" {
		return errors.New("extract audio: source and destination required")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	tmp := tempPath(dst)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		tmp,
	}
	if _, err := run(ctx, f.binary, args...); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ffmpeg extract: %w", err)
	}
	if err := artifacts.Promote(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ffmpeg extract: %w", err)
	}
	return nil
}

// Split cuts src into consecutive chunk-length WAV segments inside dir and returns them in order.
// Segments left from an earlier run are reused.
func (f *Ffmpeg) Split(ctx context.Context, src, dir string, chunk time.Duration) ([]string, error) {
	if chunk < time.Second {
		return nil, fmt.Errorf("split audio: chunk length %s too short", chunk)
	}
	if existing, err := segments(dir); err == nil && len(existing) > 0 {
		return existing, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("split audio: %w", err)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-f", "segment",
		"-segment_time", strconv.Itoa(int(chunk.Seconds())),
		"-reset_timestamps", "1",
		"-c", "copy",
		filepath.Join(dir, "chunk_%04d.wav"),
	}
	if _, err := run(ctx, f.binary, args...); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("ffmpeg split: %w", err)
	}
	out, err := segments(dir)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg split: no segments produced")
	}
	return out, nil
}

func segments(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "chunk_*.wav"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
