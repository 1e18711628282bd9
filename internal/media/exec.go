// Package media wraps the external media tools: yt-dlp for listing and downloading, ffmpeg for audio.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

var commandContext = exec.CommandContext

const stderrSnippetLimit = 600

// run executes name with args and returns stdout. Errors carry the tail of stderr.
func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := commandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrSnippetLimit {
			msg = "..." + msg[len(msg)-stderrSnippetLimit:]
		}
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return stdout.Bytes(), nil
}

// tempPath returns a sibling of dst with the same extension, so tools that infer the format keep working.
func tempPath(dst string) string {
	return filepath.Join(filepath.Dir(dst), ".tmp-"+filepath.Base(dst))
}

// firstMatch returns the lexically first non-empty file matching pattern.
func firstMatch(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") {
			continue
		}
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() && fi.Size() > 0 {
			return m, nil
		}
	}
	return "", errors.New("no output produced")
}
