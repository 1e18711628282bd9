package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	appcfg "github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/targets"
)

func TestSanitizePath(t *testing.T) {
	cases := []struct {
		in, wantContain string
	}{
		{"https://github.com/org/repo.git", "https_github.com_org_repo.git"},
		{"git@github.com:org/repo", "git@github.com_org_repo"},
	}
	for _, c := range cases {
		got := sanitizePath(c.in)
		if !strings.Contains(got, c.wantContain) {
			t.Fatalf("sanitizePath(%q) = %q, want contain %q", c.in, got, c.wantContain)
		}
	}
}

func TestWithAuth(t *testing.T) {
	u, err := withAuth("https://github.com/org/repo.git", "git", "TOKEN")
	if err != nil {
		t.Fatalf("withAuth error: %v", err)
	}
	if !strings.HasPrefix(u, "https://git:") {
		t.Fatalf("withAuth url should include user: %s", u)
	}
	if !strings.Contains(u, "TOKEN@github.com") {
		t.Fatalf("withAuth url should contain token@host: %s", u)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("docs", appcfg.GitTargetConfig{Auth: appcfg.GitAuthConfig{Type: "ssh"}, RepoURL: "x", Branch: "main"}, t.TempDir()); err == nil {
		t.Fatalf("expected unsupported auth type error")
	}
	if _, err := New("docs", appcfg.GitTargetConfig{Auth: appcfg.GitAuthConfig{Type: "basic"}}, t.TempDir()); err == nil {
		t.Fatalf("expected error without repo url")
	}
	tg, err := New("docs", appcfg.GitTargetConfig{
		Auth:    appcfg.GitAuthConfig{Type: "basic", Username: "git", Token: "x"},
		RepoURL: "https://example.com/repo.git",
		Branch:  "main",
	}, t.TempDir())
	if err != nil {
		t.Fatalf("New git target: %v", err)
	}
	if tg.Name() != "docs" {
		t.Fatalf("Name() mismatch: %s", tg.Name())
	}
	u, _ := tg.remoteURL()
	if !strings.Contains(u, "git:x@example.com") {
		t.Fatalf("basic auth remote = %s", u)
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
		"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// newRemote creates a bare repository with one commit on main.
func newRemote(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	remote := filepath.Join(root, "remote.git")
	seed := filepath.Join(root, "seed")
	git(t, root, "init", "--bare", remote)
	git(t, root, "init", seed)
	git(t, seed, "checkout", "-b", "main")
	if err := os.WriteFile(filepath.Join(seed, "README.md"), []byte("summaries\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	git(t, seed, "add", "README.md")
	git(t, seed, "commit", "-m", "init")
	git(t, seed, "push", remote, "main")
	return remote
}

func TestPost_LocalRemote(t *testing.T) {
	if err := ensureGitAvailable(); err != nil {
		t.Skip(err)
	}
	remote := newRemote(t)
	tg, err := New("archive", appcfg.GitTargetConfig{
		RepoURL:  remote,
		Branch:   "main",
		BasePath: "summaries",
		Auth:     appcfg.GitAuthConfig{Type: "none"},
	}, t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	item := &items.WorkItem{ID: "vid1", Title: "Talk", Timestamp: "20240301"}
	res, err := tg.Post(context.Background(), targets.NewRequest(item, "# Talk\n\nsummary\n"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if res.Commit == "" || !strings.HasSuffix(res.Location, ":summaries/20240301-vid1.md") {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := git(t, remote, "show", "main:summaries/20240301-vid1.md"); !strings.Contains(got, "summary") {
		t.Fatalf("remote content = %q", got)
	}

	// republishing identical content is not an error and pushes nothing new
	again, err := tg.Post(context.Background(), targets.NewRequest(item, "# Talk\n\nsummary\n"))
	if err != nil {
		t.Fatalf("second Post: %v", err)
	}
	if again.Commit != res.Commit {
		t.Fatalf("expected unchanged head, got %s vs %s", again.Commit, res.Commit)
	}

	other := &items.WorkItem{ID: "vid2", Timestamp: "20240302"}
	if _, err := tg.Post(context.Background(), targets.NewRequest(other, "other\n")); err != nil {
		t.Fatalf("third Post: %v", err)
	}
	if got := git(t, remote, "show", "main:summaries/20240302-vid2.md"); got != "other" {
		t.Fatalf("remote content = %q", got)
	}
}
