package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jo-hoe/condenser/internal/common"
	appcfg "github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/targets"
)

// Target commits summaries to a git repository using the git CLI against a cached clone.
type Target struct {
	name      string
	cfg       appcfg.GitTargetConfig
	cacheRoot string // base dir for cached clones

	// the cached clone is a shared working tree
	mu sync.Mutex
}

var _ targets.Target = (*Target)(nil)

// New creates a Git Target.
// cacheRoot is the directory where clones will be cached (e.g., data/repos).
func New(name string, cfg appcfg.GitTargetConfig, cacheRoot string) (*Target, error) {
	switch strings.ToLower(cfg.Auth.Type) {
	case "basic", "none":
	default:
		return nil, fmt.Errorf("git auth type %q not supported", cfg.Auth.Type)
	}
	if strings.TrimSpace(cfg.RepoURL) == "" || strings.TrimSpace(cfg.Branch) == "" {
		return nil, fmt.Errorf("repo url and branch must not be empty")
	}
	if cfg.CloneCacheDir != "" {
		cacheRoot = cfg.CloneCacheDir
	}
	if cacheRoot == "" {
		return nil, fmt.Errorf("cacheRoot must not be empty")
	}
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache root: %w", err)
	}
	return &Target{
		name:      name,
		cfg:       cfg,
		cacheRoot: cacheRoot,
	}, nil
}

func (t *Target) Name() string { return t.name }

func (t *Target) Post(ctx context.Context, req targets.TargetRequest) (targets.TargetResult, error) {
	if err := ensureGitAvailable(); err != nil {
		return targets.TargetResult{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	repoDir := t.repoCacheDir()
	if _, statErr := os.Stat(repoDir); os.IsNotExist(statErr) {
		if err := t.cloneRepo(ctx, repoDir); err != nil {
			return targets.TargetResult{}, err
		}
	} else {
		if err := t.syncRepo(ctx, repoDir); err != nil {
			return targets.TargetResult{}, err
		}
	}

	filename, err := targets.ObjectPath(t.cfg.BasePath, t.cfg.FilenameTemplate, req)
	if err != nil {
		return targets.TargetResult{}, err
	}
	fullPath := filepath.Join(repoDir, filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return targets.TargetResult{}, fmt.Errorf("ensure dir: %w", err)
	}
	if err := os.WriteFile(fullPath, []byte(req.Markdown), 0o644); err != nil {
		return targets.TargetResult{}, fmt.Errorf("write file: %w", err)
	}

	if err := runGit(ctx, repoDir, "add", "--", filepath.FromSlash(filename)); err != nil {
		return targets.TargetResult{}, fmt.Errorf("git add: %w", err)
	}

	commitMsg, err := targets.CommitMessage(t.cfg.CommitMessageTemplate, req)
	if err != nil {
		return targets.TargetResult{}, err
	}
	pushNeeded := true
	commitErr := runGit(ctx, repoDir, "-c", "user.name="+t.authorName(), "-c", "user.email="+t.authorEmail(), "commit", "-m", commitMsg)
	if commitErr != nil {
		if !isNothingToCommit(commitErr) {
			return targets.TargetResult{}, fmt.Errorf("git commit: %w", commitErr)
		}
		// identical summary already published
		pushNeeded = false
	}

	hashOut := &bytes.Buffer{}
	if err := runGitWithOutput(ctx, repoDir, hashOut, nil, "rev-parse", "HEAD"); err != nil {
		return targets.TargetResult{}, fmt.Errorf("git rev-parse: %w", err)
	}
	commitHash := strings.TrimSpace(hashOut.String())

	if pushNeeded {
		if err := t.pushRepo(ctx, repoDir); err != nil {
			return targets.TargetResult{}, err
		}
	}

	loc := fmt.Sprintf("git:%s@%s:%s", t.cfg.RepoURL, t.cfg.Branch, filename)
	return targets.TargetResult{
		TargetName: t.name,
		Location:   loc,
		Commit:     commitHash,
	}, nil
}

func (t *Target) authorName() string {
	if t.cfg.AuthorName != "" {
		return t.cfg.AuthorName
	}
	return "condenser"
}

func (t *Target) authorEmail() string {
	if t.cfg.AuthorEmail != "" {
		return t.cfg.AuthorEmail
	}
	return "condenser@localhost"
}

// remoteURL returns the URL carrying credentials; it is never written to .git/config.
func (t *Target) remoteURL() (string, error) {
	if strings.EqualFold(t.cfg.Auth.Type, "none") {
		return t.cfg.RepoURL, nil
	}
	return withAuth(t.cfg.RepoURL, t.cfg.Auth.Username, t.cfg.Auth.Token)
}

func (t *Target) cloneRepo(ctx context.Context, repoDir string) error {
	authURL, err := t.remoteURL()
	if err != nil {
		return fmt.Errorf("auth url: %w", err)
	}
	if err := runGit(ctx, "", "clone", "--branch", t.cfg.Branch, "--single-branch", "--depth", "1", authURL, repoDir); err != nil {
		_ = os.RemoveAll(repoDir)
		return fmt.Errorf("git clone: %w", err)
	}
	if err := runGit(ctx, repoDir, "remote", "set-url", common.GitRemoteName, t.cfg.RepoURL); err != nil {
		return fmt.Errorf("git remote set-url: %w", err)
	}
	return nil
}

func (t *Target) syncRepo(ctx context.Context, repoDir string) error {
	branch := t.cfg.Branch
	if err := runGit(ctx, repoDir, "checkout", branch); err != nil {
		_ = runGit(ctx, repoDir, "fetch", common.GitRemoteName)
		if err2 := runGit(ctx, repoDir, "checkout", "-b", branch, "--track", fmt.Sprintf("%s/%s", common.GitRemoteName, branch)); err2 != nil {
			return fmt.Errorf("git checkout %s: %w", branch, err)
		}
	}

	authURL, err := t.remoteURL()
	if err != nil {
		return fmt.Errorf("auth url: %w", err)
	}
	if err := runGit(ctx, repoDir, "remote", "set-url", common.GitRemoteName, authURL); err != nil {
		return fmt.Errorf("set auth remote: %w", err)
	}
	defer func() {
		_ = runGit(context.Background(), repoDir, "remote", "set-url", common.GitRemoteName, t.cfg.RepoURL)
	}()

	_ = runGit(ctx, repoDir, "fetch", common.GitRemoteName, "--depth", "1")
	if err := runGit(ctx, repoDir, "reset", "--hard", fmt.Sprintf("%s/%s", common.GitRemoteName, branch)); err != nil {
		return fmt.Errorf("git reset --hard origin/%s: %w", branch, err)
	}
	return nil
}

func (t *Target) pushRepo(ctx context.Context, repoDir string) error {
	authURL, err := t.remoteURL()
	if err != nil {
		return fmt.Errorf("auth url: %w", err)
	}
	// push by URL so the token never lands in .git/config
	if err := runGit(ctx, repoDir, "push", authURL, "HEAD:"+t.cfg.Branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

func (t *Target) repoCacheDir() string {
	safeURL := sanitizePath(t.cfg.RepoURL)
	safeBranch := sanitizePath(t.cfg.Branch)
	return filepath.Join(t.cacheRoot, fmt.Sprintf("%s_%s", safeURL, safeBranch))
}

func sanitizePath(s string) string {
	s = strings.ReplaceAll(s, "://", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}

func withAuth(rawURL, username, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword(username, token)
	return u.String(), nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	return runGitWithOutput(ctx, dir, nil, nil, args...)
}

func runGitWithOutput(ctx context.Context, dir string, stdout, stderr *bytes.Buffer, args ...string) error {
	cmd := exec.CommandContext(ctx, common.GitExecutable, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	// capture output to include in the error; "nothing to commit" is reported on stdout
	var errBuf bytes.Buffer
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr = &errBuf
	}
	if stdout == nil {
		cmd.Stdout = &errBuf
	}
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errBuf.String())
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func isNothingToCommit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nothing to commit") || strings.Contains(msg, "nothing added to commit")
}

func ensureGitAvailable() error {
	if _, err := exec.LookPath(common.GitExecutable); err != nil {
		return errors.New("git executable not found in PATH")
	}
	return nil
}
