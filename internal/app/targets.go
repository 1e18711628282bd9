package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/targets"
	gitTarget "github.com/jo-hoe/condenser/internal/targets/git"
	githubTarget "github.com/jo-hoe/condenser/internal/targets/github"
	"github.com/jo-hoe/condenser/internal/targets/objectstore"
)

// BuildTargets registers every enabled summary target. A bucket that cannot be verified at startup is only
// logged; publication retries it per summary.
func BuildTargets(ctx context.Context, log *slog.Logger, cfg config.TargetsConfig) (*targets.Registry, error) {
	reg := targets.NewRegistry()
	if cfg.ObjectStore.Enabled {
		t, err := objectstore.New("objectstore", cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("init object store target: %w", err)
		}
		if err := t.EnsureBucket(ctx); err != nil {
			log.Warn("object store bucket not ready", "bucket", cfg.ObjectStore.Bucket, "err", err)
		}
		reg.Add(t)
	}
	if cfg.Git.Enabled {
		t, err := gitTarget.New("git", cfg.Git, cfg.Git.CloneCacheDir)
		if err != nil {
			return nil, fmt.Errorf("init git target: %w", err)
		}
		reg.Add(t)
	}
	if cfg.GitHub.Enabled {
		t, err := githubTarget.New("github", cfg.GitHub)
		if err != nil {
			return nil, fmt.Errorf("init github target: %w", err)
		}
		reg.Add(t)
	}
	log.Info("summary targets", "names", reg.Names())
	return reg, nil
}
