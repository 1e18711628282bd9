package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/items"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Artifacts.Root = filepath.Join(cfg.DataDir, "artifacts")
	cfg.Store.Driver = "memory"
	cfg.Relay.Driver = "memory"
	cfg.Events.Broadcast = "none"
	cfg.Events.Stream = "none"
	cfg.Scheduler.ReadyWait = time.Second
	cfg.Server.ShutdownGrace = time.Second
	return cfg
}

func TestOpen_MemoryHandles(t *testing.T) {
	a, err := Open(context.Background(), testLogger(), memoryConfig(t), Options{Hub: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.Store == nil || a.Relay == nil || a.Events == nil || a.Hub == nil {
		t.Fatalf("handles missing: %+v", a)
	}
	if !a.Events.Publish(context.Background(), "job_submitted", map[string]any{}) {
		t.Fatalf("sink should accept events through the hub channel")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpen_SQLiteStore(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(cfg.DataDir, "condenser.db")
	a, err := Open(context.Background(), testLogger(), cfg, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()
	it := &items.WorkItem{ID: "x", JobID: "j", Stage: items.StageDownload, Status: items.StatusProcessing}
	if err := a.Store.Create(context.Background(), it); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Relay.Driver = "carrier-pigeon"
	if _, err := Open(context.Background(), testLogger(), cfg, Options{}); err == nil {
		t.Fatalf("expected unsupported relay driver error")
	}
}

func TestProviders(t *testing.T) {
	ctx := context.Background()
	llmCfg := config.Default().LLM
	for _, p := range []string{"mock", "aiproxy"} {
		if _, err := TextClient(ctx, p, llmCfg); err != nil {
			t.Fatalf("TextClient(%s): %v", p, err)
		}
		if _, err := SpeechClient(ctx, p, llmCfg); err != nil {
			t.Fatalf("SpeechClient(%s): %v", p, err)
		}
	}
	if _, err := TextClient(ctx, "claude", llmCfg); err == nil {
		t.Fatalf("claude without api key should fail")
	}
	if _, err := SpeechClient(ctx, "claude", llmCfg); err == nil {
		t.Fatalf("claude has no speech backend")
	}
	if _, err := TextClient(ctx, "nope", llmCfg); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestParseStages(t *testing.T) {
	got, err := ParseStages([]string{"download", "audio-extraction", "download"})
	if err != nil {
		t.Fatalf("ParseStages: %v", err)
	}
	if len(got) != 2 || got[0] != items.StageDownload || got[1] != items.StageAudioExtraction {
		t.Fatalf("unexpected stages %v", got)
	}
	if all, _ := ParseStages([]string{"all"}); len(all) != 5 {
		t.Fatalf("all should select every stage, got %v", all)
	}
	if _, err := ParseStages([]string{"upload"}); err == nil {
		t.Fatalf("expected unknown stage error")
	}
	if _, err := ParseStages(nil); err == nil {
		t.Fatalf("expected error for no stages")
	}
}

func TestBuildTargets(t *testing.T) {
	cfg := config.Default().Targets
	reg, err := BuildTargets(context.Background(), testLogger(), cfg)
	if err != nil || reg.Len() != 0 {
		t.Fatalf("no targets expected: %v %d", err, reg.Len())
	}
	cfg.GitHub = config.GitHubTargetConfig{Enabled: true, RepoOwner: "o", RepoName: "r", Branch: "main", Auth: config.GitHubAuthConfig{Token: "t"}}
	cfg.Git = config.GitTargetConfig{Enabled: true, RepoURL: "https://example.com/r.git", Branch: "main", CloneCacheDir: t.TempDir(), Auth: config.GitAuthConfig{Type: "none"}}
	reg, err = BuildTargets(context.Background(), testLogger(), cfg)
	if err != nil {
		t.Fatalf("BuildTargets: %v", err)
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "git" || names[1] != "github" {
		t.Fatalf("unexpected targets %v", names)
	}
}

func TestRunStages_StopsOnCancel(t *testing.T) {
	a, err := Open(context.Background(), testLogger(), memoryConfig(t), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()

	for _, s := range items.Stages() {
		h, err := a.Handler(context.Background(), s)
		if err != nil {
			t.Fatalf("Handler(%s): %v", s, err)
		}
		if h == nil {
			t.Fatalf("Handler(%s) returned nil", s)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunStages(ctx, items.Stages()) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunStages: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stages did not stop")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFollowStreams_LogsEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.Events.Stream = "redis"
	cfg.Events.RedisURL = "redis://" + mr.Addr()
	cfg.Relay.PollTimeout = 20 * time.Millisecond

	var out lockedBuffer
	log := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	a, err := Open(context.Background(), log, cfg, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()

	if !a.Events.Publish(context.Background(), common.EventItemDownloaded, map[string]any{"work_item_id": "v1"}) {
		t.Fatalf("publish failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.FollowStreams(ctx, "analytics", "c1") }()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), "pipeline event") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("FollowStreams: %v", err)
	}
	logged := out.String()
	if !strings.Contains(logged, "pipeline event") || !strings.Contains(logged, "event_type=item_downloaded") {
		t.Fatalf("event not logged:\n%s", logged)
	}
	if !strings.Contains(logged, "work_item_id:v1") {
		t.Fatalf("payload not logged:\n%s", logged)
	}
}

func TestFollowStreams_RequiresRedisStream(t *testing.T) {
	a, err := Open(context.Background(), testLogger(), memoryConfig(t), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()
	if err := a.FollowStreams(context.Background(), "analytics", "c1"); err == nil {
		t.Fatalf("expected an error without a redis stream")
	}
}
