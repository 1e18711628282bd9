package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/media"
	"github.com/jo-hoe/condenser/internal/scheduler"
	"github.com/jo-hoe/condenser/internal/stage"
	"github.com/jo-hoe/condenser/internal/stages"
	"github.com/jo-hoe/condenser/internal/summarize"
	"github.com/jo-hoe/condenser/internal/transcribe"
)

// ParseStages resolves stage names; "all" selects every stage.
func ParseStages(names []string) ([]items.Stage, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no stage given")
	}
	var out []items.Stage
	seen := map[items.Stage]bool{}
	for _, n := range names {
		if strings.EqualFold(n, "all") {
			return items.Stages(), nil
		}
		s, err := items.ParseStage(n)
		if err != nil {
			return nil, err
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

func (a *App) ytdlp() *media.YtDlp {
	m := a.Cfg.Media
	return media.NewYtDlp(a.Log, m.YtDlpPath, media.WithCaptionLanguage(m.CaptionLanguage), media.WithCookiesFile(m.CookiesFile))
}

// Handler builds the message handler of one stage with its external collaborators.
func (a *App) Handler(ctx context.Context, s items.Stage) (stage.MessageHandler, error) {
	deps := a.Deps()
	log := a.Log.With("stage", s.String())
	switch s {
	case items.StageDiscovery:
		d := a.Cfg.Discovery
		return stage.NewDiscovery(deps, a.ytdlp(), stage.Filter{
			ItemCountLimit:             d.ItemCountLimit,
			MaxItemLength:              time.Duration(d.MaxItemLength) * time.Minute,
			LengthLimitCaptionlessOnly: *d.LengthLimitCaptionlessOnly,
		}), nil

	case items.StageDownload:
		return stage.NewDriver(deps, stages.NewDownload(log, a.Layout, a.ytdlp())), nil

	case items.StageAudioExtraction:
		return stage.NewDriver(deps, stages.NewAudioExtraction(log, a.Layout, media.NewFfmpeg(a.Cfg.Media.FfmpegPath))), nil

	case items.StageTranscription:
		t := a.Cfg.Transcription
		speech, err := SpeechClient(ctx, t.Provider, a.Cfg.LLM)
		if err != nil {
			return nil, err
		}
		tr := transcribe.New(log, media.NewFfmpeg(a.Cfg.Media.FfmpegPath), speech, transcribe.Options{
			ChunkLength:       t.ChunkLength,
			Placeholder:       t.Placeholder,
			RequestsPerSecond: t.RequestsPerSecond,
			Pool:              a.Pool,
		})
		return stage.NewDriver(deps, stages.NewTranscription(log, a.Layout, tr)), nil

	case items.StageSummarization:
		sm := a.Cfg.Summarization
		client, err := TextClient(ctx, sm.Provider, a.Cfg.LLM)
		if err != nil {
			return nil, err
		}
		sum := summarize.New(log, client, summarize.Options{
			TokenLimit:        sm.TokenLimit,
			ChunkTargetTokens: sm.ChunkTargetTokens,
			MaxDepth:          sm.MaxDepth,
			SystemPrompt:      sm.SystemPrompt,
			RequestsPerSecond: sm.RequestsPerSecond,
			Pool:              a.Pool,
		})
		opts := stages.SummarizationOptions{
			FallbackToTranscript: sm.FallbackToTranscript,
			Retention: artifacts.RetentionPolicy{
				CleanupIntermediate: *a.Cfg.Artifacts.CleanupIntermediate,
				KeepTranscript:      *a.Cfg.Artifacts.KeepTranscript,
			},
		}
		reg, err := BuildTargets(ctx, log, a.Cfg.Targets)
		if err != nil {
			return nil, err
		}
		if reg.Len() > 0 {
			opts.Publisher = reg
		}
		return stage.NewDriver(deps, stages.NewSummarization(log, a.Layout, sum, opts)), nil

	default:
		return nil, fmt.Errorf("unknown stage %s", s)
	}
}

// Runner wraps h in a queue consumer configured from the scheduler section.
func (a *App) Runner(s items.Stage, h stage.MessageHandler) *stage.Runner {
	sc := a.Cfg.Scheduler
	return stage.NewRunner(a.Log.With("stage", s.String()), a.Relay, s.Queue(), h, scheduler.Options{
		ReadyWait:   sc.ReadyWait,
		Buffer:      sc.HandoffBuffer,
		MaxInFlight: sc.MaxInFlight,
		Grace:       a.Cfg.Server.ShutdownGrace,
	})
}

// RunStages consumes the queues of the given stages until ctx is done. A runner that fails stops the others.
func (a *App) RunStages(ctx context.Context, list []items.Stage) error {
	runners := make([]*stage.Runner, 0, len(list))
	for _, s := range list {
		h, err := a.Handler(ctx, s)
		if err != nil {
			return fmt.Errorf("build %s stage: %w", s, err)
		}
		runners = append(runners, a.Runner(s, h))
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range runners {
		s := list[i]
		g.Go(func() error {
			if err := r.Run(gctx); err != nil {
				return fmt.Errorf("%s stage: %w", s, err)
			}
			return nil
		})
	}
	go func() {
		for _, r := range runners {
			select {
			case <-r.Ready():
			case <-gctx.Done():
				return
			}
		}
		a.Log.Info("stages running", "count", len(runners), "pool_size", a.Pool.Size())
	}()
	return g.Wait()
}
