package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/stage"
)

type SummarizationOptions struct {
	// FallbackToTranscript stores the transcript itself when the summarizer fails.
	FallbackToTranscript bool
	Retention            artifacts.RetentionPolicy
	// Publisher is optional.
	Publisher Publisher
}

// Summarization is the terminal stage. After the item is committed COMPLETED it applies the retention policy
// and publishes the summary.
type Summarization struct {
	base
	sum  Summarizer
	opts SummarizationOptions
}

var (
	_ stage.Operation = (*Summarization)(nil)
	_ stage.Finalizer = (*Summarization)(nil)
)

func NewSummarization(log *slog.Logger, layout artifacts.Layout, sum Summarizer, opts SummarizationOptions) *Summarization {
	return &Summarization{base: newBase(log, layout), sum: sum, opts: opts}
}

func (s *Summarization) Stage() items.Stage { return items.StageSummarization }

func (s *Summarization) ResolveInput(_ context.Context, item *items.WorkItem, msg relay.Message) (string, error) {
	return s.input(item, msg, artifacts.KindTranscript)
}

func (s *Summarization) Perform(ctx context.Context, item *items.WorkItem, input string) (stage.Result, error) {
	dst := s.layout.Path(item, artifacts.KindSummary)
	if res, ok := cached(dst, artifacts.KindSummary); ok {
		return res, nil
	}
	raw, err := os.ReadFile(input) //nolint:gosec
	if err != nil {
		return stage.Result{}, fmt.Errorf("read transcript: %w", err)
	}
	transcript := strings.TrimSpace(string(raw))
	if transcript == "" {
		return stage.Result{}, errors.New("transcript is empty")
	}

	fallback := false
	summary, err := s.sum.Summarize(ctx, transcript)
	if err != nil {
		if ctx.Err() != nil || !s.opts.FallbackToTranscript {
			return stage.Result{}, fmt.Errorf("summarize: %w", err)
		}
		s.log.Warn("summarization failed, keeping transcript as summary", "work_item_id", item.ID, "err", err)
		summary, fallback = transcript, true
	}

	doc := renderSummary(item, summary)
	if err := artifacts.WriteFile(dst, []byte(doc)); err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Artifact: dst,
		Kind:     artifacts.KindSummary,
		Fields: map[string]any{
			"summary_length": utf8.RuneCountInString(summary),
			"fallback":       fallback,
		},
	}, nil
}

// renderSummary prepends the item title as a Markdown H1.
func renderSummary(item *items.WorkItem, summary string) string {
	summary = strings.TrimSpace(summary)
	if item.Title == "" {
		return summary + "\n"
	}
	return fmt.Sprintf("# %s\n\n%s\n", item.Title, summary)
}

func (s *Summarization) NextStage(*items.WorkItem, stage.Result) (items.Stage, bool) {
	return 0, false
}

func (s *Summarization) EventFields(*items.WorkItem, stage.Result) map[string]any {
	return nil
}

// Finalize runs after the COMPLETED commit. Failures are logged only; the item stays COMPLETED.
func (s *Summarization) Finalize(ctx context.Context, item *items.WorkItem, res stage.Result) {
	log := s.log.With("work_item_id", item.ID)

	removed, err := s.layout.Cleanup(item, s.opts.Retention)
	if err != nil {
		log.Warn("artifact cleanup incomplete", "err", err)
	}
	if len(removed) > 0 {
		log.Debug("intermediate artifacts removed", "count", len(removed))
	}

	if s.opts.Publisher == nil {
		return
	}
	md, err := os.ReadFile(res.Artifact)
	if err != nil {
		log.Warn("read summary for publication", "err", err)
		return
	}
	results, err := s.opts.Publisher.Publish(ctx, item, string(md))
	for _, r := range results {
		log.Info("summary published", "target", r.TargetName, "location", r.Location, "commit", r.Commit)
	}
	if err != nil {
		log.Warn("summary publication failed", "err", err)
	}
}
