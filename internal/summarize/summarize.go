// Package summarize condenses a transcript with an LLM. Texts over the token budget are split, summarized
// piecewise and the partial summaries merged, recursing up to a fixed depth.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/llm"
	"github.com/jo-hoe/condenser/internal/scheduler"
)

const (
	DefaultSystemPrompt = "You condense video transcripts. Write a concise, well structured Markdown summary: " +
		"a one paragraph overview followed by the key points as a bulleted list. Do not invent content."
	partialSystemPrompt = "You condense one part of a longer video transcript. List the key points of this part " +
		"as short Markdown bullets. Do not add an introduction or conclusion."
	mergeSystemPrompt = "You receive partial summaries of consecutive parts of one video transcript. Merge them " +
		"into a single concise Markdown summary: a one paragraph overview followed by the key points as a " +
		"bulleted list. Remove repetition."
)

type Options struct {
	TokenLimit        int
	ChunkTargetTokens int
	MaxDepth          int
	SystemPrompt      string
	// RequestsPerSecond throttles LLM calls; zero means unlimited.
	RequestsPerSecond float64
	Pool              *scheduler.Pool
}

type Summarizer struct {
	log     *slog.Logger
	client  llm.Client
	opts    Options
	limiter *rate.Limiter
}

func New(log *slog.Logger, client llm.Client, opts Options) *Summarizer {
	if log == nil {
		log = slog.Default()
	}
	if opts.TokenLimit <= 0 {
		opts.TokenLimit = common.DefaultTokenLimit
	}
	if opts.ChunkTargetTokens <= 0 || opts.ChunkTargetTokens > opts.TokenLimit {
		opts.ChunkTargetTokens = min(common.DefaultChunkTargetTokens, opts.TokenLimit)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Summarizer{log: log, client: client, opts: opts, limiter: limiter}
}

// EstimateTokens approximates the token count of s as one token per four characters.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Summarize returns a Markdown summary of text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("nothing to summarize")
	}
	return s.condense(ctx, text, 0, s.opts.SystemPrompt)
}

func (s *Summarizer) condense(ctx context.Context, text string, depth int, system string) (string, error) {
	if EstimateTokens(text) <= s.opts.TokenLimit {
		return s.complete(ctx, system, text)
	}
	if depth >= s.opts.MaxDepth {
		s.log.Warn("summary depth exhausted, truncating input", "depth", depth, "tokens", EstimateTokens(text))
		return s.complete(ctx, system, truncateRunes(text, s.opts.TokenLimit*4))
	}

	parts := SplitText(text, s.opts.ChunkTargetTokens)
	partials := make([]string, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			out, err := s.complete(gctx, partialSystemPrompt, part)
			if err != nil {
				return fmt.Errorf("part %d/%d: %w", i+1, len(parts), err)
			}
			partials[i] = strings.TrimSpace(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	s.log.Debug("merged partial summaries", "depth", depth, "parts", len(parts))

	merged := strings.Join(partials, "\n\n")
	final := system
	if system == DefaultSystemPrompt {
		final = mergeSystemPrompt
	}
	return s.condense(ctx, merged, depth+1, final)
}

func (s *Summarizer) complete(ctx context.Context, system, user string) (string, error) {
	var out string
	err := s.opts.Pool.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := s.client.Complete(ctx, llm.Prompt{System: system, User: user})
		if err != nil {
			return err
		}
		out = strings.TrimSpace(res)
		return nil
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", errors.New("empty summary returned")
	}
	return out, nil
}

// SplitText cuts text into consecutive parts of at most targetTokens, preferring sentence then word
// boundaries.
func SplitText(text string, targetTokens int) []string {
	limit := targetTokens * 4
	if limit <= 0 {
		return []string{text}
	}
	var parts []string
	rest := []rune(strings.TrimSpace(text))
	for len(rest) > limit {
		cut := boundary(rest[:limit])
		parts = append(parts, strings.TrimSpace(string(rest[:cut])))
		rest = []rune(strings.TrimSpace(string(rest[cut:])))
	}
	if len(rest) > 0 {
		parts = append(parts, string(rest))
	}
	return parts
}

// boundary returns the cut position inside window: after the last sentence end in its second half, else at the
// last whitespace, else the whole window.
func boundary(window []rune) int {
	half := len(window) / 2
	for i := len(window) - 1; i >= half; i-- {
		switch window[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return len(window)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
