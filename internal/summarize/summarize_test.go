package summarize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jo-hoe/condenser/internal/llm"
	"github.com/jo-hoe/condenser/internal/scheduler"
)

type fakeClient struct {
	mu      sync.Mutex
	prompts []llm.Prompt
	reply   func(p llm.Prompt) (string, error)
}

func (f *fakeClient) Complete(_ context.Context, p llm.Prompt) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(p)
	}
	return "summary", nil
}

func (f *fakeClient) count(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if p.System == system {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty = %d", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Fatalf("5 chars = %d, want 2", got)
	}
	if got := EstimateTokens("äöüß"); got != 1 {
		t.Fatalf("runes should be counted, got %d", got)
	}
}

func TestSplitText(t *testing.T) {
	text := "First sentence here. Second sentence follows. Third one ends it."
	parts := SplitText(text, 6) // 24 runes per part
	if len(parts) < 3 {
		t.Fatalf("expected several parts, got %q", parts)
	}
	for _, p := range parts {
		if len([]rune(p)) > 24 {
			t.Fatalf("part too long: %q", p)
		}
	}
	if strings.Join(parts, " ") != text {
		t.Fatalf("parts must reassemble the text, got %q", parts)
	}
	if !strings.HasSuffix(parts[0], ".") {
		t.Fatalf("expected a sentence boundary cut, got %q", parts[0])
	}
}

func TestSummarize_Short(t *testing.T) {
	c := &fakeClient{}
	s := New(testLogger(), c, Options{})

	out, err := s.Summarize(context.Background(), "  a short transcript ")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "summary" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(c.prompts) != 1 || c.prompts[0].System != DefaultSystemPrompt || c.prompts[0].User != "a short transcript" {
		t.Fatalf("unexpected prompts %+v", c.prompts)
	}
}

func TestSummarize_ChunksAndMerges(t *testing.T) {
	c := &fakeClient{reply: func(p llm.Prompt) (string, error) {
		if p.System == partialSystemPrompt {
			return "- point", nil
		}
		return "final", nil
	}}
	s := New(testLogger(), c, Options{TokenLimit: 10, ChunkTargetTokens: 5, Pool: scheduler.NewPool(2)})

	text := strings.Repeat("word ", 30) // ~38 tokens
	out, err := s.Summarize(context.Background(), text)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "final" {
		t.Fatalf("unexpected output %q", out)
	}
	if c.count(partialSystemPrompt) < 2 {
		t.Fatalf("expected several partial calls, got %d", c.count(partialSystemPrompt))
	}
	if c.count(mergeSystemPrompt) != 1 {
		t.Fatalf("expected one merge call, got %d", c.count(mergeSystemPrompt))
	}
}

func TestSummarize_DepthLimitTruncates(t *testing.T) {
	c := &fakeClient{reply: func(p llm.Prompt) (string, error) {
		// partial summaries never shrink, forcing the depth limit
		return p.User, nil
	}}
	s := New(testLogger(), c, Options{TokenLimit: 5, ChunkTargetTokens: 5, MaxDepth: 1})

	out, err := s.Summarize(context.Background(), strings.Repeat("abcd ", 20))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len([]rune(out)) > 20 {
		t.Fatalf("final input should be truncated to the budget, got %q", out)
	}
}

func TestSummarize_Errors(t *testing.T) {
	s := New(testLogger(), &fakeClient{}, Options{})
	if _, err := s.Summarize(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty text")
	}

	failing := New(testLogger(), &fakeClient{reply: func(llm.Prompt) (string, error) {
		return "", errors.New("rate limited")
	}}, Options{})
	if _, err := failing.Summarize(context.Background(), "text"); err == nil {
		t.Fatalf("expected client error")
	}

	empty := New(testLogger(), &fakeClient{reply: func(llm.Prompt) (string, error) { return "  ", nil }}, Options{})
	if _, err := empty.Summarize(context.Background(), "text"); err == nil {
		t.Fatalf("expected error for empty summary")
	}
}
