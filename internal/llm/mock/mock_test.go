package mock

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/llm"
)

func TestMockLLM_Complete(t *testing.T) {
	c := New(config.MockSettings{Delay: 0, Prefix: "MockPrefix"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	md, err := c.Complete(ctx, llm.Prompt{User: "first   line\nsecond line"})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if !strings.Contains(md, "MockPrefix") {
		t.Fatalf("Complete missing prefix, got: %q", md)
	}
	if !strings.Contains(md, "first line second line") {
		t.Fatalf("Complete missing excerpt, got: %q", md)
	}
}

func TestMockLLM_Complete_TruncatesLongPrompt(t *testing.T) {
	c := New(config.MockSettings{Prefix: "p"})
	md, err := c.Complete(context.Background(), llm.Prompt{User: strings.Repeat("x", 1000)})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(md), "...") || len(md) > 300 {
		t.Fatalf("prompt not truncated: %d bytes", len(md))
	}
}

func TestMockLLM_TranscribeAudio(t *testing.T) {
	c := New(config.MockSettings{Prefix: "heard"})
	out, err := c.TranscribeAudio(context.Background(), bytes.NewBufferString("12345"), "/x/chunk_000.wav")
	if err != nil {
		t.Fatalf("TranscribeAudio error: %v", err)
	}
	if out != "heard chunk_000.wav (5 bytes)" {
		t.Fatalf("unexpected text: %q", out)
	}
}

func TestMockLLM_RespectsContextCancel(t *testing.T) {
	c := New(config.MockSettings{Delay: 200 * time.Millisecond, Prefix: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	if _, err := c.Complete(ctx, llm.Prompt{User: "x"}); err == nil {
		t.Fatalf("expected context cancellation error")
	}
	if _, err := c.TranscribeAudio(ctx, bytes.NewBufferString("x"), "a.wav"); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
