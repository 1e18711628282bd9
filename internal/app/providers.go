package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/llm"
	"github.com/jo-hoe/condenser/internal/llm/aiproxy"
	"github.com/jo-hoe/condenser/internal/llm/claude"
	"github.com/jo-hoe/condenser/internal/llm/gemini"
	"github.com/jo-hoe/condenser/internal/llm/mock"
)

// TextClient returns the completion backend named by provider.
func TextClient(ctx context.Context, provider string, cfg config.LLMConfig) (llm.Client, error) {
	switch strings.ToLower(provider) {
	case "mock":
		return mock.New(cfg.Mock), nil
	case "aiproxy":
		return aiproxy.New(cfg.AIProxy), nil
	case "gemini":
		return gemini.New(ctx, cfg.Gemini)
	case "claude":
		return claude.New(cfg.Claude)
	default:
		return nil, fmt.Errorf("unsupported summarization provider %q", provider)
	}
}

// SpeechClient returns the speech-to-text backend named by provider.
func SpeechClient(ctx context.Context, provider string, cfg config.LLMConfig) (llm.SpeechClient, error) {
	switch strings.ToLower(provider) {
	case "mock":
		return mock.New(cfg.Mock), nil
	case "aiproxy":
		return aiproxy.New(cfg.AIProxy), nil
	case "gemini":
		return gemini.New(ctx, cfg.Gemini)
	default:
		return nil, fmt.Errorf("unsupported transcription provider %q", provider)
	}
}
