package mock

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/llm"
)

var (
	_ llm.Client       = (*Client)(nil)
	_ llm.SpeechClient = (*Client)(nil)
)

const excerptRunes = 200

// Client is a deterministic offline LLM used for development and tests.
type Client struct {
	delay  time.Duration
	prefix string
}

func New(cfg config.MockSettings) *Client {
	return &Client{delay: cfg.Delay, prefix: cfg.Prefix}
}

func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete returns the prefix followed by the start of the user prompt.
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	text := strings.Join(strings.Fields(p.User), " ")
	if r := []rune(text); len(r) > excerptRunes {
		text = string(r[:excerptRunes]) + "..."
	}
	return fmt.Sprintf("## %s\n\n%s\n", c.prefix, text), nil
}

// TranscribeAudio returns a line naming the file and its size.
func (c *Client) TranscribeAudio(ctx context.Context, r io.Reader, filename string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	return fmt.Sprintf("%s %s (%d bytes)", c.prefix, filepath.Base(filename), n), nil
}
