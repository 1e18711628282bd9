// Package gemini implements the llm interfaces on Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/llm"
)

var (
	_ llm.Client       = (*Client)(nil)
	_ llm.SpeechClient = (*Client)(nil)
)

const transcribeInstruction = "Transcribe the speech in this audio verbatim as plain text. " +
	"Output only the transcript. If nothing intelligible is said, output nothing."

// Client calls the Gemini API through the genai SDK.
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
}

func New(ctx context.Context, cfg config.GeminiSettings) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	return &Client{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

func (c *Client) config(system string) *genai.GenerateContentConfig {
	conf := &genai.GenerateContentConfig{}
	if c.temperature > 0 {
		conf.Temperature = genai.Ptr(c.temperature)
	}
	if system != "" {
		conf.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return conf
}

func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(p.User), c.config(p.System))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return extractText(resp)
}

// TranscribeAudio sends the audio inline together with a transcription instruction.
func (c *Client) TranscribeAudio(ctx context.Context, r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("audio is empty")
	}
	parts := []*genai.Part{
		genai.NewPartFromText(transcribeInstruction),
		genai.NewPartFromBytes(data, audioMIME(filename)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.config(""))
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	text, err := extractText(resp)
	if err != nil {
		// Silence is a valid transcription.
		return "", nil
	}
	return strings.TrimSpace(text), nil
}

// extractText returns the text of the first candidate that has any.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			var sb strings.Builder
			for _, part := range cand.Content.Parts {
				if part != nil && part.Text != "" {
					sb.WriteString(part.Text)
				}
			}
			if sb.Len() > 0 {
				return sb.String(), nil
			}
		}
	}
	return "", errors.New("no response generated by gemini")
}

func audioMIME(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "audio/mp3"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".m4a", ".aac":
		return "audio/aac"
	default:
		return "audio/wav"
	}
}
