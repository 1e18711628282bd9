package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/llm"
)

var (
	_ llm.Client       = (*Client)(nil)
	_ llm.SpeechClient = (*Client)(nil)
)

const (
	// Headers
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"

	// Auth
	authSchemeBearer = "Bearer"

	// Endpoints
	endpointChatCompletions    = "v1/chat/completions"
	endpointAudioTranscription = "v1/audio/transcriptions"

	// Timeouts and limits
	defaultTimeout    = 60 * time.Second
	errorSnippetLimit = 400

	defaultSystemPrompt = "You are a precise assistant. Follow the instructions exactly and answer in Markdown."
)

// Role represents the sender role for a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Client implements llm.Client and llm.SpeechClient by calling an OpenAI-compatible AI Proxy.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	speechModel string
	temperature *float32
	maxTokens   *int
}

// New creates a new AI Proxy LLM client.
func New(cfg config.AIProxySettings) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		speechModel: cfg.TranscriptionModel,
		temperature: optionalFloat32(cfg.Temperature),
		maxTokens:   optionalInt(cfg.MaxTokens),
	}
}

// Complete sends a chat completion request with a system and a user message.
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	if strings.TrimSpace(p.User) == "" {
		return "", fmt.Errorf("prompt is empty")
	}
	bodyBytes, err := json.Marshal(c.buildRequestBody(p))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	respBytes, err := c.post(ctx, endpointChatCompletions, common.ContentTypeJSON, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(comp.Choices) == 0 || comp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return comp.Choices[0].Message.Content, nil
}

// TranscribeAudio uploads the audio as multipart form data to the transcription endpoint.
func (c *Client) TranscribeAudio(ctx context.Context, r io.Reader, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", c.speechModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("write format field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	n, err := io.Copy(fw, r)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("audio is empty")
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	respBytes, err := c.post(ctx, endpointAudioTranscription, mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	var out transcriptionResponse
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	u, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, contentType)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("aiproxy status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}
	return respBytes, nil
}

func (c *Client) buildRequestBody(p llm.Prompt) chatCompletionRequest {
	sys := strings.TrimSpace(p.System)
	if sys == "" {
		sys = defaultSystemPrompt
	}
	req := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: RoleSystem, Content: sys},
			{Role: RoleUser, Content: p.User},
		},
	}
	if c.temperature != nil {
		req.Temperature = c.temperature
	}
	if c.maxTokens != nil {
		req.MaxTokens = c.maxTokens
	}
	return req
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OpenAI-compatible request/response types

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *chatCompletionUsage   `json:"usage,omitempty"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      responseMsg `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type responseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}
