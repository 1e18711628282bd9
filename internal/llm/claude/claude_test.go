package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(config.ClaudeSettings{Model: "m"}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestComplete(t *testing.T) {
	var seen map[string]any
	var seenKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		seenKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&seen)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "Summary text"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 3}
		}`))
	}))
	defer ts.Close()

	c, err := New(config.ClaudeSettings{APIKey: "sk-test", Model: "claude-test", BaseURL: ts.URL}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Complete(context.Background(), llm.Prompt{System: "be brief", User: "long transcript"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Summary text" {
		t.Fatalf("unexpected output %q", out)
	}
	if seenKey != "sk-test" {
		t.Fatalf("api key header = %q", seenKey)
	}
	if seen["model"] != "claude-test" || seen["max_tokens"] != float64(defaultMaxTokens) {
		t.Fatalf("unexpected request body: %v", seen)
	}
	if _, ok := seen["system"]; !ok {
		t.Fatalf("system prompt missing: %v", seen)
	}
}

func TestComplete_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer ts.Close()

	c, err := New(config.ClaudeSettings{APIKey: "sk-test", Model: "m", BaseURL: ts.URL}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Complete(context.Background(), llm.Prompt{User: "x"}); err == nil {
		t.Fatalf("expected api error")
	}
}
