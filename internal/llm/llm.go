package llm

import (
	"context"
	"io"
)

// Prompt is a single-turn request.
type Prompt struct {
	System string
	User   string
}

// Client defines the capability to complete a text prompt.
type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// SpeechClient defines the capability to transcribe audio into plain text.
type SpeechClient interface {
	// TranscribeAudio reads audio from r (seek not required). filename carries the format via its extension.
	TranscribeAudio(ctx context.Context, r io.Reader, filename string) (string, error)
}
