// Package stages holds the operations plugged into the generic stage driver, one per pipeline stage after
// discovery, together with the collaborator interfaces they call.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/stage"
	"github.com/jo-hoe/condenser/internal/targets"
)

// ArtifactDownloader fetches the raw inputs of an item.
type ArtifactDownloader interface {
	DownloadMedia(ctx context.Context, id, dst string) error
	// DownloadTranscript writes a plain text transcript built from the item's captions.
	DownloadTranscript(ctx context.Context, id, dst string) error
}

type AudioExtractor interface {
	ExtractAudio(ctx context.Context, src, dst string) error
}

type Transcriber interface {
	// Transcribe converts audioPath to text, using chunkDir for intermediate chunks.
	Transcribe(ctx context.Context, audioPath, chunkDir string) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Publisher copies a finished summary to external targets.
type Publisher interface {
	Publish(ctx context.Context, item *items.WorkItem, markdown string) ([]targets.TargetResult, error)
}

// base carries what every operation needs to locate artifacts.
type base struct {
	log    *slog.Logger
	layout artifacts.Layout
}

func newBase(log *slog.Logger, layout artifacts.Layout) base {
	if log == nil {
		log = slog.Default()
	}
	return base{log: log, layout: layout}
}

// input prefers the artifact pointer carried by the message and falls back to the layout path of kind.
func (b base) input(item *items.WorkItem, msg relay.Message, kind artifacts.Kind) (string, error) {
	if msg.Artifact != "" && artifacts.Exists(msg.Artifact) {
		return msg.Artifact, nil
	}
	path := b.layout.Path(item, kind)
	if artifacts.Exists(path) {
		return path, nil
	}
	if msg.Artifact != "" {
		return "", fmt.Errorf("%w: %s", stage.ErrMissingInput, msg.Artifact)
	}
	return "", fmt.Errorf("%w: %s", stage.ErrMissingInput, path)
}

// cached returns a Result for an artifact that already exists, so re-delivered messages do no external work.
func cached(path string, kind artifacts.Kind) (stage.Result, bool) {
	if !artifacts.Exists(path) {
		return stage.Result{}, false
	}
	return stage.Result{Artifact: path, Kind: kind, Cached: true}, true
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
