package stages

import (
	"context"
	"log/slog"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/stage"
)

// Download fetches the item's captions as a transcript when it has them, else its media. Items resolved from
// captions skip audio extraction and transcription.
type Download struct {
	base
	dl ArtifactDownloader
}

var _ stage.Operation = (*Download)(nil)

func NewDownload(log *slog.Logger, layout artifacts.Layout, dl ArtifactDownloader) *Download {
	return &Download{base: newBase(log, layout), dl: dl}
}

func (d *Download) Stage() items.Stage { return items.StageDownload }

func (d *Download) ResolveInput(context.Context, *items.WorkItem, relay.Message) (string, error) {
	return "", nil
}

func (d *Download) Perform(ctx context.Context, item *items.WorkItem, _ string) (stage.Result, error) {
	transcript := d.layout.Path(item, artifacts.KindTranscript)
	media := d.layout.Path(item, artifacts.KindMedia)

	if item.HasAltTranscript {
		if res, ok := cached(transcript, artifacts.KindTranscript); ok {
			return res, nil
		}
	}
	if res, ok := cached(media, artifacts.KindMedia); ok {
		return res, nil
	}

	if item.HasAltTranscript {
		err := d.dl.DownloadTranscript(ctx, item.ID, transcript)
		if err == nil {
			return stage.Result{
				Artifact: transcript,
				Kind:     artifacts.KindTranscript,
				Fields:   map[string]any{"transcript_length": fileSize(transcript)},
			}, nil
		}
		if ctx.Err() != nil {
			return stage.Result{}, ctx.Err()
		}
		d.log.Warn("captions unavailable, downloading media instead", "work_item_id", item.ID, "err", err)
	}

	if err := d.dl.DownloadMedia(ctx, item.ID, media); err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Artifact: media,
		Kind:     artifacts.KindMedia,
		Fields:   map[string]any{"media_bytes": fileSize(media)},
	}, nil
}

// NextStage routes a caption transcript straight to summarization.
func (d *Download) NextStage(_ *items.WorkItem, res stage.Result) (items.Stage, bool) {
	if res.Kind == artifacts.KindTranscript {
		return items.StageSummarization, true
	}
	return items.StageAudioExtraction, true
}

func (d *Download) EventFields(_ *items.WorkItem, res stage.Result) map[string]any {
	return map[string]any{
		"artifact_kind": string(res.Kind),
		"used_captions": res.Kind == artifacts.KindTranscript,
	}
}
