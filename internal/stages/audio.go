package stages

import (
	"context"
	"log/slog"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/stage"
)

// AudioExtraction turns the downloaded media into speech-ready audio.
type AudioExtraction struct {
	base
	ex AudioExtractor
}

var _ stage.Operation = (*AudioExtraction)(nil)

func NewAudioExtraction(log *slog.Logger, layout artifacts.Layout, ex AudioExtractor) *AudioExtraction {
	return &AudioExtraction{base: newBase(log, layout), ex: ex}
}

func (a *AudioExtraction) Stage() items.Stage { return items.StageAudioExtraction }

func (a *AudioExtraction) ResolveInput(_ context.Context, item *items.WorkItem, msg relay.Message) (string, error) {
	return a.input(item, msg, artifacts.KindMedia)
}

func (a *AudioExtraction) Perform(ctx context.Context, item *items.WorkItem, input string) (stage.Result, error) {
	dst := a.layout.Path(item, artifacts.KindAudio)
	if res, ok := cached(dst, artifacts.KindAudio); ok {
		return res, nil
	}
	if err := a.ex.ExtractAudio(ctx, input, dst); err != nil {
		return stage.Result{}, err
	}
	return stage.Result{Artifact: dst, Kind: artifacts.KindAudio}, nil
}

func (a *AudioExtraction) NextStage(*items.WorkItem, stage.Result) (items.Stage, bool) {
	return items.StageTranscription, true
}

func (a *AudioExtraction) EventFields(_ *items.WorkItem, res stage.Result) map[string]any {
	return map[string]any{"audio_bytes": fileSize(res.Artifact)}
}
