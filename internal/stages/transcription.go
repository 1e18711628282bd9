package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/stage"
)

type Transcription struct {
	base
	tr Transcriber
}

var _ stage.Operation = (*Transcription)(nil)

func NewTranscription(log *slog.Logger, layout artifacts.Layout, tr Transcriber) *Transcription {
	return &Transcription{base: newBase(log, layout), tr: tr}
}

func (t *Transcription) Stage() items.Stage { return items.StageTranscription }

func (t *Transcription) ResolveInput(_ context.Context, item *items.WorkItem, msg relay.Message) (string, error) {
	return t.input(item, msg, artifacts.KindAudio)
}

func (t *Transcription) Perform(ctx context.Context, item *items.WorkItem, input string) (stage.Result, error) {
	dst := t.layout.Path(item, artifacts.KindTranscript)
	if res, ok := cached(dst, artifacts.KindTranscript); ok {
		return res, nil
	}
	text, err := t.tr.Transcribe(ctx, input, t.layout.Path(item, artifacts.KindChunks))
	if err != nil {
		return stage.Result{}, fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return stage.Result{}, errors.New("transcribe: empty transcript")
	}
	if err := artifacts.WriteFile(dst, []byte(text+"\n")); err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		Artifact: dst,
		Kind:     artifacts.KindTranscript,
		Fields:   map[string]any{"transcript_length": utf8.RuneCountInString(text)},
	}, nil
}

func (t *Transcription) NextStage(*items.WorkItem, stage.Result) (items.Stage, bool) {
	return items.StageSummarization, true
}

func (t *Transcription) EventFields(*items.WorkItem, stage.Result) map[string]any {
	return nil
}
