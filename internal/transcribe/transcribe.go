// Package transcribe turns an audio file into text by splitting it into fixed-length chunks and transcribing
// them in parallel through a shared pool.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/llm"
	"github.com/jo-hoe/condenser/internal/scheduler"
)

// ErrAllChunksFailed is returned when no chunk could be transcribed.
var ErrAllChunksFailed = errors.New("all chunks failed to transcribe")

// Splitter cuts an audio file into ordered chunk files inside dir.
type Splitter interface {
	Split(ctx context.Context, src, dir string, chunk time.Duration) ([]string, error)
}

type Options struct {
	ChunkLength time.Duration
	// Placeholder replaces the text of a chunk that failed.
	Placeholder string
	// RequestsPerSecond throttles speech requests; zero means unlimited.
	RequestsPerSecond float64
	Pool              *scheduler.Pool
}

// Transcriber implements chunked speech-to-text.
type Transcriber struct {
	log      *slog.Logger
	splitter Splitter
	speech   llm.SpeechClient
	pool     *scheduler.Pool
	limiter  *rate.Limiter
	chunk    time.Duration
	fill     string
}

func New(log *slog.Logger, splitter Splitter, speech llm.SpeechClient, opts Options) *Transcriber {
	if log == nil {
		log = slog.Default()
	}
	if opts.ChunkLength <= 0 {
		opts.ChunkLength = 10 * time.Second
	}
	if opts.Placeholder == "" {
		opts.Placeholder = common.ChunkPlaceholder
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Transcriber{
		log:      log,
		splitter: splitter,
		speech:   speech,
		pool:     opts.Pool,
		limiter:  limiter,
		chunk:    opts.ChunkLength,
		fill:     opts.Placeholder,
	}
}

// Transcribe splits audioPath into chunkDir and returns the joined chunk texts in order. Failed chunks are
// replaced by the placeholder; ErrAllChunksFailed is returned when none succeeded.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, chunkDir string) (string, error) {
	chunks, err := t.splitter.Split(ctx, audioPath, chunkDir, t.chunk)
	if err != nil {
		return "", fmt.Errorf("split audio: %w", err)
	}
	if len(chunks) == 0 {
		return "", errors.New("split audio: no chunks")
	}

	texts := make([]string, len(chunks))
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range chunks {
		g.Go(func() error {
			text, err := t.transcribeChunk(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				t.log.Warn("chunk transcription failed", "chunk", filepath.Base(path), "err", err)
				texts[i] = t.fill
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if int(failed.Load()) == len(chunks) {
		return "", fmt.Errorf("%w (%d chunks)", ErrAllChunksFailed, len(chunks))
	}
	if n := failed.Load(); n > 0 {
		t.log.Info("transcribed with gaps", "chunks", len(chunks), "failed", n)
	}
	// one segment per chunk, a silent chunk included, so positions line up with the audio
	return strings.Join(texts, " "), nil
}

func (t *Transcriber) transcribeChunk(ctx context.Context, path string) (string, error) {
	var text string
	err := t.pool.Do(ctx, func(ctx context.Context) error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		f, err := os.Open(path) //nolint:gosec
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out, err := t.speech.TranscribeAudio(ctx, f, filepath.Base(path))
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out)
		return nil
	})
	return text, err
}
