package scheduler

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/jo-hoe/condenser/internal/common"
)

// Pool bounds blocking sub-steps (one chunk transcription, one LLM call) across all units of a process.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = common.DefaultPoolSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Do runs fn once a slot is free. A nil Pool runs fn directly.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}
