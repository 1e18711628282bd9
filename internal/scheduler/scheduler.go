// Package scheduler bridges blocking consume loops to concurrently running units of work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jo-hoe/condenser/internal/common"
)

// Unit is one unit of work. It must return promptly once ctx is cancelled.
type Unit func(ctx context.Context)

// Handle tracks one scheduled unit.
type Handle struct {
	done      chan struct{}
	inline    bool
	cancelled atomic.Bool
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done is closed once the unit returned or was cancelled before starting.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the unit finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inline reports whether the unit ran synchronously in the scheduling goroutine.
func (h *Handle) Inline() bool { return h.inline }

// Cancelled reports whether the unit was dropped before it started.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

func (h *Handle) cancel() {
	h.cancelled.Store(true)
	close(h.done)
}

// Options tune a Scheduler.
type Options struct {
	ReadyWait   time.Duration // how long Schedule waits for Run before running a unit inline
	Buffer      int           // capacity of the hand-off channel
	MaxInFlight int           // 0 means unbounded
	Grace       time.Duration // how long shutdown waits for cancelled units to unwind
}

type task struct {
	unit Unit
	h    *Handle
}

// Scheduler runs units handed over by Schedule on their own goroutines. Run must be called once.
type Scheduler struct {
	log  *slog.Logger
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	handoff   chan task
	ready     chan struct{}
	stopped   chan struct{}
	exited    chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	// sendMu is held shared while producers hand off and exclusively once the dispatcher stops,
	// so no task can slip into the channel after it was drained.
	sendMu sync.RWMutex

	mu     sync.Mutex
	tasks  map[*Handle]struct{}
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	panics atomic.Int64
}

func New(logger *slog.Logger, opts Options) *Scheduler {
	if opts.ReadyWait <= 0 {
		opts.ReadyWait = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = common.DefaultHandoffBuffer
	}
	if opts.Grace <= 0 {
		opts.Grace = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:     logger,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		handoff: make(chan task, opts.Buffer),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
		exited:  make(chan struct{}),
		tasks:   make(map[*Handle]struct{}),
	}
	if opts.MaxInFlight > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxInFlight))
	}
	return s
}

// Run dispatches handed-off units until ctx is done or Shutdown is called, then cancels every unit and waits
// up to the grace period for them to return.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	defer close(s.exited)
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Debug("scheduler running")
	for {
		select {
		case <-s.ctx.Done():
			s.stop()
			return nil
		case t := <-s.handoff:
			s.launch(t)
		}
	}
}

// Ready is closed once Run accepts units.
func (s *Scheduler) Ready() <-chan struct{} { return s.ready }

// Schedule hands u to the running scheduler. If Run has not signalled readiness within ReadyWait, u runs
// synchronously in the caller instead. After shutdown u is not run and the handle reports Cancelled.
func (s *Scheduler) Schedule(u Unit) *Handle {
	h := newHandle()
	select {
	case <-s.stopped:
		h.cancel()
		return h
	default:
	}

	timer := time.NewTimer(s.opts.ReadyWait)
	defer timer.Stop()
	select {
	case <-s.ready:
	case <-s.stopped:
		h.cancel()
		return h
	case <-timer.C:
		s.log.Warn("scheduler not ready, running unit inline", "waited", s.opts.ReadyWait)
		s.runInline(u, h)
		return h
	}

	s.track(h)
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	select {
	case <-s.stopped:
		s.untrack(h)
		h.cancel()
	default:
		select {
		case s.handoff <- task{unit: u, h: h}:
		case <-s.stopped:
			s.untrack(h)
			h.cancel()
		}
	}
	return h
}

func (s *Scheduler) runInline(u Unit, h *Handle) {
	h.inline = true
	s.track(h)
	defer s.finish(h)
	s.execute(u)
}

func (s *Scheduler) launch(t task) {
	if s.sem != nil {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.untrack(t.h)
			t.h.cancel()
			return
		}
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.sem != nil {
			defer s.sem.Release(1)
		}
		defer s.finish(t.h)
		s.execute(t.unit)
	}()
}

func (s *Scheduler) execute(u Unit) {
	defer func() {
		if rec := recover(); rec != nil {
			s.panics.Add(1)
			s.log.Error("unit panicked", "panic", fmt.Sprint(rec))
		}
	}()
	u(s.ctx)
}

func (s *Scheduler) track(h *Handle) {
	s.mu.Lock()
	s.tasks[h] = struct{}{}
	s.mu.Unlock()
}

func (s *Scheduler) untrack(h *Handle) {
	s.mu.Lock()
	delete(s.tasks, h)
	s.mu.Unlock()
}

func (s *Scheduler) finish(h *Handle) {
	s.untrack(h)
	close(h.done)
}

// InFlight returns the number of scheduled units that have not finished.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Panics returns how many units panicked.
func (s *Scheduler) Panics() int64 { return s.panics.Load() }

func (s *Scheduler) stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.cancel()

		// Wait for producers mid hand-off, then drop everything that never started.
		s.sendMu.Lock()
		dropped := 0
	drain:
		for {
			select {
			case t := <-s.handoff:
				s.untrack(t.h)
				t.h.cancel()
				dropped++
			default:
				break drain
			}
		}
		s.sendMu.Unlock()
		if dropped > 0 {
			s.log.Info("scheduler dropped units that had not started", "count", dropped)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.wg.Wait()
		}()
		timer := time.NewTimer(s.opts.Grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			s.log.Warn("scheduler shutdown deadline reached; units may still be running", "in_flight", s.InFlight())
		}
	})
}

// Shutdown cancels all units and waits for Run to finish unwinding, at most deadline.
func (s *Scheduler) Shutdown(deadline time.Duration) {
	s.cancel()
	if !s.started.Load() {
		s.stop()
		return
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-s.exited:
	case <-timer.C:
		s.log.Warn("scheduler did not exit before deadline")
	}
}
