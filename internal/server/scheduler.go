package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jo-hoe/condenser/internal/config"
)

// Submitter enqueues a job.
type Submitter interface {
	Submit(ctx context.Context, req JobRequest) (string, error)
}

// Scheduler submits configured discovery jobs on cron schedules.
type Scheduler struct {
	log    *slog.Logger
	cron   *cron.Cron
	submit Submitter
}

func NewScheduler(log *slog.Logger, submit Submitter, schedules []config.ScheduleConfig) (*Scheduler, error) {
	cl := cronLogger{log: log}
	s := &Scheduler{
		log:    log,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		submit: submit,
	}
	for i, sc := range schedules {
		name := sc.Name
		if name == "" {
			name = fmt.Sprintf("schedule-%d", i)
		}
		req := JobRequest{
			SourceIdentifier:           sc.SourceIdentifier,
			ItemCountLimit:             sc.ItemCountLimit,
			MaxItemLength:              sc.MaxItemLength,
			LengthLimitCaptionlessOnly: sc.LengthLimitCaptionlessOnly,
		}
		if _, err := s.cron.AddFunc(sc.Cron, func() { s.fire(name, req) }); err != nil {
			return nil, fmt.Errorf("schedule %s: invalid cron %q: %w", name, sc.Cron, err)
		}
	}
	return s, nil
}

func (s *Scheduler) fire(name string, req JobRequest) {
	jobID, err := s.submit.Submit(context.Background(), req)
	if err != nil {
		s.log.Error("scheduled submission failed", "schedule", name, "source", req.SourceIdentifier, "err", err)
		return
	}
	s.log.Info("scheduled job submitted", "schedule", name, "job_id", jobID)
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running submission, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
