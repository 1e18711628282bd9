package stage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/scheduler"
)

// Runner consumes one queue and hands every acknowledged message to a scheduler as a unit of work.
type Runner struct {
	log     *slog.Logger
	relay   relay.Relay
	queue   string
	handler MessageHandler
	sched   *scheduler.Scheduler
	grace   time.Duration
}

func NewRunner(log *slog.Logger, r relay.Relay, queue string, h MessageHandler, opts scheduler.Options) *Runner {
	return &Runner{
		log:     log.With("queue", queue),
		relay:   r,
		queue:   queue,
		handler: h,
		sched:   scheduler.New(log.With("queue", queue), opts),
		grace:   opts.Grace,
	}
}

// Ready is closed once the runner's scheduler accepts units.
func (r *Runner) Ready() <-chan struct{} { return r.sched.Ready() }

// Run blocks until ctx is done or consuming fails fatally. In-flight units are cancelled on return.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.relay.Declare(ctx, r.queue); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedDone := make(chan error, 1)
	go func() { schedDone <- r.sched.Run(ctx) }()

	r.log.Info("consuming")
	err := r.relay.Consume(ctx, r.queue, r.deliver)
	cancel()
	grace := r.grace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	r.sched.Shutdown(grace)
	if serr := <-schedDone; serr != nil && err == nil {
		err = serr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.log.Info("stopped consuming")
	return nil
}

// deliver acknowledges on receipt; a crash after this point loses the message, not the work item.
func (r *Runner) deliver(ctx context.Context, d *relay.Delivery) {
	if err := d.Ack(); err != nil {
		r.log.Warn("ack failed", "err", err)
	}
	msg := d.Message
	h := r.sched.Schedule(func(uctx context.Context) {
		r.handler.Handle(uctx, msg)
	})
	if h.Cancelled() {
		r.log.Warn("scheduler stopped, message dropped", "work_item_id", msg.WorkItemID)
	}
}
