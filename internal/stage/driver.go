package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
)

// ErrAlreadyCompleted is returned when resubmitting an item that finished the pipeline.
var ErrAlreadyCompleted = errors.New("work item already completed")

// Driver executes one Operation per message. It is the generic part shared by every stage after discovery.
type Driver struct {
	pipeline
	op Operation
}

var _ MessageHandler = (*Driver)(nil)

func NewDriver(deps Deps, op Operation) *Driver {
	return &Driver{pipeline: newPipeline(deps), op: op}
}

// Stage returns the stage this driver serves.
func (d *Driver) Stage() items.Stage { return d.op.Stage() }

func (d *Driver) Handle(ctx context.Context, msg relay.Message) {
	d.Process(ctx, msg)
}

// Process loads the item, skips it unless this stage still owns it, performs the operation and hands the
// item to its next stage. Publishing always precedes the commit.
func (d *Driver) Process(ctx context.Context, msg relay.Message) Outcome {
	stage := d.op.Stage()
	log := d.Log.With("stage", stage.String(), "work_item_id", msg.WorkItemID, "job_id", msg.JobID)

	if msg.WorkItemID == "" {
		log.Error("message carries no work_item_id, dropping")
		return OutcomeNotFound
	}
	item, err := d.Store.Get(ctx, msg.WorkItemID)
	if errors.Is(err, items.ErrNotFound) {
		log.Warn("work item not found, dropping message")
		return OutcomeNotFound
	}
	if err != nil {
		log.Error("load work item", "err", err)
		return OutcomeAborted
	}

	if stage.Before(item.Stage) || item.Status.Terminal() {
		log.Info("work item not owned by this stage, skipping", "item_stage", item.Stage, "status", item.Status)
		return OutcomeSkipped
	}

	input, err := d.op.ResolveInput(ctx, item, msg)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("unit cancelled while resolving input, work item unchanged")
			return OutcomeCancelled
		}
		d.fail(ctx, log, item, stage, fmt.Errorf("resolve input: %w", err))
		return OutcomeFailed
	}

	res, err := d.op.Perform(ctx, item, input)
	if err == nil && res.Artifact == "" {
		err = errors.New("operation produced no artifact")
	}
	if err != nil {
		if ctx.Err() != nil {
			log.Info("unit cancelled during operation, work item unchanged", "err", err)
			return OutcomeCancelled
		}
		d.fail(ctx, log, item, stage, err)
		return OutcomeFailed
	}
	if ctx.Err() != nil {
		log.Info("unit cancelled before handoff, work item unchanged")
		return OutcomeCancelled
	}

	next, hasNext := d.op.NextStage(item, res)
	updated, outcome := d.handOff(ctx, log, item, stage, next, hasNext, res.Artifact)
	switch outcome {
	case OutcomeHandedOff, OutcomeCompleted:
	case OutcomeCommitFailed:
		// still PROCESSING in the store: no cleanup, no publication, no completion event
		if !hasNext {
			return outcome
		}
	default:
		return outcome
	}

	if !hasNext {
		if f, ok := d.op.(Finalizer); ok {
			fctx, cancel := d.detached(ctx)
			f.Finalize(fctx, &updated, res)
			cancel()
		}
	}

	payload := basePayload(&updated)
	payload["cached"] = res.Cached
	if hasNext {
		payload["next_stage"] = next.String()
	}
	for k, v := range d.op.EventFields(&updated, res) {
		payload[k] = v
	}
	for k, v := range res.Fields {
		payload[k] = v
	}
	d.emit(ctx, stage.EventType(), payload)
	return outcome
}

// Resubmit re-queues an item on the queue of the stage that currently owns it. FAILED items are reset to
// PROCESSING first, since the consuming stage skips terminal items; COMPLETED items are rejected. If the
// publish fails, the prior status and error are restored.
func Resubmit(ctx context.Context, log *slog.Logger, store items.Store, r relay.Relay, id string) (*items.WorkItem, error) {
	item, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == items.StatusCompleted {
		return item, fmt.Errorf("%w: %s", ErrAlreadyCompleted, id)
	}
	prior := *item
	msg := relay.Message{WorkItemID: item.ID, JobID: item.JobID, Artifact: item.ArtifactPointer}
	if item.Stage == items.StageDiscovery {
		// Discovery is keyed by source, so an item stuck there is moved on to download.
		item.Stage = items.StageDownload
	}
	if _, err := store.Update(ctx, id, items.Reset(item.Stage)); err != nil {
		return &prior, fmt.Errorf("resubmit %s: %w", id, err)
	}
	item.Status, item.Error = items.StatusProcessing, ""
	if err := r.Publish(ctx, item.Stage.Queue(), msg); err != nil {
		if prior.Status == items.StatusFailed {
			if _, rerr := store.Update(context.WithoutCancel(ctx), id, items.Fail(item.Stage, prior.Error)); rerr != nil {
				log.Error("could not restore failed status after resubmit", "work_item_id", id, "err", rerr)
			}
		}
		return &prior, fmt.Errorf("resubmit %s: %w", id, err)
	}
	log.Info("work item resubmitted", "work_item_id", id, "stage", item.Stage)
	return item, nil
}
