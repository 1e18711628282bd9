package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/events"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
)

const defaultHandoffTimeout = 30 * time.Second

// Deps are the shared handles every stage is constructed with.
type Deps struct {
	Log    *slog.Logger
	Store  items.Store
	Relay  relay.Relay
	Events events.Publisher
	// HandoffTimeout bounds publish plus commit once a unit reached the handoff.
	HandoffTimeout time.Duration
}

type pipeline struct {
	Deps
}

func newPipeline(d Deps) pipeline {
	if d.HandoffTimeout <= 0 {
		d.HandoffTimeout = defaultHandoffTimeout
	}
	return pipeline{Deps: d}
}

// detached keeps the handoff alive when the unit is cancelled mid-way, so a published message is always
// followed by its commit.
func (p pipeline) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.HandoffTimeout)
}

// handOff publishes to next (when hasNext) and only then commits the item. The returned item reflects the
// committed state; on publish failure the persisted item is left untouched.
func (p pipeline) handOff(ctx context.Context, log *slog.Logger, item *items.WorkItem, from, next items.Stage, hasNext bool, artifact string) (items.WorkItem, Outcome) {
	var update items.Update
	if hasNext {
		update = items.Advance(next, items.StatusProcessing, artifact)
	} else {
		update = items.Advance(from, items.StatusCompleted, artifact)
	}
	updated, err := item.Apply(update)
	if err != nil {
		log.Error("invalid stage transition", "from", from, "next", next, "err", err)
		p.fail(ctx, log, item, from, err)
		return *item, OutcomeFailed
	}

	hctx, cancel := p.detached(ctx)
	defer cancel()

	if hasNext {
		msg := relay.Message{WorkItemID: item.ID, JobID: item.JobID, Artifact: artifact}
		if err := p.Relay.Publish(hctx, next.Queue(), msg); err != nil {
			log.Error("handoff publish failed, item left at its previous state",
				"next_stage", next, "transient", relay.IsTransient(err), "err", err)
			return *item, OutcomePublishFailed
		}
	}

	ok, err := p.Store.Update(hctx, item.ID, update)
	switch {
	case items.Superseded(err):
		// the next stage already moved the item on, or settled it as FAILED or COMPLETED
		log.Info("commit superseded by a later write", "next_stage", next, "reason", err)
		if !hasNext {
			return *item, OutcomeSuperseded
		}
	case err != nil:
		log.Error("commit after handoff failed", "next_stage", next, "err", err)
		return updated, OutcomeCommitFailed
	case !ok:
		log.Warn("work item disappeared before commit")
	}
	if hasNext {
		log.Info("work item handed off", "next_stage", next)
		return updated, OutcomeHandedOff
	}
	log.Info("work item completed")
	return updated, OutcomeCompleted
}

// fail marks item FAILED at stage and emits a failure event. It never returns an error; store problems are
// logged and leave the item re-processable.
func (p pipeline) fail(ctx context.Context, log *slog.Logger, item *items.WorkItem, at items.Stage, cause error) {
	hctx, cancel := p.detached(ctx)
	defer cancel()
	reason := cause.Error()
	ok, err := p.Store.Update(hctx, item.ID, items.Fail(at, reason))
	switch {
	case items.Superseded(err):
		log.Info("work item already settled by a later write, failure not recorded", "cause", reason, "reason", err)
	case err != nil:
		log.Error("could not mark work item failed", "cause", reason, "err", err)
	case !ok:
		log.Warn("work item disappeared before it could be marked failed", "cause", reason)
	default:
		log.Warn("work item failed", "cause", reason)
	}
	payload := basePayload(item)
	payload["stage"] = at.String()
	payload["status"] = string(items.StatusFailed)
	payload["error"] = reason
	p.emit(ctx, common.EventItemFailed, payload)
}

func (p pipeline) emit(ctx context.Context, eventType string, payload map[string]any) {
	if p.Events == nil {
		return
	}
	p.Events.Publish(ctx, eventType, payload)
}

func basePayload(item *items.WorkItem) map[string]any {
	return map[string]any{
		"work_item_id": item.ID,
		"job_id":       item.JobID,
		"title":        item.Title,
		"stage":        item.Stage.String(),
		"status":       string(item.Status),
		"artifact":     item.ArtifactPointer,
	}
}
