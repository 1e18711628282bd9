// Package stage runs one pipeline stage: it turns queue messages into units of work, executes the
// stage-specific operation and hands the item to the next stage.
package stage

import (
	"context"
	"errors"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
)

// ErrMissingInput is returned by ResolveInput when the artifact a stage consumes does not exist.
var ErrMissingInput = errors.New("required input artifact missing")

// Result is what a successful operation produced.
type Result struct {
	Artifact string         // pointer persisted on the item and handed to the next stage
	Kind     artifacts.Kind // what Artifact is; used for routing
	Cached   bool           // output already existed, no external call was made
	Fields   map[string]any // stage specific event payload
}

// Operation is the stage-specific part plugged into the generic Driver.
type Operation interface {
	Stage() items.Stage
	// ResolveInput returns the artifact the operation consumes, "" if it needs none.
	ResolveInput(ctx context.Context, item *items.WorkItem, msg relay.Message) (string, error)
	Perform(ctx context.Context, item *items.WorkItem, input string) (Result, error)
	// NextStage returns where the item goes next; ok is false when this stage is terminal for it.
	NextStage(item *items.WorkItem, res Result) (next items.Stage, ok bool)
	EventFields(item *items.WorkItem, res Result) map[string]any
}

// Finalizer is implemented by operations that need a hook after the terminal commit
// (retention cleanup, publication). Failures there must be handled by the operation itself.
type Finalizer interface {
	Finalize(ctx context.Context, item *items.WorkItem, res Result)
}

// MessageHandler processes one already acknowledged message.
type MessageHandler interface {
	Handle(ctx context.Context, msg relay.Message)
}

// Outcome reports how processing of one message ended.
type Outcome int

const (
	OutcomeHandedOff     Outcome = iota // published to the next stage and committed
	OutcomeCompleted                    // terminal stage committed COMPLETED
	OutcomeFailed                       // item marked FAILED
	OutcomeNotFound                     // message referenced no known item
	OutcomeSkipped                      // item already owned by a later stage or terminal
	OutcomeCancelled                    // unit cancelled before handoff, item unchanged
	OutcomePublishFailed                // handoff publish failed, item unchanged
	OutcomeCommitFailed                 // handoff published but the store update failed
	OutcomeAborted                      // status store unavailable, nothing changed
	OutcomeSuperseded                   // terminal commit refused, another write already settled the item
)

var outcomeNames = [...]string{
	OutcomeHandedOff:     "handed_off",
	OutcomeCompleted:     "completed",
	OutcomeFailed:        "failed",
	OutcomeNotFound:      "not_found",
	OutcomeSkipped:       "skipped",
	OutcomeCancelled:     "cancelled",
	OutcomePublishFailed: "publish_failed",
	OutcomeCommitFailed:  "commit_failed",
	OutcomeAborted:       "aborted",
	OutcomeSuperseded:    "superseded",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}
