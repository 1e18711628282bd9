package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
)

// Candidate is one entry of a source listing.
type Candidate struct {
	ID    string
	Title string
}

// Details is the metadata needed to filter a candidate and create its work item.
type Details struct {
	ID               string
	Title            string
	Timestamp        string // YYYYMMDD
	Duration         time.Duration
	HasAltTranscript bool
}

// MetadataFetcher lists a source and describes single items.
type MetadataFetcher interface {
	ListCandidates(ctx context.Context, source string) ([]Candidate, error)
	FetchDetails(ctx context.Context, id string) (*Details, error)
}

// Filter limits what discovery turns into work items.
type Filter struct {
	ItemCountLimit int
	// MaxItemLength of zero disables the length check.
	MaxItemLength time.Duration
	// LengthLimitCaptionlessOnly exempts items with captions from MaxItemLength.
	LengthLimitCaptionlessOnly bool
}

// DefaultFilter is used for every field a discovery request leaves unset.
func DefaultFilter() Filter {
	return Filter{
		ItemCountLimit:             common.DefaultItemCountLimit,
		MaxItemLength:              common.DefaultMaxItemLengthMins * time.Minute,
		LengthLimitCaptionlessOnly: true,
	}
}

// withRequest overlays the optional request fields.
func (f Filter) withRequest(msg relay.Message) Filter {
	if msg.ItemCountLimit != nil {
		f.ItemCountLimit = *msg.ItemCountLimit
	}
	if msg.MaxItemLength != nil {
		f.MaxItemLength = time.Duration(*msg.MaxItemLength) * time.Minute
	}
	if msg.LengthLimitCaptionlessOnly != nil {
		f.LengthLimitCaptionlessOnly = *msg.LengthLimitCaptionlessOnly
	}
	return f
}

// reject returns why d is filtered out, "" if it passes.
func (f Filter) reject(d *Details) string {
	if d.Duration <= 0 {
		return "unknown duration"
	}
	if f.MaxItemLength <= 0 || d.Duration <= f.MaxItemLength {
		return ""
	}
	if f.LengthLimitCaptionlessOnly && d.HasAltTranscript {
		return ""
	}
	return fmt.Sprintf("longer than %s", f.MaxItemLength)
}

// Report summarises one discovery run.
type Report struct {
	Listed    int
	Existing  int
	Filtered  int
	Errors    int
	HandedOff int
}

// Discovery turns a source listing into new work items and hands each to the download stage.
type Discovery struct {
	pipeline
	fetcher  MetadataFetcher
	defaults Filter
}

var _ MessageHandler = (*Discovery)(nil)

func NewDiscovery(deps Deps, fetcher MetadataFetcher, defaults Filter) *Discovery {
	return &Discovery{pipeline: newPipeline(deps), fetcher: fetcher, defaults: defaults}
}

func (d *Discovery) Stage() items.Stage { return items.StageDiscovery }

func (d *Discovery) Handle(ctx context.Context, msg relay.Message) {
	if _, err := d.Discover(ctx, msg); err != nil {
		d.Log.Error("discovery failed", "source", msg.SourceIdentifier, "job_id", msg.JobID, "err", err)
	}
}

// Discover lists msg.SourceIdentifier and creates up to ItemCountLimit new items. Items already known to the
// store are skipped silently. Only a failing listing is returned as an error.
func (d *Discovery) Discover(ctx context.Context, msg relay.Message) (Report, error) {
	var rep Report
	source := msg.SourceIdentifier
	if source == "" {
		return rep, errors.New("discovery request without source_identifier")
	}
	filter := d.defaults.withRequest(msg)
	log := d.Log.With("stage", items.StageDiscovery.String(), "source", source, "job_id", msg.JobID)

	candidates, err := d.fetcher.ListCandidates(ctx, source)
	if err != nil {
		return rep, fmt.Errorf("list %s: %w", source, err)
	}
	rep.Listed = len(candidates)
	log.Info("source listed", "candidates", len(candidates), "limit", filter.ItemCountLimit)

	for _, c := range candidates {
		if rep.HandedOff >= filter.ItemCountLimit || ctx.Err() != nil {
			break
		}
		if c.ID == "" {
			continue
		}
		clog := log.With("work_item_id", c.ID)

		_, err := d.Store.Get(ctx, c.ID)
		if err == nil {
			rep.Existing++
			clog.Debug("already known, skipping")
			continue
		}
		if !errors.Is(err, items.ErrNotFound) {
			rep.Errors++
			clog.Warn("lookup failed", "err", err)
			continue
		}

		det, err := d.fetcher.FetchDetails(ctx, c.ID)
		if err != nil {
			rep.Errors++
			clog.Warn("fetch details failed", "err", err)
			continue
		}
		if reason := filter.reject(det); reason != "" {
			rep.Filtered++
			clog.Info("candidate filtered", "reason", reason, "duration", det.Duration)
			continue
		}

		title := det.Title
		if title == "" {
			title = c.Title
		}
		item := &items.WorkItem{
			ID:               c.ID,
			JobID:            msg.JobID,
			Source:           source,
			Title:            title,
			Timestamp:        det.Timestamp,
			Duration:         det.Duration,
			Stage:            items.StageDiscovery,
			Status:           items.StatusProcessing,
			HasAltTranscript: det.HasAltTranscript,
		}
		if err := d.Store.Create(ctx, item); err != nil {
			if errors.Is(err, items.ErrAlreadyExists) {
				rep.Existing++
				clog.Debug("created concurrently, skipping")
				continue
			}
			rep.Errors++
			clog.Warn("create work item failed", "err", err)
			continue
		}

		updated, outcome := d.handOff(ctx, clog, item, items.StageDiscovery, items.StageDownload, true, "")
		if outcome == OutcomePublishFailed || outcome == OutcomeFailed {
			rep.Errors++
			continue
		}
		rep.HandedOff++

		payload := basePayload(&updated)
		payload["next_stage"] = items.StageDownload.String()
		payload["source"] = source
		payload["duration_seconds"] = int(det.Duration.Seconds())
		payload["has_alt_transcript"] = det.HasAltTranscript
		d.emit(ctx, items.StageDiscovery.EventType(), payload)
	}

	log.Info("discovery finished", "handed_off", rep.HandedOff, "existing", rep.Existing,
		"filtered", rep.Filtered, "errors", rep.Errors)
	return rep, nil
}
