package items

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/condenser/internal/common"
)

// Stage is one phase of the fixed pipeline. The numeric value defines the total order.
type Stage int

const (
	StageDiscovery Stage = iota
	StageDownload
	StageAudioExtraction
	StageTranscription
	StageSummarization
)

var stageNames = [...]string{
	StageDiscovery:       "DISCOVERY",
	StageDownload:        "DOWNLOAD",
	StageAudioExtraction: "AUDIO_EXTRACTION",
	StageTranscription:   "TRANSCRIPTION",
	StageSummarization:   "SUMMARIZATION",
}

var stageQueues = [...]string{
	StageDiscovery:       common.QueueDiscovery,
	StageDownload:        common.QueueDownload,
	StageAudioExtraction: common.QueueAudioExtraction,
	StageTranscription:   common.QueueTranscription,
	StageSummarization:   common.QueueSummarization,
}

var stageEvents = [...]string{
	StageDiscovery:       common.EventItemDiscovered,
	StageDownload:        common.EventItemDownloaded,
	StageAudioExtraction: common.EventAudioExtracted,
	StageTranscription:   common.EventTranscriptionCompleted,
	StageSummarization:   common.EventSummarizationCompleted,
}

// Stages lists every stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageDiscovery, StageDownload, StageAudioExtraction, StageTranscription, StageSummarization}
}

// Valid reports whether s is one of the five known stages.
func (s Stage) Valid() bool {
	return s >= StageDiscovery && s <= StageSummarization
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Queue returns the name of the queue owned by this stage.
func (s Stage) Queue() string {
	if !s.Valid() {
		return ""
	}
	return stageQueues[s]
}

// EventType returns the event emitted when this stage completes an item.
func (s Stage) EventType() string {
	if !s.Valid() {
		return ""
	}
	return stageEvents[s]
}

// Next returns the stage following s in the fixed order. ok is false for the terminal stage.
func (s Stage) Next() (next Stage, ok bool) {
	if !s.Valid() || s == StageSummarization {
		return s, false
	}
	return s + 1, true
}

// Before reports whether s strictly precedes o.
func (s Stage) Before(o Stage) bool { return s < o }

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStage accepts the canonical upper-case name as well as lower-case and hyphenated forms
// ("audio-extraction").
func ParseStage(s string) (Stage, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for i, name := range stageNames {
		if name == norm || strings.ReplaceAll(name, "_", "") == norm {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// Status is the coarse outcome of a WorkItem, orthogonal to its stage.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no stage will touch an item with this status again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrNotFound        = errors.New("work item not found")
	ErrAlreadyExists   = errors.New("work item already exists")
	ErrStageRegression = errors.New("stage regression")
	ErrTerminalStatus  = errors.New("work item status is terminal")
	ErrConflict        = errors.New("work item changed concurrently")
)

// Superseded reports whether an update was refused because a later write already owns the item.
func Superseded(err error) bool {
	return errors.Is(err, ErrStageRegression) || errors.Is(err, ErrTerminalStatus) || errors.Is(err, ErrConflict)
}

// WorkItem is one media item travelling through the pipeline.
type WorkItem struct {
	ID               string        `json:"item_id"`          // external id, assigned once by discovery
	JobID            string        `json:"job_id"`           // submission that discovered the item
	Source           string        `json:"source"`           // source collection identifier (channel)
	Title            string        `json:"title"`            // display title
	Timestamp        string        `json:"timestamp"`        // upload date, YYYYMMDD
	Duration         time.Duration `json:"duration"`         // media length
	Stage            Stage         `json:"stage"`            // current or last owner
	Status           Status        `json:"status"`           // PROCESSING, COMPLETED or FAILED
	ArtifactPointer  string        `json:"artifact_pointer"` // most recent produced artifact
	HasAltTranscript bool          `json:"has_alt_transcript"`
	Error            string        `json:"error,omitempty"` // last failure reason, if any
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Update is a partial set of mutable WorkItem fields. Nil fields are left untouched.
type Update struct {
	Stage           *Stage
	Status          *Status
	ArtifactPointer *string
	Error           *string
	// Reset lets a FAILED or COMPLETED item return to PROCESSING. Only resubmission sets it.
	Reset bool
}

// Advance returns the update committed after a successful handoff to next.
func Advance(next Stage, status Status, artifact string) Update {
	return Update{Stage: &next, Status: &status, ArtifactPointer: &artifact}
}

// Fail returns the update marking an item FAILED while owned by stage.
func Fail(stage Stage, reason string) Update {
	st := StatusFailed
	return Update{Stage: &stage, Status: &st, Error: &reason}
}

// Reset returns the update that puts an item back to PROCESSING at stage for resubmission.
func Reset(stage Stage) Update {
	st, none := StatusProcessing, ""
	return Update{Stage: &stage, Status: &st, Error: &none, Reset: true}
}

// Apply returns a copy of w with u applied. Stage may only move forward along the fixed order, and a
// FAILED or COMPLETED item keeps its stage and status unless u is a Reset.
func (w WorkItem) Apply(u Update) (WorkItem, error) {
	if w.Status.Terminal() && !u.Reset {
		if (u.Status != nil && *u.Status != w.Status) || (u.Stage != nil && *u.Stage != w.Stage) {
			return w, fmt.Errorf("%w: %s at %s", ErrTerminalStatus, w.Status, w.Stage)
		}
	}
	if u.Stage != nil {
		if !u.Stage.Valid() {
			return w, fmt.Errorf("apply update: invalid stage %d", int(*u.Stage))
		}
		if u.Stage.Before(w.Stage) {
			return w, fmt.Errorf("%w: %s -> %s", ErrStageRegression, w.Stage, *u.Stage)
		}
		w.Stage = *u.Stage
	}
	if u.Status != nil {
		w.Status = *u.Status
	}
	if u.ArtifactPointer != nil {
		w.ArtifactPointer = *u.ArtifactPointer
	}
	if u.Error != nil {
		w.Error = *u.Error
	}
	return w, nil
}

// Store defines persistence for WorkItems.
type Store interface {
	// Create inserts a new item. It returns ErrAlreadyExists if the id is present.
	Create(ctx context.Context, item *WorkItem) error
	// Update applies u in a single transaction. It returns false if the id is unknown.
	Update(ctx context.Context, id string, u Update) (bool, error)
	// Get returns ErrNotFound if the id is unknown.
	Get(ctx context.Context, id string) (*WorkItem, error)
	ListByJob(ctx context.Context, jobID string) ([]WorkItem, error)
	Close() error
}
