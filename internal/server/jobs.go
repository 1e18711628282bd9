package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/util"
)

// JobRequest asks for a source to be scanned. Unset filters fall back to the discovery defaults.
type JobRequest struct {
	SourceIdentifier           string `json:"source_identifier" validate:"required,max=512"`
	ItemCountLimit             *int   `json:"item_count_limit,omitempty" validate:"omitempty,min=1,max=500"`
	MaxItemLength              *int   `json:"max_item_length,omitempty" validate:"omitempty,min=0"` // minutes
	LengthLimitCaptionlessOnly *bool  `json:"length_limit_captionless_only,omitempty"`
}

// Submit assigns a job id and enqueues one discovery message for it.
func (svc *Service) Submit(ctx context.Context, req JobRequest) (string, error) {
	jobID := util.NewID()
	msg := relay.Message{
		JobID:                      jobID,
		SourceIdentifier:           req.SourceIdentifier,
		ItemCountLimit:             req.ItemCountLimit,
		MaxItemLength:              req.MaxItemLength,
		LengthLimitCaptionlessOnly: req.LengthLimitCaptionlessOnly,
	}
	if err := svc.Relay.Publish(ctx, common.QueueDiscovery, msg); err != nil {
		return "", fmt.Errorf("enqueue discovery: %w", err)
	}
	svc.Log.Info("job submitted", "job_id", jobID, "source", req.SourceIdentifier)
	if svc.Events != nil {
		payload := map[string]any{"job_id": jobID, "source": req.SourceIdentifier}
		if req.ItemCountLimit != nil {
			payload["item_count_limit"] = *req.ItemCountLimit
		}
		svc.Events.Publish(ctx, common.EventJobSubmitted, payload)
	}
	return jobID, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
