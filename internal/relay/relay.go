// Package relay moves stage handoff messages between stage services through named durable queues.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

var (
	// ErrTransient marks failures worth retrying (connection loss, timeouts).
	ErrTransient = errors.New("transient relay error")
	// ErrFatal marks failures that will not succeed on retry.
	ErrFatal = errors.New("fatal relay error")
)

// IsTransient reports whether err is marked as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Message is the JSON body exchanged between stages. Optional fields are only set by the stages that need them.
type Message struct {
	WorkItemID string `json:"work_item_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Artifact   string `json:"artifact,omitempty"`

	// Discovery request fields.
	SourceIdentifier           string `json:"source_identifier,omitempty"`
	ItemCountLimit             *int   `json:"item_count_limit,omitempty"`
	MaxItemLength              *int   `json:"max_item_length,omitempty"` // minutes
	LengthLimitCaptionlessOnly *bool  `json:"length_limit_captionless_only,omitempty"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%w: decode message: %v", ErrFatal, err)
	}
	return m, nil
}

// Delivery is one received message with manual acknowledgement.
type Delivery struct {
	Message Message
	Queue   string
	Body    []byte

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery builds a Delivery; ack and nack may be nil for transports without acknowledgement.
func NewDelivery(queue string, body []byte, msg Message, ack func() error, nack func(requeue bool) error) *Delivery {
	return &Delivery{Message: msg, Queue: queue, Body: body, ack: ack, nack: nack}
}

// Ack removes the message from the broker. Repeated calls are no-ops.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	f := d.ack
	d.ack, d.nack = nil, nil
	return f()
}

// Nack rejects the message, optionally putting it back on its queue.
func (d *Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	f := d.nack
	d.ack, d.nack = nil, nil
	return f(requeue)
}

// Handler processes one delivery. It owns acknowledgement.
type Handler func(ctx context.Context, d *Delivery)

// Relay is a durable point-to-point transport with one queue per stage.
type Relay interface {
	// Declare makes sure queue name exists. Calling it repeatedly is harmless.
	Declare(ctx context.Context, name string) error
	// Publish returns only after the broker accepted msg. Errors wrap ErrTransient or ErrFatal.
	Publish(ctx context.Context, name string, msg Message) error
	// Consume blocks, invoking h for each message, until ctx is done.
	Consume(ctx context.Context, name string, h Handler) error
	Close() error
}

// classify wraps err with ErrTransient for network-level failures and ErrFatal otherwise.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrFatal) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrFatal, op, err)
}

// sleepCtx waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
