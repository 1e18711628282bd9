// Package events fans best-effort pipeline notifications out to independent delivery channels.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is an observability notification. Observers may see it zero or more times, in any order.
type Event struct {
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Channel is one independent delivery path for events.
type Channel interface {
	Name() string
	Send(ctx context.Context, e Event) error
	Close() error
}

// Publisher is what pipeline code depends on.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) bool
}

// Sink sends every event to all of its channels in parallel.
type Sink struct {
	log      *slog.Logger
	channels []Channel
	timeout  time.Duration
	now      func() time.Time
}

var _ Publisher = (*Sink)(nil)

func NewSink(log *slog.Logger, timeout time.Duration, channels ...Channel) *Sink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{log: log, channels: channels, timeout: timeout, now: time.Now}
}

// Publish returns true if at least one channel accepted the event. It never panics and never blocks longer
// than the sink timeout; failures are only logged.
func (s *Sink) Publish(ctx context.Context, eventType string, payload map[string]any) bool {
	if s == nil || len(s.channels) == 0 {
		return false
	}
	e := Event{Type: eventType, Payload: payload, Timestamp: s.now().UTC()}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	results := make([]bool, len(s.channels))
	var wg sync.WaitGroup
	for i, ch := range s.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.send(ctx, ch, e)
		}()
	}
	wg.Wait()

	for _, ok := range results {
		if ok {
			return true
		}
	}
	s.log.Warn("event not delivered to any channel", "event_type", eventType)
	return false
}

func (s *Sink) send(ctx context.Context, ch Channel, e Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("event channel panicked", "channel", ch.Name(), "event_type", e.Type, "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	if err := ch.Send(ctx, e); err != nil {
		s.log.Warn("event channel failed", "channel", ch.Name(), "event_type", e.Type, "err", err)
		return false
	}
	return true
}

// Close closes every channel, returning the first error.
func (s *Sink) Close() error {
	var first error
	for _, ch := range s.channels {
		if err := ch.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogChannel writes events to a logger. It stands in for a disabled channel.
type LogChannel struct {
	Log   *slog.Logger
	Level slog.Level
}

func (c LogChannel) Name() string { return "log" }

func (c LogChannel) Send(ctx context.Context, e Event) error {
	c.Log.Log(ctx, c.Level, "event", "event_type", e.Type, "payload", e.Payload)
	return nil
}

func (c LogChannel) Close() error { return nil }
