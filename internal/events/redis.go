package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/condenser/internal/common"
)

// RedisBroadcast publishes events on one Pub/Sub channel; every subscriber sees every event.
type RedisBroadcast struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisBroadcast(client redis.UniversalClient) *RedisBroadcast {
	return &RedisBroadcast{client: client, channel: common.RedisEventsChannel}
}

func (b *RedisBroadcast) Name() string { return "redis-broadcast" }

func (b *RedisBroadcast) Send(ctx context.Context, e Event) error {
	body, err := e.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroadcast) Close() error { return nil }

// RedisStream appends events to a stream partitioned by event type, trimmed to roughly maxLen entries.
type RedisStream struct {
	client redis.UniversalClient
	maxLen int64
}

func NewRedisStream(client redis.UniversalClient, maxLen int64) *RedisStream {
	return &RedisStream{client: client, maxLen: maxLen}
}

// StreamKey returns the stream holding events of the given type.
func StreamKey(eventType string) string {
	return common.RedisStreamPrefix + strings.ReplaceAll(strings.ToLower(eventType), " ", "_")
}

func (s *RedisStream) Name() string { return "redis-stream" }

func (s *RedisStream) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: StreamKey(e.Type),
		Values: map[string]any{
			"event_type": e.Type,
			"payload":    string(payload),
			"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

func (s *RedisStream) Close() error { return nil }

// Subscribe forwards events from the broadcast channel to fn until ctx is done.
func Subscribe(ctx context.Context, client redis.UniversalClient, log *slog.Logger, fn func(Event)) error {
	sub := client.Subscribe(ctx, common.RedisEventsChannel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				log.Warn("ignoring malformed event", "err", err)
				continue
			}
			fn(e)
		}
	}
}

// StreamEventTypes lists the event types written to per-type streams by the pipeline.
func StreamEventTypes() []string {
	return []string{
		common.EventJobSubmitted,
		common.EventItemDiscovered,
		common.EventItemDownloaded,
		common.EventAudioExtracted,
		common.EventTranscriptionCompleted,
		common.EventSummarizationCompleted,
		common.EventItemFailed,
	}
}

// StreamReader configures a consumer-group reader over the per-type streams.
type StreamReader struct {
	Group    string
	Consumer string
	Types    []string
	// Block bounds one XREADGROUP call so a cancelled context is noticed.
	Block time.Duration
	Count int64
}

// Consume reads the streams as a member of the group, earliest entry first, and
// calls fn for each entry. Entries are acknowledged once fn returns, malformed
// ones included. Returns nil when ctx is done, after the current batch.
func (r StreamReader) Consume(ctx context.Context, client redis.UniversalClient, log *slog.Logger, fn func(stream, id string, e Event)) error {
	if r.Group == "" || r.Consumer == "" {
		return errors.New("stream reader needs a group and a consumer name")
	}
	types := r.Types
	if len(types) == 0 {
		types = StreamEventTypes()
	}
	block := r.Block
	if block <= 0 {
		block = time.Second
	}
	count := r.Count
	if count <= 0 {
		count = 100
	}

	keys := make([]string, 0, len(types))
	for _, t := range types {
		key := StreamKey(t)
		err := client.XGroupCreateMkStream(ctx, key, r.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", r.Group, key, err)
		}
		keys = append(keys, key)
	}
	streams := append([]string{}, keys...)
	for range keys {
		streams = append(streams, ">")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.Group,
			Consumer: r.Consumer,
			Streams:  streams,
			Count:    count,
			Block:    block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event streams: %w", err)
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				e, derr := decodeStreamEntry(msg)
				if derr != nil {
					log.Warn("ignoring malformed stream entry", "stream", stream.Stream, "id", msg.ID, "err", derr)
				} else {
					fn(stream.Stream, msg.ID, e)
				}
				// a handled entry is acknowledged even when ctx was cancelled meanwhile
				if err := client.XAck(context.WithoutCancel(ctx), stream.Stream, r.Group, msg.ID).Err(); err != nil {
					return fmt.Errorf("ack %s %s: %w", stream.Stream, msg.ID, err)
				}
			}
		}
	}
}

func decodeStreamEntry(msg redis.XMessage) (Event, error) {
	var e Event
	e.Type, _ = msg.Values["event_type"].(string)
	if e.Type == "" {
		return e, errors.New("missing event_type")
	}
	if raw, _ := msg.Values["payload"].(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return e, fmt.Errorf("decode payload: %w", err)
		}
	}
	if ts, _ := msg.Values["timestamp"].(string); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return e, fmt.Errorf("decode timestamp: %w", err)
		}
		e.Timestamp = t
	}
	return e, nil
}
