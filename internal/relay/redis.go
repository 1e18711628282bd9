package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/condenser/internal/common"
)

// RedisOptions tune the Redis relay.
type RedisOptions struct {
	PollTimeout      time.Duration // how long one BLMOVE blocks before re-checking ctx
	ReconnectBackoff time.Duration // fixed wait between reconnection attempts
	AckTimeout       time.Duration
}

// Redis implements Relay on Redis lists. Each queue is a list; a received message is moved atomically onto a
// per-queue processing list and removed from there on Ack.
type Redis struct {
	client *redis.Client
	log    *slog.Logger
	opts   RedisOptions
}

var _ Relay = (*Redis)(nil)

// NewRedis takes ownership of client; Close closes it.
func NewRedis(client *redis.Client, log *slog.Logger, opts RedisOptions) *Redis {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 5 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	return &Redis{client: client, log: log, opts: opts}
}

// DialRedis parses url, then blocks until the server answers or ctx is done.
func DialRedis(ctx context.Context, url string, log *slog.Logger, opts RedisOptions) (*Redis, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	r := NewRedis(redis.NewClient(o), log, opts)
	if err := r.WaitReady(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// WaitReady pings until the server answers, sleeping the fixed reconnect backoff between attempts.
func (r *Redis) WaitReady(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := r.client.Ping(ctx).Err()
		if err == nil {
			if attempt > 1 {
				r.log.Info("redis connection established", "attempts", attempt)
			}
			return nil
		}
		r.log.Warn("redis not reachable, retrying", "attempt", attempt, "backoff", r.opts.ReconnectBackoff, "err", err)
		if !sleepCtx(ctx, r.opts.ReconnectBackoff) {
			return fmt.Errorf("%w: wait for redis: %w", ErrTransient, ctx.Err())
		}
	}
}

func queueKey(name string) string {
	return common.RedisQueuePrefix + name
}

func processingKey(name string) string {
	return queueKey(name) + common.RedisProcessingSuffix
}

func (r *Redis) Declare(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty queue name", ErrFatal)
	}
	return classify("declare "+name, r.client.SAdd(ctx, common.RedisQueueRegistry, name).Err())
}

func (r *Redis) Publish(ctx context.Context, name string, msg Message) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", ErrFatal, err)
	}
	return classify("publish "+name, r.client.LPush(ctx, queueKey(name), body).Err())
}

func (r *Redis) Consume(ctx context.Context, name string, h Handler) error {
	src, proc := queueKey(name), processingKey(name)
	log := r.log.With("queue", name)
	for {
		if ctx.Err() != nil {
			return nil
		}
		body, err := r.client.BLMove(ctx, src, proc, "RIGHT", "LEFT", r.opts.PollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("consume failed, reconnecting", "err", err)
			if err := r.WaitReady(ctx); err != nil {
				return nil
			}
			continue
		}

		msg, err := Decode([]byte(body))
		if err != nil {
			log.Error("dropping undecodable message", "err", err)
			_ = r.remove(proc, body)
			continue
		}
		ack := func() error { return r.remove(proc, body) }
		nack := func(requeue bool) error { return r.reject(src, proc, body, requeue) }
		h(ctx, NewDelivery(name, []byte(body), msg, ack, nack))
	}
}

func (r *Redis) remove(proc, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.AckTimeout)
	defer cancel()
	return classify("ack", r.client.LRem(ctx, proc, 1, body).Err())
}

func (r *Redis) reject(src, proc, body string, requeue bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.AckTimeout)
	defer cancel()
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, proc, 1, body)
		if requeue {
			p.RPush(ctx, src, body)
		}
		return nil
	})
	return classify("nack", err)
}

// Depth returns the number of messages waiting on a queue.
func (r *Redis) Depth(ctx context.Context, name string) (int64, error) {
	n, err := r.client.LLen(ctx, queueKey(name)).Result()
	return n, classify("depth "+name, err)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
