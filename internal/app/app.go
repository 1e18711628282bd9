// Package app opens the shared handles of a condenser process (status store, queue relay, event sink) and
// builds the stage handlers on top of them. Every handle is opened explicitly and closed by Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/events"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/scheduler"
	"github.com/jo-hoe/condenser/internal/stage"
)

// Options select the optional parts of a process.
type Options struct {
	// Hub adds a websocket event hub for the api process.
	Hub bool
}

type App struct {
	Log    *slog.Logger
	Cfg    *config.Config
	Store  items.Store
	Relay  relay.Relay
	Events *events.Sink
	Hub    *events.Hub
	Layout artifacts.Layout
	Pool   *scheduler.Pool

	eventsRedis *redis.Client
	closers     []func() error
}

// Open connects every handle the configuration names. On error, whatever was opened is closed again.
func Open(ctx context.Context, log *slog.Logger, cfg *config.Config, opts Options) (a *App, err error) {
	a = &App{
		Log:    log,
		Cfg:    cfg,
		Layout: artifacts.NewLayout(cfg.Artifacts.Root),
		Pool:   scheduler.NewPool(cfg.Scheduler.PoolSize),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, store.Close)
	a.Store = items.WithTimeout(store, cfg.Store.Timeout)

	r, err := openRelay(ctx, log, cfg.Relay)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, r.Close)
	a.Relay = relay.WithRetry(r, log, relay.RetryOptions{
		Attempts: cfg.Relay.PublishRetries,
		Backoff:  cfg.Relay.RetryBackoff,
		Timeout:  cfg.Relay.PublishTimeout,
	})

	channels, err := a.openChannels(ctx, opts)
	if err != nil {
		return a, err
	}
	a.Events = events.NewSink(log, cfg.Events.Timeout, channels...)
	a.closers = append(a.closers, a.Events.Close)
	log.Info("handles opened",
		"store", cfg.Store.Driver, "relay", cfg.Relay.Driver, "event_channels", len(channels))
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (items.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		s, err := items.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		s, err := items.NewPostgresStore(cctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case "memory":
		return items.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func openRelay(ctx context.Context, log *slog.Logger, cfg config.RelayConfig) (relay.Relay, error) {
	switch strings.ToLower(cfg.Driver) {
	case "redis":
		return relay.DialRedis(ctx, cfg.RedisURL, log, relay.RedisOptions{
			PollTimeout:      cfg.PollTimeout,
			ReconnectBackoff: cfg.ReconnectBackoff,
		})
	case "badger":
		return relay.OpenBadger(cfg.BadgerDir, log, 0)
	case "memory":
		return relay.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported relay driver %q", cfg.Driver)
	}
}

func (a *App) openChannels(ctx context.Context, opts Options) ([]events.Channel, error) {
	cfg := a.Cfg.Events
	var channels []events.Channel
	broadcast := strings.EqualFold(cfg.Broadcast, "redis")
	if broadcast || strings.EqualFold(cfg.Stream, "redis") {
		o, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse events redis url: %w", err)
		}
		a.eventsRedis = redis.NewClient(o)
		a.closers = append(a.closers, a.eventsRedis.Close)
		pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		// events are best-effort, an unreachable server only degrades them
		if err := a.eventsRedis.Ping(pctx).Err(); err != nil {
			a.Log.Warn("events redis not reachable, events may be lost", "err", err)
		}
		if broadcast {
			channels = append(channels, events.NewRedisBroadcast(a.eventsRedis))
		}
		if strings.EqualFold(cfg.Stream, "redis") {
			channels = append(channels, events.NewRedisStream(a.eventsRedis, cfg.StreamMaxLen))
		}
	}
	if opts.Hub {
		a.Hub = events.NewHub(a.Log)
		// with a broadcast the hub is fed by RunHub's subscription, which also carries local events
		if !broadcast {
			channels = append(channels, a.Hub)
		}
	}
	if cfg.Log || len(channels) == 0 {
		channels = append(channels, events.LogChannel{Log: a.Log, Level: slog.LevelDebug})
	}
	return channels, nil
}

// RunHub serves the websocket hub until ctx is done. When events are broadcast over Redis, events emitted by
// other processes are forwarded to the hub as well.
func (a *App) RunHub(ctx context.Context) {
	if a.Hub == nil {
		return
	}
	go a.Hub.Run(ctx)
	if a.eventsRedis == nil || !strings.EqualFold(a.Cfg.Events.Broadcast, "redis") {
		return
	}
	go func() {
		for ctx.Err() == nil {
			err := events.Subscribe(ctx, a.eventsRedis, a.Log, a.Hub.Broadcast)
			if err == nil || ctx.Err() != nil {
				return
			}
			a.Log.Warn("event subscription lost, retrying", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(a.Cfg.Relay.ReconnectBackoff):
			}
		}
	}()
}

// FollowStreams reads the per-type event streams as a member of group and logs every event until ctx is done.
// A lost connection is retried after the relay reconnect backoff.
func (a *App) FollowStreams(ctx context.Context, group, consumer string) error {
	if a.eventsRedis == nil || !strings.EqualFold(a.Cfg.Events.Stream, "redis") {
		return errors.New("events.stream must be redis to follow event streams")
	}
	log := a.Log.With("group", group, "consumer", consumer)
	reader := events.StreamReader{Group: group, Consumer: consumer, Block: a.Cfg.Relay.PollTimeout}
	log.Info("following event streams", "types", events.StreamEventTypes())
	for ctx.Err() == nil {
		err := reader.Consume(ctx, a.eventsRedis, log, func(stream, id string, e events.Event) {
			log.Info("pipeline event", "stream", stream, "id", id, "event_type", e.Type,
				"timestamp", e.Timestamp, "payload", e.Payload)
		})
		if err == nil || ctx.Err() != nil {
			return nil
		}
		log.Warn("event stream reader lost, retrying", "err", err)
		select {
		case <-ctx.Done():
		case <-time.After(a.Cfg.Relay.ReconnectBackoff):
		}
	}
	return nil
}

// Deps returns the shared handles every stage is constructed with.
func (a *App) Deps() stage.Deps {
	return stage.Deps{
		Log:            a.Log,
		Store:          a.Store,
		Relay:          a.Relay,
		Events:         a.Events,
		HandoffTimeout: a.Cfg.Relay.PublishTimeout * time.Duration(a.Cfg.Relay.PublishRetries+1),
	}
}

// Close releases all handles in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
