package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger is an embedded, durable Relay for single-host deployments where all stage services share one process
// or one data directory. Messages are ordered by a per-queue sequence.
type Badger struct {
	db           *badger.DB
	log          *slog.Logger
	pollInterval time.Duration

	mu     sync.Mutex
	seqs   map[string]*badger.Sequence
	notify map[string]chan struct{}
}

var _ Relay = (*Badger)(nil)

// OpenBadger opens (or creates) the queue database under dir.
func OpenBadger(dir string, log *slog.Logger, pollInterval time.Duration) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger queue db: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Badger{
		db:           db,
		log:          log,
		pollInterval: pollInterval,
		seqs:         make(map[string]*badger.Sequence),
		notify:       make(map[string]chan struct{}),
	}, nil
}

func readyPrefix(name string) []byte { return []byte("q/" + name + "/") }

func inflightPrefix(name string) []byte { return []byte("p/" + name + "/") }

func readyKey(name string, n uint64) []byte { return []byte(fmt.Sprintf("q/%s/%020d", name, n)) }

func (b *Badger) wake(name string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.notify[name]
	if !ok {
		ch = make(chan struct{}, 1)
		b.notify[name] = ch
	}
	return ch
}

func (b *Badger) sequence(name string) (*badger.Sequence, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.seqs[name]; ok {
		return s, nil
	}
	s, err := b.db.GetSequence([]byte("seq/"+name), 100)
	if err != nil {
		return nil, err
	}
	b.seqs[name] = s
	return s, nil
}

func (b *Badger) Declare(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty queue name", ErrFatal)
	}
	if _, err := b.sequence(name); err != nil {
		return fmt.Errorf("%w: declare %s: %w", ErrFatal, name, err)
	}
	b.wake(name)
	return nil
}

func (b *Badger) Publish(ctx context.Context, name string, msg Message) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", ErrFatal, err)
	}
	seq, err := b.sequence(name)
	if err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrFatal, name, err)
	}
	n, err := seq.Next()
	if err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrFatal, name, err)
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(readyKey(name, n), body)
	}); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: publish %s: %w", ErrTransient, name, err)
		}
		return fmt.Errorf("%w: publish %s: %w", ErrFatal, name, err)
	}
	select {
	case b.wake(name) <- struct{}{}:
	default:
	}
	return nil
}

// claim moves the oldest ready message to the in-flight keyspace.
func (b *Badger) claim(name string) (key, body []byte, err error) {
	err = b.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 1, Prefix: readyPrefix(name)})
		defer it.Close()
		it.Rewind()
		if !it.Valid() {
			return nil
		}
		item := it.Item()
		key = item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		body = v
		flight := append(inflightPrefix(name), bytes.TrimPrefix(key, readyPrefix(name))...)
		if err := txn.Set(flight, body); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, nil, nil
	}
	return key, body, err
}

func (b *Badger) Consume(ctx context.Context, name string, h Handler) error {
	wake := b.wake(name)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		key, body, err := b.claim(name)
		if err != nil {
			b.log.Warn("badger claim failed", "queue", name, "err", err)
		}
		if body == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
			case <-ticker.C:
			}
			continue
		}
		flight := append(inflightPrefix(name), bytes.TrimPrefix(key, readyPrefix(name))...)
		msg, err := Decode(body)
		if err != nil {
			b.log.Error("dropping undecodable message", "queue", name, "err", err)
			_ = b.delete(flight)
			continue
		}
		ack := func() error { return b.delete(flight) }
		nack := func(requeue bool) error {
			return b.db.Update(func(txn *badger.Txn) error {
				if requeue {
					if err := txn.Set(key, body); err != nil {
						return err
					}
				}
				return txn.Delete(flight)
			})
		}
		h(ctx, NewDelivery(name, body, msg, ack, nack))
	}
}

func (b *Badger) delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) })
}

func (b *Badger) Close() error {
	b.mu.Lock()
	for _, s := range b.seqs {
		_ = s.Release()
	}
	b.seqs = map[string]*badger.Sequence{}
	b.mu.Unlock()
	return b.db.Close()
}
