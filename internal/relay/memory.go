package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const memoryQueueCapacity = 1024

// Memory is an in-process Relay backed by buffered channels. Messages do not survive a restart.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	closed bool
}

var _ Relay = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{queues: make(map[string]chan []byte)}
}

func (m *Memory) queue(name string) (chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: relay closed", ErrFatal)
	}
	q, ok := m.queues[name]
	if !ok {
		q = make(chan []byte, memoryQueueCapacity)
		m.queues[name] = q
	}
	return q, nil
}

func (m *Memory) Declare(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty queue name", ErrFatal)
	}
	_, err := m.queue(name)
	return err
}

func (m *Memory) Publish(ctx context.Context, name string, msg Message) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", ErrFatal, err)
	}
	q, err := m.queue(name)
	if err != nil {
		return err
	}
	select {
	case q <- body:
		return nil
	case <-ctx.Done():
		return classify("publish "+name, ctx.Err())
	}
}

func (m *Memory) Consume(ctx context.Context, name string, h Handler) error {
	q, err := m.queue(name)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case body := <-q:
			msg, err := Decode(body)
			if err != nil {
				continue
			}
			requeue := func(again bool) error {
				if !again {
					return nil
				}
				select {
				case q <- body:
					return nil
				default:
					return errors.New("queue full")
				}
			}
			h(ctx, NewDelivery(name, body, msg, func() error { return nil }, requeue))
		}
	}
}

// Len reports the number of messages waiting on a queue.
func (m *Memory) Len(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return len(q)
	}
	return 0
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
