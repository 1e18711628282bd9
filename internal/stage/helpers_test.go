package stage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jo-hoe/condenser/internal/events"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingRelay wraps the memory relay, records publishes and can be told to fail.
type recordingRelay struct {
	*relay.Memory

	mu        sync.Mutex
	err       error
	onPublish func(queue string, msg relay.Message)
	published []relay.Message
}

func newRecordingRelay() *recordingRelay {
	return &recordingRelay{Memory: relay.NewMemory()}
}

func (r *recordingRelay) failWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recordingRelay) Publish(ctx context.Context, name string, msg relay.Message) error {
	if r.onPublish != nil {
		r.onPublish(name, msg)
	}
	r.mu.Lock()
	err := r.err
	if err == nil {
		r.published = append(r.published, msg)
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Memory.Publish(ctx, name, msg)
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

// recorder is an event channel that keeps everything it is sent.
type recorder struct {
	mu     sync.Mutex
	err    error
	events []events.Event
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return events.Event{}
	}
	return r.events[len(r.events)-1]
}

type fakeOp struct {
	stage    items.Stage
	input    string
	inputErr error
	perform  func(ctx context.Context, item *items.WorkItem, input string) (Result, error)
	// routeTo overrides the fixed next stage.
	routeTo *items.Stage

	calls     atomic.Int32
	finalized atomic.Int32
}

func (o *fakeOp) Stage() items.Stage { return o.stage }

func (o *fakeOp) ResolveInput(ctx context.Context, item *items.WorkItem, msg relay.Message) (string, error) {
	return o.input, o.inputErr
}

func (o *fakeOp) Perform(ctx context.Context, item *items.WorkItem, input string) (Result, error) {
	o.calls.Add(1)
	if o.perform != nil {
		return o.perform(ctx, item, input)
	}
	return Result{Artifact: "/data/out"}, nil
}

func (o *fakeOp) NextStage(item *items.WorkItem, res Result) (items.Stage, bool) {
	if o.routeTo != nil {
		return *o.routeTo, true
	}
	return o.stage.Next()
}

func (o *fakeOp) EventFields(item *items.WorkItem, res Result) map[string]any {
	return map[string]any{"fake": true}
}

func (o *fakeOp) Finalize(ctx context.Context, item *items.WorkItem, res Result) {
	o.finalized.Add(1)
}

type fixture struct {
	store  *items.MemoryStore
	relay  *recordingRelay
	events *recorder
	deps   Deps
}

func newFixture() *fixture {
	f := &fixture{
		store:  items.NewMemoryStore(),
		relay:  newRecordingRelay(),
		events: &recorder{},
	}
	f.deps = Deps{
		Log:            testLogger(),
		Store:          f.store,
		Relay:          f.relay,
		Events:         events.NewSink(testLogger(), time.Second, f.events),
		HandoffTimeout: time.Second,
	}
	return f
}

func (f *fixture) seed(t *testing.T, id string, stage items.Stage, status items.Status) {
	t.Helper()
	err := f.store.Create(context.Background(), &items.WorkItem{
		ID: id, JobID: "job-1", Source: "@chan", Title: "Title " + id, Timestamp: "20240101",
		Duration: time.Minute, Stage: stage, Status: status,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func (f *fixture) get(t *testing.T, id string) *items.WorkItem {
	t.Helper()
	it, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return it
}

// hookedStore runs beforeUpdate ahead of every update and can make updates fail.
type hookedStore struct {
	items.Store
	beforeUpdate func(id string)
	updateErr    error
}

func (s *hookedStore) Update(ctx context.Context, id string, u items.Update) (bool, error) {
	if s.beforeUpdate != nil {
		s.beforeUpdate(id)
	}
	if s.updateErr != nil {
		return true, s.updateErr
	}
	return s.Store.Update(ctx, id, u)
}
