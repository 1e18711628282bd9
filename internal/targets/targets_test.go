package targets

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/condenser/internal/items"
)

type dummyTarget struct {
	name string
	err  error
	got  []TargetRequest
}

func (d *dummyTarget) Name() string { return d.name }
func (d *dummyTarget) Post(ctx context.Context, req TargetRequest) (TargetResult, error) {
	d.got = append(d.got, req)
	if d.err != nil {
		return TargetResult{}, d.err
	}
	return TargetResult{
		TargetName: d.name,
		Location:   "loc",
		Commit:     "deadbeef",
	}, nil
}

func TestRegistry_AddGetNames(t *testing.T) {
	reg := NewRegistry()
	if len(reg.Names()) != 0 {
		t.Fatalf("expected empty registry")
	}
	reg.Add(&dummyTarget{name: "t2"})
	reg.Add(&dummyTarget{name: "t1"})

	if _, ok := reg.Get("t1"); !ok {
		t.Fatalf("expected to get target t1")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "t1" || names[1] != "t2" {
		t.Fatalf("names mismatch: %+v", names)
	}
}

func TestRegistry_PublishContinuesAfterFailure(t *testing.T) {
	bad := &dummyTarget{name: "a-bad", err: errors.New("boom")}
	good := &dummyTarget{name: "b-good"}
	reg := NewRegistry()
	reg.Add(bad)
	reg.Add(good)

	item := &items.WorkItem{ID: "vid1", JobID: "job", Title: "Title", Timestamp: "20240101", Duration: 90 * time.Second}
	results, err := reg.Publish(context.Background(), item, "# Title\n")
	if err == nil || !strings.Contains(err.Error(), "a-bad") {
		t.Fatalf("expected joined error naming the target, got %v", err)
	}
	if len(results) != 1 || results[0].TargetName != "b-good" {
		t.Fatalf("unexpected results %+v", results)
	}
	if len(good.got) != 1 || good.got[0].ItemID != "vid1" || good.got[0].Metadata["duration_seconds"] != int64(90) {
		t.Fatalf("unexpected request %+v", good.got)
	}
}

func TestObjectPathAndCommitMessage(t *testing.T) {
	req := NewRequest(&items.WorkItem{ID: "abc", Title: "A/B talk", Source: "@chan"}, "md")
	if req.UploadDate != "unknown" {
		t.Fatalf("missing upload date should render as unknown, got %q", req.UploadDate)
	}

	p, err := ObjectPath("summaries/", "", req)
	if err != nil {
		t.Fatalf("ObjectPath: %v", err)
	}
	if p != "summaries/unknown-abc.md" {
		t.Fatalf("default path = %q", p)
	}

	p, err = ObjectPath("/base", `{{ sanitize .Source }}/{{ sanitize .Title }}.md`, req)
	if err != nil {
		t.Fatalf("ObjectPath: %v", err)
	}
	if p != "base/@chan/A_B talk.md" {
		t.Fatalf("templated path = %q", p)
	}

	if _, err := ObjectPath("", "{{ .Missing", req); err == nil {
		t.Fatalf("expected template parse error")
	}

	msg, err := CommitMessage("", req)
	if err != nil || msg != "Add summary abc" {
		t.Fatalf("commit message = %q (%v)", msg, err)
	}
}
