package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
)

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) Publish(ctx context.Context, eventType string, payload map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	return true
}

func (r *recordingEvents) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type fixture struct {
	svc    *Service
	srv    *httptest.Server
	store  *items.MemoryStore
	relay  *relay.Memory
	events *recordingEvents
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Server.APIKey = apiKey
	f := &fixture{
		store:  items.NewMemoryStore(),
		relay:  relay.NewMemory(),
		events: &recordingEvents{},
	}
	f.svc = &Service{
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cfg:    cfg,
		Store:  f.store,
		Relay:  f.relay,
		Layout: artifacts.NewLayout(t.TempDir()),
		Events: f.events,
	}
	f.srv = httptest.NewServer(NewHTTPServer(f.svc).Handler)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) seed(t *testing.T, it items.WorkItem) {
	t.Helper()
	if err := f.store.Create(context.Background(), &it); err != nil {
		t.Fatalf("seed %s: %v", it.ID, err)
	}
}

// next receives one message from queue.
func (f *fixture) next(t *testing.T, queue string) relay.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got relay.Message
	_ = f.relay.Consume(ctx, queue, func(_ context.Context, d *relay.Delivery) {
		got = d.Message
		cancel()
	})
	if got.JobID == "" && got.WorkItemID == "" {
		t.Fatalf("no message on %s", queue)
	}
	return got
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "")
	resp := f.do(t, http.MethodGet, common.PathHealthz, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestCreateJob_EnqueuesDiscovery(t *testing.T) {
	f := newFixture(t, "")
	resp := f.do(t, http.MethodPost, common.PathJobs, `{"source_identifier":"@chan","item_count_limit":2}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, b)
	}
	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.JobID == "" || out.StatusURL != common.PathJobs+"/"+out.JobID {
		t.Fatalf("unexpected response %+v", out)
	}

	msg := f.next(t, common.QueueDiscovery)
	if msg.JobID != out.JobID || msg.SourceIdentifier != "@chan" || msg.ItemCountLimit == nil || *msg.ItemCountLimit != 2 {
		t.Fatalf("unexpected discovery message %+v", msg)
	}
	if msg.MaxItemLength != nil || msg.LengthLimitCaptionlessOnly != nil {
		t.Fatalf("unset filters must stay unset: %+v", msg)
	}
	if got := f.events.seen(); len(got) != 1 || got[0] != common.EventJobSubmitted {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCreateJob_Validation(t *testing.T) {
	f := newFixture(t, "")
	cases := []string{
		`{}`,
		`{"source_identifier":"   "}`,
		`{"source_identifier":"@chan","item_count_limit":0}`,
		`{"source_identifier":"@chan","max_item_length":-1}`,
		`{"source_identifier":"@chan","unknown":true}`,
		`not json`,
	}
	for _, body := range cases {
		if resp := f.do(t, http.MethodPost, common.PathJobs, body, nil); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
	if n := f.relay.Len(common.QueueDiscovery); n != 0 {
		t.Fatalf("invalid requests must not enqueue, got %d", n)
	}
}

func TestCreateJob_APIKey(t *testing.T) {
	f := newFixture(t, "secret")
	body := `{"source_identifier":"@chan"}`
	if resp := f.do(t, http.MethodPost, common.PathJobs, body, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key: status = %d", resp.StatusCode)
	}
	resp := f.do(t, http.MethodPost, common.PathJobs, body, map[string]string{common.HeaderAPIKey: "secret"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("with key: status = %d", resp.StatusCode)
	}
}

func TestGetJob(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, items.WorkItem{ID: "a", JobID: "j1", Title: "A", Timestamp: "20240101", Stage: items.StageSummarization, Status: items.StatusCompleted})
	f.seed(t, items.WorkItem{ID: "b", JobID: "j1", Title: "B", Timestamp: "20240102", Stage: items.StageTranscription, Status: items.StatusFailed})
	f.seed(t, items.WorkItem{ID: "c", JobID: "other", Stage: items.StageDownload, Status: items.StatusProcessing})

	resp := f.do(t, http.MethodGet, common.PathJobs+"/j1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		JobID  string    `json:"job_id"`
		Status string    `json:"status"`
		Total  int       `json:"total"`
		Items  []itemRow `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.JobID != "j1" || out.Status != string(items.JobCompleted) || out.Total != 2 || len(out.Items) != 2 {
		t.Fatalf("unexpected job %+v", out)
	}
	byID := map[string]itemRow{}
	for _, r := range out.Items {
		byID[r.ItemID] = r
	}
	if byID["b"].Stage != "TRANSCRIPTION" || byID["b"].Status != "FAILED" || byID["a"].Timestamp != "20240101" {
		t.Fatalf("unexpected rows %+v", out.Items)
	}
}

func TestGetJob_Unknown(t *testing.T) {
	f := newFixture(t, "")
	resp := f.do(t, http.MethodGet, common.PathJobs+"/nope", "", nil)
	var out jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || out.Status != items.JobEmpty || len(out.Items) != 0 {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, out)
	}
}

func TestGetItem(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, items.WorkItem{ID: "a", JobID: "j1", Title: "A", Stage: items.StageDownload, Status: items.StatusProcessing, HasAltTranscript: true})

	resp := f.do(t, http.MethodGet, common.PathItems+"/a", "", nil)
	var it items.WorkItem
	if err := json.NewDecoder(resp.Body).Decode(&it); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if it.ID != "a" || it.Stage != items.StageDownload || !it.HasAltTranscript {
		t.Fatalf("unexpected item %+v", it)
	}
	if resp := f.do(t, http.MethodGet, common.PathItems+"/missing", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing item status = %d", resp.StatusCode)
	}
}

func TestGetSummary(t *testing.T) {
	f := newFixture(t, "")
	done := items.WorkItem{ID: "a", JobID: "j1", Title: "Talk", Timestamp: "20240101", Stage: items.StageSummarization, Status: items.StatusCompleted}
	f.seed(t, done)
	f.seed(t, items.WorkItem{ID: "b", JobID: "j1", Stage: items.StageTranscription, Status: items.StatusProcessing})
	path := f.svc.Layout.Path(&done, artifacts.KindSummary)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("# Talk\n\n- point one\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, http.MethodGet, common.PathItems+"/a/summary", "", nil)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "# Talk\n\n- point one\n" {
		t.Fatalf("markdown: %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != common.ContentTypeMarkdown {
		t.Fatalf("content type = %q", ct)
	}

	resp = f.do(t, http.MethodGet, common.PathItems+"/a/summary?format=html", "", nil)
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<h1>Talk</h1>") || !strings.Contains(string(body), "<li>point one</li>") {
		t.Fatalf("html: %q", body)
	}

	if resp := f.do(t, http.MethodGet, common.PathItems+"/b/summary", "", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("unfinished item status = %d", resp.StatusCode)
	}
}

func TestResubmit(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, items.WorkItem{ID: "failed", JobID: "j1", Stage: items.StageTranscription, Status: items.StatusFailed, Error: "boom", ArtifactPointer: "/a/audio.wav"})
	f.seed(t, items.WorkItem{ID: "done", JobID: "j1", Stage: items.StageSummarization, Status: items.StatusCompleted})

	resp := f.do(t, http.MethodPost, common.PathItems+"/failed/resubmit", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	msg := f.next(t, common.QueueTranscription)
	if msg.WorkItemID != "failed" || msg.Artifact != "/a/audio.wav" {
		t.Fatalf("unexpected message %+v", msg)
	}
	it, _ := f.store.Get(context.Background(), "failed")
	if it.Status != items.StatusProcessing || it.Error != "" {
		t.Fatalf("item not reset: %+v", it)
	}

	if resp := f.do(t, http.MethodPost, common.PathItems+"/done/resubmit", "", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("completed item status = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, common.PathItems+"/missing/resubmit", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing item status = %d", resp.StatusCode)
	}
}
