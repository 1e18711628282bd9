package targets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/items"
)

const (
	DefaultFilenameTemplate = `{{ .UploadDate }}-{{ .ItemID }}.md`
	DefaultCommitTemplate   = `Add summary {{ .ItemID }}`
)

// Target is an output destination for a Markdown summary.
type Target interface {
	Name() string
	Post(ctx context.Context, req TargetRequest) (TargetResult, error)
}

// TargetRequest contains data needed to post a summary.
type TargetRequest struct {
	ItemID     string
	JobID      string
	Title      string
	Source     string
	UploadDate string // YYYYMMDD, "unknown" when missing
	Markdown   string
	Metadata   map[string]any
	Timestamp  time.Time
}

// TargetResult describes where the content landed.
type TargetResult struct {
	TargetName string
	Location   string
	Commit     string
}

// NewRequest builds the request for a finished item.
func NewRequest(item *items.WorkItem, markdown string) TargetRequest {
	date := item.Timestamp
	if date == "" {
		date = "unknown"
	}
	return TargetRequest{
		ItemID:     item.ID,
		JobID:      item.JobID,
		Title:      item.Title,
		Source:     item.Source,
		UploadDate: date,
		Markdown:   markdown,
		Metadata: map[string]any{
			"duration_seconds":   int64(item.Duration.Seconds()),
			"has_alt_transcript": item.HasAltTranscript,
		},
		Timestamp: time.Now().UTC(),
	}
}

var templateFuncs = template.FuncMap{
	"sanitize": artifacts.Sanitize,
	"lower":    strings.ToLower,
}

// Render executes tplStr (or defaultTpl when blank) against req.
func Render(tplStr, defaultTpl, name string, req TargetRequest) (string, error) {
	s := strings.TrimSpace(tplStr)
	if s == "" {
		s = defaultTpl
	}
	tpl, err := template.New(name).Funcs(templateFuncs).Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ObjectPath renders the filename template below basePath using forward slashes.
func ObjectPath(basePath, tplStr string, req TargetRequest) (string, error) {
	name, err := Render(tplStr, DefaultFilenameTemplate, "filename", req)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = fmt.Sprintf("%s-%s.md", req.UploadDate, req.ItemID)
	}
	if basePath != "" {
		name = path.Join(basePath, name)
	}
	return strings.TrimPrefix(path.Clean("/"+name), "/"), nil
}

// CommitMessage renders the commit message template.
func CommitMessage(tplStr string, req TargetRequest) (string, error) {
	msg, err := Render(tplStr, DefaultCommitTemplate, "commit", req)
	if err != nil {
		return "", err
	}
	if msg == "" {
		msg = "Add summary"
	}
	return msg, nil
}

// Registry holds initialized targets by name.
type Registry struct {
	byName map[string]Target
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Target)}
}

func (r *Registry) Add(t Target) {
	r.byName[t.Name()] = t
}

func (r *Registry) Get(name string) (Target, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns the registered target names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for k := range r.byName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int { return len(r.byName) }

// Publish posts the summary of item to every registered target. A failing target does not stop the others;
// their errors are joined.
func (r *Registry) Publish(ctx context.Context, item *items.WorkItem, markdown string) ([]TargetResult, error) {
	req := NewRequest(item, markdown)
	var (
		results []TargetResult
		errs    []error
	)
	for _, name := range r.Names() {
		res, err := r.byName[name].Post(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", name, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
