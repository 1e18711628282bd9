package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/yuin/goldmark"

	"github.com/jo-hoe/condenser/internal/artifacts"
	"github.com/jo-hoe/condenser/internal/common"
	"github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/events"
	"github.com/jo-hoe/condenser/internal/items"
	"github.com/jo-hoe/condenser/internal/relay"
	"github.com/jo-hoe/condenser/internal/stage"
)

type Service struct {
	Log    *slog.Logger
	Cfg    *config.Config
	Store  items.Store
	Relay  relay.Relay
	Layout artifacts.Layout
	Events events.Publisher
	// Feed serves the websocket event stream; the route is omitted when nil.
	Feed http.Handler

	validate *validator.Validate
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.validate == nil {
		svc.validate = validator.New()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathJobs, svc.withCommon(svc.handleCreateJob))
	mux.HandleFunc(http.MethodGet+" "+common.PathJobs+"/{id}", svc.handleGetJob)
	mux.HandleFunc(http.MethodGet+" "+common.PathItems+"/{id}", svc.handleGetItem)
	mux.HandleFunc(http.MethodGet+" "+common.PathItems+"/{id}/summary", svc.handleGetSummary)
	mux.HandleFunc(http.MethodPost+" "+common.PathItems+"/{id}/resubmit", svc.withCommon(svc.handleResubmit))
	if svc.Feed != nil {
		mux.Handle(http.MethodGet+" "+common.PathEvents, svc.Feed)
	}

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

// withCommon guards write endpoints.
func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if max := safeInt64(svc.Cfg.Server.MaxRequestSize); max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type createResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

func (svc *Service) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.SourceIdentifier = strings.TrimSpace(req.SourceIdentifier)
	if err := svc.validate.Struct(req); err != nil {
		http.Error(w, "invalid request: "+validationMessage(err), http.StatusBadRequest)
		return
	}

	jobID, err := svc.Submit(r.Context(), req)
	if err != nil {
		svc.Log.Error("submit job", "source", req.SourceIdentifier, "err", err)
		http.Error(w, "queue unavailable, try later", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, createResponse{
		JobID:     jobID,
		StatusURL: common.PathJobs + "/" + jobID,
	})
}

type itemRow struct {
	ItemID    string `json:"item_id"`
	Title     string `json:"title"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type jobResponse struct {
	items.JobSummary
	Items []itemRow `json:"items"`
}

// handleGetJob reports an unknown job as EMPTY; jobs exist only through their items.
func (svc *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	list, err := svc.Store.ListByJob(r.Context(), jobID)
	if err != nil {
		svc.Log.Error("list job items", "job_id", jobID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := jobResponse{JobSummary: items.Summarize(jobID, list), Items: make([]itemRow, 0, len(list))}
	for _, it := range list {
		out.Items = append(out.Items, itemRow{
			ItemID:    it.ID,
			Title:     it.Title,
			Stage:     it.Stage.String(),
			Status:    string(it.Status),
			Timestamp: it.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (svc *Service) lookup(w http.ResponseWriter, r *http.Request) (*items.WorkItem, bool) {
	id := r.PathValue("id")
	it, err := svc.Store.Get(r.Context(), id)
	if errors.Is(err, items.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		svc.Log.Error("get work item", "work_item_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return it, true
}

func (svc *Service) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (svc *Service) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	it, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	if it.Status != items.StatusCompleted {
		http.Error(w, "summary not available, item is "+strings.ToLower(string(it.Status)), http.StatusConflict)
		return
	}
	md, err := os.ReadFile(svc.Layout.Path(it, artifacts.KindSummary))
	if errors.Is(err, os.ErrNotExist) {
		http.Error(w, "summary artifact missing", http.StatusNotFound)
		return
	}
	if err != nil {
		svc.Log.Error("read summary", "work_item_id", it.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") != "html" {
		w.Header().Set("Content-Type", common.ContentTypeMarkdown)
		_, _ = w.Write(md)
		return
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(md, &buf); err != nil {
		svc.Log.Error("render summary", "work_item_id", it.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", common.ContentTypeHTML)
	_, _ = w.Write(buf.Bytes())
}

func (svc *Service) handleResubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	it, err := stage.Resubmit(r.Context(), svc.Log, svc.Store, svc.Relay, id)
	switch {
	case errors.Is(err, items.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, stage.ErrAlreadyCompleted):
		http.Error(w, "item already completed", http.StatusConflict)
	case err != nil:
		svc.Log.Error("resubmit", "work_item_id", id, "err", err)
		http.Error(w, "resubmit failed", http.StatusServiceUnavailable)
	default:
		writeJSON(w, http.StatusAccepted, it)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the websocket upgrade pass through the logging wrapper.
func (w *writeWrap) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
