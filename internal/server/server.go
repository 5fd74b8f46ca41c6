package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tessera/internal/collage"
	"tessera/internal/errors"
	"tessera/internal/jobstore"
	"tessera/internal/pipeline"
	"tessera/internal/storage"
)

// Options wires a Server.
type Options struct {
	Addr      string
	OutputDir string
	// InputRoot confines server-side paths named by JSON submissions.
	// Empty disables path inputs; uploads are always accepted.
	InputRoot string
	Defaults  collage.Params
	Store     *storage.Store      // optional job history
	Status    *jobstore.Store     // live job status
	Pipeline  *pipeline.Pipeline  // job queue
	Gatherer  prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Log       *slog.Logger
}

// Server exposes the collage job API over HTTP.
type Server struct {
	opts   Options
	log    *slog.Logger
	server *http.Server
	now    func() time.Time
}

// NewServer creates a server. Status and Pipeline are required.
func NewServer(opts Options) (*Server, error) {
	if opts.Status == nil || opts.Pipeline == nil {
		return nil, fmt.Errorf("server requires a job status store and a pipeline")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Server{opts: opts, log: opts.Log, now: time.Now}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	s.setupCollageRoutes(r)
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.opts.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// setupRoutes configures operational routes.
func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleJobs lists recent jobs from history, or from the live status store
// when no history database is configured.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, errors.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	if s.opts.Store == nil {
		snaps := s.opts.Status.List()
		if len(snaps) > limit {
			snaps = snaps[:limit]
		}
		writeJSON(w, http.StatusOK, snaps)
		return
	}
	recs, err := s.opts.Store.RecentJobs(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []storage.JobRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// streamEvent is the SSE payload for one pipeline event.
type streamEvent struct {
	JobID   string            `json:"job_id"`
	Percent int               `json:"percent,omitempty"`
	Stage   collage.Stage     `json:"stage"`
	Message string            `json:"message,omitempty"`
	Result  *collage.Metadata `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func toStreamEvent(ev pipeline.Event) streamEvent {
	if ev.Type == pipeline.EventProgress {
		p := ev.Progress
		return streamEvent{JobID: p.JobID, Percent: p.Percent, Stage: p.Stage, Message: p.Message}
	}
	res := ev.Result
	if res.Error != nil {
		return streamEvent{JobID: res.Job.ID, Stage: collage.StageFailed, Error: errors.UserMessage(res.Error)}
	}
	return streamEvent{JobID: res.Job.ID, Percent: collage.PctCompleted, Stage: collage.StageCompleted, Result: res.Meta}
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	only := r.URL.Query().Get("job")

	events, unsubscribe := s.opts.Pipeline.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload := toStreamEvent(ev)
			if only != "" && payload.JobID != only {
				continue
			}
			data, _ := json.Marshal(payload)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code"`
}

// writeError maps coded errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeValidation:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorBody{Error: errors.UserMessage(err), Code: code})
}
