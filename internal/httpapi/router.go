// Package httpapi exposes the build scheduler over HTTP: job submission,
// introspection, cancellation, artifact cleanup, live log streaming and
// metrics.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"texforge/internal/backend"
	"texforge/internal/config"
	"texforge/internal/scheduler"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Server wires HTTP handlers around the scheduler and backend.
type Server struct {
	sched    *scheduler.Scheduler
	store    scheduler.Store
	backend  backend.Backend
	streamer *LogStreamer
	notifier *Notifier
	targets  map[string]config.Target
	logger   *slog.Logger
}

// NewServer constructs the API server and subscribes its event consumers to
// the scheduler's hub.
func NewServer(sched *scheduler.Scheduler, store scheduler.Store, b backend.Backend, streamer *LogStreamer, notifier *Notifier, targets map[string]config.Target, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if targets == nil {
		targets = map[string]config.Target{}
	}
	s := &Server{
		sched:    sched,
		store:    store,
		backend:  b,
		streamer: streamer,
		notifier: notifier,
		targets:  targets,
		logger:   logger,
	}
	sched.Events().Subscribe(streamer.HandleEvent)
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logging)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/builds", s.handleSubmit)
	r.Get("/builds/{id}", s.handleGetBuild)
	r.Post("/builds/{id}/cancel", s.handleCancelBuild)
	r.Get("/builds/{id}/logs", s.handleBuildLogs)

	r.Get("/queue", s.handleQueue)
	r.Post("/targets/cancel-queued", s.handleCancelQueued)
	r.Post("/clean", s.handleClean)
	return r
}

type submitRequest struct {
	// Target references a named target from the targets file. When set, the
	// descriptor fields below are ignored.
	Target string `json:"target,omitempty"`

	TargetKey   string   `json:"target_key,omitempty"`
	Entrypoint  string   `json:"entrypoint,omitempty"`
	Engine      string   `json:"engine,omitempty"`
	OutputDir   string   `json:"output_dir,omitempty"`
	ShellEscape bool     `json:"shell_escape,omitempty"`
	ExtraArgs   []string `json:"extra_args,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`

	WebhookURL string `json:"webhook_url,omitempty"`
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	TargetKey string `json:"target_key"`
	Status    string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, req *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid json")
		return
	}

	desc, errMsg := s.descriptorFor(body)
	if errMsg != "" {
		respondWithError(w, http.StatusBadRequest, errMsg)
		return
	}
	if !s.backend.IsAvailable(req.Context()) {
		respondWithError(w, http.StatusServiceUnavailable, s.backend.Name()+" toolchain is not available")
		return
	}

	ticket := s.sched.Compile(desc)
	s.notifier.Watch(ticket, body.WebhookURL)

	status := string(scheduler.StatusQueued)
	if rec, ok := s.store.Get(ticket.JobID); ok {
		status = string(rec.Status)
	}
	respondWithJSON(w, http.StatusAccepted, submitResponse{
		JobID:     ticket.JobID,
		TargetKey: ticket.TargetKey,
		Status:    status,
	})
}

func (s *Server) descriptorFor(body submitRequest) (backend.Descriptor, string) {
	if body.Target != "" {
		t, ok := s.targets[body.Target]
		if !ok {
			return backend.Descriptor{}, "unknown target " + body.Target
		}
		return t.Descriptor(), ""
	}
	if body.TargetKey == "" {
		return backend.Descriptor{}, "target_key is required"
	}
	if body.Entrypoint == "" {
		return backend.Descriptor{}, "entrypoint is required"
	}
	desc := backend.Descriptor{
		TargetKey:   body.TargetKey,
		Entrypoint:  body.Entrypoint,
		Engine:      backend.Engine(body.Engine),
		OutputDir:   body.OutputDir,
		ShellEscape: body.ShellEscape,
		ExtraArgs:   body.ExtraArgs,
	}
	if body.Timeout != "" {
		d, err := time.ParseDuration(body.Timeout)
		if err != nil {
			return backend.Descriptor{}, "invalid timeout"
		}
		desc.Timeout = d
	}
	return desc, ""
}

func (s *Server) handleGetBuild(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	rec, ok := s.store.Get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "not found")
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancelBuild(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	cancelled := s.sched.CancelJob(id)
	respondWithJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleQueue(w http.ResponseWriter, req *http.Request) {
	jobs := s.sched.QueuedJobs()
	if jobs == nil {
		jobs = []scheduler.Job{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"queued": jobs})
}

type cancelQueuedRequest struct {
	TargetKey string `json:"target_key"`
}

func (s *Server) handleCancelQueued(w http.ResponseWriter, req *http.Request) {
	var body cancelQueuedRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.TargetKey == "" {
		respondWithError(w, http.StatusBadRequest, "target_key is required")
		return
	}
	count := s.sched.CancelQueuedJobs(body.TargetKey)
	respondWithJSON(w, http.StatusOK, map[string]int{"cancelled": count})
}

func (s *Server) handleClean(w http.ResponseWriter, req *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid json")
		return
	}
	desc, errMsg := s.descriptorFor(body)
	if errMsg != "" {
		respondWithError(w, http.StatusBadRequest, errMsg)
		return
	}
	if s.sched.IsCompiling(desc.TargetKey) {
		respondWithError(w, http.StatusConflict, "a build is running for this target")
		return
	}
	res := s.backend.Clean(req.Context(), desc)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	respondWithJSON(w, status, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"backend":           s.backend.Name(),
		"backend_available": s.backend.IsAvailable(req.Context()),
	})
}

// handleBuildLogs upgrades to a websocket and streams live output for one
// job until the build finishes or the client disconnects. For a job that is
// already terminal it replays the outcome banner and closes right away.
func (s *Server) handleBuildLogs(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	rec, ok := s.store.Get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "not found")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	if rec.Status.Terminal() {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(terminalBanner(rec)))
		conn.Close()
		return
	}

	s.streamer.Subscribe(id, conn)
	defer s.streamer.Unsubscribe(id, conn)

	// The job may have finished between the store lookup and the
	// subscription, in which case its CloseJob already ran and no more
	// messages will arrive.
	if rec, ok := s.store.Get(id); ok && rec.Status.Terminal() {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(terminalBanner(rec)))
		conn.Close()
		return
	}

	// Keep the connection open until the peer goes away.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			conn.Close()
			break
		}
	}
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}
