// Package statusapi exposes a read-only HTTP view of a running worker: the
// job queue, registered interfaces, generated files and the job journal.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kingrea/codeforge/internal/jobs"
	"github.com/kingrea/codeforge/internal/project"
	"github.com/kingrea/codeforge/internal/worker"
)

var errServerDisabled = errors.New("statusapi: server disabled")

// Source provides published worker state. *worker.Worker satisfies it.
type Source interface {
	Snapshot() *project.State
	State() worker.State
}

// Tailer returns recent journal lines. *logbook.Logbook satisfies it.
type Tailer interface {
	Tail(maxLines int) ([]string, int)
}

// Logger matches the minimal logging surface used across codeforge.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type nopTailer struct{}

func (nopTailer) Tail(int) ([]string, int) { return nil, 0 }

// Server serves the status routes.
type Server struct {
	settings Settings
	source   Source
	journal  Tailer
	logger   Logger
	clock    func() time.Time
	router   chi.Router

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithJournal serves /logs from t.
func WithJournal(t Tailer) Option {
	return func(s *Server) {
		if t != nil {
			s.journal = t
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New prepares a status server reading from source.
func New(settings Settings, source Source, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		source:   source,
		journal:  nopTailer{},
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Get("/health", s.handleHealth)
	r.Get("/jobs", s.handleJobs)
	r.Get("/jobs/{id}", s.handleJob)
	r.Get("/interfaces", s.handleInterfaces)
	r.Get("/files", s.handleFiles)
	r.Get("/files/*", s.handleFile)
	r.Get("/logs", s.handleLogs)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return r
}

// Start binds the listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("statusapi: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("statusapi: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusapi: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("statusapi: serve error: %v", err)
		}
	}()
	s.logger.Printf("statusapi: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type healthResponse struct {
	Status        string `json:"status"`
	Worker        string `json:"worker"`
	Jobs          int    `json:"jobs"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

type jobResponse struct {
	jobs.Job
	Pipeline jobs.Status `json:"pipeline"`
}

type logsResponse struct {
	Lines []string `json:"lines"`
	Total int      `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	resp := healthResponse{
		Status:        "ok",
		Worker:        s.source.State().String(),
		Jobs:          snap.Jobs.Len(),
		UptimeSeconds: s.uptimeSeconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Snapshot().Jobs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job id"})
		return
	}
	set := s.source.Snapshot().Jobs
	job, ok := set.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	pipeline, _ := set.Locate(id)
	writeJSON(w, http.StatusOK, jobResponse{Job: job, Pipeline: pipeline})
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	names := make([]string, 0, len(snap.Interfaces))
	for name := range snap.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]any, 0, len(names))
	for _, name := range names {
		out = append(out, snap.Interfaces[name])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"files": s.source.Snapshot().Filenames()})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	contents, ok := s.source.Snapshot().Codebase[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(contents))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := DefaultTail
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a positive integer"})
			return
		}
		n = min(parsed, MaxTail)
	}
	lines, total := s.journal.Tail(n)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Lines: lines, Total: total})
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
