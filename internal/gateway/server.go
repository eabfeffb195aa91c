package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/conductor/internal/agent/llm"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/events"
)

// Options wires a Server. Config, Store, and Client are required.
type Options struct {
	Config *config.Config
	Store  sessions.Store
	Client llm.Client

	// Registry defaults to the reference tool set.
	Registry *tools.Registry

	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer

	Metrics  *observability.Metrics
	Tracer   trace.Tracer
	Logger   *slog.Logger
	LevelVar *slog.LevelVar
}

// Server is the serve-mode HTTP and websocket surface over the session
// store. Each session gets a lazily created runner holding its controller
// and fan-out queue.
type Server struct {
	store    sessions.Store
	client   llm.Client
	registry *tools.Registry
	gatherer prometheus.Gatherer
	metrics  *observability.Metrics
	logger   *slog.Logger
	levelVar *slog.LevelVar

	mu      sync.Mutex
	cfg     *config.Config
	runners map[string]*runner

	httpServer *http.Server
	sweeper    *sessions.Sweeper
}

// NewServer builds the server. It does not listen yet; call Start, or mount
// Handler on a test server.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Store == nil || opts.Client == nil {
		return nil, errors.New("gateway: Config, Store, and Client are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		var err error
		if registry, err = defaultRegistry(); err != nil {
			return nil, err
		}
	}
	s := &Server{
		store:    opts.Store,
		client:   InstrumentClient(opts.Client, opts.Metrics, opts.Tracer),
		registry: registry,
		gatherer: opts.Gatherer,
		metrics:  opts.Metrics,
		logger:   logger,
		levelVar: opts.LevelVar,
		cfg:      opts.Config,
		runners:  map[string]*runner{},
	}
	retention := opts.Config.Sessions.Retention
	s.sweeper = sessions.NewSweeper(opts.Store, retention.MaxAge, retention.Schedule, logger)
	return s, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleGetEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// Start listens and serves until Shutdown. It returns once the listener is
// bound, so callers can connect immediately after.
func (s *Server) Start() error {
	s.mu.Lock()
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	s.mu.Unlock()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := s.sweeper.Start(); err != nil {
		listener.Close()
		return err
	}

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown drains the HTTP server, stops the sweeper, and closes every
// session queue.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.sweeper.Stop()

	s.mu.Lock()
	runners := s.runners
	s.runners = map[string]*runner{}
	s.mu.Unlock()
	for _, r := range runners {
		r.close()
	}
	return err
}

// ApplyConfig takes a hot-reloaded config. Only the log level is retuned
// live; structural settings stay as booted.
func (s *Server) ApplyConfig(cfg *config.Config) {
	if s.levelVar != nil {
		s.levelVar.Set(observability.ParseLevel(cfg.Logging.Level))
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info("configuration reloaded", "log_level", cfg.Logging.Level)
}

// runnerFor returns the session's runner, creating it on first touch by
// restoring state from the store.
func (s *Server) runnerFor(ctx context.Context, id string) (*runner, error) {
	s.mu.Lock()
	if r, ok := s.runners[id]; ok {
		s.mu.Unlock()
		return r, nil
	}
	cfg := s.cfg
	s.mu.Unlock()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r, err := newRunner(ctx, cfg, runnerDeps{
		store:    s.store,
		client:   s.client,
		registry: s.registry,
		logger:   s.logger,
		metrics:  s.metrics,
	}, session)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runners[id]; ok {
		// Lost the creation race; keep the first one.
		r.close()
		return existing, nil
	}
	s.runners[id] = r
	return r, nil
}

type createSessionRequest struct {
	ID            string `json:"id,omitempty"`
	WorkspaceRoot string `json:"workspace_root"`
	Title         string `json:"title,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.WorkspaceRoot == "" {
		writeError(w, http.StatusBadRequest, "workspace_root is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	session := &sessions.Session{
		ID:            req.ID,
		WorkspaceRoot: req.WorkspaceRoot,
		Title:         req.Title,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts := sessions.ListOptions{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	list, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*sessions.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

type postMessageRequest struct {
	Content string   `json:"content"`
	Files   []string `json:"files,omitempty"`
}

// handlePostMessage accepts a user message for the session. A message to a
// running session supersedes the current task; either way the caller gets a
// 202 and follows progress over the event stream.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	runner, err := s.runnerFor(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := runner.submit(r.Context(), req.Content, req.Files...); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": id,
		"status":     "accepted",
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log, _, err := s.store.Load(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]json.RawMessage, 0, len(log))
	for _, ev := range log {
		data, err := events.Marshal(ev)
		if err != nil {
			s.logger.Warn("skipping unencodable event",
				"session_id", id, "event_id", ev.Header().ID, "error", err)
			continue
		}
		out = append(out, data)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sessions.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
