package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dpr/internal/api"
	"dpr/internal/dpr"
	"dpr/internal/pipeline"
	"dpr/internal/storage"
)

// Options configure a Server.
type Options struct {
	Addr      string
	Store     *storage.Store
	Pipeline  *pipeline.Pipeline
	Stack     *dpr.Stack // used by the synchronous /reconstruct endpoint
	OutputDir string     // submitted runs write below this directory
	InputDirs []string   // submitted inputs must live below one of these
	Logger    *slog.Logger
	NewID     func() string
}

// Server exposes run history, run submission and live progress over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	stack    *dpr.Stack
	roots    api.Roots
	newID    func() string
	log      *slog.Logger
	hub      *hub
	server   *http.Server
}

// NewServer creates a server; call Start to listen or Handler for tests.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stack := opts.Stack
	if stack == nil {
		stack = &dpr.Stack{Logger: logger}
	}
	newID := opts.NewID
	if newID == nil {
		newID = defaultID
	}
	return &Server{
		addr:     opts.Addr,
		store:    opts.Store,
		pipeline: opts.Pipeline,
		stack:    stack,
		roots:    api.Roots{Inputs: opts.InputDirs, Output: opts.OutputDir},
		newID:    newID,
		log:      logger,
		hub:      newHub(logger),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	stopPump := s.pump(ctx)
	defer stopPump()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("http server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// pump forwards pipeline events to websocket clients until ctx is done.
func (s *Server) pump(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	go s.hub.run(ctx)
	if s.pipeline == nil {
		return cancel
	}
	events, unsub := s.pipeline.Subscribe()
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.hub.publish(ev)
			}
		}
	}()
	return cancel
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)
	r.HandleFunc("/reconstruct", s.handleReconstruct).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
}
