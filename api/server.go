// Package api exposes the task pipeline over HTTP: uploads, task status and
// results, analysis management, health and metrics, and a websocket stream
// of task progress.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"insightpdf/db"
	"insightpdf/metrics"
	"insightpdf/pipeline"
	"insightpdf/tasks"
)

// JobQueue schedules pipeline work. *pipeline.Queue satisfies it.
type JobQueue interface {
	Enqueue(job pipeline.Job) error
	Busy(taskID string) bool
	Stats() (queued, running int)
}

// ProviderSet resolves vision provider names. *vision.Registry satisfies it.
type ProviderSet interface {
	Check(name string) error
	Default() string
	Configured() []string
}

// RunHistory reads persisted analysis runs. *db.RunRepository satisfies it.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int, taskID string) ([]db.RunRecord, error)
}

// Config holds the server settings.
type Config struct {
	Addr        string
	Version     string
	DataDir     string
	UploadDir   string
	OutputDir   string
	MaxFileSize int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Deps are the collaborators behind the handlers. History and Hub are
// optional.
type Deps struct {
	Store     *tasks.Store
	Queue     JobQueue
	Providers ProviderSet
	Metrics   metrics.Collector
	History   RunHistory
	Hub       *Hub
}

// Server is the HTTP front of the service.
type Server struct {
	cfg       Config
	store     *tasks.Store
	queue     JobQueue
	providers ProviderSet
	metrics   metrics.Collector
	history   RunHistory
	hub       *Hub
	logger    *zap.Logger
	started   time.Time

	router     chi.Router
	httpServer *http.Server
}

// NewServer wires the router. Store, Queue and Providers are required.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Store == nil || deps.Queue == nil || deps.Providers == nil {
		return nil, errors.New("api: store, queue and providers are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}

	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		queue:     deps.Queue,
		providers: deps.Providers,
		metrics:   deps.Metrics,
		history:   deps.History,
		hub:       deps.Hub,
		logger:    logger,
		started:   time.Now(),
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.hub == nil {
		s.hub = NewHub(DefaultHubConfig(), s.initialState, logger)
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(s.logger, "/health", "/ws"))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.hub.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/cleanup", s.handleCleanup)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/status", s.handleTaskStatus)
				r.Get("/result", s.handleTaskResult)
				r.Post("/cancel", s.handleCancelTask)
				r.Delete("/", s.handleDeleteTask)
			})
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/upload-tasks/{id}/images", s.handleUploadImages)
			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", s.handleCreateAnalysis)
				r.Post("/from-upload", s.handleCreateAnalysisFromUpload)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAnalysis)
					r.Post("/execute", s.handleExecuteAnalysis)
					r.Get("/download", s.handleDownloadResult)
					r.Delete("/", s.handleDeleteAnalysis)
				})
			})
		})

		r.Get("/metrics", s.handleMetrics)
		r.Get("/runs", s.handleRuns)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, r.Method+" is not allowed on "+r.URL.Path)
	})
	return r
}

// initialState is sent to websocket clients when they connect.
func (s *Server) initialState() any {
	list := s.store.List(defaultListLimit, "")
	out := make([]TaskStatus, 0, len(list))
	for _, t := range list {
		out = append(out, NewTaskStatus(t))
	}
	return out
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown disconnects websocket clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
