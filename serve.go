package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"insightpdf/api"
	"insightpdf/core"
	"insightpdf/logging"
	"insightpdf/pipeline"
	"insightpdf/shutdown"
)

func newServeCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.serve(nil)
		},
	}
}

// serve loads configuration, validates the environment and runs the service
// until a signal arrives or stop is closed. A nil stop listens for SIGINT and
// SIGTERM instead.
func (e *environment) serve(stop <-chan struct{}) error {
	cfg, logger, err := e.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	return runServer(cfg, logger, stop)
}

func runServer(cfg *core.Config, logger *logging.Logger, stop <-chan struct{}) error {
	log := logger.Zap()
	mgr := shutdown.NewManager(log.Named("shutdown"), shutdown.WithTimeout(cfg.ShutdownTimeout))
	if stop == nil {
		mgr.Start()
	} else {
		go func() {
			select {
			case <-stop:
				mgr.Trigger()
			case <-mgr.Context().Done():
			}
		}()
	}

	a, err := newApp(mgr.Context(), cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	a.metrics.SetHealthCheck(func() string { return a.health(mgr.IsShuttingDown) })

	queue := pipeline.NewQueue(a.orch, mgr, pipeline.QueueConfig{
		Workers: cfg.WorkerCount,
		Size:    cfg.QueueSize,
	}, log)

	deps := api.Deps{
		Store:     a.store,
		Queue:     queue,
		Providers: a.registry,
		Metrics:   a.metrics,
	}
	if a.runs != nil {
		deps.History = a.runs
	}
	srv, err := api.NewServer(api.Config{
		Addr:        cfg.Addr(),
		Version:     core.Version,
		DataDir:     cfg.DataDir,
		UploadDir:   cfg.UploadDir,
		OutputDir:   cfg.OutputDir,
		MaxFileSize: cfg.MaxFileSize,
	}, deps, log)
	if err != nil {
		a.close(context.Background())
		return err
	}
	a.store.SetListener(srv.Hub().Publish)

	registerHooks(mgr, a, queue, srv)
	log.Debug("shutdown hooks registered", zap.Strings("hooks", mgr.RegisteredHooks()))

	queue.Start()
	queue.Resume()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr()),
			zap.String("version", core.Version),
			zap.Strings("providers", a.registry.Configured()),
			zap.String("task_store", cfg.TaskStore),
		)
		err := srv.Start()
		if err != nil {
			log.Error("http server failed", zap.Error(err))
			mgr.Trigger()
		}
		serveErr <- err
	}()

	<-mgr.Context().Done()
	log.Info("shutting down", zap.Int("active_operations", mgr.ActiveOperations()))
	shutdownErr := mgr.Shutdown()

	var listenErr error
	select {
	case listenErr = <-serveErr:
	default:
	}
	if listenErr != nil {
		return fmt.Errorf("http server: %w", listenErr)
	}
	return shutdownErr
}

// httpServer is the part of *api.Server the shutdown hooks need.
type httpServer interface {
	Shutdown(ctx context.Context) error
}

// jobQueue is the part of *pipeline.Queue the shutdown hooks need.
type jobQueue interface {
	Stop(ctx context.Context) error
}

// hookRegistrar is satisfied by *shutdown.Manager.
type hookRegistrar interface {
	Register(name string, priority int, fn core.ShutdownFunc)
}

// registerHooks installs the cleanup sequence: HTTP first, then workers,
// then housekeeping and finally storage.
func registerHooks(mgr hookRegistrar, a *app, queue jobQueue, srv httpServer) {
	log := a.logger.Zap()

	mgr.Register("http-server", shutdown.PriorityHTTP, srv.Shutdown)
	mgr.Register("job-queue", shutdown.PriorityQueue, queue.Stop)
	mgr.Register("purge-tasks", shutdown.PriorityCleanup,
		shutdown.PurgeTasks(log, a.store, a.cfg.CleanupOnShutdown))
	mgr.Register("stale-files", shutdown.PriorityCleanup,
		shutdown.RemoveStaleFiles(log, a.cfg.DataDir))
	mgr.Register("storage", shutdown.PriorityStorage, a.close)
	mgr.Register("logger", shutdown.PriorityLogging, func(context.Context) error {
		// Syncing stdout fails on some terminals; the file core is what matters.
		_ = a.logger.Sync()
		return nil
	})
}
