package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"insightpdf/core"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 60 * time.Second

// Manager ties together the operation tracker, the hook registry and signal
// handling. The first SIGINT/SIGTERM cancels Context; a second one forces
// exit with the signal's conventional exit code.
//
//	mgr := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	mgr.Register("database", shutdown.PriorityStorage, db.Close)
//	mgr.Start()
//	<-mgr.Context().Done()
//	_ = mgr.Shutdown()
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration
	exit    func(code int)

	mu       sync.Mutex
	started  bool
	stopping bool
	signals  int

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *Registry
	sigCh    chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the total shutdown budget.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// NewManager returns a manager with DefaultTimeout.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger,
		timeout:  DefaultTimeout,
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewRegistry(),
		sigCh:    make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled once shutdown is requested.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup hook; see the Priority constants.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown hook",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start listens for SIGINT and SIGTERM. Calling it twice is harmless.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true
	signal.Notify(m.sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range m.sigCh {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	count := m.signals
	m.mu.Unlock()

	if count == 1 {
		m.logger.Info("shutdown signal received",
			zap.String("signal", sig.String()),
			zap.Strings("running", m.tracker.ActiveNames()),
		)
		m.cancel()
		return
	}

	code := core.ExitCodeSIGINT
	if sig == syscall.SIGTERM {
		code = core.ExitCodeSIGTERM
	}
	m.logger.Warn("second signal received, forcing exit",
		zap.String("signal", sig.String()),
		zap.Int("exit_code", code),
	)
	_ = m.logger.Sync()
	m.exit(code)
}

// Trigger requests shutdown without a signal, e.g. when the HTTP server dies.
func (m *Manager) Trigger() {
	m.cancel()
}

// Shutdown stops admitting operations, waits for running ones and then runs
// the hooks with whatever budget is left (at least one second). Only the
// first call does any work.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	started := m.started
	m.mu.Unlock()

	m.cancel()
	begin := time.Now()
	m.tracker.Close()

	if n := m.tracker.ActiveCount(); n > 0 {
		m.logger.Info("waiting for running operations",
			zap.Int("count", n),
			zap.Strings("operations", m.tracker.ActiveNames()),
			zap.Duration("timeout", m.timeout),
		)
	}
	if err := m.tracker.Wait(m.timeout); err != nil {
		m.logger.Warn("operations still running after timeout",
			zap.Strings("operations", m.tracker.ActiveNames()),
		)
	}

	remaining := m.timeout - time.Since(begin)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	m.logger.Info("running shutdown hooks", zap.Strings("hooks", m.registry.Names()))
	errs := m.registry.Run(ctx)
	for _, err := range errs {
		m.logger.Error("shutdown hook failed", zap.Error(err))
	}

	if started {
		signal.Stop(m.sigCh)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d failed hooks: %w", len(errs), errs[0])
	}
	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(begin)))
	return nil
}

// WrapOperation runs fn as a tracked operation. It returns ErrTrackerClosed
// without calling fn once shutdown has begun.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	done, ok := m.tracker.Begin(name)
	if !ok {
		m.logger.Debug("operation rejected during shutdown", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ActiveOperations returns the number of tracked operations still running.
func (m *Manager) ActiveOperations() int {
	return m.tracker.ActiveCount()
}

// IsShuttingDown reports whether Shutdown was called.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

// RegisteredHooks lists hook names in execution order.
func (m *Manager) RegisteredHooks() []string {
	return m.registry.Names()
}
